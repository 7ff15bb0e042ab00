package domain

import "time"

// EventType names the realtime status events a client observes.
// For one transaction the order is INITIATED, PROCESSING, then
// COMPLETED or FAILED.
type EventType string

const (
	EventPayoutInitiated  EventType = "PAYOUT_INITIATED"
	EventPayoutProcessing EventType = "PAYOUT_PROCESSING"
	EventPayoutCompleted  EventType = "PAYOUT_COMPLETED"
	EventPayoutFailed     EventType = "PAYOUT_FAILED"
)

// EventData is the client-visible payload of a status event.
type EventData struct {
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	NewBalance    *string `json:"new_balance,omitempty"`
	Error         *string `json:"error,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// Event is the envelope relayed across gateway instances on the cache
// pub/sub channel. Each gateway forwards it to the local sessions of
// UserID, or drops it silently when the user is connected elsewhere.
type Event struct {
	UserID    string    `json:"user_id"`
	Event     EventType `json:"event"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
