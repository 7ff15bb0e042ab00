package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// PayoutQueue is the durable work queue consumed by settlement workers.
	PayoutQueue = "payout_queue"
	// DeadLetterExchange receives messages the workers exhausted retries on.
	DeadLetterExchange = "dlx_payout"
	// DeadLetterQueue parks dead-lettered payouts for operator replay.
	DeadLetterQueue = "payout_dlq"
	// DeadLetterKey routes from the dead-letter exchange into the DLQ.
	DeadLetterKey = "payout"

	// messageTTL evicts work items nobody consumed within a day.
	messageTTL = 86400000 // ms
)

// retryCountHeader tracks worker-driven redeliveries. The broker's own
// redelivered flag does not survive a re-publish, so the count rides in
// an explicit header.
const retryCountHeader = "x-retry-count"

// DeclareTopology declares the payout queue and its dead-letter pair.
// Declarations are idempotent; gateway and workers both call this on
// startup so either side can come up first.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		DeadLetterExchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}

	if err := ch.QueueBind(DeadLetterQueue, DeadLetterKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		PayoutQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange,
			"x-dead-letter-routing-key": DeadLetterKey,
			"x-message-ttl":             int64(messageTTL),
		},
	); err != nil {
		return fmt.Errorf("declare payout queue: %w", err)
	}

	return nil
}
