package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"instant-payout/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(zerolog.Nop())
}

func testSession(t *testing.T, h *Hub, userID string) *Session {
	t.Helper()
	s := &Session{hub: h, userID: userID, send: make(chan []byte, sendBuffer)}
	require.True(t, h.register(s))
	return s
}

func payoutEvent(userID string) *domain.Event {
	return &domain.Event{
		UserID:    userID,
		Event:     domain.EventPayoutCompleted,
		Data:      domain.EventData{Status: "completed", TransactionID: "TXN_1"},
		Timestamp: time.Now().UTC(),
	}
}

func TestHub_DeliverRoutesByUser(t *testing.T) {
	h := testHub()
	alice := testSession(t, h, "user_alice")
	bob := testSession(t, h, "user_bob")

	h.Deliver(payoutEvent("user_alice"))

	select {
	case payload := <-alice.send:
		var evt domain.Event
		require.NoError(t, json.Unmarshal(payload, &evt))
		assert.Equal(t, domain.EventPayoutCompleted, evt.Event)
	default:
		t.Fatal("alice should have received the event")
	}

	select {
	case <-bob.send:
		t.Fatal("bob must not see alice's events")
	default:
	}
}

func TestHub_DeliverToUnknownUserIsSilent(t *testing.T) {
	h := testHub()
	// No sessions at all; the event just evaporates.
	h.Deliver(payoutEvent("user_elsewhere"))
}

func TestHub_DeliverFansOutToAllUserSessions(t *testing.T) {
	h := testHub()
	phone := testSession(t, h, "user_alice")
	laptop := testSession(t, h, "user_alice")

	h.Deliver(payoutEvent("user_alice"))

	assert.Len(t, phone.send, 1)
	assert.Len(t, laptop.send, 1)
}

func TestHub_SlowSessionIsEvicted(t *testing.T) {
	h := testHub()
	s := &Session{hub: h, userID: "user_slow", send: make(chan []byte)} // unbuffered, never drained
	require.True(t, h.register(s))

	h.Deliver(payoutEvent("user_slow"))

	assert.Equal(t, 0, h.SessionCount("user_slow"))
}

func TestHub_ShutdownClosesSessionsAndRefusesNew(t *testing.T) {
	h := testHub()
	s := testSession(t, h, "user_alice")

	h.Shutdown(context.Background())

	_, open := <-s.send
	assert.False(t, open)
	assert.False(t, h.register(&Session{hub: h, userID: "user_alice", send: make(chan []byte, 1)}))
}

func TestHub_SubscribeSendsConnectedFrame(t *testing.T) {
	h := testHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Subscribe(w, r, "user_alice")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame connectedFrame
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "CONNECTED", frame.Event)
	assert.Equal(t, "user_alice", frame.UserID)

	// A delivered event reaches the live connection.
	h.Deliver(payoutEvent("user_alice"))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)

	var evt domain.Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	assert.Equal(t, "TXN_1", evt.Data.TransactionID)
}
