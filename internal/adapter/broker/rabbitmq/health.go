package rabbitmq

import (
	"context"
	"fmt"
)

// HealthCheck implements ports.HealthChecker for the broker.
type HealthCheck struct {
	conn *Conn
}

func NewHealthCheck(conn *Conn) *HealthCheck {
	return &HealthCheck{conn: conn}
}

// Ping verifies the connection is up by opening and closing a channel,
// which round-trips to the broker.
func (h *HealthCheck) Ping(ctx context.Context) error {
	if h.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	ch, err := h.conn.Channel()
	if err != nil {
		return err
	}
	return ch.Close()
}

func (h *HealthCheck) Name() string {
	return "rabbitmq"
}
