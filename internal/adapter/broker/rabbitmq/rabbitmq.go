// Package rabbitmq carries settlement work items between the gateway and
// the workers over a durable queue with a dead-letter companion.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"instant-payout/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Conn wraps the broker connection so publishers, consumers and health
// checks share one dial policy.
type Conn struct {
	conn *amqp.Connection
	cfg  config.RabbitMQConfig
	log  zerolog.Logger
}

// Connect dials the broker, retrying with exponential backoff until the
// context is cancelled or the attempts are spent.
func Connect(ctx context.Context, cfg config.RabbitMQConfig, attempts int, log zerolog.Logger) (*Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
			Heartbeat: cfg.Heartbeat,
		})
		if err == nil {
			log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connected to rabbitmq")
			return &Conn{conn: conn, cfg: cfg, log: log}, nil
		}
		lastErr = err

		wait := time.Duration(1<<uint(i)) * time.Second
		log.Warn().Err(err).
			Int("attempt", i+1).
			Int("max_attempts", attempts).
			Dur("retry_in", wait).
			Msg("rabbitmq dial failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}

// Channel opens a fresh channel on the shared connection.
func (c *Conn) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return ch, nil
}

// IsClosed reports whether the underlying connection has been lost.
func (c *Conn) IsClosed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

// Close shuts the connection and every channel on it.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
