package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"instant-payout/internal/core/ports"
	"instant-payout/pkg/apperror"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// republisher is the slice of the channel the retry path needs.
type republisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer pulls payout work items and hands them to the settlement
// service. Deliveries are acked manually: success and terminal business
// failures ack, transient failures re-publish with an incremented retry
// header, and exhausted, poison or in-flight-conflict messages
// dead-letter into the DLQ.
type Consumer struct {
	ch         *amqp.Channel
	pub        republisher
	settlement ports.SettlementService

	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	log         zerolog.Logger
}

// NewConsumer opens a channel and declares the topology.
func NewConsumer(conn *Conn, settlement ports.SettlementService, concurrency, maxRetries int, retryDelay time.Duration, log zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		ch:          ch,
		pub:         ch,
		settlement:  settlement,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		log:         log.With().Str("component", "consumer").Logger(),
	}, nil
}

// Start consumes until the context is cancelled or the channel dies.
// Prefetch equals the worker concurrency so no worker sits idle while
// another hoards deliveries.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("set channel prefetch: %w", err)
	}

	deliveries, err := c.ch.Consume(
		PayoutQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.log.Info().Int("concurrency", c.concurrency).Msg("settlement workers started")

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.handle(ctx, d)
			}
		}()
	}

	<-ctx.Done()
	// Cancelling the channel closes the deliveries stream; in-flight
	// work items finish before the workers exit.
	if err := c.ch.Cancel("", false); err != nil {
		c.log.Warn().Err(err).Msg("cancel consumer")
	}
	wg.Wait()
	c.log.Info().Msg("settlement workers stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := decodeMessage(d.Body)
	if err != nil {
		// Poison message: dead-letter it immediately, a redelivery
		// cannot make it parseable.
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("dropping malformed payout message")
		c.nack(d)
		return
	}

	log := c.log.With().Str("transaction_id", msg.TransactionID).Str("user_id", msg.UserID).Logger()

	if err := c.settlement.ProcessPayout(ctx, msg); err != nil {
		if apperror.IsRetryable(err) {
			c.retry(ctx, d, log)
			return
		}
		if apperror.IsCode(err, "ALREADY_PROCESSING") {
			// The transaction is mid-flight elsewhere, or a crashed
			// worker left it there after possibly deducting. Requeueing
			// could deduct twice; dead-letter for operator reconciliation.
			log.Warn().Msg("payout already in flight, dead-lettering")
			c.nack(d)
			return
		}
		// Terminal business failure. The settlement service already
		// recorded it; redelivering would only repeat the refusal.
		log.Warn().Err(err).Msg("payout failed terminally")
		c.ack(d)
		return
	}

	c.ack(d)
}

// retry re-publishes the delivery with an incremented attempt header
// after a fixed delay, or dead-letters it once attempts are exhausted.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, log zerolog.Logger) {
	attempt := retryCount(d.Headers)
	if attempt >= c.maxRetries {
		log.Error().Int("attempts", attempt).Msg("payout retries exhausted, dead-lettering")
		c.nack(d)
		return
	}

	select {
	case <-ctx.Done():
		// Shutting down: requeue untouched so another worker picks it up.
		if err := d.Nack(false, true); err != nil {
			c.log.Error().Err(err).Msg("requeue on shutdown failed")
		}
		return
	case <-time.After(c.retryDelay):
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(attempt + 1)

	err := c.pub.PublishWithContext(ctx, "", PayoutQueue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		// Could not hand the retry back to the broker; keep the
		// original delivery alive instead of acking it into the void.
		log.Error().Err(err).Msg("retry publish failed, requeueing original")
		if err := d.Nack(false, true); err != nil {
			c.log.Error().Err(err).Msg("requeue failed")
		}
		return
	}

	log.Warn().Int("attempt", attempt+1).Int("max", c.maxRetries).Msg("payout requeued for retry")
	c.ack(d)
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("ack failed")
	}
}

// nack without requeue, which routes the delivery to the dead-letter
// exchange.
func (c *Consumer) nack(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("dead-letter nack failed")
	}
}

// Close releases the consumer's channel.
func (c *Consumer) Close() error {
	return c.ch.Close()
}

// retryCount reads the attempt header, tolerating the integer widths
// different AMQP clients write.
func retryCount(headers amqp.Table) int {
	v, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
