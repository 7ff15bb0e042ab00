package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"instant-payout/internal/core/domain"
	"instant-payout/pkg/apperror"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher enqueues settlement work items on the payout queue. With
// confirms enabled every publish waits for the broker's ack, so an
// error return means the message is NOT queued and the caller must
// fail the payout rather than leave it in limbo.
type Publisher struct {
	ch       *amqp.Channel
	confirms bool
	log      zerolog.Logger
}

// NewPublisher opens a channel, declares the topology and optionally
// puts the channel in confirm mode.
func NewPublisher(conn *Conn, confirms bool, log zerolog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}
	if confirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("enable publisher confirms: %w", err)
		}
	}
	return &Publisher{ch: ch, confirms: confirms, log: log.With().Str("component", "publisher").Logger()}, nil
}

// Publish sends one payout message to the work queue.
func (p *Publisher) Publish(ctx context.Context, msg *domain.PayoutMessage) error {
	pub, err := encodeMessage(msg)
	if err != nil {
		return apperror.QueueError(err)
	}

	if p.confirms {
		conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", PayoutQueue, false, false, pub)
		if err != nil {
			return apperror.QueueError(fmt.Errorf("publish payout: %w", err))
		}
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return apperror.QueueError(fmt.Errorf("await publish confirm: %w", err))
		}
		if !acked {
			return apperror.QueueError(fmt.Errorf("broker nacked payout %s", msg.TransactionID))
		}
	} else {
		if err := p.ch.PublishWithContext(ctx, "", PayoutQueue, false, false, pub); err != nil {
			return apperror.QueueError(fmt.Errorf("publish payout: %w", err))
		}
	}

	p.log.Debug().
		Str("transaction_id", msg.TransactionID).
		Str("user_id", msg.UserID).
		Msg("payout queued")
	return nil
}

// Close releases the publisher's channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// encodeMessage builds the wire form of one work item. The message id is
// the transaction id so consumers can key idempotency off the envelope
// without parsing the body.
func encodeMessage(msg *domain.PayoutMessage) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode payout message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.TransactionID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{retryCountHeader: int32(0)},
		Body:         body,
	}, nil
}

// decodeMessage parses a delivery body back into a work item.
func decodeMessage(body []byte) (*domain.PayoutMessage, error) {
	var msg domain.PayoutMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode payout message: %w", err)
	}
	if msg.TransactionID == "" || msg.UserID == "" {
		return nil, fmt.Errorf("payout message missing identifiers")
	}
	return &msg, nil
}
