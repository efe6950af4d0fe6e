// Package rabbitmq publishes job lifecycle events to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/logging"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Event is the message body of a finished job.
type Event struct {
	Type       string        `json:"type"`
	Job        jobs.Snapshot `json:"job"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// EventPublisher implements jobs.Observer and publishes terminal transitions
// with routing key {routingKey}.{kind}.{status}.
type EventPublisher struct {
	channel    channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

func NewEventPublisher(conn *amqp.Connection, exchange, routingKey string, logger *zap.Logger) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	return newEventPublisher(ch, exchange, routingKey, logger), nil
}

func newEventPublisher(ch channel, exchange, routingKey string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logging.OrNop(logger),
	}
}

func (p *EventPublisher) routingKeyFor(snap jobs.Snapshot) string {
	return fmt.Sprintf("%s.%s.%s", p.routingKey, snap.Kind, snap.Status)
}

func (p *EventPublisher) Publish(ctx context.Context, snap jobs.Snapshot) error {
	occurred := time.Now().UTC()
	if snap.FinishedAt != nil {
		occurred = *snap.FinishedAt
	}
	body, err := json.Marshal(Event{Type: "job.finished", Job: snap, OccurredAt: occurred})
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKeyFor(snap),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    snap.ID,
			Timestamp:    occurred,
			Body:         body,
		},
	)
}

// JobChanged publishes terminal snapshots only.
func (p *EventPublisher) JobChanged(ctx context.Context, snap jobs.Snapshot) {
	if !snap.Status.Terminal() {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, snap); err != nil {
		p.logger.Warn("Failed to publish job event",
			zap.String("job_id", snap.ID),
			zap.String("status", string(snap.Status)),
			zap.Error(err))
	}
}

func (p *EventPublisher) Close() error {
	return p.channel.Close()
}
