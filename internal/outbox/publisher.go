package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/showgate/booking-engine/internal/adapters/crdb"
	"github.com/showgate/booking-engine/internal/observability"
)

// EventPublisher is the broker side, implemented by the rabbit adapter.
type EventPublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Store is the outbox table side, implemented by the crdb repository.
type Store interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	OldestUnpublishedAge(ctx context.Context, now time.Time) (time.Duration, error)
}

// Publisher drains booking lifecycle events from the transactional outbox
// to the broker. Records stay NEW until the broker accepts them, so a
// crash republishes rather than drops; consumers dedupe on the message id.
type Publisher struct {
	store    Store
	events   EventPublisher
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewPublisher(store Store, events EventPublisher, logger observability.Logger) *Publisher {
	return &Publisher{
		store:    store,
		events:   events,
		logger:   logger,
		interval: 5 * time.Second,
		batch:    10,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.store.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		p.logger.WithError(err).Error("failed to read outbox")
		return
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.events.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithError(err).WithField("event_type", rec.EventType).Warn("publish failed, will retry")
			continue
		}
		if err := p.store.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithError(err).Error("failed to mark outbox record published")
		}
	}

	if age, err := p.store.OldestUnpublishedAge(ctx, time.Now()); err == nil {
		observability.OutboxLag.Set(age.Seconds())
	}
}
