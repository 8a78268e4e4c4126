package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Timeline event types, one per state-machine edge the engine drives.
const (
	EventOfferCreated      = "OFFER_CREATED"
	EventOfferAccepted     = "OFFER_ACCEPTED"
	EventDeliveryConfirmed = "DELIVERY_CONFIRMED"
)

// Outbox topics published for downstream delivery.
const (
	TopicOfferCreated          = "offer.created"
	TopicOfferAccepted         = "offer.accepted"
	TopicOfferCompleted        = "offer.completed"
	TopicFundsWithdrawn        = "funds.withdrawn"
	TopicPlatformFeesWithdrawn = "platform_fees.withdrawn"
)

// Events writes timeline and outbox rows in the engine's transaction.
type Events struct{}

// NewEvents returns the PostgreSQL event sink.
func NewEvents() *Events {
	return &Events{}
}

// AppendTimeline records an immutable business event for an offer.
func (e *Events) AppendTimeline(ctx context.Context, tx pgx.Tx, offerID int64, eventType, actor string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal timeline payload: %w", err)
	}

	var actorVal any
	if actor != "" {
		actorVal = actor
	}

	const insertSQL = `
		INSERT INTO timeline_events (offer_id, type, actor, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, offerID, eventType, actorVal, body); err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox stores a message for the delivery worker.
func (e *Events) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal outbox payload: %w", err)
	}

	const insertSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, insertSQL, topic, body); err != nil {
		return fmt.Errorf("escrow: enqueue outbox: %w", err)
	}
	return nil
}
