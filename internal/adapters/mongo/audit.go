package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/domain"
	"github.com/showgate/booking-engine/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger keeps a trail of booking lifecycle actions for support and
// reconciliation. Writes are best effort; callers log failures and move on.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogBooking(ctx context.Context, action string, b domain.Booking) error {
	data := map[string]interface{}{
		"booking_id": b.ID,
		"kind":       string(b.Showing.Kind),
		"showing_id": b.Showing.ID,
		"units":      b.Units,
		"amount":     b.Amount,
		"status":     string(b.Status),
	}
	if b.RefundAmount != nil {
		data["refund_amount"] = *b.RefundAmount
	}
	if b.RedeemedAt != nil {
		data["redeemed_at"] = b.RedeemedAt.Format(time.RFC3339)
	}
	return a.LogEvent(ctx, action, b.UserID, data)
}
