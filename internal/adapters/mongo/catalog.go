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

// CatalogRepository reads showings from the catalog subsystem's store. The
// engine never writes here; CreateShowing exists for seeding and tests.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("showings"),
		logger: logger,
	}
}

// ShowingDoc is one document shape for all three product variants: a seat
// map for timed/stadium seating, tiers for ticket-tier products.
type ShowingDoc struct {
	ID        uuid.UUID `bson:"_id"`
	Kind      string    `bson:"kind"`
	Title     string    `bson:"title"`
	Venue     string    `bson:"venue"`
	StartTime time.Time `bson:"start_time"`
	UnitPrice float64   `bson:"unit_price"`
	Seats     []SeatDoc `bson:"seats,omitempty"`
	Tiers     []TierDoc `bson:"tiers,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	ID      string `bson:"id"`
	Row     string `bson:"row"`
	Section string `bson:"section"`
}

type TierDoc struct {
	ID       string  `bson:"id"`
	Name     string  `bson:"name"`
	Quantity int     `bson:"quantity"`
	Price    float64 `bson:"price"`
}

func (d ShowingDoc) ToDomain() domain.Showing {
	s := domain.Showing{
		ID:        d.ID,
		Kind:      domain.ShowingKind(d.Kind),
		Title:     d.Title,
		Venue:     d.Venue,
		StartTime: d.StartTime,
		UnitPrice: d.UnitPrice,
	}
	for _, seat := range d.Seats {
		s.Capacity.Seats = append(s.Capacity.Seats, domain.Seat{ID: seat.ID, Row: seat.Row, Section: seat.Section})
	}
	for _, t := range d.Tiers {
		s.Capacity.Tiers = append(s.Capacity.Tiers, domain.Tier{ID: t.ID, Name: t.Name, Quantity: t.Quantity, Price: t.Price})
	}
	return s
}

func (c *CatalogRepository) GetShowing(ctx context.Context, ref domain.ShowingRef) (domain.Showing, error) {
	var doc ShowingDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": ref.ID, "kind": string(ref.Kind)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.Showing{}, domain.ErrInvalidShowing
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get showing")
		return domain.Showing{}, err
	}
	return doc.ToDomain(), nil
}

func (c *CatalogRepository) CreateShowing(ctx context.Context, doc ShowingDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.WithError(err).Error("failed to create showing")
		return err
	}
	return nil
}
