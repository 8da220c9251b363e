package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Showing is the read-only catalog view the engine needs: when it starts,
// what a unit costs and which units exist. The catalog subsystem owns
// everything else about it.
type Showing struct {
	ID        uuid.UUID
	Kind      ShowingKind
	Title     string
	Venue     string
	StartTime time.Time
	UnitPrice float64
	Capacity  Capacity
}

// Capacity is either an explicit seat map or a tier/quantity model. Exactly
// one of Seats and Tiers is populated.
type Capacity struct {
	Seats []Seat
	Tiers []Tier
}

type Seat struct {
	ID      string
	Row     string
	Section string
}

type Tier struct {
	ID       string
	Name     string
	Quantity int
	Price    float64
}

func (s Showing) Started(now time.Time) bool {
	return !now.Before(s.StartTime)
}

// PriceFor resolves the price of a single unit. Tier slots carry the tier's
// price; seat units fall back to the showing's unit price.
func (s Showing) PriceFor(unitID string) float64 {
	if t, ok := s.tierOf(unitID); ok {
		return t.Price
	}
	return s.UnitPrice
}

// HasUnit reports whether unitID names a seat or a tier slot of this
// showing. Showings without an explicit capacity model accept any unit id;
// the occupancy store is then the only authority.
func (s Showing) HasUnit(unitID string) bool {
	if len(s.Capacity.Seats) == 0 && len(s.Capacity.Tiers) == 0 {
		return true
	}
	for _, seat := range s.Capacity.Seats {
		if seat.ID == unitID {
			return true
		}
	}
	_, ok := s.tierOf(unitID)
	return ok
}

// tierOf matches unitID against the tier slot scheme. A tier with quantity
// N sells as slots "<tier>-1" .. "<tier>-N"; each slot is an independent
// unit in the occupancy store, which is how the quantity is enforced.
func (s Showing) tierOf(unitID string) (Tier, bool) {
	for _, t := range s.Capacity.Tiers {
		rest, ok := strings.CutPrefix(unitID, t.ID+"-")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 || n > t.Quantity {
			continue
		}
		return t, true
	}
	return Tier{}, false
}
