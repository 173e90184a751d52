// Package storage defines the document store contract the services depend
// on. Implementations live in sub-packages.
package storage

import (
	"context"
	"time"

	"github.com/BearBump/SafeArrival/internal/models"
)

// Store is the remote document store holding users, trips and eta shares.
// Missing documents yield apperr.ErrNotFound; failed calls apperr.ErrTransientIO.
type Store interface {
	CreateTrip(ctx context.Context, in models.TripCreateInput) (*models.Trip, error)
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	// UpdateTripFields sends only the non-nil fields; last write wins.
	UpdateTripFields(ctx context.Context, id string, f models.TripFields) error
	// ListOngoingTrips pages ongoing trips ordered by (startedAt, id),
	// starting strictly after the cursor. The zero cursor is the first page.
	ListOngoingTrips(ctx context.Context, after TripCursor, limit int) ([]*models.Trip, error)

	CreateShare(ctx context.Context, in models.ShareCreateInput) (*models.ETAShare, error)
	GetShare(ctx context.Context, id string) (*models.ETAShare, error)
	MarkShareRead(ctx context.Context, id string) error
	ListSharesForRecipient(ctx context.Context, userID string, limit int) ([]*models.ETAShare, error)

	GetUser(ctx context.Context, id string) (*models.User, error)

	// SubscribeTrip pushes a fresh snapshot of the trip after every change
	// until ctx is done or the returned stop func is called.
	SubscribeTrip(ctx context.Context, id string) (<-chan *models.Trip, func(), error)
	// SubscribeTrips does the same for every trip in the store.
	SubscribeTrips(ctx context.Context) (<-chan *models.Trip, func(), error)

	Close()
}

// TripCursor is a keyset position in the ongoing trips listing.
type TripCursor struct {
	StartedAt time.Time
	ID        string
}

// CursorOf positions a cursor right at trip, so the next page starts after it.
func CursorOf(t *models.Trip) TripCursor {
	return TripCursor{StartedAt: t.StartedAt, ID: t.ID}
}

func (c TripCursor) IsZero() bool { return c.StartedAt.IsZero() && c.ID == "" }

// Before reports whether t sorts strictly after the cursor.
func (c TripCursor) Before(t *models.Trip) bool {
	if c.IsZero() {
		return true
	}
	if !t.StartedAt.Equal(c.StartedAt) {
		return t.StartedAt.After(c.StartedAt)
	}
	return t.ID > c.ID
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return DefaultListLimit
	}
	return limit
}
