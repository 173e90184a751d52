package messages

import (
	"time"

	"github.com/BearBump/SafeArrival/internal/models"
)

type TripEventKind string

const (
	TripStarted   TripEventKind = "started"
	TripCompleted TripEventKind = "completed"
	TripExpired   TripEventKind = "expired"
	TripCancelled TripEventKind = "cancelled"
	TripUpdated   TripEventKind = "updated"
)

// TripEvent is published on every persisted lifecycle change and consumed
// by trackers as their inbound event stream.
type TripEvent struct {
	Kind            TripEventKind     `json:"kind"`
	TripID          string            `json:"trip_id"`
	OwnerID         string            `json:"owner_id"`
	Status          models.TripStatus `json:"status"`
	PuzzleCompleted bool              `json:"puzzle_completed"`
	OccurredAt      time.Time         `json:"occurred_at"`

	// Set on started events so a worker can build a tracker without a store read.
	Trip *models.Trip `json:"trip,omitempty"`
}

func KindForStatus(s models.TripStatus) TripEventKind {
	switch s {
	case models.TripStatusCompleted:
		return TripCompleted
	case models.TripStatusExpired:
		return TripExpired
	case models.TripStatusCancelled:
		return TripCancelled
	default:
		return TripUpdated
	}
}

// EventFromTrip snapshots t into an event of the kind matching its status.
func EventFromTrip(t *models.Trip, at time.Time) TripEvent {
	return TripEvent{
		Kind:            KindForStatus(t.Status),
		TripID:          t.ID,
		OwnerID:         t.OwnerID,
		Status:          t.Status,
		PuzzleCompleted: t.PuzzleCompleted,
		OccurredAt:      at,
	}
}
