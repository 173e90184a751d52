// Package lifecycle holds the terminal transitions of a trip. Each one
// re-reads the live trip right before writing and turns into a silent no-op
// when the trip is already terminal.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/pkg/errors"
)

type EventPublisher interface {
	PublishTripEvent(ctx context.Context, ev messages.TripEvent) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, tripID string)
}

// Result is the trip as the transition left it. Applied is false when the
// trip was already terminal and nothing was written.
type Result struct {
	Trip    *models.Trip
	Applied bool
}

type Service struct {
	store    storage.Store
	locator  geo.Locator
	events   EventPublisher
	cache    Invalidator
	notifier push.Notifier
}

// New wires the transitions; events, cache and notifier may be nil.
func New(store storage.Store, locator geo.Locator, events EventPublisher, cache Invalidator, notifier push.Notifier) *Service {
	return &Service{store: store, locator: locator, events: events, cache: cache, notifier: notifier}
}

// Expire marks an overdue trip expired, capturing the traveler's position
// when the locator has one.
func (s *Service) Expire(ctx context.Context, tripID string, now time.Time) (Result, error) {
	live, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return Result{}, errors.Wrap(err, "read live trip")
	}
	if live.Status.Terminal() || live.PuzzleCompleted {
		return Result{Trip: live}, nil
	}

	f := models.TripFields{
		Status:         statusPtr(models.TripStatusExpired),
		ExpirationTime: &now,
	}
	if s.locator != nil {
		p, err := s.locator.CurrentPosition(ctx, live.OwnerID, geo.AccuracyHigh)
		if err != nil {
			slog.Warn("expiry without location", "trip_id", tripID, "err", err)
		} else {
			f.ExpiredLocation = &p
		}
	}

	return s.write(ctx, live, f, now)
}

// Complete records a solved confirmation puzzle. Only the owner may complete.
func (s *Service) Complete(ctx context.Context, sess models.Session, tripID string, now time.Time) (Result, error) {
	live, err := s.ownedTrip(ctx, sess, tripID)
	if err != nil {
		return Result{}, err
	}
	if live.Status.Terminal() {
		return Result{Trip: live}, nil
	}

	dur := int64(now.Sub(live.StartedAt) / time.Second)
	if dur < 0 {
		dur = 0
	}
	done := true
	return s.write(ctx, live, models.TripFields{
		Status:          statusPtr(models.TripStatusCompleted),
		PuzzleCompleted: &done,
		DurationSeconds: &dur,
		CompletionTime:  &now,
	}, now)
}

func (s *Service) Cancel(ctx context.Context, sess models.Session, tripID string, now time.Time) (Result, error) {
	live, err := s.ownedTrip(ctx, sess, tripID)
	if err != nil {
		return Result{}, err
	}
	if live.Status.Terminal() {
		return Result{Trip: live}, nil
	}

	return s.write(ctx, live, models.TripFields{
		Status:  statusPtr(models.TripStatusCancelled),
		EndTime: &now,
	}, now)
}

func (s *Service) ownedTrip(ctx context.Context, sess models.Session, tripID string) (*models.Trip, error) {
	if err := auth.Require(sess); err != nil {
		return nil, err
	}
	if tripID == "" {
		return nil, apperr.Validation("trip id is required")
	}
	live, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, errors.Wrap(err, "read live trip")
	}
	if live.OwnerID != sess.UserID {
		return nil, apperr.NotFound("trip %s not found", tripID)
	}
	return live, nil
}

// write persists f. On failure the returned Result still carries the
// projected trip so callers can advance their local state.
func (s *Service) write(ctx context.Context, live *models.Trip, f models.TripFields, now time.Time) (Result, error) {
	next := *live
	f.Apply(&next)
	next.UpdatedAt = now

	if err := s.store.UpdateTripFields(ctx, live.ID, f); err != nil {
		return Result{Trip: &next}, errors.Wrapf(err, "write %s", next.Status)
	}

	slog.Info("trip transition", "trip_id", live.ID, "status", next.Status)

	if s.cache != nil {
		s.cache.Invalidate(ctx, live.ID)
	}
	if s.events != nil {
		if err := s.events.PublishTripEvent(ctx, messages.EventFromTrip(&next, now)); err != nil {
			slog.Warn("trip event publish failed", "trip_id", live.ID, "err", err)
		}
	}
	if next.Status == models.TripStatusExpired {
		s.alertRecipients(ctx, &next)
	}

	return Result{Trip: &next, Applied: true}, nil
}

func (s *Service) alertRecipients(ctx context.Context, t *models.Trip) {
	if s.notifier == nil || len(t.SharedWith) == 0 {
		return
	}

	name := t.OwnerID
	if u, err := s.store.GetUser(ctx, t.OwnerID); err == nil && u.DisplayName != "" {
		name = u.DisplayName
	}

	n := push.Notification{
		Title: "Check-in missed",
		Body:  fmt.Sprintf("%s has not confirmed arrival at %s", name, destination(t)),
		Data:  map[string]string{"tripId": t.ID, "status": string(t.Status)},
	}
	if t.ExpiredLocation != nil {
		n.Data["lat"] = fmt.Sprintf("%.6f", t.ExpiredLocation.Lat)
		n.Data["lng"] = fmt.Sprintf("%.6f", t.ExpiredLocation.Lng)
	}

	for _, to := range t.SharedWith {
		u, err := s.store.GetUser(ctx, to)
		if err != nil || u.PushToken == "" {
			continue
		}
		if err := s.notifier.Notify(ctx, u.PushToken, n); err != nil {
			slog.Warn("expiry alert failed", "trip_id", t.ID, "to", to, "err", err)
		}
	}
}

func destination(t *models.Trip) string {
	if t.DestinationLabel != "" {
		return t.DestinationLabel
	}
	return "their destination"
}

func statusPtr(s models.TripStatus) *models.TripStatus { return &s }
