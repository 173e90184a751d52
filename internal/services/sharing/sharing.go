// Package sharing sends a traveler's arrival estimate to chosen recipients
// and serves the recipients' side of those shares.
package sharing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/cache"
	"github.com/BearBump/SafeArrival/internal/eta"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/pkg/errors"
)

const DefaultSharesPerMinute = 30

type TripReader interface {
	Get(ctx context.Context, id string) (*models.Trip, error)
}

type Service struct {
	store    storage.Store
	trips    TripReader
	notifier push.Notifier
	limiter  cache.RateLimiter

	perMinute int64
	clock     func() time.Time
}

// New builds the service. trips is the read path for incoming previews and
// may be a cache; limiter and notifier may be nil.
func New(store storage.Store, trips TripReader, notifier push.Notifier, limiter cache.RateLimiter) *Service {
	return &Service{
		store:     store,
		trips:     trips,
		notifier:  notifier,
		limiter:   limiter,
		perMinute: DefaultSharesPerMinute,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithRateLimit(perMinute int64) *Service {
	if perMinute > 0 {
		s.perMinute = perMinute
	}
	return s
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type RecipientResult struct {
	Recipient string `json:"recipient"`
	ShareID   string `json:"shareId,omitempty"`
	Error     string `json:"error,omitempty"`

	Err error `json:"-"`
}

type ShareResult struct {
	TripID  string            `json:"tripId"`
	ETA     time.Time         `json:"etaIso"`
	Results []RecipientResult `json:"results"`
}

func (r *ShareResult) Failed() int {
	n := 0
	for _, rr := range r.Results {
		if rr.Err != nil {
			n++
		}
	}
	return n
}

// Share overwrites the trip's recipient set with recipients and writes one
// share per recipient. A nil or non-finite remainingMinutes sends etaIso=now;
// a finite one beyond eta.MaxHintMinutes is rejected.
// Shares already written are kept when a later one fails.
func (s *Service) Share(ctx context.Context, sess models.Session, tripID string, remainingMinutes *float64, recipients []string) (*ShareResult, error) {
	if err := auth.Require(sess); err != nil {
		return nil, err
	}
	if tripID == "" {
		return nil, apperr.Validation("trip id is required")
	}
	if len(recipients) == 0 {
		return nil, apperr.Validation("at least one recipient is required")
	}
	for _, r := range recipients {
		if r == "" {
			return nil, apperr.Validation("recipient id must not be empty")
		}
	}
	if m := remainingMinutes; m != nil && math.Abs(*m) > eta.MaxHintMinutes && !math.IsInf(*m, 0) {
		return nil, apperr.Validation("remaining minutes must be within %d", eta.MaxHintMinutes)
	}

	now := s.clock()
	if err := s.allow(ctx, sess.UserID, now); err != nil {
		return nil, err
	}

	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, errors.Wrap(err, "load trip")
	}
	if trip.OwnerID != sess.UserID {
		return nil, apperr.NotFound("trip %s not found", tripID)
	}

	etaAt := eta.ArrivalFrom(now, remainingMinutes)

	sharedWith := append([]string(nil), recipients...)
	if err := s.store.UpdateTripFields(ctx, tripID, models.TripFields{SharedWith: &sharedWith}); err != nil {
		return nil, errors.Wrap(err, "update recipients")
	}

	res := &ShareResult{TripID: tripID, ETA: etaAt, Results: make([]RecipientResult, 0, len(recipients))}
	for _, to := range recipients {
		rr := RecipientResult{Recipient: to}
		sh, err := s.store.CreateShare(ctx, models.ShareCreateInput{
			TripID:     tripID,
			FromUserID: sess.UserID,
			ToUserID:   to,
			ETA:        etaAt,
		})
		if err != nil {
			rr.Err = err
			rr.Error = err.Error()
			slog.Warn("eta share write failed", "trip_id", tripID, "to", to, "err", err)
		} else {
			rr.ShareID = sh.ID
			s.notify(ctx, sess.UserID, trip, sh)
		}
		res.Results = append(res.Results, rr)
	}

	slog.Info("eta shared", "trip_id", tripID, "recipients", len(recipients), "failed", res.Failed())
	return res, nil
}

func (s *Service) allow(ctx context.Context, userID string, now time.Time) error {
	if s.limiter == nil || s.perMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("rl:share:%s:%s", userID, now.Format("200601021504"))
	ok, n, err := s.limiter.Allow(ctx, key, s.perMinute, 70*time.Second)
	if err != nil {
		slog.Warn("share rate limiter unavailable", "user_id", userID, "err", err)
		return nil
	}
	if !ok {
		slog.Warn("share rate limit exceeded", "user_id", userID, "count", n)
		return apperr.Validation("too many share requests")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, fromUserID string, trip *models.Trip, sh *models.ETAShare) {
	if s.notifier == nil {
		return
	}
	u, err := s.store.GetUser(ctx, sh.ToUserID)
	if err != nil || u.PushToken == "" {
		return
	}

	from := fromUserID
	if fu, err := s.store.GetUser(ctx, fromUserID); err == nil && fu.DisplayName != "" {
		from = fu.DisplayName
	}
	body := fmt.Sprintf("%s expects to arrive at %s", from, sh.ETA.Format("15:04"))
	if trip.DestinationLabel != "" {
		body = fmt.Sprintf("%s expects to reach %s at %s", from, trip.DestinationLabel, sh.ETA.Format("15:04"))
	}

	err = s.notifier.Notify(ctx, u.PushToken, push.Notification{
		Title: "Arrival estimate",
		Body:  body,
		Data: map[string]string{
			"shareId": sh.ID,
			"tripId":  sh.TripID,
			"etaIso":  sh.ETA.Format(time.RFC3339),
		},
	})
	if err != nil {
		slog.Warn("share push failed", "share_id", sh.ID, "err", err)
	}
}

// MarkRead acknowledges a share. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, sess models.Session, shareID string) error {
	if err := auth.Require(sess); err != nil {
		return err
	}
	if shareID == "" {
		return apperr.Validation("share id is required")
	}
	sh, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return errors.Wrap(err, "load share")
	}
	if sh.ToUserID != sess.UserID {
		return apperr.PermissionDenied("only the recipient can acknowledge share %s", shareID)
	}
	if sh.Read {
		return nil
	}
	return errors.Wrap(s.store.MarkShareRead(ctx, shareID), "mark read")
}

// ListIncoming returns the shares addressed to the session user with the
// live status of each trip. Expired is derived here and never stored.
func (s *Service) ListIncoming(ctx context.Context, sess models.Session, limit int) ([]models.SharePreview, error) {
	if err := auth.Require(sess); err != nil {
		return nil, err
	}
	shares, err := s.store.ListSharesForRecipient(ctx, sess.UserID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list shares")
	}

	now := s.clock()
	trips := make(map[string]*models.Trip)
	out := make([]models.SharePreview, 0, len(shares))
	for _, sh := range shares {
		trip, ok := trips[sh.TripID]
		if !ok {
			trip, err = s.trips.Get(ctx, sh.TripID)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					slog.Warn("share references missing trip", "share_id", sh.ID, "trip_id", sh.TripID)
					continue
				}
				return nil, errors.Wrap(err, "load trip")
			}
			trips[sh.TripID] = trip
		}
		out = append(out, Preview(sh, trip, now))
	}
	return out, nil
}

func Preview(sh *models.ETAShare, trip *models.Trip, now time.Time) models.SharePreview {
	d := eta.Display(trip, now)
	return models.SharePreview{
		Share:            *sh,
		TripStatus:       trip.Status,
		DestinationLabel: trip.DestinationLabel,
		RemainingSeconds: d.RemainingSeconds,
		Expired:          d.Expired,
	}
}
