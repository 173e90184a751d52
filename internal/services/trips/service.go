package trips

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/eta"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/pkg/errors"
)

const maxETASeconds = 7 * 24 * 3600

type Repository interface {
	CreateTrip(ctx context.Context, in models.TripCreateInput) (*models.Trip, error)
}

type TripCache interface {
	Get(ctx context.Context, id string) (*models.Trip, error)
	Put(ctx context.Context, t *models.Trip)
}

type FixReporter interface {
	Report(ctx context.Context, fix models.DeviceFix) error
}

type EventPublisher interface {
	PublishTripEvent(ctx context.Context, ev messages.TripEvent) error
}

type Service struct {
	repo     Repository
	cache    TripCache
	geocoder geo.Geocoder
	fixes    FixReporter
	events   EventPublisher
	clock    func() time.Time
}

// New wires the trip service; geocoder, fixes and events may be nil.
func New(repo Repository, cache TripCache, geocoder geo.Geocoder, fixes FixReporter, events EventPublisher) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		geocoder: geocoder,
		fixes:    fixes,
		events:   events,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type CreateRequest struct {
	OriginLabel       string           `json:"originLabel"`
	DestinationLabel  string           `json:"destinationLabel"`
	OriginCoords      *models.GeoPoint `json:"originCoords,omitempty"`
	DestinationCoords *models.GeoPoint `json:"destinationCoords,omitempty"`
	ETASeconds        int64            `json:"etaSeconds"`
}

type View struct {
	Trip    *models.Trip        `json:"trip"`
	Display models.DisplayState `json:"display"`
}

// Create starts an ongoing trip owned by the session user. Missing
// destination coordinates and origin label are filled in by the geocoder
// when it can; geocoding failures never block the trip.
func (s *Service) Create(ctx context.Context, sess models.Session, req CreateRequest) (*View, error) {
	if err := auth.Require(sess); err != nil {
		return nil, err
	}
	req.OriginLabel = strings.TrimSpace(req.OriginLabel)
	req.DestinationLabel = strings.TrimSpace(req.DestinationLabel)

	if req.ETASeconds < 0 {
		return nil, apperr.Validation("etaSeconds must not be negative")
	}
	if req.ETASeconds > maxETASeconds {
		return nil, apperr.Validation("etaSeconds is too large (max %d)", maxETASeconds)
	}
	if req.DestinationLabel == "" && req.DestinationCoords == nil {
		return nil, apperr.Validation("destination is required")
	}
	for _, p := range []*models.GeoPoint{req.OriginCoords, req.DestinationCoords} {
		if p != nil && !p.Valid() {
			return nil, apperr.Validation("coordinates out of range")
		}
	}

	s.fillGeocoding(ctx, &req)

	now := s.clock()
	trip, err := s.repo.CreateTrip(ctx, models.TripCreateInput{
		OwnerID:           sess.UserID,
		OriginLabel:       req.OriginLabel,
		DestinationLabel:  req.DestinationLabel,
		OriginCoords:      req.OriginCoords,
		DestinationCoords: req.DestinationCoords,
		ETASeconds:        req.ETASeconds,
		StartedAt:         now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create trip")
	}
	slog.Info("trip started", "trip_id", trip.ID, "owner_id", trip.OwnerID, "eta_seconds", trip.ETASeconds)

	if s.cache != nil {
		s.cache.Put(ctx, trip)
	}
	if s.events != nil {
		ev := messages.EventFromTrip(trip, now)
		ev.Kind = messages.TripStarted
		ev.Trip = trip
		if err := s.events.PublishTripEvent(ctx, ev); err != nil {
			slog.Warn("trip started publish failed", "trip_id", trip.ID, "err", err)
		}
	}

	return &View{Trip: trip, Display: eta.Display(trip, now)}, nil
}

func (s *Service) fillGeocoding(ctx context.Context, req *CreateRequest) {
	if s.geocoder == nil {
		return
	}
	if req.DestinationCoords == nil && req.DestinationLabel != "" {
		addr, err := s.geocoder.Geocode(ctx, req.DestinationLabel)
		if err != nil {
			slog.Warn("destination geocode failed", "label", req.DestinationLabel, "err", err)
		} else {
			p := addr.Point
			req.DestinationCoords = &p
		}
	}
	if req.DestinationLabel == "" && req.DestinationCoords != nil {
		if addr, err := s.geocoder.ReverseGeocode(ctx, *req.DestinationCoords); err == nil {
			req.DestinationLabel = addr.FormattedAddress
		}
	}
	if req.OriginLabel == "" && req.OriginCoords != nil {
		addr, err := s.geocoder.ReverseGeocode(ctx, *req.OriginCoords)
		if err != nil {
			slog.Warn("origin reverse geocode failed", "err", err)
		} else {
			req.OriginLabel = addr.FormattedAddress
		}
	}
}

// Get returns the trip to its owner or to anyone it is shared with.
func (s *Service) Get(ctx context.Context, sess models.Session, id string) (*View, error) {
	trip, err := s.visibleTrip(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return &View{Trip: trip, Display: eta.Display(trip, s.clock())}, nil
}

// Display is the live view recomputed from the cached trip on every call.
func (s *Service) Display(ctx context.Context, sess models.Session, id string) (models.DisplayState, error) {
	trip, err := s.visibleTrip(ctx, sess, id)
	if err != nil {
		return models.DisplayState{}, err
	}
	return eta.Display(trip, s.clock()), nil
}

func (s *Service) visibleTrip(ctx context.Context, sess models.Session, id string) (*models.Trip, error) {
	if err := auth.Require(sess); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperr.Validation("trip id is required")
	}
	trip, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load trip")
	}
	if trip.OwnerID == sess.UserID {
		return trip, nil
	}
	for _, u := range trip.SharedWith {
		if u == sess.UserID {
			return trip, nil
		}
	}
	return nil, apperr.NotFound("trip %s not found", id)
}

type PositionReport struct {
	Point          *models.GeoPoint          `json:"point,omitempty"`
	AccuracyMeters float64                   `json:"accuracyMeters,omitempty"`
	Permission     models.LocationPermission `json:"permission"`
}

// ReportPosition stores the latest device fix of the session user.
func (s *Service) ReportPosition(ctx context.Context, sess models.Session, rep PositionReport) error {
	if err := auth.Require(sess); err != nil {
		return err
	}
	if s.fixes == nil {
		return apperr.TransientIO(nil, "position reports are not enabled")
	}
	if rep.Permission == "" {
		rep.Permission = models.LocationPermissionGranted
	}
	return s.fixes.Report(ctx, models.DeviceFix{
		UserID:         sess.UserID,
		Point:          rep.Point,
		AccuracyMeters: rep.AccuracyMeters,
		Permission:     rep.Permission,
		ReportedAt:     s.clock(),
	})
}
