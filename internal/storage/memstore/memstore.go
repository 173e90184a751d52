// Package memstore is an in-process storage.Store for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/google/uuid"
)

type subscriber struct {
	tripID string
	ch     chan *models.Trip
}

type Store struct {
	mu       sync.Mutex
	trips    map[string]*models.Trip
	shares   map[string]*models.ETAShare
	users    map[string]*models.User
	subs     map[int]*subscriber
	nextID   int
	watchers int

	// failures injected by tests
	updateErr     error
	shareErrFor   map[string]error
	tripUpdates   int
	shareCreates  int
	lastTripWrite models.TripFields
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		trips:       make(map[string]*models.Trip),
		shares:      make(map[string]*models.ETAShare),
		users:       make(map[string]*models.User),
		subs:        make(map[int]*subscriber),
		shareErrFor: make(map[string]error),
	}
}

func (s *Store) Close() {}

func (s *Store) CreateTrip(_ context.Context, in models.TripCreateInput) (*models.Trip, error) {
	if in.OwnerID == "" {
		return nil, apperr.Validation("owner id is required")
	}
	if in.ETASeconds < 0 {
		return nil, apperr.Validation("eta seconds must not be negative")
	}

	now := time.Now().UTC()
	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	t := &models.Trip{
		ID:                uuid.NewString(),
		OwnerID:           in.OwnerID,
		OriginLabel:       in.OriginLabel,
		DestinationLabel:  in.DestinationLabel,
		OriginCoords:      in.OriginCoords,
		DestinationCoords: in.DestinationCoords,
		ETASeconds:        in.ETASeconds,
		StartedAt:         startedAt,
		Status:            models.TripStatusOngoing,
		SharedWith:        []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	s.mu.Lock()
	s.trips[t.ID] = t
	s.notifyLocked(t)
	s.mu.Unlock()

	return cloneTrip(t), nil
}

// PutTrip stores t as-is, replacing any trip with the same id.
func (s *Store) PutTrip(t *models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneTrip(t)
	s.trips[c.ID] = c
	s.notifyLocked(c)
}

func (s *Store) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, apperr.NotFound("trip %s not found", id)
	}
	return cloneTrip(t), nil
}

func (s *Store) UpdateTripFields(_ context.Context, id string, f models.TripFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	t, ok := s.trips[id]
	if !ok {
		return apperr.NotFound("trip %s not found", id)
	}
	if f.Empty() {
		return nil
	}
	f.Apply(t)
	t.UpdatedAt = time.Now().UTC()
	s.tripUpdates++
	s.lastTripWrite = f
	s.notifyLocked(t)
	return nil
}

func (s *Store) ListOngoingTrips(_ context.Context, after storage.TripCursor, limit int) ([]*models.Trip, error) {
	limit = storage.ClampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Trip
	for _, t := range s.trips {
		if t.Status == models.TripStatusOngoing && after.Before(t) {
			out = append(out, cloneTrip(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateShare(_ context.Context, in models.ShareCreateInput) (*models.ETAShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.shareErrFor[in.ToUserID]; err != nil {
		return nil, err
	}
	sh := &models.ETAShare{
		ID:         uuid.NewString(),
		TripID:     in.TripID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		ETA:        in.ETA,
		CreatedAt:  time.Now().UTC(),
	}
	s.shares[sh.ID] = sh
	s.shareCreates++
	c := *sh
	return &c, nil
}

func (s *Store) GetShare(_ context.Context, id string) (*models.ETAShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shares[id]
	if !ok {
		return nil, apperr.NotFound("share %s not found", id)
	}
	c := *sh
	return &c, nil
}

func (s *Store) MarkShareRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shares[id]
	if !ok {
		return apperr.NotFound("share %s not found", id)
	}
	sh.Read = true
	return nil
}

func (s *Store) ListSharesForRecipient(_ context.Context, userID string, limit int) ([]*models.ETAShare, error) {
	limit = storage.ClampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ETAShare
	for _, sh := range s.shares {
		if sh.ToUserID == userID {
			c := *sh
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	c := *u
	return &c, nil
}

func (s *Store) UpsertUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := u
	s.users[u.ID] = &c
	return nil
}

func (s *Store) SubscribeTrip(ctx context.Context, id string) (<-chan *models.Trip, func(), error) {
	return s.subscribe(ctx, id)
}

func (s *Store) SubscribeTrips(ctx context.Context) (<-chan *models.Trip, func(), error) {
	return s.subscribe(ctx, "")
}

func (s *Store) subscribe(ctx context.Context, id string) (<-chan *models.Trip, func(), error) {
	sub := &subscriber{tripID: id, ch: make(chan *models.Trip, 64)}

	s.mu.Lock()
	key := s.nextID
	s.nextID++
	s.subs[key] = sub
	s.watchers++
	s.mu.Unlock()

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, key)
			close(sub.ch)
			s.mu.Unlock()
			close(stopped)
		})
	}
	go func() {
		defer func() {
			s.mu.Lock()
			s.watchers--
			s.mu.Unlock()
		}()
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()

	return sub.ch, stop, nil
}

// notifyLocked fans t out to matching subscribers, dropping on full buffers.
func (s *Store) notifyLocked(t *models.Trip) {
	for _, sub := range s.subs {
		if sub.tripID != "" && sub.tripID != t.ID {
			continue
		}
		select {
		case sub.ch <- cloneTrip(t):
		default:
		}
	}
}

// FailUpdates makes every UpdateTripFields return err until reset with nil.
func (s *Store) FailUpdates(err error) {
	s.mu.Lock()
	s.updateErr = err
	s.mu.Unlock()
}

// FailSharesFor makes CreateShare fail for one recipient.
func (s *Store) FailSharesFor(userID string, err error) {
	s.mu.Lock()
	s.shareErrFor[userID] = err
	s.mu.Unlock()
}

func (s *Store) TripUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripUpdates
}

func (s *Store) ShareCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shares)
}

// Watchers counts subscription goroutines still waiting on their context.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchers
}

// LastTripWrite is the most recent successful partial update.
func (s *Store) LastTripWrite() models.TripFields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTripWrite
}

func cloneTrip(t *models.Trip) *models.Trip {
	c := *t
	c.SharedWith = append([]string{}, t.SharedWith...)
	c.OriginCoords = clonePoint(t.OriginCoords)
	c.DestinationCoords = clonePoint(t.DestinationCoords)
	c.LastKnownLocation = clonePoint(t.LastKnownLocation)
	c.ExpiredLocation = clonePoint(t.ExpiredLocation)
	return &c
}

func clonePoint(p *models.GeoPoint) *models.GeoPoint {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
