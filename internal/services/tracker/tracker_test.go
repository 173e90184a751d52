package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/fake"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
	"github.com/BearBump/SafeArrival/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type env struct {
	store   *memstore.Store
	locator *fake.Locator
	life    *lifecycle.Service
	clock   *manualClock
	start   time.Time
}

func newEnv() *env {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	st := memstore.New()
	loc := fake.NewLocator()
	return &env{
		store:   st,
		locator: loc,
		life:    lifecycle.New(st, loc, nil, nil, nil),
		clock:   &manualClock{now: start},
		start:   start,
	}
}

func (e *env) trip(t *testing.T, etaSeconds int64) *models.Trip {
	t.Helper()
	trip, err := e.store.CreateTrip(context.Background(), models.TripCreateInput{
		OwnerID:    "alice",
		ETASeconds: etaSeconds,
		StartedAt:  e.start,
	})
	require.NoError(t, err)
	return trip
}

func (e *env) tracker(trip *models.Trip) *Tracker {
	return New(trip, models.Session{UserID: trip.OwnerID}, e.life, e.store, e.locator).WithClock(e.clock.Now)
}

func (e *env) at(sec int) time.Time { return e.start.Add(time.Duration(sec) * time.Second) }

func TestTracker_ExpiresExactlyOnceAfterEta(t *testing.T) {
	e := newEnv()
	e.locator.Set("alice", models.GeoPoint{Lat: 48.85, Lng: 2.35})
	trip := e.trip(t, 10)
	tr := e.tracker(trip)
	ctx := context.Background()

	for i := 1; i <= 11; i++ {
		e.clock.Set(e.at(i))
		require.NoError(t, tr.Tick(ctx, e.at(i)))
		if i < 10 {
			require.Equal(t, models.TripStatusOngoing, tr.Status(), "tick %d", i)
		}
	}

	require.Equal(t, models.TripStatusExpired, tr.Status())
	require.Equal(t, 1, e.store.TripUpdates())

	got, err := e.store.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.TripStatusExpired, got.Status)
	require.Equal(t, &models.GeoPoint{Lat: 48.85, Lng: 2.35}, got.ExpiredLocation)
	require.Equal(t, e.at(10), *got.ExpirationTime)

	st := tr.State()
	require.True(t, st.Expired)
	require.Zero(t, st.RemainingSeconds)
	require.Equal(t, "00:00", st.RemainingFormatted)

	select {
	case <-tr.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestTracker_CompletionThenTickIsNoop(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 600)
	tr := e.tracker(trip)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, tr.Tick(ctx, e.at(i)))
	}
	require.NoError(t, tr.Complete(ctx, e.at(5)))
	require.Equal(t, models.TripStatusCompleted, tr.Status())

	got, _ := e.store.GetTrip(ctx, trip.ID)
	require.Equal(t, int64(5), *got.DurationSeconds)
	require.True(t, got.PuzzleCompleted)

	e.clock.Set(e.at(11))
	require.NoError(t, tr.Tick(ctx, e.at(11)))
	require.Equal(t, models.TripStatusCompleted, tr.Status())
	require.Equal(t, 1, e.store.TripUpdates())
	require.False(t, tr.State().Expired)
}

func TestTracker_TerminalIgnoresTicksPingsAndTransitions(t *testing.T) {
	e := newEnv()
	e.locator.Set("alice", models.GeoPoint{Lat: 1, Lng: 1})
	trip := e.trip(t, 1)
	tr := e.tracker(trip)
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx, e.at(1)))
	require.Equal(t, models.TripStatusExpired, tr.Status())
	writes := e.store.TripUpdates()
	calls := e.locator.Calls()

	for i := 2; i < 10; i++ {
		require.NoError(t, tr.Tick(ctx, e.at(i)))
	}
	tr.Ping(ctx, e.at(30))
	require.NoError(t, tr.Complete(ctx, e.at(31)))
	require.NoError(t, tr.Cancel(ctx, e.at(32)))

	require.Equal(t, writes, e.store.TripUpdates())
	require.Equal(t, calls, e.locator.Calls())
	require.Equal(t, models.TripStatusExpired, tr.Status())
}

func TestTracker_ExpiryRaceGuardAdoptsRemoteCompletion(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 3)
	tr := e.tracker(trip)
	ctx := context.Background()

	// another screen completes the trip; the event never reaches the tracker
	_, err := e.life.Complete(ctx, models.Session{UserID: "alice"}, trip.ID, e.at(2))
	require.NoError(t, err)
	writes := e.store.TripUpdates()

	for i := 1; i <= 4; i++ {
		require.NoError(t, tr.Tick(ctx, e.at(i)))
	}

	require.Equal(t, models.TripStatusCompleted, tr.Status())
	require.Equal(t, writes, e.store.TripUpdates())
	got, _ := e.store.GetTrip(ctx, trip.ID)
	require.Nil(t, got.ExpiredLocation)
	require.Nil(t, got.ExpirationTime)
}

func TestTracker_ObserveRemoteTerminal(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 60)
	tr := e.tracker(trip)

	tr.Observe(messages.TripEvent{TripID: "other", Status: models.TripStatusCancelled})
	require.Equal(t, models.TripStatusOngoing, tr.Status())

	tr.Observe(messages.TripEvent{TripID: trip.ID, Kind: messages.TripUpdated, Status: models.TripStatusOngoing})
	require.Equal(t, models.TripStatusOngoing, tr.Status())

	tr.Observe(messages.TripEvent{TripID: trip.ID, Kind: messages.TripCancelled, Status: models.TripStatusCancelled})
	require.Equal(t, models.TripStatusCancelled, tr.Status())

	tr.Observe(messages.TripEvent{TripID: trip.ID, Kind: messages.TripCompleted, Status: models.TripStatusCompleted, PuzzleCompleted: true})
	require.Equal(t, models.TripStatusCancelled, tr.Status())

	for i := 1; i <= 70; i++ {
		require.NoError(t, tr.Tick(context.Background(), e.at(i)))
	}
	require.Zero(t, e.store.TripUpdates())
}

func TestTracker_PingWritesLocation(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 600)
	tr := e.tracker(trip)
	ctx := context.Background()

	e.locator.Set("alice", models.GeoPoint{Lat: 10, Lng: 20})
	tr.Ping(ctx, e.at(30))

	got, _ := e.store.GetTrip(ctx, trip.ID)
	require.Equal(t, &models.GeoPoint{Lat: 10, Lng: 20}, got.LastKnownLocation)
	require.Equal(t, e.at(30), *got.LastLocationUpdate)
	require.Equal(t, models.TripStatusOngoing, got.Status)
}

func TestTracker_PingFailuresAreSwallowed(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 600)
	tr := e.tracker(trip)
	ctx := context.Background()

	e.locator.Deny("alice")
	tr.Ping(ctx, e.at(30))

	e.locator.Set("alice", models.GeoPoint{Lat: 1, Lng: 2})
	e.store.FailUpdates(apperr.TransientIO(errors.New("offline"), "store"))
	tr.Ping(ctx, e.at(60))

	require.Zero(t, e.store.TripUpdates())
	require.Equal(t, models.TripStatusOngoing, tr.Status())
	require.Empty(t, tr.State().LastError)
}

func TestTracker_WriteFailureStillAdvancesLocally(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 1)
	tr := e.tracker(trip)
	ctx := context.Background()

	e.store.FailUpdates(apperr.TransientIO(errors.New("offline"), "store"))
	err := tr.Tick(ctx, e.at(1))
	require.ErrorIs(t, err, apperr.ErrTransientIO)

	require.Equal(t, models.TripStatusExpired, tr.Status())
	require.NotEmpty(t, tr.State().LastError)

	got, _ := e.store.GetTrip(ctx, trip.ID)
	require.Equal(t, models.TripStatusOngoing, got.Status)
}

func TestTracker_ColdStartDerivesRemaining(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 600)
	e.clock.Set(e.at(595))
	tr := e.tracker(trip)

	require.Equal(t, int64(5), tr.State().RemainingSeconds)
	require.Equal(t, "00:05", tr.State().RemainingFormatted)

	e.clock.Set(e.at(700))
	late := e.tracker(trip)
	require.Zero(t, late.State().RemainingSeconds)
	require.True(t, late.State().Expired)
}

func TestTracker_NewFromTerminalTripIsDone(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 60)
	trip.Status = models.TripStatusCancelled
	tr := e.tracker(trip)

	require.NoError(t, tr.Run(context.Background()))
	require.False(t, tr.Notify(context.Background(), messages.TripEvent{TripID: trip.ID}))
}

func TestTracker_RunStopsOnRemoteEvent(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 600)
	tr := e.tracker(trip).WithSettings(5*time.Millisecond, time.Hour)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(context.Background()) }()

	require.True(t, tr.Notify(context.Background(), messages.TripEvent{
		TripID: trip.ID, Kind: messages.TripCompleted, Status: models.TripStatusCompleted, PuzzleCompleted: true,
	}))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	require.Equal(t, models.TripStatusCompleted, tr.Status())
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	e := newEnv()
	trip := e.trip(t, 600)
	tr := e.tracker(trip).WithSettings(5*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := tr.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, models.TripStatusOngoing, tr.Status())
}

func TestTracker_RunExpiresViaTicker(t *testing.T) {
	e := newEnv()
	e.locator.Set("alice", models.GeoPoint{Lat: 3, Lng: 4})
	trip := e.trip(t, 2)
	tr := e.tracker(trip).WithSettings(2*time.Millisecond, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Run(ctx))

	got, _ := e.store.GetTrip(ctx, trip.ID)
	require.Equal(t, models.TripStatusExpired, got.Status)
	require.Equal(t, 1, e.store.TripUpdates())
}
