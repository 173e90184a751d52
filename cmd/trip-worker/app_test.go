package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/SafeArrival/config"
	"github.com/BearBump/SafeArrival/internal/broker/kafka"
	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/fake"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
	"github.com/BearBump/SafeArrival/internal/services/tracker"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/BearBump/SafeArrival/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(ctx context.Context, tripID string) {}

func memFactories(st *memstore.Store, loc *fake.Locator, notifier push.Notifier) workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
			return st, nil, nil
		},
		newLocator: func(cfg *config.Config) (geo.Locator, func()) { return loc, func() {} },
		newNotifier: func(ctx context.Context, cfg *config.Config) (push.Notifier, error) {
			return notifier, nil
		},
		newPublisher: func(cfg *config.Config) (lifecycle.EventPublisher, func()) { return nil, func() {} },
		newCache: func(cfg *config.Config, st storage.Store) (lifecycle.Invalidator, func()) {
			return noopInvalidator{}, func() {}
		},
		newFeed: func(cfg *config.Config, s storage.Store) eventFeed { return storeFeed(s) },
	}
}

func TestDefaultWorkerFactories_Selection(t *testing.T) {
	f := defaultWorkerFactories()

	pub, closePub := f.newPublisher(&config.Config{})
	require.Nil(t, pub)
	closePub()

	pub, closePub = f.newPublisher(&config.Config{Kafka: config.KafkaConfig{Host: "localhost", Port: 9092}})
	_, ok := pub.(*kafka.EventPublisher)
	require.True(t, ok)
	closePub()

	require.Equal(t, eventSourceStore, eventSource(&config.Config{}))
	require.Equal(t, eventSourceKafka, eventSource(&config.Config{Kafka: config.KafkaConfig{Host: "k"}}))
	require.Equal(t, eventSourceStore, eventSource(&config.Config{
		Kafka:       config.KafkaConfig{Host: "k"},
		SafeArrival: config.SafeArrivalConfig{WorkerEventSource: "STORE"},
	}))
	require.Equal(t, "trip.events", tripEventsTopic(&config.Config{}))
}

func TestRunTripWorker_ExpiresOverdueAndFollowsStoreFeed(t *testing.T) {
	st := memstore.New()
	loc := fake.NewLocator()
	loc.Set("alice", models.GeoPoint{Lat: 52.5, Lng: 13.4})
	rec := &push.Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	overdue, err := st.CreateTrip(ctx, models.TripCreateInput{OwnerID: "alice", DestinationLabel: "Home", ETASeconds: 10, StartedAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	running, err := st.CreateTrip(ctx, models.TripCreateInput{OwnerID: "alice", DestinationLabel: "Work", ETASeconds: 3600, StartedAt: now})
	require.NoError(t, err)

	var m atomic.Pointer[tracker.Manager]
	cfg := &config.Config{SafeArrival: config.SafeArrivalConfig{WorkerTickMillis: 20, WorkerResyncSeconds: 3600}}
	errCh := make(chan error, 1)
	go func() { errCh <- RunTripWorker(ctx, cfg, memFactories(st, loc, rec), m.Store) }()

	require.Eventually(t, func() bool {
		got, err := st.GetTrip(ctx, overdue.ID)
		return err == nil && got.Status == models.TripStatusExpired
	}, 3*time.Second, 10*time.Millisecond)
	got, _ := st.GetTrip(ctx, overdue.ID)
	require.NotNil(t, got.ExpiredLocation)

	require.Eventually(t, func() bool {
		mm := m.Load()
		if mm == nil {
			return false
		}
		_, ok := mm.Get(running.ID)
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	cancelled := models.TripStatusCancelled
	end := time.Now().UTC()
	require.NoError(t, st.UpdateTripFields(ctx, running.ID, models.TripFields{Status: &cancelled, EndTime: &end}))
	require.Eventually(t, func() bool { return m.Load().Running() == 0 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting worker to stop")
	}
	require.Equal(t, int64(1), m.Load().Stats().TotalExpired)
}

func TestRunTripWorker_StorageError(t *testing.T) {
	f := memFactories(memstore.New(), fake.NewLocator(), push.Noop{})
	f.newStorage = func(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
		return nil, nil, errors.New("db down")
	}
	err := RunTripWorker(context.Background(), &config.Config{}, f, nil)
	require.EqualError(t, err, "db down")
}

func TestRunFeed_ReconnectsAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	got := make(chan messages.TripEvent, 1)
	feed := func(ctx context.Context, handle func(messages.TripEvent)) error {
		if attempts.Add(1) == 1 {
			return errors.New("broker unavailable")
		}
		handle(messages.TripEvent{TripID: "t1", Kind: messages.TripCompleted})
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		runFeed(ctx, feed, func(ev messages.TripEvent) { got <- ev }, 5*time.Millisecond)
		close(done)
	}()

	select {
	case ev := <-got:
		require.Equal(t, "t1", ev.TripID)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not reconnect")
	}
	require.Equal(t, int32(2), attempts.Load())

	cancel()
	<-done
}

func TestWorkerRouter(t *testing.T) {
	var m atomic.Pointer[tracker.Manager]
	srv := httptest.NewServer(newWorkerRouter(workerHTTPOpts{
		manager: &m,
		cfg:     &config.Config{SafeArrival: config.SafeArrivalConfig{WorkerBatchSize: 50}},
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m.Store(tracker.NewManager(memstore.New(), lifecycle.New(memstore.New(), nil, nil, nil, nil), fake.NewLocator()))

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var stats tracker.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Zero(t, stats.Running)

	resp, err = http.Post(srv.URL+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.NotNil(t, m.Load().Stats().LastTriggerAt)

	resp, err = http.Get(srv.URL + "/config")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, float64(50), out["batchSize"])
	require.Equal(t, "postgres", out["storeDriver"])
	require.Equal(t, "store", out["eventSource"])
}
