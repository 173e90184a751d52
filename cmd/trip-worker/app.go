package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/SafeArrival/config"
	"github.com/BearBump/SafeArrival/internal/bootstrap"
	"github.com/BearBump/SafeArrival/internal/broker/kafka"
	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/cache/rediscache"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/devicefix"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
	"github.com/BearBump/SafeArrival/internal/services/tracker"
	"github.com/BearBump/SafeArrival/internal/services/tripcache"
	"github.com/BearBump/SafeArrival/internal/storage"
)

const (
	eventSourceKafka = "kafka"
	eventSourceStore = "store"
)

// eventFeed delivers inbound trip events until ctx ends or the source fails.
type eventFeed func(ctx context.Context, handle func(messages.TripEvent)) error

type workerFactories struct {
	newStorage   func(ctx context.Context, cfg *config.Config) (st storage.Store, closeFn func(), err error)
	newLocator   func(cfg *config.Config) (loc geo.Locator, closeFn func())
	newNotifier  func(ctx context.Context, cfg *config.Config) (push.Notifier, error)
	newPublisher func(cfg *config.Config) (pub lifecycle.EventPublisher, closeFn func())
	newCache     func(cfg *config.Config, st storage.Store) (inv lifecycle.Invalidator, closeFn func())
	newFeed      func(cfg *config.Config, st storage.Store) eventFeed
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
			st, err := bootstrap.New(cfg).OpenStore(ctx, 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newLocator: func(cfg *config.Config) (geo.Locator, func()) {
			fixes := devicefix.New(cfg.Redis.Addr(), bootstrap.New(cfg).FixMaxAge())
			return fixes, func() { _ = fixes.Close() }
		},
		newNotifier: func(ctx context.Context, cfg *config.Config) (push.Notifier, error) {
			return bootstrap.New(cfg).Notifier(ctx)
		},
		newPublisher: func(cfg *config.Config) (lifecycle.EventPublisher, func()) {
			brokers := cfg.Kafka.Brokers()
			if len(brokers) == 0 {
				return nil, func() {}
			}
			producer := kafka.NewProducer(brokers)
			return kafka.NewEventPublisher(producer, tripEventsTopic(cfg)), func() { _ = producer.Close() }
		},
		newCache: func(cfg *config.Config, st storage.Store) (lifecycle.Invalidator, func()) {
			rc := rediscache.New(cfg.Redis.Addr())
			return tripcache.New(st, rc, time.Minute), func() { _ = rc.Close() }
		},
		newFeed: func(cfg *config.Config, st storage.Store) eventFeed {
			if eventSource(cfg) == eventSourceKafka {
				return kafkaFeed(cfg)
			}
			return storeFeed(st)
		},
	}
}

func tripEventsTopic(cfg *config.Config) string {
	if cfg.Kafka.TripEventsTopicName == "" {
		return "trip.events"
	}
	return cfg.Kafka.TripEventsTopicName
}

// eventSource defaults to Kafka when brokers are configured and to the
// store's change feed otherwise.
func eventSource(cfg *config.Config) string {
	switch strings.ToLower(cfg.SafeArrival.WorkerEventSource) {
	case eventSourceKafka:
		return eventSourceKafka
	case eventSourceStore:
		return eventSourceStore
	}
	if len(cfg.Kafka.Brokers()) > 0 {
		return eventSourceKafka
	}
	return eventSourceStore
}

func kafkaFeed(cfg *config.Config) eventFeed {
	group := cfg.SafeArrival.WorkerConsumerGroup
	if group == "" {
		group = "trip-worker"
	}
	return func(ctx context.Context, handle func(messages.TripEvent)) error {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), tripEventsTopic(cfg), group)
		defer func() { _ = consumer.Close() }()
		return kafka.ConsumeTripEvents(ctx, consumer, func(ev messages.TripEvent) error {
			handle(ev)
			return nil
		})
	}
}

func storeFeed(st storage.Store) eventFeed {
	return func(ctx context.Context, handle func(messages.TripEvent)) error {
		ch, stop, err := st.SubscribeTrips(ctx)
		if err != nil {
			return err
		}
		defer stop()
		for t := range ch {
			ev := messages.EventFromTrip(t, time.Now().UTC())
			ev.Trip = t
			handle(ev)
		}
		return ctx.Err()
	}
}

// runFeed keeps the feed attached, reconnecting after failures, until ctx ends.
func runFeed(ctx context.Context, feed eventFeed, handle func(messages.TripEvent), retryEvery time.Duration) {
	for ctx.Err() == nil {
		err := feed(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("trip event feed stopped", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryEvery):
		}
	}
}

func newManager(cfg *config.Config, st storage.Store, tr tracker.Transitions, loc geo.Locator) *tracker.Manager {
	resync := time.Duration(cfg.SafeArrival.WorkerResyncSeconds) * time.Second
	if resync <= 0 {
		resync = time.Minute
	}
	batchSize := cfg.SafeArrival.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	concurrency := cfg.SafeArrival.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	tick := time.Duration(cfg.SafeArrival.WorkerTickMillis) * time.Millisecond
	if tick <= 0 {
		tick = tracker.DefaultTickEvery
	}
	ping := time.Duration(cfg.SafeArrival.WorkerPingSeconds) * time.Second
	if ping <= 0 {
		ping = tracker.DefaultPingEvery
	}
	return tracker.NewManager(st, tr, loc).
		WithSettings(resync, batchSize, concurrency).
		WithTimers(tick, ping)
}

// RunTripWorker runs the tracker manager and its event feed until ctx ends.
// onManager, when set, receives the manager before it starts.
func RunTripWorker(ctx context.Context, cfg *config.Config, f workerFactories, onManager func(*tracker.Manager)) error {
	st, closeStore, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	loc, closeLoc := f.newLocator(cfg)
	defer closeLoc()
	notifier, err := f.newNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	pub, closePub := f.newPublisher(cfg)
	defer closePub()
	inv, closeCache := f.newCache(cfg, st)
	defer closeCache()

	life := lifecycle.New(st, loc, pub, inv, notifier)
	m := newManager(cfg, st, life, loc)
	if onManager != nil {
		onManager(m)
	}

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		runFeed(ctx, f.newFeed(cfg, st), func(ev messages.TripEvent) { m.Dispatch(ctx, ev) }, 2*time.Second)
	}()

	slog.Info("trip-worker running", "event_source", eventSource(cfg))
	err = m.Run(ctx)
	<-feedDone
	return err
}
