package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/SafeArrival/config"
	"github.com/BearBump/SafeArrival/internal/api/tripsapi"
	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/bootstrap"
	"github.com/BearBump/SafeArrival/internal/broker/kafka"
	"github.com/BearBump/SafeArrival/internal/cache/rediscache"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/devicefix"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
	"github.com/BearBump/SafeArrival/internal/services/sharing"
	"github.com/BearBump/SafeArrival/internal/services/tripcache"
	"github.com/BearBump/SafeArrival/internal/services/trips"
	"github.com/joho/godotenv"
)

type tripAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     tripAPIOpts
	api      *tripsapi.API
	verifier auth.Verifier
	closers  []func()
}

func mustBootstrapTripAPI() *tripAPIApp {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = "api/swagger.json"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}
	slog.SetDefault(bootstrap.NewLogger(cfg.Log.Level))

	httpAddr := cfg.SafeArrival.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.TripEventsTopicName
	if topic == "" {
		topic = "trip.events"
	}
	cacheTTL := time.Duration(cfg.SafeArrival.TripCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	sharesPerMinute := int64(cfg.SafeArrival.SharesPerMinute)
	if sharesPerMinute <= 0 {
		sharesPerMinute = sharing.DefaultSharesPerMinute
	}
	liveEvery := time.Duration(cfg.SafeArrival.LiveIntervalMillis) * time.Millisecond
	if liveEvery <= 0 {
		liveEvery = time.Second
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &tripAPIApp{ctx: ctx, cancel: cancel}

	deps := bootstrap.New(cfg)
	store, err := deps.OpenStore(ctx, 60*time.Second)
	if err != nil {
		panic(err)
	}
	app.closers = append(app.closers, store.Close)

	redisAddr := cfg.Redis.Addr()
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)
	fixes := devicefix.New(redisAddr, deps.FixMaxAge())
	app.closers = append(app.closers,
		func() { _ = rc.Close() },
		func() { _ = rl.Close() },
		func() { _ = fixes.Close() },
	)

	var events lifecycle.EventPublisher
	if brokers := cfg.Kafka.Brokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		events = kafka.NewEventPublisher(producer, topic)
	} else {
		slog.Warn("kafka is not configured, trip events are not published")
	}

	notifier, err := deps.Notifier(ctx)
	if err != nil {
		panic(err)
	}
	verifier, err := deps.Verifier(ctx)
	if err != nil {
		panic(err)
	}
	geocoder := deps.Geocoder()

	tc := tripcache.New(store, rc, cacheTTL)
	life := lifecycle.New(store, fixes, events, tc, notifier)
	sharingSvc := sharing.New(store, tc, notifier, rl).WithRateLimit(sharesPerMinute)
	tripsSvc := trips.New(store, tc, geocoder, fixes, events)

	app.api = tripsapi.New(tripsSvc, life, sharingSvc, geocoder).WithLiveInterval(liveEvery)
	app.verifier = verifier
	app.opts = tripAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: swaggerPath,
		corsOrigins: cfg.SafeArrival.CORSAllowedOrigins,
	}
	slog.Info("trip-api bootstrapped",
		"store", deps.StoreDriver(),
		"kafka_topic", topic,
		"cache_ttl", cacheTTL.String(),
		"shares_per_minute", sharesPerMinute,
	)
	return app
}

func (a *tripAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *tripAPIApp) Run() error {
	return runTripAPI(a.ctx, a.opts, a.api, a.verifier)
}
