// Package bootstrap builds the process-wide dependencies both binaries share
// from the loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/BearBump/SafeArrival/config"
	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/auth/firebaseauth"
	"github.com/BearBump/SafeArrival/internal/auth/jwtauth"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/fake"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/googlemaps"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/BearBump/SafeArrival/internal/integrations/push/fcm"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/BearBump/SafeArrival/internal/storage/firestoretrips"
	"github.com/BearBump/SafeArrival/internal/storage/memstore"
	"github.com/BearBump/SafeArrival/internal/storage/pgtrips"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

const (
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"
)

// NewLogger returns a JSON slog logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// Deps lazily opens the Firebase app, which backs several providers.
type Deps struct {
	Cfg *config.Config

	fbOnce sync.Once
	fbApp  *firebase.App
	fbErr  error
}

func New(cfg *config.Config) *Deps {
	return &Deps{Cfg: cfg}
}

func (d *Deps) Firebase(ctx context.Context) (*firebase.App, error) {
	d.fbOnce.Do(func() {
		var opts []option.ClientOption
		if f := d.Cfg.Firebase.CredentialsFile; f != "" {
			opts = append(opts, option.WithCredentialsFile(f))
		}
		var fbCfg *firebase.Config
		if d.Cfg.Firebase.ProjectID != "" {
			fbCfg = &firebase.Config{ProjectID: d.Cfg.Firebase.ProjectID}
		}
		d.fbApp, d.fbErr = firebase.NewApp(ctx, fbCfg, opts...)
		if d.fbErr != nil {
			d.fbErr = errors.Wrap(d.fbErr, "firebase app")
		}
	})
	return d.fbApp, d.fbErr
}

// StoreDriver is the configured driver, postgres when unset.
func (d *Deps) StoreDriver() string {
	if d.Cfg.Store.Driver == "" {
		return StoreDriverPostgres
	}
	return strings.ToLower(d.Cfg.Store.Driver)
}

// OpenStore opens the configured trip store. Postgres is retried for up to
// wait since it may still be starting next to the service.
func (d *Deps) OpenStore(ctx context.Context, wait time.Duration) (storage.Store, error) {
	switch d.StoreDriver() {
	case StoreDriverPostgres:
		return openPostgresWithRetry(ctx, d.Cfg.Database.ConnString(), wait)
	case StoreDriverFirestore:
		app, err := d.Firebase(ctx)
		if err != nil {
			return nil, err
		}
		return firestoretrips.New(ctx, app)
	case StoreDriverMemory:
		slog.Warn("using in-memory trip store, data is lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", d.Cfg.Store.Driver)
	}
}

func openPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pgtrips.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgtrips.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (d *Deps) Verifier(ctx context.Context) (auth.Verifier, error) {
	switch strings.ToLower(d.Cfg.Auth.Provider) {
	case "", "firebase":
		app, err := d.Firebase(ctx)
		if err != nil {
			return nil, err
		}
		return firebaseauth.New(ctx, app)
	case "jwt":
		if d.Cfg.Auth.JWTSecret == "" {
			return nil, errors.New("auth.jwt_secret is required for the jwt provider")
		}
		issuer := d.Cfg.Auth.JWTIssuer
		if issuer == "" {
			issuer = "safearrival"
		}
		return jwtauth.New(d.Cfg.Auth.JWTSecret, issuer), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", d.Cfg.Auth.Provider)
	}
}

func (d *Deps) Notifier(ctx context.Context) (push.Notifier, error) {
	switch strings.ToLower(d.Cfg.SafeArrival.Push) {
	case "fcm":
		app, err := d.Firebase(ctx)
		if err != nil {
			return nil, err
		}
		return fcm.New(ctx, app)
	case "", "noop":
		return push.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown push provider %q", d.Cfg.SafeArrival.Push)
	}
}

// Geocoder falls back to the deterministic fake when no Maps key is set.
func (d *Deps) Geocoder() geo.Geocoder {
	if strings.ToLower(d.Cfg.Geo.Provider) == "google" && d.Cfg.Geo.APIKey != "" {
		return googlemaps.New(d.Cfg.Geo.BaseURL, d.Cfg.Geo.APIKey)
	}
	return fake.NewGeocoder()
}

func (d *Deps) FixMaxAge() time.Duration {
	return time.Duration(d.Cfg.Geo.FixMaxAgeSeconds) * time.Second
}
