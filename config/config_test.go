package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "safearrival"
kafka:
  host: "localhost"
  port: 9092
  trip_events_topic_name: "trip.events"
redis:
  host: "localhost"
  port: 6379
store:
  driver: "firestore"
firebase:
  project_id: "safe-arrival-dev"
auth:
  provider: "jwt"
  jwt_secret: "s3cret"
geo:
  provider: "fake"
  fix_max_age_seconds: 90
safearrival:
  http_addr: ":8080"
  cors_allowed_origins: ["http://localhost:3000"]
  shares_per_minute: 10
  worker_event_source: "store"
  worker_tick_millis: 500
log:
  level: "debug"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "trip.events", cfg.Kafka.TripEventsTopicName)
	require.Equal(t, "firestore", cfg.Store.Driver)
	require.Equal(t, "safe-arrival-dev", cfg.Firebase.ProjectID)
	require.Equal(t, "jwt", cfg.Auth.Provider)
	require.Equal(t, 90, cfg.Geo.FixMaxAgeSeconds)
	require.Equal(t, ":8080", cfg.SafeArrival.HTTPAddr)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.SafeArrival.CORSAllowedOrigins)
	require.Equal(t, "store", cfg.SafeArrival.WorkerEventSource)
	require.Equal(t, 500, cfg.SafeArrival.WorkerTickMillis)
	require.Equal(t, "debug", cfg.Log.Level)

	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "postgres://u:p@localhost:5432/safearrival?sslmode=disable", cfg.Database.ConnString())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestKafkaBrokers_EmptyHost(t *testing.T) {
	require.Nil(t, KafkaConfig{}.Brokers())
}
