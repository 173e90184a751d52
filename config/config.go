package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Store       StoreConfig       `yaml:"store"`
	Firebase    FirebaseConfig    `yaml:"firebase"`
	Auth        AuthConfig        `yaml:"auth"`
	Geo         GeoConfig         `yaml:"geo"`
	SafeArrival SafeArrivalConfig `yaml:"safearrival"`
	Log         LogConfig         `yaml:"log"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	TripEventsTopicName string `yaml:"trip_events_topic_name"`
}

// Brokers is empty when no Kafka host is configured.
func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" | "firestore" | "memory"
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type AuthConfig struct {
	Provider  string `yaml:"provider"` // "firebase" | "jwt"
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

type GeoConfig struct {
	Provider         string `yaml:"provider"` // "google" | "fake"
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	FixMaxAgeSeconds int    `yaml:"fix_max_age_seconds"`
}

type SafeArrivalConfig struct {
	HTTPAddr            string   `yaml:"http_addr"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	TripCacheTTLSeconds int      `yaml:"trip_cache_ttl_seconds"`
	SharesPerMinute     int      `yaml:"shares_per_minute"`
	LiveIntervalMillis  int      `yaml:"live_interval_millis"`
	Push                string   `yaml:"push"` // "fcm" | "noop"

	WorkerHTTPAddr      string `yaml:"worker_http_addr"`
	WorkerEventSource   string `yaml:"worker_event_source"` // "kafka" | "store"
	WorkerConsumerGroup string `yaml:"worker_consumer_group"`
	WorkerResyncSeconds int    `yaml:"worker_resync_seconds"`
	WorkerBatchSize     int    `yaml:"worker_batch_size"`
	WorkerConcurrency   int    `yaml:"worker_concurrency"`
	WorkerTickMillis    int    `yaml:"worker_tick_millis"`
	WorkerPingSeconds   int    `yaml:"worker_ping_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
