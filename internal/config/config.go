// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Defaults come from New; Load layers a YAML file and environment
//     variables on top.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the lifecycle event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of lifecycle publishing workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many published transitions are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// NearbyRadiusKm bounds the nearby events view.
	NearbyRadiusKm float64 `koanf:"nearby_radius_km"`

	// CatalogFile is a YAML event catalog; empty uses the built-in one.
	CatalogFile string `koanf:"catalog_file"`

	// StoreDriver selects the registration store: memory, sqlite, postgres or redis.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`
	RedisURL    string `koanf:"redis_url"`

	// LocationDriver selects the last-known-location store: memory or redis.
	LocationDriver string `koanf:"location_driver"`

	// JWTSecret signs and verifies HS256 bearer tokens.
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`

	// KafkaBrokers is a comma-separated seed list; empty logs lifecycle
	// events instead of producing them.
	KafkaBrokers string `koanf:"kafka_brokers"`
	KafkaTopic   string `koanf:"kafka_topic"`

	// OTelEndpoint is the OTLP/HTTP traces endpoint; empty disables tracing.
	OTelEndpoint string `koanf:"otel_endpoint"`

	// StreamHeartbeatMS is the keep-alive interval of registration streams.
	StreamHeartbeatMS int `koanf:"stream_heartbeat_ms"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":8080",
		EventQueueSize:    10_000,
		WorkerCount:       runtime.NumCPU(),
		DedupeSize:        50_000,
		NearbyRadiusKm:    30,
		StoreDriver:       "sqlite",
		SQLitePath:        "rollcall.db",
		LocationDriver:    "memory",
		JWTIssuer:         "rollcall",
		KafkaTopic:        "rollcall.registrations",
		StreamHeartbeatMS: 15_000,
	}
}

// Brokers splits KafkaBrokers into addresses.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// StreamHeartbeat returns StreamHeartbeatMS as a duration.
func (c *Config) StreamHeartbeat() time.Duration {
	return time.Duration(c.StreamHeartbeatMS) * time.Millisecond
}
