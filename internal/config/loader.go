package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ROLLCALL_"

var (
	storeDrivers    = []string{"memory", "sqlite", "postgres", "redis"}
	locationDrivers = []string{"memory", "redis"}
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if ROLLCALL_CONFIG is set
//  3. env (prefix ROLLCALL_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// ROLLCALL_QUEUE_SIZE -> queue_size. Underscores are kept to match the
	// flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.LocationDriver = strings.ToLower(strings.TrimSpace(c.LocationDriver))

	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe_size must not be negative", ErrInvalidConfig)
	case c.NearbyRadiusKm <= 0:
		return fmt.Errorf("%w: nearby_radius_km must be positive", ErrInvalidConfig)
	case c.StreamHeartbeatMS <= 0:
		return fmt.Errorf("%w: stream_heartbeat_ms must be positive", ErrInvalidConfig)
	case !slices.Contains(storeDrivers, c.StoreDriver):
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case !slices.Contains(locationDrivers, c.LocationDriver):
		return fmt.Errorf("%w: unknown location_driver %q", ErrInvalidConfig, c.LocationDriver)
	case c.StoreDriver == "sqlite" && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
	case c.StoreDriver == "postgres" && c.PostgresDSN == "":
		return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
	case (c.StoreDriver == "redis" || c.LocationDriver == "redis") && c.RedisURL == "":
		return fmt.Errorf("%w: redis_url is required for redis drivers", ErrInvalidConfig)
	case len(c.Brokers()) > 0 && c.KafkaTopic == "":
		return fmt.Errorf("%w: kafka_topic is required with kafka_brokers", ErrInvalidConfig)
	}
	return nil
}
