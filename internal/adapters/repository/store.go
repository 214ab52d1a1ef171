// Package repository implements the registration document store and the
// last-known-location store on several backends.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/rollcall/internal/domain/registration"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var (
	_ registration.Store = (*MemoryStore)(nil)
	_ registration.Store = (*SQLiteStore)(nil)
	_ registration.Store = (*PostgresStore)(nil)
	_ registration.Store = (*RedisStore)(nil)
)

// ClosableStore is a registration store owning backend resources.
type ClosableStore interface {
	registration.Store
	Close() error
}

// Config selects and configures a registration store backend.
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	RedisURL    string
}

// Open builds the store named by cfg.Driver. Background goroutines (change
// feeds) stop when ctx is done or the store is closed.
func Open(ctx context.Context, cfg Config, opts ...Option) (ClosableStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryStore(opts...), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, opts...)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, opts...)
	case DriverRedis:
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s := NewRedisStore(ctx, client, opts...)
		s.ownsClient = true
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}
