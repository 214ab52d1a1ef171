package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists registrations in a single SQLite file. Change signals
// stay in-process.
type SQLiteStore struct {
	sqlStore
	hub *Hub
}

// OpenSQLite opens (creating if needed) and migrates the database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	o := buildOptions("repository.sqlite", opts)

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += sep(dsn) + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single connection: SQLite has one writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLiteStore{hub: NewHub()}
	s.sqlStore = sqlStore{
		db:     db,
		driver: DriverSQLite,
		notify: func(_ context.Context, userID string) { s.hub.Publish(userID) },
		logger: o.logger,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	o.logger.Info(ctx, "sqlite store ready", logger.String("path", path))
	return s, nil
}

// Watch subscribes to userID's changes made through this store.
func (s *SQLiteStore) Watch(ctx context.Context, userID string) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, model.Unavailable("sqlite watch", err)
	}
	ch, release, err := s.hub.Subscribe(userID)
	if err != nil {
		return nil, nil, model.Unavailable("sqlite watch", err)
	}
	return ch, release, nil
}

// Close ends subscriptions and closes the database.
func (s *SQLiteStore) Close() error {
	s.hub.Close()
	return s.db.Close()
}

func sep(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}
