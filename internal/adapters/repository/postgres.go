package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// PostgresStore persists registrations in PostgreSQL and distributes change
// signals across processes with LISTEN/NOTIFY.
type PostgresStore struct {
	sqlStore
	hub      *Hub
	listener *pq.Listener
	channel  string
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// OpenPostgres connects, migrates and starts listening for change
// notifications on the configured channel.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	o := buildOptions("repository.postgres", opts)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{
		hub:     NewHub(),
		channel: o.notifyChannel,
		stop:    make(chan struct{}),
	}
	s.sqlStore = sqlStore{
		db:       db,
		driver:   DriverPostgres,
		numbered: true,
		notify:   s.publish,
		logger:   o.logger,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			o.logger.Warn(context.Background(), "postgres listener event", logger.Int("event", int(ev)), logger.Error(err))
		}
	})
	if err := s.listener.Listen(s.channel); err != nil {
		_ = s.listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}

	s.wg.Add(1)
	go s.relay(ctx)

	o.logger.Info(ctx, "postgres store ready", logger.String("channel", s.channel))
	return s, nil
}

// publish notifies every process listening on the channel, this one included.
func (s *PostgresStore) publish(ctx context.Context, userID string) {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, userID); err != nil {
		s.logger.Warn(ctx, "pg_notify failed, signalling locally", logger.String("user_id", userID), logger.Error(err))
		s.hub.Publish(userID)
	}
}

func (s *PostgresStore) relay(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect; notifications may have been lost.
			if n == nil {
				s.hub.Broadcast()
				continue
			}
			s.hub.Publish(n.Extra)
		}
	}
}

// Watch subscribes to userID's changes from any process sharing the database.
func (s *PostgresStore) Watch(ctx context.Context, userID string) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, model.Unavailable("postgres watch", err)
	}
	ch, release, err := s.hub.Subscribe(userID)
	if err != nil {
		return nil, nil, model.Unavailable("postgres watch", err)
	}
	return ch, release, nil
}

// Close stops the change feed, ends subscriptions and closes the pool.
func (s *PostgresStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.hub.Close()
		if lerr := s.listener.Close(); lerr != nil {
			err = lerr
		}
		if derr := s.db.Close(); derr != nil && err == nil {
			err = derr
		}
	})
	return err
}
