package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const maxTxAttempts = 8

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps each registration as a JSON value and maintains
// per-user and per-(event, status) index sets. Writes use WATCH/MULTI
// optimistic transactions; changes are announced with PUBLISH.
type RedisStore struct {
	client *redis.Client
	prefix string
	chann  string
	hub    *Hub
	pubsub *redis.PubSub
	logger logger.Logger
	wg     sync.WaitGroup
	once   sync.Once

	ownsClient bool
}

// NewRedisStore wraps client and subscribes to the change channel.
func NewRedisStore(ctx context.Context, client *redis.Client, opts ...Option) *RedisStore {
	o := buildOptions("repository.redis", opts)
	s := &RedisStore{
		client: client,
		prefix: o.keyPrefix,
		chann:  o.keyPrefix + ":" + o.notifyChannel,
		hub:    NewHub(),
		logger: o.logger,
	}
	s.pubsub = client.Subscribe(ctx, s.chann)
	// Wait for the subscription confirmation so no early PUBLISH is missed.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		o.logger.Warn(ctx, "redis subscribe not confirmed", logger.String("channel", s.chann), logger.Error(err))
	}
	s.wg.Add(1)
	go s.relay()
	return s
}

// regKey length-prefixes the user id so ids containing ':' cannot collide.
func (s *RedisStore) regKey(userID, eventID string) string {
	return s.prefix + ":reg:" + strconv.Itoa(len(userID)) + ":" + userID + ":" + eventID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func (s *RedisStore) statusKey(eventID string, st model.Status) string {
	return s.prefix + ":event:" + st.String() + ":" + eventID
}

func (s *RedisStore) relay() {
	defer s.wg.Done()
	for msg := range s.pubsub.ChannelWithSubscriptions() {
		dispatch(s.hub, msg)
	}
}

// dispatch forwards a change notice to its user's watchers. A subscription
// confirmation after the initial one means the connection was re-established
// and notices may have been lost, so every watcher is told to re-read.
func dispatch(hub *Hub, msg interface{}) {
	switch m := msg.(type) {
	case *redis.Message:
		hub.Publish(m.Payload)
	case *redis.Subscription:
		if m.Kind == "subscribe" {
			hub.Broadcast()
		}
	}
}

func (s *RedisStore) publish(ctx context.Context, userID string) {
	if err := s.client.Publish(ctx, s.chann, userID).Err(); err != nil {
		s.logger.Warn(ctx, "redis publish failed, signalling locally", logger.String("user_id", userID), logger.Error(err))
		s.hub.Publish(userID)
	}
}

func (s *RedisStore) load(ctx context.Context, getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}, userID, eventID string) (model.Registration, error) {
	raw, err := getter.Get(ctx, s.regKey(userID, eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Registration{}, model.ErrNoRecord
	}
	if err != nil {
		return model.Registration{}, model.Unavailable("redis get", err)
	}
	var reg model.Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return model.Registration{}, model.Unavailable("redis decode", err)
	}
	if reg.UserID != userID || reg.EventID != eventID {
		return model.Registration{}, model.ErrNoRecord
	}
	return reg, nil
}

// Get returns the record for (userID, eventID).
func (s *RedisStore) Get(ctx context.Context, userID, eventID string) (model.Registration, error) {
	return s.load(ctx, s.client, userID, eventID)
}

// CreateIfAbsent stores reg unless a non-cancelled record holds its key.
func (s *RedisStore) CreateIfAbsent(ctx context.Context, reg model.Registration) (model.Registration, bool, error) {
	if err := validate(reg); err != nil {
		return model.Registration{}, false, err
	}
	payload, err := json.Marshal(reg)
	if err != nil {
		return model.Registration{}, false, fmt.Errorf("encode registration: %w", err)
	}
	k := s.regKey(reg.UserID, reg.EventID)

	var (
		existing model.Registration
		created  bool
	)
	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, reg.UserID, reg.EventID)
		replacing := err == nil
		switch {
		case errors.Is(err, model.ErrNoRecord):
		case err != nil:
			return err
		case cur.Status != model.StatusCancelled:
			existing, created = cur, false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, payload, 0)
			p.SAdd(ctx, s.userKey(reg.UserID), reg.EventID)
			if replacing {
				p.SRem(ctx, s.statusKey(reg.EventID, cur.Status), reg.UserID)
			}
			p.SAdd(ctx, s.statusKey(reg.EventID, reg.Status), reg.UserID)
			return nil
		})
		if err != nil {
			return err
		}
		created = true
		return nil
	}

	if err := s.watch(ctx, txf, k); err != nil {
		return model.Registration{}, false, err
	}
	if !created {
		return existing, false, nil
	}
	s.publish(ctx, reg.UserID)
	return reg, true, nil
}

// CompareAndSetStatus swaps the status when it currently equals from.
func (s *RedisStore) CompareAndSetStatus(ctx context.Context, userID, eventID string, from, to model.Status, at int64) (model.Registration, bool, error) {
	k := s.regKey(userID, eventID)
	var (
		current model.Registration
		swapped bool
	)
	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, userID, eventID)
		if err != nil {
			return err
		}
		if cur.Status != from {
			current, swapped = cur, false
			return nil
		}
		next := transition(cur, to, at)
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode registration: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, payload, 0)
			p.SRem(ctx, s.statusKey(eventID, from), userID)
			p.SAdd(ctx, s.statusKey(eventID, to), userID)
			return nil
		})
		if err != nil {
			return err
		}
		current, swapped = next, true
		return nil
	}

	if err := s.watch(ctx, txf, k); err != nil {
		return model.Registration{}, false, err
	}
	if swapped {
		s.publish(ctx, userID)
	}
	return current, swapped, nil
}

// watch retries txf while a concurrent writer invalidates the WATCH.
func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, model.ErrNoRecord) || errors.Is(err, model.ErrStoreUnavailable) {
				return err
			}
			return model.Unavailable("redis transaction", err)
		}
		return nil
	}
	return model.Unavailable("redis transaction", redis.TxFailedErr)
}

// ListByUser returns all of userID's records.
func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	eventIDs, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, model.Unavailable("redis list", err)
	}
	out := make([]model.Registration, 0, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		keys[i] = s.regKey(userID, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, model.Unavailable("redis list", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var reg model.Registration
		if err := json.Unmarshal([]byte(raw), &reg); err != nil {
			return nil, model.Unavailable("redis decode", err)
		}
		out = append(out, reg)
	}
	return out, nil
}

// CountByStatus counts eventID's records holding status.
func (s *RedisStore) CountByStatus(ctx context.Context, eventID string, status model.Status) (int, error) {
	n, err := s.client.SCard(ctx, s.statusKey(eventID, status)).Result()
	if err != nil {
		return 0, model.Unavailable("redis count", err)
	}
	return int(n), nil
}

// Watch subscribes to userID's changes from any process sharing the server.
func (s *RedisStore) Watch(ctx context.Context, userID string) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, model.Unavailable("redis watch", err)
	}
	ch, release, err := s.hub.Subscribe(userID)
	if err != nil {
		return nil, nil, model.Unavailable("redis watch", err)
	}
	return ch, release, nil
}

// Close stops the change feed and ends subscriptions. The client is closed
// only when the store was built by Open.
func (s *RedisStore) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		s.wg.Wait()
		s.hub.Close()
		if s.ownsClient {
			if cerr := s.client.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
