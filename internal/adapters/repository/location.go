package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidLocation is returned for coordinates outside the valid range.
var ErrInvalidLocation = errors.New("invalid location")

// ValidateLocation checks latitude and longitude bounds.
func ValidateLocation(loc model.Location) error {
	if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lon) ||
		loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidLocation, loc.Lat, loc.Lon)
	}
	return nil
}

// MemoryLocations keeps each user's last known location in process.
type MemoryLocations struct {
	mu    sync.RWMutex
	byUID map[string]model.Location
}

// NewMemoryLocations returns an empty location store.
func NewMemoryLocations() *MemoryLocations {
	return &MemoryLocations{byUID: make(map[string]model.Location)}
}

// Get returns userID's location; ok is false when none was recorded.
func (l *MemoryLocations) Get(ctx context.Context, userID string) (model.Location, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Location{}, false, model.Unavailable("memory location get", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.byUID[userID]
	return loc, ok, nil
}

// Set records userID's location.
func (l *MemoryLocations) Set(ctx context.Context, userID string, loc model.Location) error {
	if err := ValidateLocation(loc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.Unavailable("memory location set", err)
	}
	l.mu.Lock()
	l.byUID[userID] = loc
	l.mu.Unlock()
	return nil
}

// RedisLocations keeps last known locations in Redis hashes.
type RedisLocations struct {
	client *redis.Client
	prefix string
}

// NewRedisLocations stores locations under prefix:loc:<user>.
func NewRedisLocations(client *redis.Client, opts ...Option) *RedisLocations {
	o := buildOptions("repository.location", opts)
	return &RedisLocations{client: client, prefix: o.keyPrefix}
}

func (l *RedisLocations) key(userID string) string { return l.prefix + ":loc:" + userID }

// Get returns userID's location; ok is false when none was recorded.
func (l *RedisLocations) Get(ctx context.Context, userID string) (model.Location, bool, error) {
	vals, err := l.client.HGetAll(ctx, l.key(userID)).Result()
	if err != nil {
		return model.Location{}, false, model.Unavailable("redis location get", err)
	}
	if len(vals) == 0 {
		return model.Location{}, false, nil
	}
	lat, err := strconv.ParseFloat(vals["lat"], 64)
	if err != nil {
		return model.Location{}, false, model.Unavailable("redis location decode", err)
	}
	lon, err := strconv.ParseFloat(vals["lon"], 64)
	if err != nil {
		return model.Location{}, false, model.Unavailable("redis location decode", err)
	}
	loc := model.Location{Lat: lat, Lon: lon}
	if ms, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		loc.UpdatedAt = time.UnixMilli(ms)
	}
	return loc, true, nil
}

// Set records userID's location.
func (l *RedisLocations) Set(ctx context.Context, userID string, loc model.Location) error {
	if err := ValidateLocation(loc); err != nil {
		return err
	}
	err := l.client.HSet(ctx, l.key(userID),
		"lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64),
		"updated_at", strconv.FormatInt(loc.UpdatedAt.UnixMilli(), 10),
	).Err()
	if err != nil {
		return model.Unavailable("redis location set", err)
	}
	return nil
}
