// Package service wires the registration, check-in and ranking components
// together and implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/rollcall/internal/adapters/catalog"
	eventqueue "github.com/okian/rollcall/internal/adapters/mq/queue"
	workerpool "github.com/okian/rollcall/internal/adapters/mq/worker"
	"github.com/okian/rollcall/internal/adapters/publisher"
	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/checkin"
	"github.com/okian/rollcall/internal/domain/dedupe"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/ranking"
	"github.com/okian/rollcall/internal/domain/registration"
	"github.com/okian/rollcall/internal/domain/token"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// LocationStore keeps each user's last known location.
type LocationStore interface {
	Get(ctx context.Context, userID string) (model.Location, bool, error)
	Set(ctx context.Context, userID string, loc model.Location) error
}

// Service implements the API dependencies for event registration.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	store     registration.Store
	storeName string
	catalog   catalog.Catalog
	locations LocationStore
	publisher publisher.Publisher

	// Domain components
	manager  *registration.Manager
	verifier *checkin.Verifier
	engine   *ranking.Engine

	// Lifecycle publishing
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	radiusKm    float64
	now         func() time.Time

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of publishing workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the lifecycle queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many published transitions are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithNearbyRadiusKm sets the nearby view radius.
func WithNearbyRadiusKm(km float64) Option {
	return func(s *Service) {
		if km > 0 {
			s.radiusKm = km
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the registration store and the driver name used in metrics.
func WithStore(store registration.Store, driver string) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.storeName = driver
		}
	}
}

// WithCatalog sets the event catalog.
func WithCatalog(c catalog.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithLocations sets the last-known-location store.
func WithLocations(l LocationStore) Option {
	return func(s *Service) {
		if l != nil {
			s.locations = l
		}
	}
}

// WithPublisher sets where lifecycle events are delivered.
func WithPublisher(p publisher.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source for registrations and check-ins.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Collaborators not supplied through options fall
// back to in-memory implementations and the built-in catalog.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   10000,
		dedupeSize:  50000,
		radiusKm:    ranking.DefaultNearbyRadiusKm,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrGlobal(s.logger, "service")

	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithLogger(s.logger))
		s.storeName = repository.DriverMemory
	}
	if s.storeName == "" {
		s.storeName = "custom"
	}
	if s.locations == nil {
		s.locations = repository.NewMemoryLocations()
	}
	if s.catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			s.logger.Error(context.Background(), "built-in catalog is invalid", logger.Error(err))
			c, _ = catalog.New(nil)
		}
		s.catalog = c
	}
	if s.publisher == nil {
		s.publisher = publisher.NewLogPublisher(s.logger.Named("lifecycle"))
	}

	s.manager = registration.NewManager(s.store,
		registration.WithLogger(s.logger.Named("registration")),
		registration.WithClock(s.now),
		registration.WithStoreName(s.storeName),
	)
	s.verifier = checkin.NewVerifier(s.store,
		checkin.WithLogger(s.logger.Named("checkin")),
		checkin.WithClock(s.now),
		checkin.WithStoreName(s.storeName),
	)
	s.engine = ranking.New(
		ranking.WithLogger(s.logger.Named("ranking")),
		ranking.WithNearbyRadiusKm(s.radiusKm),
	)
	return s
}

// Start creates the lifecycle queue and starts the publishing workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting rollcall service...")

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.deduper, s.publisher,
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.workerPool.Start(ctx)

	if c, ok := s.catalog.(interface{ Len() int }); ok {
		metrics.UpdateCatalogSize(c.Len())
	}

	s.started = true
	s.logger.Info(ctx, "rollcall service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("store", s.storeName),
	)
	return nil
}

// Stop drains the lifecycle queue and closes the publisher.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping rollcall service...")

	drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.workerPool.Shutdown(drainCtx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn(ctx, "closing publisher", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "rollcall service stopped")
}

// RankedEvents returns catalog events ordered by distance from the caller's
// last known location. Category filters the catalog when non-empty. Failures
// to read the location or the catalog degrade the result and are only logged.
func (s *Service) RankedEvents(ctx context.Context, id model.Identity, category string) []model.DistanceAnnotatedEvent {
	return s.engine.Rank(ctx, s.lastLocation(ctx, id), s.events(ctx, category))
}

// NearbyEvents is RankedEvents restricted to the nearby radius.
func (s *Service) NearbyEvents(ctx context.Context, id model.Identity, category string) []model.DistanceAnnotatedEvent {
	return s.engine.Nearby(ctx, s.lastLocation(ctx, id), s.events(ctx, category))
}

// RadiusKm returns the nearby radius.
func (s *Service) RadiusKm() float64 { return s.engine.RadiusKm() }

func (s *Service) events(ctx context.Context, category string) []model.EventRecord {
	var (
		events []model.EventRecord
		err    error
	)
	if category == "" {
		events, err = s.catalog.All(ctx)
	} else {
		events, err = s.catalog.ByCategory(ctx, category)
	}
	if err != nil {
		metrics.RecordErrorByComponent("catalog", "unavailable")
		s.logger.Warn(ctx, "catalog lookup failed, serving no events", logger.Error(err))
		return []model.EventRecord{}
	}
	return events
}

func (s *Service) lastLocation(ctx context.Context, id model.Identity) *model.Location {
	if !id.Authenticated() {
		return nil
	}
	loc, ok, err := s.locations.Get(ctx, id.UserID)
	if err != nil {
		metrics.RecordErrorByComponent("location", "unavailable")
		s.logger.Warn(ctx, "location lookup failed, ranking without location",
			logger.String("user_id", id.UserID), logger.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &loc
}

// Event returns one catalog event or model.ErrEventNotFound.
func (s *Service) Event(ctx context.Context, eventID string) (model.EventRecord, error) {
	ev, ok, err := s.catalog.ByID(ctx, eventID)
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("event %s: %w", eventID, err)
	}
	if !ok {
		return model.EventRecord{}, fmt.Errorf("%w: %s", model.ErrEventNotFound, eventID)
	}
	return ev, nil
}

// SetLocation records the caller's last known location.
func (s *Service) SetLocation(ctx context.Context, id model.Identity, lat, lon float64) (model.Location, error) {
	if !id.Authenticated() {
		return model.Location{}, model.ErrNotAuthenticated
	}
	loc := model.Location{Lat: lat, Lon: lon, UpdatedAt: s.now()}
	if err := s.locations.Set(ctx, id.UserID, loc); err != nil {
		return model.Location{}, fmt.Errorf("set location: %w", err)
	}
	return loc, nil
}

// Location returns the caller's last known location, if any.
func (s *Service) Location(ctx context.Context, id model.Identity) (model.Location, bool, error) {
	if !id.Authenticated() {
		return model.Location{}, false, model.ErrNotAuthenticated
	}
	return s.locations.Get(ctx, id.UserID)
}

// Register registers the caller for eventID using the current catalog entry
// as the snapshot. An existing registration is returned together with
// model.ErrAlreadyRegistered.
func (s *Service) Register(ctx context.Context, id model.Identity, eventID string) (model.Registration, error) {
	if !id.Authenticated() {
		return model.Registration{}, model.ErrNotAuthenticated
	}
	ev, err := s.Event(ctx, eventID)
	if err != nil {
		return model.Registration{}, err
	}
	reg, err := s.manager.Register(ctx, eventID, ev, id.UserID, id.Name)
	if err != nil {
		return reg, err
	}
	s.emit(ctx, model.KindRegistered, reg)
	return reg, nil
}

// Cancel cancels the caller's live registration for eventID.
func (s *Service) Cancel(ctx context.Context, id model.Identity, eventID string) (model.Registration, error) {
	reg, err := s.manager.Cancel(ctx, eventID, id.UserID)
	if err != nil {
		return reg, err
	}
	s.emit(ctx, model.KindCancelled, reg)
	return reg, nil
}

// CheckIn consumes a scanned token on behalf of the caller.
func (s *Service) CheckIn(ctx context.Context, id model.Identity, rawToken string) (model.Registration, error) {
	reg, err := s.verifier.Verify(ctx, rawToken, id.UserID)
	if err != nil {
		return reg, err
	}
	s.emit(ctx, model.KindCheckedIn, reg)
	return reg, nil
}

// Token returns the check-in token for the caller's live registration.
func (s *Service) Token(ctx context.Context, id model.Identity, eventID string) (string, error) {
	reg, err := s.manager.Get(ctx, id.UserID, eventID)
	switch {
	case errors.Is(err, model.ErrRegistrationNotFound):
		return "", model.ErrNotRegistered
	case err != nil:
		return "", err
	}
	switch reg.Status {
	case model.StatusCompleted:
		return "", model.ErrAlreadyCheckedIn
	case model.StatusCancelled:
		return "", model.ErrNotRegistered
	}
	return token.Format(reg.UserID, reg.EventID)
}

// MyRegistrations returns the caller's registrations, newest first.
func (s *Service) MyRegistrations(ctx context.Context, id model.Identity) ([]model.Registration, error) {
	if !id.Authenticated() {
		return nil, model.ErrNotAuthenticated
	}
	return s.manager.List(ctx, id.UserID)
}

// Subscribe streams the caller's registrations until ctx is done.
func (s *Service) Subscribe(ctx context.Context, id model.Identity) (<-chan []model.Registration, error) {
	if !id.Authenticated() {
		return nil, model.ErrNotAuthenticated
	}
	return s.manager.ListMine(ctx, id.UserID), nil
}

// Count returns how many users are registered for eventID.
func (s *Service) Count(ctx context.Context, eventID string) (int, error) {
	if _, err := s.Event(ctx, eventID); err != nil {
		return 0, err
	}
	return s.manager.Count(ctx, eventID)
}

// emit enqueues a lifecycle event. Publishing is best effort and never fails
// the write that produced it.
func (s *Service) emit(ctx context.Context, kind model.LifecycleKind, reg model.Registration) {
	s.mu.RLock()
	q, started := s.eventQueue, s.started
	s.mu.RUnlock()
	if !started {
		s.logger.Debug(ctx, "service not started, dropping lifecycle event", logger.String("kind", string(kind)))
		return
	}

	e := model.LifecycleEvent{
		ID:           uuid.NewString(),
		Kind:         kind,
		UserID:       reg.UserID,
		EventID:      reg.EventID,
		RegisteredAt: reg.RegisteredAt,
		At:           s.now(),
	}
	if err := q.Enqueue(context.WithoutCancel(ctx), e); err != nil {
		metrics.RecordErrorByComponent("queue", "enqueue")
		s.logger.Warn(ctx, "dropping lifecycle event",
			logger.String("kind", string(kind)),
			logger.String("user_id", reg.UserID),
			logger.String("event_id", reg.EventID),
			logger.Error(err))
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"workerCount":    s.workerCount,
		"queueSize":      s.queueSize,
		"dedupeSize":     s.dedupeSize,
		"store":          s.storeName,
		"nearbyRadiusKm": s.radiusKm,
	}
	if c, ok := s.catalog.(interface{ Len() int }); ok {
		stats["catalogEvents"] = c.Len()
	}

	if s.started {
		queueLen := s.eventQueue.Len()
		stats["queueLength"] = queueLen
		stats["dedupeEntries"] = s.deduper.Size()
		stats["workers"] = s.workerPool.Size()

		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
