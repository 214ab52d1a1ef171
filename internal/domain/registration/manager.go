// Package registration implements the registration lifecycle:
// registered -> cancelled and the read side used by listings and streams.
// The registered -> completed transition belongs to package checkin.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("rollcall/registration")

// Manager drives registration writes against a Store.
type Manager struct {
	store       Store
	logger      logger.Logger
	now         func() time.Time
	resubscribe time.Duration
	storeName   string
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		now:         time.Now,
		resubscribe: defaultResubscribeInterval,
		storeName:   "store",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrGlobal(m.logger, "registration")
	return m
}

// Register creates a registered record for (userID, eventID) from the catalog
// snapshot. A live or completed registration yields model.ErrAlreadyRegistered.
func (m *Manager) Register(ctx context.Context, eventID string, snapshot model.EventRecord, userID, userName string) (model.Registration, error) {
	ctx, span := tracer.Start(ctx, "registration.Register", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	if userID == "" {
		metrics.RecordRegistration("unauthenticated")
		return model.Registration{}, model.ErrNotAuthenticated
	}
	snapshot.ID = eventID
	reg := model.NewRegistration(userID, userName, snapshot, m.now())

	start := time.Now()
	stored, created, err := m.store.CreateIfAbsent(ctx, reg)
	metrics.RecordStoreOperation(m.storeName, "create_if_absent", metrics.Since(start))
	if err != nil {
		metrics.RecordRegistration("error")
		metrics.RecordStoreError(m.storeName, "create_if_absent")
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		m.logger.Error(ctx, "register failed", logger.String("user_id", userID), logger.String("event_id", eventID), logger.Error(err))
		return model.Registration{}, fmt.Errorf("register %s: %w", eventID, err)
	}
	if !created {
		metrics.RecordRegistration("already_registered")
		m.logger.Debug(ctx, "already registered",
			logger.String("user_id", userID),
			logger.String("event_id", eventID),
			logger.String("status", stored.Status.String()))
		return stored, model.ErrAlreadyRegistered
	}

	metrics.RecordRegistration("created")
	m.logger.Info(ctx, "registered", logger.String("user_id", userID), logger.String("event_id", eventID))
	return stored, nil
}

// Cancel moves a live registration to cancelled. Cancelling something that
// is not live yields model.ErrNotRegistered.
func (m *Manager) Cancel(ctx context.Context, eventID, userID string) (model.Registration, error) {
	ctx, span := tracer.Start(ctx, "registration.Cancel", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	if userID == "" {
		metrics.RecordCancellation("unauthenticated")
		return model.Registration{}, model.ErrNotAuthenticated
	}

	start := time.Now()
	current, swapped, err := m.store.CompareAndSetStatus(ctx, userID, eventID, model.StatusRegistered, model.StatusCancelled, model.Millis(m.now()))
	metrics.RecordStoreOperation(m.storeName, "compare_and_set", metrics.Since(start))
	switch {
	case errors.Is(err, model.ErrNoRecord):
		metrics.RecordCancellation("not_registered")
		return model.Registration{}, model.ErrNotRegistered
	case err != nil:
		metrics.RecordCancellation("error")
		metrics.RecordStoreError(m.storeName, "compare_and_set")
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		m.logger.Error(ctx, "cancel failed", logger.String("user_id", userID), logger.String("event_id", eventID), logger.Error(err))
		return model.Registration{}, fmt.Errorf("cancel %s: %w", eventID, err)
	case !swapped:
		metrics.RecordCancellation("not_registered")
		return current, model.ErrNotRegistered
	}

	metrics.RecordCancellation("cancelled")
	m.logger.Info(ctx, "cancelled", logger.String("user_id", userID), logger.String("event_id", eventID))
	return current, nil
}

// Get loads one registration. Missing keys yield model.ErrRegistrationNotFound.
func (m *Manager) Get(ctx context.Context, userID, eventID string) (model.Registration, error) {
	if userID == "" {
		return model.Registration{}, model.ErrNotAuthenticated
	}
	reg, err := m.store.Get(ctx, userID, eventID)
	if errors.Is(err, model.ErrNoRecord) {
		return model.Registration{}, model.ErrRegistrationNotFound
	}
	if err != nil {
		metrics.RecordStoreError(m.storeName, "get")
		return model.Registration{}, fmt.Errorf("get %s: %w", eventID, err)
	}
	return reg, nil
}

// List returns userID's registrations, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]model.Registration, error) {
	if userID == "" {
		return nil, model.ErrNotAuthenticated
	}
	start := time.Now()
	regs, err := m.store.ListByUser(ctx, userID)
	metrics.RecordStoreOperation(m.storeName, "list_by_user", metrics.Since(start))
	if err != nil {
		metrics.RecordStoreError(m.storeName, "list_by_user")
		return nil, fmt.Errorf("list %s: %w", userID, err)
	}
	sortNewestFirst(regs)
	return regs, nil
}

// Count returns how many registrations for eventID are live.
func (m *Manager) Count(ctx context.Context, eventID string) (int, error) {
	n, err := m.store.CountByStatus(ctx, eventID, model.StatusRegistered)
	if err != nil {
		metrics.RecordStoreError(m.storeName, "count")
		return 0, fmt.Errorf("count %s: %w", eventID, err)
	}
	return n, nil
}

func sortNewestFirst(regs []model.Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].RegisteredAt != regs[j].RegisteredAt {
			return regs[i].RegisteredAt > regs[j].RegisteredAt
		}
		return regs[i].EventID < regs[j].EventID
	})
}
