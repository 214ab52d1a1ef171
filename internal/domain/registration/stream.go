package registration

import (
	"context"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// ListMine streams userID's registrations, newest first. The current set is
// sent first and a fresh set after every change. Read failures are sent as
// an empty list. The channel is closed once ctx is done and the store
// subscription has been released.
func (m *Manager) ListMine(ctx context.Context, userID string) <-chan []model.Registration {
	out := make(chan []model.Registration, 1)
	go m.follow(ctx, userID, out)
	return out
}

func (m *Manager) follow(ctx context.Context, userID string, out chan<- []model.Registration) {
	defer close(out)
	metrics.IncActiveStreams()
	defer metrics.DecActiveStreams()

	if userID == "" {
		if m.emit(ctx, out, []model.Registration{}) {
			<-ctx.Done()
		}
		return
	}

	for ctx.Err() == nil {
		changes, release, err := m.store.Watch(ctx, userID)
		if err != nil {
			m.logger.Warn(ctx, "subscribe failed", logger.String("user_id", userID), logger.Error(err))
			if !m.emit(ctx, out, []model.Registration{}) || !m.pause(ctx) {
				return
			}
			continue
		}

		broken := m.relay(ctx, userID, changes, out)
		release()
		if !broken || !m.pause(ctx) {
			return
		}
		m.logger.Warn(ctx, "subscription dropped, resubscribing", logger.String("user_id", userID))
	}
}

// relay pushes snapshots until ctx is done (false) or changes closes (true).
func (m *Manager) relay(ctx context.Context, userID string, changes <-chan struct{}, out chan<- []model.Registration) bool {
	if !m.emit(ctx, out, m.snapshot(ctx, userID)) {
		return false
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-changes:
			if !ok {
				return true
			}
			if !m.emit(ctx, out, m.snapshot(ctx, userID)) {
				return false
			}
		}
	}
}

func (m *Manager) snapshot(ctx context.Context, userID string) []model.Registration {
	regs, err := m.List(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn(ctx, "list failed, sending empty snapshot", logger.String("user_id", userID), logger.Error(err))
		}
		return []model.Registration{}
	}
	return regs
}

func (m *Manager) emit(ctx context.Context, out chan<- []model.Registration, regs []model.Registration) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- regs:
		metrics.RecordStreamEmit()
		return true
	}
}

func (m *Manager) pause(ctx context.Context) bool {
	t := time.NewTimer(m.resubscribe)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
