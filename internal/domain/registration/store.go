package registration

import (
	"context"

	"github.com/okian/rollcall/internal/domain/model"
)

// Store is the document store holding registrations keyed by
// (userID, eventID). Implementations must make CreateIfAbsent and
// CompareAndSetStatus atomic; the manager performs no locking of its own.
//
// Backend failures are reported wrapped in model.ErrStoreUnavailable.
type Store interface {
	// Get returns model.ErrNoRecord when the key was never written.
	Get(ctx context.Context, userID, eventID string) (model.Registration, error)

	// CreateIfAbsent stores reg when no record exists for its key or the
	// existing record is cancelled. Otherwise it returns the existing record
	// and created=false.
	CreateIfAbsent(ctx context.Context, reg model.Registration) (stored model.Registration, created bool, err error)

	// CompareAndSetStatus moves the record from one status to another only
	// if it currently holds from. Moving to completed stamps CompletedAt with
	// at (epoch millis). The current record is returned either way; missing
	// keys yield model.ErrNoRecord.
	CompareAndSetStatus(ctx context.Context, userID, eventID string, from, to model.Status, at int64) (current model.Registration, swapped bool, err error)

	// ListByUser returns every record for userID, any status.
	ListByUser(ctx context.Context, userID string) ([]model.Registration, error)

	// CountByStatus counts an event's records in the given status.
	CountByStatus(ctx context.Context, eventID string, status model.Status) (int, error)

	// Watch subscribes to changes of userID's records. The channel receives
	// a value after every change (signals may coalesce) and is closed if the
	// subscription breaks. release must be called exactly once.
	Watch(ctx context.Context, userID string) (changes <-chan struct{}, release func(), err error)
}
