// Package store defines the StoragePort the engine runs against, plus
// in-memory, SQLite, and MySQL implementations of it. The shape mirrors
// the teacher's graph/store package — an interface the engine is coded
// against, with swappable backends registered behind it — generalized
// from a single typed Store[S] to the several narrower sub-stores a
// multi-run, multi-flow system needs.
package store

import (
	"context"
	"errors"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/model"
)

// ErrNotFound is returned by any Get/Load method that finds nothing for
// the given key.
var ErrNotFound = errors.New("store: not found")

// FlowStore holds authored Flow definitions.
type FlowStore interface {
	Save(ctx context.Context, flow model.Flow) error
	Get(ctx context.Context, flowID string) (model.Flow, error)
	List(ctx context.Context) ([]model.Flow, error)
	Delete(ctx context.Context, flowID string) error
}

// RunPatch carries a partial update to a Run; nil fields are left
// unchanged. It lets the walker issue narrow, last-writer-wins updates
// without round-tripping the whole Run.
type RunPatch struct {
	Status        *model.RunStatus
	CurrentNodeID *string
	Vars          model.Vars
	Outputs       model.Vars
	Attempt       *int
	NextSeq       *int64
	Error         *model.ErrorRecord
	StartedAt     *bool // sentinel: set StartedAt to now
	FinishedAt    *bool // sentinel: set FinishedAt to now
}

// RunStore holds Run records.
type RunStore interface {
	Create(ctx context.Context, run model.Run) error
	Get(ctx context.Context, runID string) (model.Run, error)
	Patch(ctx context.Context, runID string, patch RunPatch) (model.Run, error)
	List(ctx context.Context, flowID string) ([]model.Run, error)
	// AllocateSeq atomically returns the next event sequence number for
	// runID and persists the increment, so concurrent appenders never
	// collide.
	AllocateSeq(ctx context.Context, runID string) (int64, error)
}

// QueueStore holds the persistent run queue the scheduler claims work
// from.
type QueueStore interface {
	Enqueue(ctx context.Context, item model.QueueItem) error
	// Claim atomically finds the claimable item (queued, or running with
	// an expired lease) with the highest priority, oldest first among
	// equal priorities, assigns it to ownerID for ttl, and returns it. It returns
	// ErrNotFound if nothing is claimable.
	Claim(ctx context.Context, ownerID string, ttl int64, now int64) (model.QueueItem, error)
	Heartbeat(ctx context.Context, runID string, ownerID string, ttl int64, now int64) error
	Release(ctx context.Context, runID string) error
	// Pause marks runID paused and drops its lease; it will not be
	// returned by Claim again until Resume.
	Pause(ctx context.Context, runID string) error
	// Resume returns a paused runID to the claimable queue.
	Resume(ctx context.Context, runID string) error
	// AdoptPaused rewrites a paused item's lease to ownerID without
	// changing its status, for the RecoveryCoordinator's startup sweep:
	// a paused run stays paused across a crash, but a fresh process must
	// still be the one allowed to resume it.
	AdoptPaused(ctx context.Context, runID, ownerID string, ttl int64, now int64) error
	Get(ctx context.Context, runID string) (model.QueueItem, error)
	// ListExpired returns running or paused queue items whose lease has
	// expired as of now, for the LeaseManager's periodic reclaim sweep and
	// the RecoveryCoordinator's startup sweep.
	ListExpired(ctx context.Context, now int64) ([]model.QueueItem, error)
	// ClearStaleOwner drops a paused item's lease without changing its
	// status, for the LeaseManager's periodic reclaim sweep: the pause
	// persists, but the stale owner must no longer look claimable by the
	// old process's heartbeat.
	ClearStaleOwner(ctx context.Context, runID string) error
	ListAll(ctx context.Context) ([]model.QueueItem, error)
	Remove(ctx context.Context, runID string) error
}

// VarStore holds PersistentVariables, independent of any single run.
type VarStore interface {
	Get(ctx context.Context, key string) (model.PersistentVariable, error)
	Set(ctx context.Context, key string, value any) (model.PersistentVariable, error)
	// CompareAndSet writes value only if the current version equals
	// expectedVersion, returning ErrVersionConflict otherwise.
	CompareAndSet(ctx context.Context, key string, expectedVersion int64, value any) (model.PersistentVariable, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]model.PersistentVariable, error)
}

// ErrVersionConflict is returned by VarStore.CompareAndSet on a stale
// expected version.
var ErrVersionConflict = errors.New("store: version conflict")

// TriggerStore holds Trigger bindings.
type TriggerStore interface {
	Save(ctx context.Context, trigger model.Trigger) error
	Get(ctx context.Context, triggerID string) (model.Trigger, error)
	List(ctx context.Context, flowID string) ([]model.Trigger, error)
	Delete(ctx context.Context, triggerID string) error
}

// Port is the aggregate StoragePort the engine depends on: one handle
// per sub-store plus the shared event log. Backends implement Port by
// embedding concrete sub-store implementations that share one
// connection/mutex, the way the teacher's SQLiteStore bundles steps,
// checkpoints, and idempotency tracking behind one *sql.DB.
type Port interface {
	Flows() FlowStore
	Runs() RunStore
	Queue() QueueStore
	Vars() VarStore
	Triggers() TriggerStore
	Events() emit.EventStore
	Close() error
}
