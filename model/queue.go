package model

import "time"

// QueueStatus is the lifecycle of a QueueItem, distinct from RunStatus:
// a run can be QueueRunning (leased to a worker) while its own
// RunStatus is still "running", and a paused run sits in the queue as
// QueuePaused until resumed.
type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueueRunning QueueStatus = "running"
	QueuePaused  QueueStatus = "paused"
)

// QueueItem is one row of the persistent run queue: the unit the
// RunScheduler claims, leases, and releases. Its ID equals the Run's ID.
type QueueItem struct {
	ID        string      `json:"id"`
	FlowID    string      `json:"flowId"`
	Priority  int         `json:"priority"`
	CreatedAt time.Time   `json:"createdAt"`
	Status    QueueStatus `json:"status"`
	Attempt   int         `json:"attempt"`
	Lease     *Lease      `json:"lease,omitempty"`
}

// Lease records which worker currently owns a QueueItem and until when
// that ownership is valid absent a heartbeat renewal.
type Lease struct {
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lease has passed its expiry as of now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// PersistentVariable is a named, versioned value stored independently of
// any single run — the mechanism triggers and long-lived flows use to
// share state across runs. Version increments on every write and is used
// for optimistic-concurrency checks by VarStore.CompareAndSet.
type PersistentVariable struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Version int64  `json:"version"`
}

// TriggerKind discriminates what starts a Trigger's associated Flow.
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerManual   TriggerKind = "manual"
)

// Trigger binds a Flow to a condition under which it should be enqueued
// automatically: a cron schedule, an inbound webhook, or purely manual
// invocation (recorded for bookkeeping/audit even though nothing fires
// it automatically).
type Trigger struct {
	ID       string      `json:"id"`
	FlowID   string      `json:"flowId"`
	Kind     TriggerKind `json:"kind"`
	Schedule string      `json:"schedule,omitempty"`
	Enabled  bool        `json:"enabled"`
	Args     Vars        `json:"args,omitempty"`
}
