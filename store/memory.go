package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/model"
)

// MemPort is an in-memory Port, the default for tests and for simple,
// single-process deployments that don't need crash durability. It
// mirrors the teacher's MemStore: plain maps guarded by one mutex per
// sub-store, no external dependency.
type MemPort struct {
	flows    *memFlowStore
	runs     *memRunStore
	queue    *memQueueStore
	vars     *memVarStore
	triggers *memTriggerStore
	events   *memEventStore
}

func NewMemPort() *MemPort {
	return &MemPort{
		flows:    &memFlowStore{data: make(map[string]model.Flow)},
		runs:     &memRunStore{data: make(map[string]model.Run)},
		queue:    &memQueueStore{data: make(map[string]model.QueueItem)},
		vars:     &memVarStore{data: make(map[string]model.PersistentVariable)},
		triggers: &memTriggerStore{data: make(map[string]model.Trigger)},
		events:   &memEventStore{data: make(map[string][]emit.Event)},
	}
}

func (p *MemPort) Flows() FlowStore        { return p.flows }
func (p *MemPort) Runs() RunStore          { return p.runs }
func (p *MemPort) Queue() QueueStore       { return p.queue }
func (p *MemPort) Vars() VarStore          { return p.vars }
func (p *MemPort) Triggers() TriggerStore  { return p.triggers }
func (p *MemPort) Events() emit.EventStore { return p.events }
func (p *MemPort) Close() error            { return nil }

// --- flows ---

type memFlowStore struct {
	mu   sync.RWMutex
	data map[string]model.Flow
}

func (s *memFlowStore) Save(_ context.Context, flow model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[flow.ID] = flow
	return nil
}

func (s *memFlowStore) Get(_ context.Context, flowID string) (model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.data[flowID]
	if !ok {
		return model.Flow{}, ErrNotFound
	}
	return flow, nil
}

func (s *memFlowStore) List(_ context.Context) ([]model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Flow, 0, len(s.data))
	for _, f := range s.data {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memFlowStore) Delete(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, flowID)
	return nil
}

// --- runs ---

type memRunStore struct {
	mu   sync.Mutex
	data map[string]model.Run
}

func (s *memRunStore) Create(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.NextSeq == 0 {
		run.NextSeq = 1
	}
	s.data[run.ID] = run
	return nil
}

func (s *memRunStore) Get(_ context.Context, runID string) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.data[runID]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return run, nil
}

func (s *memRunStore) Patch(_ context.Context, runID string, patch RunPatch) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.data[runID]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	now := time.Now().UTC()
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.CurrentNodeID != nil {
		run.CurrentNodeID = *patch.CurrentNodeID
	}
	if patch.Vars != nil {
		run.Vars = patch.Vars
	}
	if patch.Outputs != nil {
		run.Outputs = patch.Outputs
	}
	if patch.Attempt != nil {
		run.Attempt = *patch.Attempt
	}
	if patch.NextSeq != nil {
		run.NextSeq = *patch.NextSeq
	}
	if patch.Error != nil {
		run.Error = patch.Error
	}
	if patch.StartedAt != nil && *patch.StartedAt {
		run.StartedAt = &now
	}
	if patch.FinishedAt != nil && *patch.FinishedAt {
		run.FinishedAt = &now
	}
	run.UpdatedAt = now
	s.data[runID] = run
	return run, nil
}

func (s *memRunStore) List(_ context.Context, flowID string) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Run, 0)
	for _, r := range s.data {
		if flowID == "" || r.FlowID == flowID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memRunStore) AllocateSeq(_ context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.data[runID]
	if !ok {
		return 0, ErrNotFound
	}
	seq := run.NextSeq
	run.NextSeq++
	s.data[runID] = run
	return seq, nil
}

// --- queue ---

type memQueueStore struct {
	mu   sync.Mutex
	data map[string]model.QueueItem
}

func (s *memQueueStore) Enqueue(_ context.Context, item model.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[item.ID] = item
	return nil
}

func (s *memQueueStore) Claim(_ context.Context, ownerID string, ttl int64, now int64) (model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.QueueItem
	for id := range s.data {
		item := s.data[id]
		if item.Status == model.QueueRunning && !leaseExpired(item.Lease, now) {
			continue
		}
		if item.Status == model.QueuePaused {
			continue
		}
		if best == nil || item.Priority > best.Priority || (item.Priority == best.Priority && item.CreatedAt.Before(best.CreatedAt)) {
			it := item
			best = &it
		}
	}
	if best == nil {
		return model.QueueItem{}, ErrNotFound
	}
	best.Status = model.QueueRunning
	best.Attempt++
	best.Lease = &model.Lease{OwnerID: ownerID, ExpiresAt: time.Unix(0, (now+ttl)*int64(time.Millisecond))}
	s.data[best.ID] = *best
	return *best, nil
}

func leaseExpired(lease *model.Lease, nowMs int64) bool {
	if lease == nil {
		return true
	}
	return nowMs >= lease.ExpiresAt.UnixMilli()
}

func (s *memQueueStore) Heartbeat(_ context.Context, runID string, ownerID string, ttl int64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return ErrNotFound
	}
	if item.Lease == nil || item.Lease.OwnerID != ownerID {
		return model.NewError(model.CodeInvariantViolation, "heartbeat from non-owner")
	}
	item.Lease.ExpiresAt = time.Unix(0, (now+ttl)*int64(time.Millisecond))
	s.data[runID] = item
	return nil
}

func (s *memQueueStore) Release(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return ErrNotFound
	}
	item.Lease = nil
	item.Status = model.QueueQueued
	s.data[runID] = item
	return nil
}

func (s *memQueueStore) Pause(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return ErrNotFound
	}
	item.Lease = nil
	item.Status = model.QueuePaused
	s.data[runID] = item
	return nil
}

func (s *memQueueStore) AdoptPaused(_ context.Context, runID, ownerID string, ttl int64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return ErrNotFound
	}
	if item.Status != model.QueuePaused {
		return model.NewError(model.CodeInvariantViolation, "adopt-paused on a non-paused queue item")
	}
	item.Lease = &model.Lease{OwnerID: ownerID, ExpiresAt: time.Unix(0, (now+ttl)*int64(time.Millisecond))}
	s.data[runID] = item
	return nil
}

func (s *memQueueStore) Resume(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return ErrNotFound
	}
	item.Status = model.QueueQueued
	s.data[runID] = item
	return nil
}

func (s *memQueueStore) Get(_ context.Context, runID string) (model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return model.QueueItem{}, ErrNotFound
	}
	return item, nil
}

func (s *memQueueStore) ListExpired(_ context.Context, now int64) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueItem, 0)
	for _, item := range s.data {
		switch item.Status {
		case model.QueueRunning:
			if leaseExpired(item.Lease, now) {
				out = append(out, item)
			}
		case model.QueuePaused:
			// A paused item with no lease at all has no stale owner to
			// clear; only a lease that actually expired counts.
			if item.Lease != nil && leaseExpired(item.Lease, now) {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func (s *memQueueStore) ClearStaleOwner(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[runID]
	if !ok {
		return ErrNotFound
	}
	item.Lease = nil
	s.data[runID] = item
	return nil
}

func (s *memQueueStore) ListAll(_ context.Context) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueItem, 0, len(s.data))
	for _, item := range s.data {
		out = append(out, item)
	}
	return out, nil
}

func (s *memQueueStore) Remove(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// --- vars ---

type memVarStore struct {
	mu   sync.Mutex
	data map[string]model.PersistentVariable
}

func (s *memVarStore) Get(_ context.Context, key string) (model.PersistentVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return model.PersistentVariable{}, ErrNotFound
	}
	return v, nil
}

func (s *memVarStore) Set(_ context.Context, key string, value any) (model.PersistentVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.data[key]
	v := model.PersistentVariable{Key: key, Value: value, Version: existing.Version + 1}
	s.data[key] = v
	return v, nil
}

func (s *memVarStore) CompareAndSet(_ context.Context, key string, expectedVersion int64, value any) (model.PersistentVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data[key]
	if !ok && expectedVersion != 0 {
		return model.PersistentVariable{}, ErrVersionConflict
	}
	if ok && existing.Version != expectedVersion {
		return model.PersistentVariable{}, ErrVersionConflict
	}
	v := model.PersistentVariable{Key: key, Value: value, Version: expectedVersion + 1}
	s.data[key] = v
	return v, nil
}

func (s *memVarStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memVarStore) List(_ context.Context) ([]model.PersistentVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PersistentVariable, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// --- triggers ---

type memTriggerStore struct {
	mu   sync.Mutex
	data map[string]model.Trigger
}

func (s *memTriggerStore) Save(_ context.Context, trigger model.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[trigger.ID] = trigger
	return nil
}

func (s *memTriggerStore) Get(_ context.Context, triggerID string) (model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[triggerID]
	if !ok {
		return model.Trigger{}, ErrNotFound
	}
	return t, nil
}

func (s *memTriggerStore) List(_ context.Context, flowID string) ([]model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Trigger, 0)
	for _, t := range s.data {
		if flowID == "" || t.FlowID == flowID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memTriggerStore) Delete(_ context.Context, triggerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, triggerID)
	return nil
}

// --- events ---

type memEventStore struct {
	mu   sync.Mutex
	data map[string][]emit.Event
}

func (s *memEventStore) Append(_ context.Context, input emit.EventInput) (emit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.data[input.RunID])) + 1
	event := emit.Event{
		ID:     uuid.NewString(),
		RunID:  input.RunID,
		Seq:    seq,
		Ts:     time.Now().UTC(),
		Kind:   input.Kind,
		NodeID: input.NodeID,
		Data:   input.Data,
	}
	s.data[input.RunID] = append(s.data[input.RunID], event)
	return event, nil
}

func (s *memEventStore) List(_ context.Context, runID string) ([]emit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.data[runID]
	out := make([]emit.Event, len(events))
	copy(out, events)
	return out, nil
}

