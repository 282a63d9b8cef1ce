package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// Controller is the public surface every transport (RPC, CLI, the
// process assembler) drives the engine through: enqueue a run, pause,
// resume, or cancel one, and read back its state or event history. It
// owns no execution itself — that is the Scheduler/Walker's job — it
// only manipulates the StoragePort and signals the Walker.
type Controller struct {
	port    store.Port
	bus     *emit.Bus
	walker  *Walker
	sched   *Scheduler
	cfg     Config
}

func NewController(cfg Config, port store.Port, bus *emit.Bus, walker *Walker, sched *Scheduler) *Controller {
	return &Controller{cfg: cfg, port: port, bus: bus, walker: walker, sched: sched}
}

// Enqueue creates a Run for flowID seeded with args and places it on the
// queue, returning its ID.
func (c *Controller) Enqueue(ctx context.Context, flowID string, args model.Vars, debug model.DebugConfig) (string, error) {
	flow, err := c.port.Flows().Get(ctx, flowID)
	if err != nil {
		return "", err
	}
	runID := uuid.NewString()
	now := time.Now().UTC()
	run := model.Run{
		ID: runID, FlowID: flow.ID, Status: model.RunQueued,
		CreatedAt: now, UpdatedAt: now, Vars: args.Clone(), Debug: debug,
	}
	if err := c.port.Runs().Create(ctx, run); err != nil {
		return "", err
	}
	if err := c.port.Queue().Enqueue(ctx, model.QueueItem{ID: runID, FlowID: flow.ID, CreatedAt: now, Status: model.QueueQueued}); err != nil {
		return "", err
	}
	if _, err := c.bus.Append(ctx, emit.EventInput{RunID: runID, Kind: emit.KindRunQueued}); err != nil {
		return "", err
	}
	c.sched.Kick()
	return runID, nil
}

// Pause asks a running run to suspend at its next node boundary. A run
// still sitting in the queue (never claimed) is paused immediately
// without waiting for a worker to pick it up.
func (c *Controller) Pause(ctx context.Context, runID string) error {
	item, err := c.port.Queue().Get(ctx, runID)
	if err != nil {
		return err
	}
	if item.Status != model.QueueRunning {
		return c.port.Queue().Pause(ctx, runID)
	}
	c.walker.RequestPause(runID)
	return nil
}

// Resume returns a paused run to the claimable queue.
func (c *Controller) Resume(ctx context.Context, runID string) error {
	if err := c.port.Queue().Resume(ctx, runID); err != nil {
		return err
	}
	if _, err := c.bus.Append(ctx, emit.EventInput{RunID: runID, Kind: emit.KindRunResumed}); err != nil {
		return err
	}
	c.sched.Kick()
	return nil
}

// Cancel stops a run. A queued-but-unclaimed run is removed from the
// queue and marked canceled directly; a running run is asked to stop at
// its next suspension point.
func (c *Controller) Cancel(ctx context.Context, runID string) error {
	item, err := c.port.Queue().Get(ctx, runID)
	if err == nil && item.Status != model.QueueRunning {
		if err := c.port.Queue().Remove(ctx, runID); err != nil {
			return err
		}
		status := model.RunCanceled
		if _, err := c.port.Runs().Patch(ctx, runID, store.RunPatch{Status: &status, FinishedAt: boolPtr(true)}); err != nil {
			return err
		}
		_, err = c.bus.Append(ctx, emit.EventInput{RunID: runID, Kind: emit.KindRunCanceled})
		return err
	}
	c.walker.RequestCancel(runID)
	return nil
}

// Get returns a run's current record.
func (c *Controller) Get(ctx context.Context, runID string) (model.Run, error) {
	return c.port.Runs().Get(ctx, runID)
}

// History returns runID's full event log in Seq order.
func (c *Controller) History(ctx context.Context, runID string) ([]emit.Event, error) {
	return c.bus.List(ctx, runID)
}

// ListRuns returns runs, optionally filtered to one flow; an empty
// flowID returns every run.
func (c *Controller) ListRuns(ctx context.Context, flowID string) ([]model.Run, error) {
	return c.port.Runs().List(ctx, flowID)
}

// ListQueue returns every item currently on the run queue.
func (c *Controller) ListQueue(ctx context.Context) ([]model.QueueItem, error) {
	return c.port.Queue().ListAll(ctx)
}

// Subscribe streams live events for filter to listener until the
// returned function is called.
func (c *Controller) Subscribe(filter emit.Filter, listener emit.Listener) func() {
	return c.bus.Subscribe(filter, listener)
}
