package engine

import (
	"context"
	"errors"
	"time"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// RecoveryCounts tallies the disposition of every queue item seen by one
// Recover call, for startup logging and the round-trip testable
// property: a second Recover call with no intervening scheduler must
// yield all zeros.
type RecoveryCounts struct {
	RequeuedRunning int
	AdoptedPaused   int
	CleanedTerminal int
}

// RecoveryCoordinator runs once at process startup, before the
// Scheduler, to reconcile the queue left behind by a previous, possibly
// crashed, process holding a different owner ID. For every QueueItem it
// sorts the referenced Run into one of three buckets:
//
//   - terminal: the run already finished (succeeded/failed/canceled) but
//     its queue item was never cleaned up — delete the queue item.
//   - running: the prior owner is presumed dead — release the lease
//     (drop owner, keep the attempt counter), revert the queue item and
//     the run record to queued, and emit a run.recovered event.
//   - paused: the pause persists; only the lease's owner is rewritten so
//     the new process is allowed to resume it. An explicit resume is
//     still required.
//
// A queued-and-never-claimed item needs no action.
type RecoveryCoordinator struct {
	port   store.Port
	bus    *emit.Bus
	logger *logging.Logger
}

func NewRecoveryCoordinator(port store.Port, bus *emit.Bus, logger *logging.Logger) *RecoveryCoordinator {
	return &RecoveryCoordinator{port: port, bus: bus, logger: logger}
}

// Recover performs the one-shot startup sweep under ownerID, the new
// process's lease token, using leaseTTLMs as the TTL for any lease it
// adopts or re-establishes. Startup aborts on the first storage error so
// the process never starts against a half-recovered queue.
func (r *RecoveryCoordinator) Recover(ctx context.Context, ownerID string, leaseTTLMs int64) (RecoveryCounts, error) {
	items, err := r.port.Queue().ListAll(ctx)
	if err != nil {
		return RecoveryCounts{}, err
	}

	var counts RecoveryCounts
	now := time.Now().UTC()

	for _, item := range items {
		run, err := r.port.Runs().Get(ctx, item.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if err := r.port.Queue().Remove(ctx, item.ID); err != nil {
					return RecoveryCounts{}, err
				}
				counts.CleanedTerminal++
				continue
			}
			return RecoveryCounts{}, err
		}

		if isTerminal(run.Status) {
			if err := r.port.Queue().Remove(ctx, item.ID); err != nil {
				return RecoveryCounts{}, err
			}
			counts.CleanedTerminal++
			continue
		}

		switch item.Status {
		case model.QueueQueued:
			// Never claimed; the scheduler will pick it up normally.
		case model.QueueRunning:
			if err := r.port.Queue().Release(ctx, item.ID); err != nil {
				return RecoveryCounts{}, err
			}
			status := model.RunQueued
			if _, err := r.port.Runs().Patch(ctx, item.ID, store.RunPatch{Status: &status}); err != nil {
				return RecoveryCounts{}, err
			}
			if _, err := r.bus.Append(ctx, emit.EventInput{
				RunID: item.ID,
				Kind:  emit.KindRunRecovered,
				Data:  map[string]any{"phase": "requeuedRunning"},
			}); err != nil {
				r.logger.WithField("run_id", item.ID).WithField("error", err).Warn("failed to record recovery event")
			}
			counts.RequeuedRunning++
		case model.QueuePaused:
			if err := r.port.Queue().AdoptPaused(ctx, item.ID, ownerID, leaseTTLMs, now.UnixMilli()); err != nil {
				return RecoveryCounts{}, err
			}
			counts.AdoptedPaused++
		}
	}

	r.logger.WithFields(map[string]any{
		"requeued_running": counts.RequeuedRunning,
		"adopted_paused":   counts.AdoptedPaused,
		"cleaned_terminal": counts.CleanedTerminal,
		"total":            len(items),
	}).Info("startup recovery sweep complete")
	return counts, nil
}

func isTerminal(status model.RunStatus) bool {
	switch status {
	case model.RunSucceeded, model.RunFailed, model.RunCanceled:
		return true
	default:
		return false
	}
}
