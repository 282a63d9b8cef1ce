package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// TestRecovery_RequeuesOrphanedRunning exercises spec.md scenario 5: a
// queue item left "running" under a dead owner's lease is requeued, its
// run record reverts to "queued", and a run.recovered event is emitted.
func TestRecovery_RequeuesOrphanedRunning(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemPort()
	bus := emit.NewBus(port.Events())

	run := model.Run{ID: "r1", FlowID: "f1", Status: model.RunRunning, Vars: model.Vars{}}
	require.NoError(t, port.Runs().Create(ctx, run))
	require.NoError(t, port.Queue().Enqueue(ctx, model.QueueItem{ID: "r1", FlowID: "f1"}))
	_, err := port.Queue().Claim(ctx, "old-owner", 30_000, 0)
	require.NoError(t, err)

	rec := NewRecoveryCoordinator(port, bus, logging.NewDefault())
	counts, err := rec.Recover(ctx, "new-owner", 30_000)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.RequeuedRunning)
	assert.Equal(t, 0, counts.AdoptedPaused)
	assert.Equal(t, 0, counts.CleanedTerminal)

	item, err := port.Queue().Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.QueueQueued, item.Status)
	assert.Nil(t, item.Lease)

	got, err := port.Runs().Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, got.Status)

	events, err := bus.List(ctx, "r1")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, emit.KindRunRecovered, events[len(events)-1].Kind)

	// A second sweep with no intervening scheduler must find nothing left
	// to recover.
	counts2, err := rec.Recover(ctx, "new-owner", 30_000)
	require.NoError(t, err)
	assert.Equal(t, RecoveryCounts{}, counts2)
}

// TestRecovery_AdoptsPaused confirms a paused queue item keeps its
// paused status across recovery while gaining the new owner's lease.
func TestRecovery_AdoptsPaused(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemPort()
	bus := emit.NewBus(port.Events())

	run := model.Run{ID: "r2", FlowID: "f1", Status: model.RunPaused, Vars: model.Vars{}}
	require.NoError(t, port.Runs().Create(ctx, run))
	require.NoError(t, port.Queue().Enqueue(ctx, model.QueueItem{ID: "r2", FlowID: "f1"}))
	_, err := port.Queue().Claim(ctx, "old-owner", 30_000, 0)
	require.NoError(t, err)
	require.NoError(t, port.Queue().Pause(ctx, "r2"))

	rec := NewRecoveryCoordinator(port, bus, logging.NewDefault())
	counts, err := rec.Recover(ctx, "new-owner", 30_000)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.AdoptedPaused)

	item, err := port.Queue().Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, model.QueuePaused, item.Status)
	require.NotNil(t, item.Lease)
	assert.Equal(t, "new-owner", item.Lease.OwnerID)
}

// TestRecovery_CleansTerminalStragglers confirms a queue item whose run
// already finished is removed without touching the terminal run record.
func TestRecovery_CleansTerminalStragglers(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemPort()
	bus := emit.NewBus(port.Events())

	run := model.Run{ID: "r3", FlowID: "f1", Status: model.RunSucceeded, Vars: model.Vars{}}
	require.NoError(t, port.Runs().Create(ctx, run))
	require.NoError(t, port.Queue().Enqueue(ctx, model.QueueItem{ID: "r3", FlowID: "f1"}))

	rec := NewRecoveryCoordinator(port, bus, logging.NewDefault())
	counts, err := rec.Recover(ctx, "new-owner", 30_000)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.CleanedTerminal)

	_, err = port.Queue().Get(ctx, "r3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
