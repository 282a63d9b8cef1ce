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

// succeedExecute is a minimal node kind used across walker tests: it
// records Config["set"] into Vars under the same key and always
// advances via the default edge.
func succeedExecute(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
	var ops []model.VarOp
	if set, ok := node.Config["set"].(map[string]any); ok {
		for k, v := range set {
			ops = append(ops, model.VarOp{Op: model.VarOpSet, Name: k, Value: v})
		}
	}
	return model.NodeResult{Status: model.NodeSucceeded, VarsPatch: ops, Next: &model.Next{Kind: model.NextDefault}}, nil
}

func failExecute(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
	return model.NodeResult{Status: model.NodeFailed, Error: &model.NodeError{Code: string(model.CodeToolError), Message: "boom", Retryable: false}}, nil
}

// flakyExecute fails attemptsToFail times, then succeeds; callCount
// tracks how many times it actually ran.
func flakyExecute(attemptsToFail int, callCount *int) ExecuteFunc {
	return func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		*callCount++
		if *callCount <= attemptsToFail {
			return model.NodeResult{Status: model.NodeFailed, Error: &model.NodeError{Code: string(model.CodeToolError), Message: "transient", Retryable: true}}, nil
		}
		return model.NodeResult{Status: model.NodeSucceeded, Next: &model.Next{Kind: model.NextDefault}}, nil
	}
}

type walkerHarness struct {
	port     store.Port
	bus      *emit.Bus
	registry *PluginRegistry
	walker   *Walker
}

func newWalkerHarness(t *testing.T) *walkerHarness {
	t.Helper()
	port := store.NewMemPort()
	bus := emit.NewBus(port.Events())
	registry := NewPluginRegistry()
	breakpoints := NewBreakpointRegistry()
	cfg := DefaultConfig()
	cfg.DefaultWhileMaxIterations = 1000
	walker := NewWalker(cfg, port, bus, registry, breakpoints, logging.NewDefault())
	return &walkerHarness{port: port, bus: bus, registry: registry, walker: walker}
}

func (h *walkerHarness) register(t *testing.T, kind string, fn ExecuteFunc) {
	t.Helper()
	require.NoError(t, h.registry.Register(NodeDefinition{Kind: kind, Execute: fn}))
}

func (h *walkerHarness) createRun(t *testing.T, ctx context.Context, flow model.Flow) string {
	t.Helper()
	require.NoError(t, h.port.Flows().Save(ctx, flow))
	run := model.Run{ID: "run-" + flow.ID, FlowID: flow.ID, Status: model.RunQueued, Vars: model.Vars{}}
	require.NoError(t, h.port.Runs().Create(ctx, run))
	return run.ID
}

func TestWalker_HappyPath(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "happy", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "succeed", Config: map[string]any{"set": map[string]any{"x": 1.0}}},
			"b": {ID: "b", Kind: "succeed", Config: map[string]any{"set": map[string]any{"y": 2.0}}},
		},
		Edges: []model.Edge{{ID: "e1", From: "a", To: "b", Label: "default"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 1.0, run.Vars["x"])
	assert.Equal(t, 2.0, run.Vars["y"])
	assert.NotNil(t, run.FinishedAt)
}

func TestWalker_NodeFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "fail", failExecute)

	flow := model.Flow{
		ID: "failing", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "fail"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, model.CodeToolError, run.Error.Code)
}

func TestWalker_RetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	calls := 0
	h.register(t, "flaky", flakyExecute(2, &calls))

	flow := model.Flow{
		ID: "retrying", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "flaky", Policy: &model.NodePolicy{
				Retry: &model.RetryPolicy{Retries: 3, IntervalMs: 1},
			}},
		},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 3, calls, "fails twice, succeeds on the third attempt")
}

func TestWalker_OnErrorContinueRoutesAroundFailure(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "fail", failExecute)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "continue-on-error", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "fail", Policy: &model.NodePolicy{
				OnError: &model.OnErrorPolicy{Mode: model.OnErrorContinue},
			}},
			"b": {ID: "b", Kind: "succeed", Config: map[string]any{"set": map[string]any{"reached": true}}},
		},
		Edges: []model.Edge{{ID: "e1", From: "a", To: "b", Label: "default"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, true, run.Vars["reached"])
}

func TestWalker_PauseSuspendsBeforeBreakpointNode(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "pausing", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "succeed"},
			"b": {ID: "b", Kind: "succeed", Config: map[string]any{"set": map[string]any{"reached": true}}},
		},
		Edges: []model.Edge{{ID: "e1", From: "a", To: "b", Label: "default"}},
	}
	require.NoError(t, h.port.Flows().Save(ctx, flow))
	runID := "run-" + flow.ID
	run := model.Run{
		ID: runID, FlowID: flow.ID, Status: model.RunQueued, Vars: model.Vars{},
		Debug: model.DebugConfig{InitialBreakpoints: []string{"b"}},
	}
	require.NoError(t, h.port.Runs().Create(ctx, run))

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunPaused, got.Status)
	assert.Equal(t, "b", got.CurrentNodeID)
	_, reached := got.Vars["reached"]
	assert.False(t, reached, "node b must not have executed before the breakpoint suspended the run")
}

func TestWalker_CancelStopsRun(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "canceling", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "succeed"}},
	}
	runID := h.createRun(t, ctx, flow)

	h.walker.RequestCancel(runID)
	require.NoError(t, h.walker.Run(ctx, runID))

	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCanceled, run.Status)
}

func TestWalker_Foreach(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlForeach, Foreach: &model.ForeachControl{
				ListVar: "items", ItemVar: "item", SubflowID: "body",
			}},
		}, nil
	})
	h.register(t, "accumulate", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		sum, _ := vars["sum"].(float64)
		item, _ := vars["item"].(float64)
		return model.NodeResult{
			Status:    model.NodeSucceeded,
			VarsPatch: []model.VarOp{{Op: model.VarOpSet, Name: "sum", Value: sum + item}},
			Next:      &model.Next{Kind: model.NextEnd},
		}, nil
	})

	flow := model.Flow{
		ID: "foreach-flow", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"body": {
				EntryNodeID: "acc",
				Nodes:       map[string]model.Node{"acc": {ID: "acc", Kind: "accumulate"}},
			},
		},
	}
	runID := h.createRun(t, ctx, flow)
	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	run.Vars = model.Vars{"items": []any{1.0, 2.0, 3.0}, "sum": 0.0}
	_, err = h.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: run.Vars})
	require.NoError(t, err)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, 6.0, got.Vars["sum"])
}

func TestWalker_ForeachRejectsNonArrayListVar(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlForeach, Foreach: &model.ForeachControl{
				ListVar: "items", ItemVar: "item", SubflowID: "body",
			}},
		}, nil
	})
	h.register(t, "accumulate", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{Status: model.NodeSucceeded, Next: &model.Next{Kind: model.NextEnd}}, nil
	})

	flow := model.Flow{
		ID: "foreach-bad-list", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"body": {EntryNodeID: "acc", Nodes: map[string]model.Node{"acc": {ID: "acc", Kind: "accumulate"}}},
		},
	}
	runID := h.createRun(t, ctx, flow)
	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	run.Vars = model.Vars{"items": "not-a-list"}
	_, err = h.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: run.Vars})
	require.NoError(t, err)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, model.CodeValidationError, got.Error.Code)
}

func TestWalker_ForeachSetsItemAndIndexVars(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	var seenIndexes []float64
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlForeach, Foreach: &model.ForeachControl{
				ListVar: "items", ItemVar: "item", SubflowID: "body",
			}},
		}, nil
	})
	h.register(t, "accumulate", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		if idx, ok := vars["item_index"].(int); ok {
			seenIndexes = append(seenIndexes, float64(idx))
		}
		return model.NodeResult{Status: model.NodeSucceeded, Next: &model.Next{Kind: model.NextEnd}}, nil
	})

	flow := model.Flow{
		ID: "foreach-index", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"body": {EntryNodeID: "acc", Nodes: map[string]model.Node{"acc": {ID: "acc", Kind: "accumulate"}}},
		},
	}
	runID := h.createRun(t, ctx, flow)
	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	run.Vars = model.Vars{"items": []any{"a", "b", "c"}}
	_, err = h.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: run.Vars})
	require.NoError(t, err)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, "c", got.Vars["item"])
	assert.Equal(t, []float64{0, 1, 2}, seenIndexes)
}

func TestWalker_ForeachRejectsUnsupportedConcurrency(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	conc := 2
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlForeach, Foreach: &model.ForeachControl{
				ListVar: "items", ItemVar: "item", SubflowID: "body", Concurrency: &conc,
			}},
		}, nil
	})
	h.register(t, "accumulate", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{Status: model.NodeSucceeded, Next: &model.Next{Kind: model.NextEnd}}, nil
	})

	flow := model.Flow{
		ID: "foreach-concurrency", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"body": {EntryNodeID: "acc", Nodes: map[string]model.Node{"acc": {ID: "acc", Kind: "accumulate"}}},
		},
	}
	runID := h.createRun(t, ctx, flow)
	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	run.Vars = model.Vars{"items": []any{1.0, 2.0}}
	_, err = h.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: run.Vars})
	require.NoError(t, err)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, model.CodeValidationError, got.Error.Code)
}

func TestWalker_ForeachEmitsControlEventsWithRequiredPayload(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlForeach, Foreach: &model.ForeachControl{
				ListVar: "items", ItemVar: "item", SubflowID: "body",
			}},
		}, nil
	})
	h.register(t, "accumulate", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{Status: model.NodeSucceeded, Next: &model.Next{Kind: model.NextEnd}}, nil
	})

	flow := model.Flow{
		ID: "foreach-events", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"body": {EntryNodeID: "acc", Nodes: map[string]model.Node{"acc": {ID: "acc", Kind: "accumulate"}}},
		},
	}
	runID := h.createRun(t, ctx, flow)
	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	run.Vars = model.Vars{"items": []any{1.0, 2.0, 3.0}}
	_, err = h.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: run.Vars})
	require.NoError(t, err)

	require.NoError(t, h.walker.Run(ctx, runID))

	events, err := h.bus.List(ctx, runID)
	require.NoError(t, err)

	var started, done *emit.Event
	var iterCount int
	for i := range events {
		switch events[i].Kind {
		case emit.KindControlStarted:
			started = &events[i]
		case emit.KindControlDone:
			done = &events[i]
		case emit.KindControlIter:
			iterCount++
			assert.Equal(t, 3.0, numericValue(t, events[i].Data["totalIterations"]))
		}
	}
	require.NotNil(t, started)
	require.NotNil(t, done)
	assert.Equal(t, "body", started.Data["subflowId"])
	assert.Equal(t, 3.0, numericValue(t, started.Data["totalIterations"]))
	assert.Equal(t, "body", done.Data["subflowId"])
	assert.Equal(t, 3.0, numericValue(t, done.Data["totalIterations"]))
	assert.Contains(t, done.Data, "tookMs")
	assert.Equal(t, 3, iterCount)
}

func numericValue(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		t.Fatalf("expected numeric value, got %T", v)
		return 0
	}
}

func TestWalker_WhileHittingIterationCapLogsAndExitsNormally(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.walker.cfg.DefaultWhileMaxIterations = 3
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlWhile, While: &model.WhileControl{
				SubflowID: "body",
				Condition: model.Condition{Kind: model.ConditionTruthy, Operand: &model.Operand{Value: true}},
			}},
		}, nil
	})
	h.register(t, "noop", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{Status: model.NodeSucceeded, Next: &model.Next{Kind: model.NextEnd}}, nil
	})

	flow := model.Flow{
		ID: "while-cap", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"body": {EntryNodeID: "n", Nodes: map[string]model.Node{"n": {ID: "n", Kind: "noop"}}},
		},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status, "reaching the iteration cap must not fail the run")

	events, err := h.bus.List(ctx, runID)
	require.NoError(t, err)
	var sawWarnLog bool
	for _, e := range events {
		if e.Kind == emit.KindLog && e.Data["level"] == "warn" {
			sawWarnLog = true
		}
	}
	assert.True(t, sawWarnLog, "exiting on the iteration cap must emit a warn-level log event")
}

func TestWalker_ExecuteFlowDetectsCycle(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "recurse", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlExecuteFlow, ExecuteFlow: &model.ExecuteFlowControl{
				FlowID: "cyclic",
			}},
		}, nil
	})

	flow := model.Flow{
		ID: "cyclic", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "recurse"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, model.CodeFlowCycle, got.Error.Code)
}

func TestWalker_ExecuteFlowNonInlineIsolatesVars(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "call-child", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		inline := false
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlExecuteFlow, ExecuteFlow: &model.ExecuteFlowControl{
				FlowID: "child", Inline: &inline, Args: model.Vars{"x": 1.0},
			}},
			Next: &model.Next{Kind: model.NextEnd},
		}, nil
	})
	h.register(t, "mutate", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		x, _ := vars["x"].(float64)
		return model.NodeResult{
			Status:    model.NodeSucceeded,
			VarsPatch: []model.VarOp{{Op: model.VarOpSet, Name: "x", Value: x + 1}, {Op: model.VarOpSet, Name: "childOnly", Value: true}},
			Next:      &model.Next{Kind: model.NextEnd},
		}, nil
	})

	child := model.Flow{
		ID: "child", EntryNodeID: "m",
		Nodes: map[string]model.Node{"m": {ID: "m", Kind: "mutate"}},
	}
	require.NoError(t, h.port.Flows().Save(ctx, child))

	parent := model.Flow{
		ID: "parent-isolating", EntryNodeID: "call",
		Nodes: map[string]model.Node{"call": {ID: "call", Kind: "call-child"}},
	}
	runID := h.createRun(t, ctx, parent)
	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	run.Vars = model.Vars{"x": 5.0}
	_, err = h.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: run.Vars})
	require.NoError(t, err)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, 5.0, got.Vars["x"], "parent vars must be untouched by the non-inline child's mutation")
	_, hasChildOnly := got.Vars["childOnly"]
	assert.False(t, hasChildOnly, "the child's own var must not leak back into the parent")
}

func TestWalker_MissingPolicyFollowsOnErrorEdgeBeforeFailing(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "fail", failExecute)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "missing-policy-onerror", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "fail"},
			"b": {ID: "b", Kind: "succeed", Config: map[string]any{"set": map[string]any{"recovered": true}}},
		},
		Edges: []model.Edge{{ID: "e1", From: "a", To: "b", Label: "onError"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, true, got.Vars["recovered"])
}

func TestWalker_SchemaValidationRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	require.NoError(t, h.registry.Register(NodeDefinition{
		Kind: "schema-checked",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"name"},
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
		},
		Execute: succeedExecute,
	}))

	flow := model.Flow{
		ID: "schema-invalid", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "schema-checked", Config: map[string]any{}}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, model.CodeValidationError, got.Error.Code)
}

func TestWalker_PolicyMergeUsesPluginDefaultBetweenFlowAndNode(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	calls := 0
	require.NoError(t, h.registry.Register(NodeDefinition{
		Kind:          "flaky-with-default",
		Execute:       flakyExecute(1, &calls),
		DefaultPolicy: &model.NodePolicy{Retry: &model.RetryPolicy{Retries: 2, IntervalMs: 1}},
	}))

	flow := model.Flow{
		ID: "plugin-default-retry", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "flaky-with-default"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status, "the plugin's own default retry policy must apply when neither flow nor node sets one")
	assert.Equal(t, 2, calls)
}

func TestWalker_PauseOnStartEmitsPolicyReason(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "pause-on-start", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "succeed"}},
	}
	require.NoError(t, h.port.Flows().Save(ctx, flow))
	runID := "run-" + flow.ID
	run := model.Run{
		ID: runID, FlowID: flow.ID, Status: model.RunQueued, Vars: model.Vars{},
		Debug: model.DebugConfig{PauseOnStart: true},
	}
	require.NoError(t, h.port.Runs().Create(ctx, run))

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunPaused, got.Status)
	assert.Equal(t, "a", got.CurrentNodeID)

	events, err := h.bus.List(ctx, runID)
	require.NoError(t, err)
	var pausedEvent *emit.Event
	for i := range events {
		if events[i].Kind == emit.KindRunPaused {
			pausedEvent = &events[i]
		}
	}
	require.NotNil(t, pausedEvent)
	reason, ok := pausedEvent.Data["reason"].(*model.PauseReason)
	require.True(t, ok, "run.paused data must carry a *model.PauseReason")
	assert.Equal(t, model.PausePolicy, reason.Kind)
	assert.Equal(t, "pauseOnStart", reason.Reason)
	assert.Equal(t, "a", reason.NodeID)
}

func TestWalker_SubflowEntryValidationCatchesBadDAG(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "control", func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Control: &model.Control{Kind: model.ControlExecuteSubflow, ExecuteSubflow: &model.ExecuteSubflowControl{
				SubflowID: "broken",
			}},
		}, nil
	})

	flow := model.Flow{
		ID: "bad-subflow-entry", EntryNodeID: "loop",
		Nodes: map[string]model.Node{"loop": {ID: "loop", Kind: "control"}},
		Subflows: map[string]model.Subflow{
			"broken": {EntryNodeID: "missing", Nodes: map[string]model.Node{}},
		},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, model.CodeDAGInvalid, got.Error.Code)
}

func TestWalker_DisabledNodeIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "fail", failExecute)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "skip-disabled", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "fail", Disabled: true},
			"b": {ID: "b", Kind: "succeed", Config: map[string]any{"set": map[string]any{"reached": true}}},
		},
		Edges: []model.Edge{{ID: "e1", From: "a", To: "b", Label: "default"}},
	}
	runID := h.createRun(t, ctx, flow)

	require.NoError(t, h.walker.Run(ctx, runID))

	run, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, true, run.Vars["reached"])
}

func TestWalker_EventsRecordedInOrder(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "events-flow", EntryNodeID: "a",
		Nodes: map[string]model.Node{"a": {ID: "a", Kind: "succeed"}},
	}
	runID := h.createRun(t, ctx, flow)
	require.NoError(t, h.walker.Run(ctx, runID))

	events, err := h.bus.List(ctx, runID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, emit.KindRunStarted, events[0].Kind)
	assert.Equal(t, emit.KindRunSucceeded, events[len(events)-1].Kind)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

// TestWalker_ResumeDoesNotReplayStartOrResetBreakpoints confirms that
// re-entering Run on an already-started run (the scheduler's reclaim
// path after a pause) neither re-emits run.started nor resets whatever
// breakpoints the debugger added while the run was paused.
func TestWalker_ResumeDoesNotReplayStartOrResetBreakpoints(t *testing.T) {
	ctx := context.Background()
	h := newWalkerHarness(t)
	h.register(t, "succeed", succeedExecute)

	flow := model.Flow{
		ID: "resuming", EntryNodeID: "a",
		Nodes: map[string]model.Node{
			"a": {ID: "a", Kind: "succeed"},
			"b": {ID: "b", Kind: "succeed"},
		},
		Edges: []model.Edge{{ID: "e1", From: "a", To: "b", Label: "default"}},
	}
	require.NoError(t, h.port.Flows().Save(ctx, flow))
	runID := "run-" + flow.ID
	run := model.Run{ID: runID, FlowID: flow.ID, Status: model.RunQueued, Vars: model.Vars{}}
	require.NoError(t, h.port.Runs().Create(ctx, run))

	h.walker.RequestPause(runID)
	require.NoError(t, h.walker.Run(ctx, runID))

	got, err := h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunPaused, got.Status)

	// A debugger attaches a breakpoint on "b" while the run sits paused.
	h.walker.breakpoints.SetBreakpoint(runID, "b", true)

	// Simulate the scheduler reclaiming the resumed run and re-entering
	// the walker, without going through the queue (the walker's Run
	// contract doesn't touch it).
	require.NoError(t, h.walker.Run(ctx, runID))

	got, err = h.port.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunPaused, got.Status, "the debugger-added breakpoint on b must still suspend the run")
	assert.Equal(t, "b", got.CurrentNodeID)

	events, err := h.bus.List(ctx, runID)
	require.NoError(t, err)
	startedCount := 0
	for _, e := range events {
		if e.Kind == emit.KindRunStarted {
			startedCount++
		}
	}
	assert.Equal(t, 1, startedCount, "run.started must fire once, not on every re-entry into Run")
}
