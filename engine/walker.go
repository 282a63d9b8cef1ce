package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// Signal is a cooperative command delivered to a running walk. Signals
// are only observed at suspension points between node executions — a
// node's Execute call is never interrupted mid-flight.
type Signal string

const (
	SignalPause  Signal = "pause"
	SignalCancel Signal = "cancel"
)

// outcome is the terminal disposition of one executeGraph call, used by
// a control directive's caller to decide whether to continue iterating
// (foreach/while) or unwind entirely (paused/canceled/failed always
// propagate straight to the top).
type outcome string

const (
	outcomeEnd      outcome = "end"
	outcomePaused   outcome = "paused"
	outcomeCanceled outcome = "canceled"
	outcomeFailed   outcome = "failed"
)

type execResult struct {
	outcome     outcome
	err         *model.Error
	pauseReason *model.PauseReason
}

// graphContext bundles the state that does not change within a single
// executeGraph call but must thread through every control-directive
// recursion: the subflow table available to the current graph,
// the flow-level policy default for nodes that don't set their own,
// and the stack of flow IDs currently being executed (for
// executeFlow's FLOW_CYCLE detection).
type graphContext struct {
	subflows    map[string]model.Subflow
	flowDefault *model.NodePolicy
	flowStack   []string
}

// Walker is the per-run graph traversal state machine: it dispatches
// nodes through the PluginRegistry, applies retry/timeout/error-routing
// policy, interprets control directives by recursing into subflows, and
// persists its progress through the StoragePort before every node so a
// resume re-enters at the node that was about to run rather than
// replaying the whole run.
type Walker struct {
	cfg         Config
	port        store.Port
	bus         *emit.Bus
	registry    *PluginRegistry
	breakpoints *BreakpointRegistry
	logger      *logging.Logger
	metrics     *Metrics

	mu      sync.Mutex
	signals map[string]chan Signal
	flowIDs map[string]string

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewWalker(cfg Config, port store.Port, bus *emit.Bus, registry *PluginRegistry, breakpoints *BreakpointRegistry, logger *logging.Logger) *Walker {
	return &Walker{
		cfg:         cfg,
		port:        port,
		bus:         bus,
		registry:    registry,
		breakpoints: breakpoints,
		logger:      logger,
		signals:     make(map[string]chan Signal),
		flowIDs:     make(map[string]string),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (w *Walker) setFlowID(runID, flowID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flowIDs[runID] = flowID
}

func (w *Walker) flowIDFor(runID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flowIDs[runID]
}

// WithMetrics attaches Prometheus instrumentation; nil (the default) is
// a valid no-op.
func (w *Walker) WithMetrics(m *Metrics) *Walker {
	w.metrics = m
	return w
}

func (w *Walker) signalChan(runID string) chan Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.signals[runID]
	if !ok {
		ch = make(chan Signal, 1)
		w.signals[runID] = ch
	}
	return ch
}

// RequestPause asks runID to suspend at its next node boundary. A
// pending pause is dropped silently if the run finishes first.
func (w *Walker) RequestPause(runID string) {
	select {
	case w.signalChan(runID) <- SignalPause:
	default:
	}
}

// RequestCancel asks runID to stop at its next node boundary.
func (w *Walker) RequestCancel(runID string) {
	ch := w.signalChan(runID)
	select {
	case ch <- SignalCancel:
	default:
		// a pause may already be queued; cancel takes priority.
		select {
		case <-ch:
		default:
		}
		ch <- SignalCancel
	}
}

func (w *Walker) pollSignal(runID string) Signal {
	ch := w.signalChan(runID)
	select {
	case s := <-ch:
		return s
	default:
		return ""
	}
}

func (w *Walker) clearSignals(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.signals, runID)
	delete(w.flowIDs, runID)
}

// Run executes runID from its current position (flow.EntryNodeID on a
// fresh run, or Run.CurrentNodeID on resume) until it succeeds, fails,
// pauses, or is canceled.
func (w *Walker) Run(ctx context.Context, runID string) error {
	run, err := w.port.Runs().Get(ctx, runID)
	if err != nil {
		return err
	}
	flow, err := w.port.Flows().Get(ctx, run.FlowID)
	if err != nil {
		return err
	}

	w.setFlowID(runID, flow.ID)
	if run.CurrentNodeID == "" {
		run.CurrentNodeID = flow.EntryNodeID
	}
	if run.Vars == nil {
		run.Vars = model.Vars{}
	}
	started := run.StartedAt == nil
	if started {
		// Seed from the run's declared initial breakpoints only on a
		// fresh start; a resumed run keeps whatever this process's
		// BreakpointRegistry already holds for it (debugger-added
		// breakpoints set while it was paused included) rather than
		// resetting to the original set on every claim.
		w.breakpoints.Attach(runID, run.Debug.InitialBreakpoints)
	}

	if started {
		w.emit(ctx, runID, emit.KindRunStarted, "", nil)
	}
	if _, err := w.port.Runs().Patch(ctx, runID, store.RunPatch{
		Status:    statusPtr(model.RunRunning),
		StartedAt: boolPtr(started),
	}); err != nil {
		return err
	}

	var flowDefault *model.NodePolicy
	if flow.Policy != nil {
		flowDefault = flow.Policy.DefaultNodePolicy
	}

	// pauseOnStart is only honored the first time a run actually begins:
	// it forces a suspension at the entry node before that node's
	// node.queued/node.started events fire, the way any other
	// suspension point precedes execution rather than following it.
	var forcedPause *model.PauseReason
	if started && run.Debug.PauseOnStart {
		forcedPause = &model.PauseReason{Kind: model.PausePolicy, NodeID: run.CurrentNodeID, Reason: "pauseOnStart"}
	}

	gctx := graphContext{subflows: flow.Subflows, flowDefault: flowDefault, flowStack: []string{flow.ID}}

	vars := run.Vars
	result := w.executeGraph(ctx, runID, &vars, flow.Nodes, flow.Edges, gctx, run.CurrentNodeID, 0, forcedPause)

	switch result.outcome {
	case outcomePaused:
		pauseNodeID := ""
		data := map[string]any{}
		if result.pauseReason != nil {
			pauseNodeID = result.pauseReason.NodeID
			data["reason"] = result.pauseReason
		}
		w.emit(ctx, runID, emit.KindRunPaused, pauseNodeID, data)
		_, err := w.port.Runs().Patch(ctx, runID, store.RunPatch{Status: statusPtr(model.RunPaused), Vars: vars})
		return err
	case outcomeCanceled:
		w.emit(ctx, runID, emit.KindRunCanceled, "", nil)
		_, err := w.port.Runs().Patch(ctx, runID, store.RunPatch{Status: statusPtr(model.RunCanceled), Vars: vars, FinishedAt: boolPtr(true)})
		if w.metrics != nil {
			w.metrics.IncRunCompleted(flow.ID, string(model.RunCanceled))
		}
		w.clearSignals(runID)
		return err
	case outcomeFailed:
		w.emit(ctx, runID, emit.KindRunFailed, "", map[string]any{"code": string(result.err.Code), "message": result.err.Message})
		_, err := w.port.Runs().Patch(ctx, runID, store.RunPatch{
			Status: statusPtr(model.RunFailed), Vars: vars, FinishedAt: boolPtr(true),
			Error: &model.ErrorRecord{Code: result.err.Code, Message: result.err.Message, Data: result.err.Data, Retryable: result.err.Retryable},
		})
		if w.metrics != nil {
			w.metrics.IncRunCompleted(flow.ID, string(model.RunFailed))
		}
		w.clearSignals(runID)
		return err
	default: // outcomeEnd
		w.emit(ctx, runID, emit.KindRunSucceeded, "", nil)
		_, err := w.port.Runs().Patch(ctx, runID, store.RunPatch{Status: statusPtr(model.RunSucceeded), Vars: vars, Outputs: vars, FinishedAt: boolPtr(true)})
		if w.metrics != nil {
			w.metrics.IncRunCompleted(flow.ID, string(model.RunSucceeded))
		}
		w.clearSignals(runID)
		return err
	}
}

// executeGraph walks nodes/edges starting at entryID, mutating *vars in
// place. depth counts nested control recursion for
// Config.MaxControlStackDepth. forcedPause, when non-nil, suspends the
// walk before the entry node's first suspension check is even reached —
// used once by Run for debug.pauseOnStart — and is cleared after that
// first iteration so it never affects any later node.
func (w *Walker) executeGraph(ctx context.Context, runID string, vars *model.Vars, nodes map[string]model.Node, edges []model.Edge, gctx graphContext, entryID string, depth int, forcedPause *model.PauseReason) execResult {
	if depth > w.cfg.MaxControlStackDepth {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeControlStackOverflow, "control stack depth exceeded")}
	}

	currentID := entryID
	for currentID != "" {
		// Persist progress before any suspension check: a pause, cancel, or
		// breakpoint hit must leave CurrentNodeID pointing at this node, so a
		// later resume re-enters here instead of replaying whatever came
		// before it.
		if _, err := w.port.Runs().Patch(ctx, runID, store.RunPatch{CurrentNodeID: strPtr(currentID), Vars: *vars}); err != nil {
			return execResult{outcome: outcomeFailed, err: model.Wrap(model.CodeInternal, "persist progress", err)}
		}

		if forcedPause != nil {
			reason := forcedPause
			forcedPause = nil
			return execResult{outcome: outcomePaused, pauseReason: reason}
		}

		switch w.pollSignal(runID) {
		case SignalPause:
			return execResult{outcome: outcomePaused, pauseReason: &model.PauseReason{Kind: model.PauseCommand}}
		case SignalCancel:
			return execResult{outcome: outcomeCanceled}
		}

		node, ok := nodes[currentID]
		if !ok {
			return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeDAGInvalid, fmt.Sprintf("node %q not found", currentID))}
		}

		if node.Disabled {
			w.emit(ctx, runID, emit.KindNodeSkipped, currentID, map[string]any{"reason": "disabled"})
			next, found := defaultEdge(edges, currentID)
			if !found {
				return execResult{outcome: outcomeEnd}
			}
			currentID = next
			continue
		}

		if reason := w.breakpoints.CheckPause(runID, currentID); reason != nil {
			return execResult{outcome: outcomePaused, pauseReason: reason}
		}

		w.emit(ctx, runID, emit.KindNodeQueued, currentID, nil)
		w.emit(ctx, runID, emit.KindNodeStarted, currentID, nil)

		def, err := w.registry.Lookup(node.Kind)
		if err != nil {
			return execResult{outcome: outcomeFailed, err: err.(*model.Error)}
		}
		if err := ValidateNodeConfig(def.Schema, node.Config); err != nil {
			return execResult{outcome: outcomeFailed, err: err.(*model.Error)}
		}
		policy := MergeNodePolicy(gctx.flowDefault, def.DefaultPolicy, node.Policy, w.cfg)

		result, nodeErr := w.dispatchNode(ctx, runID, node, def, policy, *vars)
		if nodeErr != nil {
			next, handled := w.handleNodeError(ctx, runID, node, edges, policy, nodeErr)
			if !handled {
				return execResult{outcome: outcomeFailed, err: &model.Error{Code: model.Code(nodeErr.Code), Message: nodeErr.Message, Data: nodeErr.Data, Retryable: nodeErr.Retryable}}
			}
			currentID = next
			continue
		}

		model.Apply(*vars, result.VarsPatch)
		if len(result.VarsPatch) > 0 {
			w.emit(ctx, runID, emit.KindVarsPatch, currentID, map[string]any{"ops": result.VarsPatch})
		}
		w.emit(ctx, runID, emit.KindNodeSucceeded, currentID, map[string]any{"outputs": result.Outputs})

		if result.Control != nil {
			ctrlResult := w.runControl(ctx, runID, vars, gctx, currentID, *result.Control, depth)
			if ctrlResult.outcome != outcomeEnd {
				return ctrlResult
			}
		}

		next, end := w.route(edges, currentID, result.Next)
		if end {
			return execResult{outcome: outcomeEnd}
		}
		currentID = next
	}
	return execResult{outcome: outcomeEnd}
}

// runControl interprets a node's Control directive, dispatching to the
// handler for its kind. Each handler owns its own control.started/
// control.completed emission, since the event payload (subflowId vs
// flowId, totalIterations, tookMs) differs per kind.
func (w *Walker) runControl(ctx context.Context, runID string, vars *model.Vars, gctx graphContext, nodeID string, ctrl model.Control, depth int) execResult {
	switch ctrl.Kind {
	case model.ControlForeach:
		return w.runForeach(ctx, runID, vars, gctx, nodeID, ctrl.Foreach, depth)
	case model.ControlWhile:
		return w.runWhile(ctx, runID, vars, gctx, nodeID, ctrl.While, depth)
	case model.ControlExecuteSubflow:
		return w.runExecuteSubflow(ctx, runID, vars, gctx, nodeID, ctrl.ExecuteSubflow, depth)
	case model.ControlExecuteFlow:
		return w.runExecuteFlow(ctx, runID, vars, gctx, nodeID, ctrl.ExecuteFlow, depth)
	default:
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, fmt.Sprintf("unknown control kind %q", ctrl.Kind))}
	}
}

// subflowContext derives the graphContext a subflow body runs under:
// subflows do not themselves declare nested subflows, so the table is
// cleared, while the flow-level policy default and the flow call stack
// (for FLOW_CYCLE detection inside the subflow) carry through unchanged.
func subflowContext(gctx graphContext) graphContext {
	return graphContext{subflows: nil, flowDefault: gctx.flowDefault, flowStack: gctx.flowStack}
}

func (w *Walker) runForeach(ctx context.Context, runID string, vars *model.Vars, gctx graphContext, nodeID string, fe *model.ForeachControl, depth int) execResult {
	if fe == nil {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, "foreach control missing configuration")}
	}
	if fe.Concurrency != nil && *fe.Concurrency != 1 {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, fmt.Sprintf("foreach concurrency %d is not supported; only omitted or 1 (sequential) is allowed", *fe.Concurrency))}
	}
	sub, ok := gctx.subflows[fe.SubflowID]
	if !ok {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeFlowNotFound, fmt.Sprintf("subflow %q not found", fe.SubflowID))}
	}
	if err := validateSubflow(fe.SubflowID, sub); err != nil {
		return execResult{outcome: outcomeFailed, err: err.(*model.Error)}
	}
	listVal, ok := (*vars)[fe.ListVar].([]any)
	if !ok {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, fmt.Sprintf("foreach listVar %q is not an array", fe.ListVar))}
	}

	start := time.Now()
	total := len(listVal)
	w.emit(ctx, runID, emit.KindControlStarted, nodeID, map[string]any{"kind": model.ControlForeach, "subflowId": fe.SubflowID, "totalIterations": total})

	subGctx := subflowContext(gctx)
	for i, item := range listVal {
		(*vars)[fe.ItemVar] = item
		(*vars)[fe.ItemVar+"_index"] = i
		w.emit(ctx, runID, emit.KindControlIter, nodeID, map[string]any{"iteration": i, "totalIterations": total})
		result := w.executeGraph(ctx, runID, vars, sub.Nodes, sub.Edges, subGctx, sub.EntryNodeID, depth+1, nil)
		if result.outcome != outcomeEnd {
			return result
		}
	}
	w.emit(ctx, runID, emit.KindControlDone, nodeID, map[string]any{"kind": model.ControlForeach, "subflowId": fe.SubflowID, "totalIterations": total, "tookMs": float64(time.Since(start).Milliseconds())})
	return execResult{outcome: outcomeEnd}
}

func (w *Walker) runWhile(ctx context.Context, runID string, vars *model.Vars, gctx graphContext, nodeID string, wh *model.WhileControl, depth int) execResult {
	if wh == nil {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, "while control missing configuration")}
	}
	sub, ok := gctx.subflows[wh.SubflowID]
	if !ok {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeFlowNotFound, fmt.Sprintf("subflow %q not found", wh.SubflowID))}
	}
	if err := validateSubflow(wh.SubflowID, sub); err != nil {
		return execResult{outcome: outcomeFailed, err: err.(*model.Error)}
	}
	maxIterations := wh.MaxIterations
	if maxIterations <= 0 {
		maxIterations = w.cfg.DefaultWhileMaxIterations
	}

	start := time.Now()
	w.emit(ctx, runID, emit.KindControlStarted, nodeID, map[string]any{"kind": model.ControlWhile, "subflowId": wh.SubflowID})

	subGctx := subflowContext(gctx)
	i := 0
	for ; i < maxIterations; i++ {
		if !Evaluate(wh.Condition, *vars) {
			break
		}
		w.emit(ctx, runID, emit.KindControlIter, nodeID, map[string]any{"iteration": i})
		result := w.executeGraph(ctx, runID, vars, sub.Nodes, sub.Edges, subGctx, sub.EntryNodeID, depth+1, nil)
		if result.outcome != outcomeEnd {
			return result
		}
	}
	if i >= maxIterations {
		// Reaching the cap is not itself a failure: the loop simply stops,
		// the way spec.md §4.6 describes it, with a record of why in the
		// event log rather than a terminal error.
		w.emit(ctx, runID, emit.KindLog, nodeID, map[string]any{"level": "warn", "message": "while loop reached maxIterations", "maxIterations": maxIterations})
		w.logger.WithFields(map[string]any{"run_id": runID, "node_id": nodeID, "maxIterations": maxIterations}).Warn("while loop reached maxIterations")
	}
	w.emit(ctx, runID, emit.KindControlDone, nodeID, map[string]any{"kind": model.ControlWhile, "subflowId": wh.SubflowID, "totalIterations": i, "tookMs": float64(time.Since(start).Milliseconds())})
	return execResult{outcome: outcomeEnd}
}

func (w *Walker) runExecuteSubflow(ctx context.Context, runID string, vars *model.Vars, gctx graphContext, nodeID string, es *model.ExecuteSubflowControl, depth int) execResult {
	if es == nil {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, "executeSubflow control missing configuration")}
	}
	sub, ok := gctx.subflows[es.SubflowID]
	if !ok {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeFlowNotFound, fmt.Sprintf("subflow %q not found", es.SubflowID))}
	}
	if err := validateSubflow(es.SubflowID, sub); err != nil {
		return execResult{outcome: outcomeFailed, err: err.(*model.Error)}
	}

	start := time.Now()
	w.emit(ctx, runID, emit.KindControlStarted, nodeID, map[string]any{"kind": model.ControlExecuteSubflow, "subflowId": es.SubflowID})
	result := w.executeGraph(ctx, runID, vars, sub.Nodes, sub.Edges, subflowContext(gctx), sub.EntryNodeID, depth+1, nil)
	if result.outcome != outcomeEnd {
		return result
	}
	w.emit(ctx, runID, emit.KindControlDone, nodeID, map[string]any{"kind": model.ControlExecuteSubflow, "subflowId": es.SubflowID, "tookMs": float64(time.Since(start).Milliseconds())})
	return execResult{outcome: outcomeEnd}
}

// runExecuteFlow runs a different Flow by ID, inline (sharing the
// parent's Vars) or, when Inline is explicitly false, synchronously
// against a deep clone of Vars that is simply never written back to the
// parent — restoration on every exit path, including failure and
// cancellation, falls out of never sharing the pointer rather than
// needing an explicit undo. ef.FlowID is checked against gctx.flowStack
// first so a cycle of flows calling each other fails fast with
// FLOW_CYCLE instead of recursing until the control-stack cap trips.
func (w *Walker) runExecuteFlow(ctx context.Context, runID string, vars *model.Vars, gctx graphContext, nodeID string, ef *model.ExecuteFlowControl, depth int) execResult {
	if ef == nil {
		return execResult{outcome: outcomeFailed, err: model.NewError(model.CodeValidationError, "executeFlow control missing configuration")}
	}
	for _, id := range gctx.flowStack {
		if id == ef.FlowID {
			path := append(append([]string{}, gctx.flowStack...), ef.FlowID)
			return execResult{outcome: outcomeFailed, err: &model.Error{
				Code:    model.CodeFlowCycle,
				Message: fmt.Sprintf("flow %q is already active on the call stack", ef.FlowID),
				Data:    map[string]any{"flowId": ef.FlowID, "path": path},
			}}
		}
	}

	child, err := w.port.Flows().Get(ctx, ef.FlowID)
	if err != nil {
		return execResult{outcome: outcomeFailed, err: model.Wrap(model.CodeFlowNotFound, fmt.Sprintf("flow %q", ef.FlowID), err)}
	}
	if err := ValidateFlow(child, nil); err != nil {
		return execResult{outcome: outcomeFailed, err: err.(*model.Error)}
	}

	var childDefault *model.NodePolicy
	if child.Policy != nil {
		childDefault = child.Policy.DefaultNodePolicy
	}
	childGctx := graphContext{
		subflows:    child.Subflows,
		flowDefault: childDefault,
		flowStack:   append(append([]string{}, gctx.flowStack...), ef.FlowID),
	}

	inline := ef.Inline == nil || *ef.Inline
	start := time.Now()
	w.emit(ctx, runID, emit.KindControlStarted, nodeID, map[string]any{"kind": model.ControlExecuteFlow, "flowId": ef.FlowID, "inline": inline})

	working := vars
	if !inline {
		clone := (*vars).Clone()
		working = &clone
	}
	mergeMissing(working, child.VarDefaults)
	mergeOverride(working, ef.Args)

	result := w.executeGraph(ctx, runID, working, child.Nodes, child.Edges, childGctx, child.EntryNodeID, depth+1, nil)
	if result.outcome != outcomeEnd {
		return result
	}
	w.emit(ctx, runID, emit.KindControlDone, nodeID, map[string]any{"kind": model.ControlExecuteFlow, "flowId": ef.FlowID, "tookMs": float64(time.Since(start).Milliseconds())})
	return execResult{outcome: outcomeEnd}
}

// mergeMissing fills any key present in src but absent from *dst,
// initializing *dst if nil.
func mergeMissing(dst *model.Vars, src model.Vars) {
	if *dst == nil {
		*dst = model.Vars{}
	}
	for k, v := range src {
		if _, exists := (*dst)[k]; !exists {
			(*dst)[k] = v
		}
	}
}

// mergeOverride writes every key of src into *dst unconditionally,
// initializing *dst if nil.
func mergeOverride(dst *model.Vars, src model.Vars) {
	if *dst == nil {
		*dst = model.Vars{}
	}
	for k, v := range src {
		(*dst)[k] = v
	}
}

// route resolves a node's successful Next into the following node ID.
func (w *Walker) route(edges []model.Edge, fromID string, next *model.Next) (string, bool) {
	if next == nil || next.Kind == model.NextDefault {
		id, ok := defaultEdge(edges, fromID)
		return id, !ok
	}
	if next.Kind == model.NextEnd {
		return "", true
	}
	for _, e := range edges {
		if e.From == fromID && e.Label == next.Label {
			return e.To, false
		}
	}
	return "", true
}

func defaultEdge(edges []model.Edge, fromID string) (string, bool) {
	for _, e := range edges {
		if e.From == fromID && (e.Label == "" || e.Label == "default") {
			return e.To, true
		}
	}
	for _, e := range edges {
		if e.From == fromID {
			return e.To, true
		}
	}
	return "", false
}

func edgeByLabel(edges []model.Edge, fromID, label string) (string, bool) {
	for _, e := range edges {
		if e.From == fromID && e.Label == label {
			return e.To, true
		}
	}
	return "", false
}

// handleNodeError applies a node's OnErrorPolicy once its retries (if
// any) are exhausted. It returns the next node ID and true if the run
// should continue; false means the run must fail. A node with no
// policy at all (policy.OnError == nil, spec.md §4.6's "Missing
// policy") still gets one chance to route around the failure: if it has
// an outgoing edge labeled "onError", that edge is followed before the
// run is failed. A policy that is present but sets no Mode behaves like
// OnErrorStop, per the explicit default on OnErrorPolicy.Mode.
func (w *Walker) handleNodeError(ctx context.Context, runID string, node model.Node, edges []model.Edge, policy model.NodePolicy, nodeErr *model.NodeError) (string, bool) {
	w.emit(ctx, runID, emit.KindNodeFailed, node.ID, map[string]any{"code": nodeErr.Code, "message": nodeErr.Message})

	if policy.OnError == nil {
		if next, found := edgeByLabel(edges, node.ID, "onError"); found {
			return next, true
		}
		return "", false
	}
	if policy.OnError.Mode == "" || policy.OnError.Mode == model.OnErrorStop {
		return "", false
	}
	switch policy.OnError.Mode {
	case model.OnErrorContinue:
		next, found := defaultEdge(edges, node.ID)
		if !found {
			return "", true
		}
		return next, true
	case model.OnErrorGoto:
		target := policy.OnError.Target
		if target == nil {
			return "", false
		}
		if target.Kind == model.ErrorTargetNode {
			return target.NodeID, true
		}
		return edgeByLabel(edges, node.ID, target.Label)
	default:
		return "", false
	}
}

// dispatchNode runs def.Execute, applying timeout and retry per policy.
func (w *Walker) dispatchNode(ctx context.Context, runID string, node model.Node, def NodeDefinition, policy model.NodePolicy, vars model.Vars) (model.NodeResult, *model.NodeError) {
	attempt := 0
	for {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout := NodeTimeout(policy); timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		start := time.Now()
		result, err := def.Execute(attemptCtx, node, vars)
		elapsedMs := float64(time.Since(start).Milliseconds())
		if cancel != nil {
			cancel()
		}

		var nodeErr *model.NodeError
		switch {
		case attemptCtx.Err() == context.DeadlineExceeded:
			nodeErr = &model.NodeError{Code: string(model.CodeTimeout), Message: "node execution timed out", Retryable: true}
		case err != nil:
			nodeErr = &model.NodeError{Code: string(model.CodeInternal), Message: err.Error(), Retryable: false, Cause: err}
		case result.Status == model.NodeFailed:
			nodeErr = result.Error
			if nodeErr == nil {
				nodeErr = &model.NodeError{Code: string(model.CodeInternal), Message: "node reported failure without an error"}
			}
		}

		flowID := w.flowIDFor(runID)
		if w.metrics != nil {
			status := "succeeded"
			if nodeErr != nil {
				status = "failed"
			}
			w.metrics.ObserveNodeLatency(flowID, node.Kind, status, elapsedMs)
		}

		if nodeErr == nil {
			return result, nil
		}

		if w.metrics != nil {
			w.metrics.IncNodeFailure(flowID, node.Kind, nodeErr.Code)
		}

		retryPolicy := policy.Retry
		if ShouldRetry(*retryPolicy, attempt, nodeErr) {
			if w.metrics != nil {
				w.metrics.IncRetry(flowID, node.Kind)
			}
			w.emit(ctx, runID, emit.KindNodeFailed, node.ID, map[string]any{"attempt": attempt, "retrying": true, "code": nodeErr.Code})
			w.sleepBackoff(ctx, ComputeBackoff(*retryPolicy, attempt, w.nextRand()))
			attempt++
			continue
		}
		return result, nodeErr
	}
}

func (w *Walker) nextRand() *rand.Rand {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return rand.New(rand.NewSource(w.rng.Int63()))
}

func (w *Walker) sleepBackoff(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Walker) emit(ctx context.Context, runID string, kind emit.Kind, nodeID string, data map[string]any) {
	_, err := w.bus.Append(ctx, emit.EventInput{RunID: runID, Kind: kind, NodeID: nodeID, Data: data})
	if err != nil {
		w.logger.WithFields(map[string]any{"run_id": runID, "kind": kind}).Warn("failed to append event")
	}
}

func statusPtr(s model.RunStatus) *model.RunStatus { return &s }
func strPtr(s string) *string                      { return &s }
func boolPtr(b bool) *bool                          { return &b }
