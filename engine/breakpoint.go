package engine

import (
	"sync"

	"github.com/mhyatt000/flowcore/model"
)

// BreakpointRegistry holds the in-memory BreakpointState for every run
// currently attached to a debugger. It is deliberately not persisted:
// step mode and ad-hoc breakpoints are a live-debugging concern, and a
// run recovered after a crash resumes with a clean (empty) state rather
// than replaying whatever a disconnected debugger last set.
type BreakpointRegistry struct {
	mu    sync.Mutex
	state map[string]*model.BreakpointState
}

func NewBreakpointRegistry() *BreakpointRegistry {
	return &BreakpointRegistry{state: make(map[string]*model.BreakpointState)}
}

// Attach seeds (or resets) runID's breakpoint state from initial node
// IDs, typically DebugConfig.InitialBreakpoints at run start.
func (r *BreakpointRegistry) Attach(runID string, nodeIDs []string) *model.BreakpointState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := model.NewBreakpointState(nodeIDs)
	r.state[runID] = state
	return state
}

// Detach discards runID's breakpoint state.
func (r *BreakpointRegistry) Detach(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, runID)
}

// Get returns runID's state, creating an empty one if absent so callers
// never have to nil-check.
func (r *BreakpointRegistry) Get(runID string) *model.BreakpointState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.state[runID]
	if !ok {
		state = model.NewBreakpointState(nil)
		r.state[runID] = state
	}
	return state
}

// SetBreakpoint adds or removes a single node ID from runID's
// breakpoint set.
func (r *BreakpointRegistry) SetBreakpoint(runID, nodeID string, enabled bool) {
	state := r.Get(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		state.NodeIDs[nodeID] = true
	} else {
		delete(state.NodeIDs, nodeID)
	}
}

// SetStepMode changes whether runID also pauses for a single step
// (model.StepOver) or only at explicit breakpoints (model.StepNone).
// ShouldPause reports true for every node while StepOver is set; the
// walker's CheckPause stops once and then clears StepOver.
func (r *BreakpointRegistry) SetStepMode(runID string, mode model.StepMode) {
	state := r.Get(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	state.StepMode = mode
}

// ShouldPause reports whether the walker should pause before executing
// nodeID in runID. It is a non-consuming read used by tests and
// introspection; the walker itself suspends through CheckPause, which
// also consumes a pending step.
func (r *BreakpointRegistry) ShouldPause(runID, nodeID string) bool {
	state := r.Get(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if state.StepMode == model.StepOver {
		return true
	}
	return state.NodeIDs[nodeID]
}

// CheckPause reports whether the walker should suspend before executing
// nodeID in runID, and why. Step mode consumes the single stop it
// grants (spec.md §4.6: "step mode consumes one stop"), so a second
// consecutive node is not paused by the same step request.
func (r *BreakpointRegistry) CheckPause(runID, nodeID string) *model.PauseReason {
	state := r.Get(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if state.StepMode == model.StepOver {
		state.StepMode = model.StepNone
		return &model.PauseReason{Kind: model.PauseStep, NodeID: nodeID}
	}
	if state.NodeIDs[nodeID] {
		return &model.PauseReason{Kind: model.PauseBreakpoint, NodeID: nodeID}
	}
	return nil
}
