package engine

import (
	"context"

	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// DebugController exposes the operations a debugger UI drives: attach
// to a run, toggle breakpoints, inspect variables, and single-step or
// continue a paused run. It sits above BreakpointRegistry and the
// RunQueue rather than duplicating their state.
type DebugController struct {
	breakpoints *BreakpointRegistry
	port        store.Port
	controller  *Controller
}

func NewDebugController(breakpoints *BreakpointRegistry, port store.Port, controller *Controller) *DebugController {
	return &DebugController{breakpoints: breakpoints, port: port, controller: controller}
}

// Attach begins debugging runID with the given initial breakpoint set.
func (d *DebugController) Attach(runID string, nodeIDs []string) {
	d.breakpoints.Attach(runID, nodeIDs)
}

// Detach stops debugging runID; any breakpoints it had are discarded
// but do not affect the run's ordinary execution policy.
func (d *DebugController) Detach(runID string) {
	d.breakpoints.Detach(runID)
}

// SetBreakpoint adds or removes a breakpoint at nodeID for runID.
func (d *DebugController) SetBreakpoint(runID, nodeID string, enabled bool) {
	d.breakpoints.SetBreakpoint(runID, nodeID, enabled)
}

// Step resumes a paused run in single-step mode: it will pause again
// before the very next node.
func (d *DebugController) Step(ctx context.Context, runID string) error {
	d.breakpoints.SetStepMode(runID, model.StepOver)
	return d.controller.Resume(ctx, runID)
}

// Continue resumes a paused run in ordinary (breakpoints-only) mode.
func (d *DebugController) Continue(ctx context.Context, runID string) error {
	d.breakpoints.SetStepMode(runID, model.StepNone)
	return d.controller.Resume(ctx, runID)
}

// Inspect returns the run's current Vars snapshot.
func (d *DebugController) Inspect(ctx context.Context, runID string) (model.Vars, error) {
	run, err := d.port.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Vars, nil
}

// GetState returns runID's current breakpoint set and step mode.
func (d *DebugController) GetState(runID string) *model.BreakpointState {
	return d.breakpoints.Get(runID)
}

// SetBreakpoints replaces runID's entire breakpoint set with nodeIDs.
func (d *DebugController) SetBreakpoints(runID string, nodeIDs []string) {
	d.breakpoints.Attach(runID, nodeIDs)
}

// AddBreakpoint enables a single breakpoint at nodeID.
func (d *DebugController) AddBreakpoint(runID, nodeID string) {
	d.breakpoints.SetBreakpoint(runID, nodeID, true)
}

// RemoveBreakpoint disables a single breakpoint at nodeID.
func (d *DebugController) RemoveBreakpoint(runID, nodeID string) {
	d.breakpoints.SetBreakpoint(runID, nodeID, false)
}

// GetVar returns one top-level entry of runID's current Vars.
func (d *DebugController) GetVar(ctx context.Context, runID, name string) (any, error) {
	run, err := d.port.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Vars[name], nil
}

// SetVar writes one top-level entry of runID's Vars directly through the
// storage port, bypassing the walker — only safe while the run is
// suspended (paused or between claims), per spec.md §5's suspension-point
// access rule.
func (d *DebugController) SetVar(ctx context.Context, runID, name string, value any) error {
	run, err := d.port.Runs().Get(ctx, runID)
	if err != nil {
		return err
	}
	vars := run.Vars.Clone()
	if vars == nil {
		vars = model.Vars{}
	}
	vars[name] = value
	_, err = d.port.Runs().Patch(ctx, runID, store.RunPatch{Vars: vars})
	return err
}
