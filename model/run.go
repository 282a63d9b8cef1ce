package model

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run is one execution of a Flow: its status, its position in the graph,
// its Vars, and the bookkeeping the scheduler/lease machinery needs to
// hand it between workers safely.
type Run struct {
	ID            string       `json:"id"`
	FlowID        string       `json:"flowId"`
	Status        RunStatus    `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	StartedAt     *time.Time   `json:"startedAt,omitempty"`
	FinishedAt    *time.Time   `json:"finishedAt,omitempty"`
	CurrentNodeID string       `json:"currentNodeId,omitempty"`
	Vars          Vars         `json:"vars"`
	Attempt       int          `json:"attempt"`
	Debug         DebugConfig  `json:"debug"`
	NextSeq       int64        `json:"nextSeq"`
	Outputs       Vars         `json:"outputs,omitempty"`
	Error         *ErrorRecord `json:"error,omitempty"`
}

// DebugConfig seeds a run's BreakpointState at start.
type DebugConfig struct {
	InitialBreakpoints []string `json:"initialBreakpoints,omitempty"`
	PauseOnStart       bool     `json:"pauseOnStart,omitempty"`
}

// ErrorRecord is the terminal failure recorded against a Run, distinct
// from the transient NodeError carried by a single failed attempt.
type ErrorRecord struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Retryable bool           `json:"retryable"`
}

// StepMode controls how the DebugController's step command advances a
// paused run.
type StepMode string

const (
	StepNone     StepMode = "none"
	StepOver     StepMode = "over"
)

// BreakpointState is the in-memory debug state attached to a run: the set
// of node IDs that should pause execution before they start, and whether
// the run is currently in single-step mode.
type BreakpointState struct {
	NodeIDs  map[string]bool `json:"nodeIds"`
	StepMode StepMode        `json:"stepMode"`
}

// NewBreakpointState builds a BreakpointState from an initial node ID
// list (as seeded by DebugConfig.InitialBreakpoints).
func NewBreakpointState(nodeIDs []string) *BreakpointState {
	set := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		set[id] = true
	}
	return &BreakpointState{NodeIDs: set, StepMode: StepNone}
}
