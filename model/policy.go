package model

// NodePolicy groups the three cross-cutting behaviors every node can
// customize: how long it may run, how it is retried, and what happens
// when it ultimately errors. A nil field means "inherit the plugin
// default, then the flow default, then the engine default" — see
// MergeNodePolicy.
type NodePolicy struct {
	Timeout *TimeoutPolicy `json:"timeout,omitempty"`
	Retry   *RetryPolicy   `json:"retry,omitempty"`
	OnError *OnErrorPolicy `json:"onError,omitempty"`
}

// TimeoutScope selects what a TimeoutPolicy bounds.
type TimeoutScope string

const (
	TimeoutScopeAttempt TimeoutScope = "attempt"
	TimeoutScopeRun     TimeoutScope = "run"
)

// TimeoutPolicy bounds a single node execution. Ms <= 0 means unlimited.
type TimeoutPolicy struct {
	Ms    int64        `json:"ms"`
	Scope TimeoutScope `json:"scope,omitempty"`
}

// BackoffKind selects how RetryPolicy spaces successive attempts.
type BackoffKind string

const (
	BackoffNone   BackoffKind = "none"
	BackoffLinear BackoffKind = "linear"
	BackoffExp    BackoffKind = "exponential"
)

// JitterKind selects how much randomness is added to a computed backoff
// delay.
type JitterKind string

const (
	JitterNone JitterKind = "none"
	JitterFull JitterKind = "full"
)

// RetryPolicy governs how many times, and how slowly, a failed node is
// re-attempted before the engine treats it as a terminal failure.
type RetryPolicy struct {
	Retries       int         `json:"retries"`
	IntervalMs    int64       `json:"intervalMs"`
	Backoff       BackoffKind `json:"backoff,omitempty"`
	MaxIntervalMs int64       `json:"maxIntervalMs,omitempty"`
	Jitter        JitterKind  `json:"jitter,omitempty"`
	RetryOn       []string    `json:"retryOn,omitempty"`
}

// OnErrorMode selects what the walker does once a node's retries (if any)
// are exhausted.
type OnErrorMode string

const (
	OnErrorStop     OnErrorMode = "stop"
	OnErrorContinue OnErrorMode = "continue"
	OnErrorGoto     OnErrorMode = "goto"
	OnErrorRetry    OnErrorMode = "retry"
)

// OnErrorPolicy routes a node's terminal failure. Mode == "" behaves like
// OnErrorStop.
type OnErrorPolicy struct {
	Mode          OnErrorMode  `json:"mode,omitempty"`
	Target        *ErrorTarget `json:"target,omitempty"`
	RetryOverride *RetryPolicy `json:"retryOverride,omitempty"`
}

// ErrorTargetKind discriminates what an OnErrorPolicy's goto target names.
type ErrorTargetKind string

const (
	ErrorTargetNode      ErrorTargetKind = "node"
	ErrorTargetEdgeLabel ErrorTargetKind = "edgeLabel"
)

// ErrorTarget names where control transfers on OnErrorGoto.
type ErrorTarget struct {
	Kind   ErrorTargetKind `json:"kind"`
	NodeID string          `json:"nodeId,omitempty"`
	Label  string          `json:"label,omitempty"`
}
