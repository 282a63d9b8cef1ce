package engine

// Config is the tunable surface of a running engine: how many runs may
// execute at once, how long a lease lives before it is considered
// abandoned, how often workers renew and sweep leases, and the
// control-flow ceilings that keep a misbehaving flow from running
// forever. Values are loaded by internal/config and passed in verbatim —
// this package never reads the environment itself.
type Config struct {
	MaxParallelRuns          int
	LeaseTTLMs               int64
	HeartbeatIntervalMs      int64
	ReclaimIntervalMs        int64
	PollIntervalMs           int64
	DefaultWhileMaxIterations int
	MaxControlStackDepth     int
	MaxAttempts              int
}

// DefaultConfig returns the values a process should fall back to when
// nothing else is configured.
func DefaultConfig() Config {
	return Config{
		MaxParallelRuns:           8,
		LeaseTTLMs:                30_000,
		HeartbeatIntervalMs:       10_000,
		ReclaimIntervalMs:         15_000,
		PollIntervalMs:            500,
		DefaultWhileMaxIterations: 10_000,
		MaxControlStackDepth:      64,
		MaxAttempts:               1,
	}
}
