package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/mhyatt000/flowcore/model"
)

// MergeNodePolicy resolves the effective policy for a node per spec.md
// §4.6: merge(flow.defaultNodePolicy, plugin.defaultPolicy, node.policy),
// each later tier winning field-by-field over the one before it. Each of
// Timeout, Retry, and OnError is resolved independently — a node that
// only sets a Timeout still inherits whatever the plugin or flow default
// set for Retry/OnError.
func MergeNodePolicy(flowDefault, pluginDefault, node *model.NodePolicy, cfg Config) model.NodePolicy {
	merged := model.NodePolicy{
		Retry: &model.RetryPolicy{Retries: 0, Backoff: model.BackoffNone},
	}

	for _, tier := range []*model.NodePolicy{flowDefault, pluginDefault, node} {
		if tier == nil {
			continue
		}
		if tier.Timeout != nil {
			merged.Timeout = tier.Timeout
		}
		if tier.Retry != nil {
			merged.Retry = tier.Retry
		}
		if tier.OnError != nil {
			merged.OnError = tier.OnError
		}
	}
	return merged
}

// NodeTimeout returns the effective per-attempt timeout, 0 meaning
// unlimited.
func NodeTimeout(policy model.NodePolicy) time.Duration {
	if policy.Timeout == nil || policy.Timeout.Ms <= 0 {
		return 0
	}
	return time.Duration(policy.Timeout.Ms) * time.Millisecond
}

// ComputeBackoff returns how long to wait before the next retry attempt,
// given the policy and a 0-indexed attempt number (0 = first retry). The
// formula mirrors the teacher's computeBackoff: linear grows by
// IntervalMs per attempt, exponential doubles it, both capped at
// MaxIntervalMs (if set), with Full jitter replacing the delay by a
// uniform random value in [0, delay].
func ComputeBackoff(policy model.RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	base := time.Duration(policy.IntervalMs) * time.Millisecond
	if base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case model.BackoffExp:
		delay = base * time.Duration(math.Pow(2, float64(attempt)))
	case model.BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if policy.MaxIntervalMs > 0 {
		max := time.Duration(policy.MaxIntervalMs) * time.Millisecond
		if delay > max {
			delay = max
		}
	}

	if policy.Jitter == model.JitterFull && delay > 0 {
		delay = time.Duration(rng.Int63n(int64(delay) + 1))
	}

	return delay
}

// ShouldRetry reports whether a NodeError is eligible for retry under
// policy, given how many retries have already been made (0 after the
// first execution fails).
func ShouldRetry(policy model.RetryPolicy, attempt int, nodeErr *model.NodeError) bool {
	if attempt >= policy.Retries {
		return false
	}
	if nodeErr == nil {
		return false
	}
	if !nodeErr.Retryable {
		return false
	}
	if len(policy.RetryOn) == 0 {
		return true
	}
	for _, code := range policy.RetryOn {
		if code == nodeErr.Code {
			return true
		}
	}
	return false
}
