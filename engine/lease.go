package engine

import (
	"context"
	"time"

	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// LeaseManager keeps a worker's claimed QueueItems alive by heartbeating
// them on a fixed interval, and separately sweeps the queue for leases
// that expired because their owner went away without releasing them.
type LeaseManager struct {
	cfg     Config
	queue   store.QueueStore
	logger  *logging.Logger
	metrics *Metrics
}

func NewLeaseManager(cfg Config, queue store.QueueStore, logger *logging.Logger) *LeaseManager {
	return &LeaseManager{cfg: cfg, queue: queue, logger: logger}
}

// WithMetrics attaches Prometheus instrumentation; nil (the default) is
// a valid no-op.
func (m *LeaseManager) WithMetrics(metrics *Metrics) *LeaseManager {
	m.metrics = metrics
	return m
}

// Heartbeat renews runID's lease under ownerID until ctx is canceled,
// sleeping HeartbeatIntervalMs between renewals. Callers run this in its
// own goroutine for the lifetime of a claimed run.
func (m *LeaseManager) Heartbeat(ctx context.Context, runID, ownerID string) {
	interval := time.Duration(m.cfg.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			if err := m.queue.Heartbeat(ctx, runID, ownerID, m.cfg.LeaseTTLMs, now); err != nil {
				m.logger.WithField("run_id", runID).WithField("error", err).Warn("lease heartbeat failed")
				return
			}
		}
	}
}

// ReclaimLoop periodically releases QueueItems whose lease has expired
// so an abandoned run becomes claimable again, without waiting for a
// full process restart. It runs until ctx is canceled.
func (m *LeaseManager) ReclaimLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.ReclaimIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reclaimOnce(ctx)
		}
	}
}

func (m *LeaseManager) reclaimOnce(ctx context.Context) {
	now := time.Now().UnixMilli()
	expired, err := m.queue.ListExpired(ctx, now)
	if err != nil {
		m.logger.WithField("error", err).Warn("list expired leases failed")
		return
	}
	for _, item := range expired {
		var reclaimErr error
		switch item.Status {
		case model.QueuePaused:
			// Paused status persists; only the stale owner is dropped so a
			// future AdoptPaused (recovery) or explicit Resume isn't blocked
			// by a lease the dead process will never renew.
			reclaimErr = m.queue.ClearStaleOwner(ctx, item.ID)
		default:
			reclaimErr = m.queue.Release(ctx, item.ID)
		}
		if reclaimErr != nil {
			m.logger.WithField("run_id", item.ID).WithField("error", reclaimErr).Warn("release expired lease failed")
			continue
		}
		if m.metrics != nil {
			m.metrics.IncLeaseReclaimed()
		}
	}
}
