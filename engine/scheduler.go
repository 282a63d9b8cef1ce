package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// Scheduler bounds how many runs execute concurrently and drives the
// claim loop: a semaphore of size Config.MaxParallelRuns gates how many
// Walker.Run goroutines are in flight, a buffered "kick" channel wakes
// the loop immediately whenever new work might be available (a run was
// just enqueued or resumed), and a poll fallback guards against a
// missed or coalesced kick.
type Scheduler struct {
	cfg     Config
	port    store.Port
	walker  *Walker
	lease   *LeaseManager
	ownerID string
	logger  *logging.Logger
	metrics *Metrics

	sem  chan struct{}
	kick chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewScheduler(cfg Config, port store.Port, walker *Walker, lease *LeaseManager, ownerID string, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		port:    port,
		walker:  walker,
		lease:   lease,
		ownerID: ownerID,
		logger:  logger,
		sem:     make(chan struct{}, cfg.MaxParallelRuns),
		kick:    make(chan struct{}, 1),
	}
}

// WithMetrics attaches Prometheus instrumentation; nil (the default) is
// a valid no-op.
func (s *Scheduler) WithMetrics(metrics *Metrics) *Scheduler {
	s.metrics = metrics
	return s
}

// Kick wakes the claim loop without blocking. Safe to call from any
// goroutine, e.g. right after RunQueue.Enqueue.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start runs the claim loop until ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the claim loop and waits for it and for every in-flight
// run goroutine it launched to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	poll := time.Duration(s.cfg.PollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-ticker.C:
			s.reportQueueDepth(ctx)
		}
		s.drainClaimable(ctx)
	}
}

// drainClaimable claims and launches as many runs as there are free
// semaphore slots right now, stopping as soon as a claim attempt finds
// nothing available.
func (s *Scheduler) drainClaimable(ctx context.Context) {
	for {
		select {
		case s.sem <- struct{}{}:
		default:
			return // at capacity
		}

		now := time.Now().UnixMilli()
		item, err := s.port.Queue().Claim(ctx, s.ownerID, s.cfg.LeaseTTLMs, now)
		if err != nil {
			<-s.sem
			return
		}

		if s.metrics != nil {
			s.metrics.SetActiveRuns(float64(len(s.sem)))
		}
		s.wg.Add(1)
		go s.runClaimed(ctx, item.ID)
	}
}

// reportQueueDepth samples the queue size for the gauge on every poll
// tick; it is deliberately not called on the kick path so a burst of
// enqueues doesn't turn one ListAll call per item.
func (s *Scheduler) reportQueueDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	items, err := s.port.Queue().ListAll(ctx)
	if err != nil {
		return
	}
	s.metrics.SetQueueDepth(float64(len(items)))
}

func (s *Scheduler) runClaimed(ctx context.Context, runID string) {
	defer s.wg.Done()
	defer func() {
		<-s.sem
		if s.metrics != nil {
			s.metrics.SetActiveRuns(float64(len(s.sem)))
		}
	}()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go s.lease.Heartbeat(heartbeatCtx, runID, s.ownerID)

	if err := s.walker.Run(ctx, runID); err != nil {
		s.logger.WithField("run_id", runID).WithField("error", err).Error("run terminated with error")
	}

	run, err := s.port.Runs().Get(ctx, runID)
	if err != nil {
		s.logger.WithField("run_id", runID).WithField("error", err).Warn("failed to load run after execution")
		return
	}
	switch {
	case run.Status == model.RunPaused:
		if err := s.port.Queue().Pause(ctx, runID); err != nil {
			s.logger.WithField("run_id", runID).WithField("error", err).Warn("failed to mark queue item paused")
		}
	case isTerminal(run.Status):
		if err := s.port.Queue().Remove(ctx, runID); err != nil {
			s.logger.WithField("run_id", runID).WithField("error", err).Warn("failed to remove completed run from queue")
		}
	default:
		// Run() returned without reaching a terminal or paused status,
		// typically a storage error mid-walk. Leave the queue item leased;
		// the lease manager's reclaim sweep requeues it once the lease
		// expires rather than this process silently dropping it from the
		// queue while the run sits stuck mid-flight.
		s.logger.WithField("run_id", runID).WithField("status", run.Status).Warn("run exited non-terminal; leaving queue item for lease reclaim")
	}
	s.Kick()
}
