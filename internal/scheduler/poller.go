// Package scheduler polls the job store and executes due jobs.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mira/internal/logging"
	"mira/internal/schedule"
	"mira/internal/store"
)

// DefaultPollInterval is the cadence at which the poller checks for due jobs.
const DefaultPollInterval = 60 * time.Second

// JobStore is the slice of the store the poller needs.
type JobStore interface {
	ListEnabledJobs(ctx context.Context) ([]store.Job, error)
	SaveJobNextRun(ctx context.Context, id string, next time.Time) error
	DisableJob(ctx context.Context, id string) error
	RecordEvent(ctx context.Context, kind, payload string) error
}

// TaskRunner executes one job prompt as an agent turn.
type TaskRunner interface {
	RunJob(ctx context.Context, job store.Job) error
}

// Config holds poller configuration.
type Config struct {
	Enabled      bool
	PollInterval time.Duration
}

// Poller wakes on a fixed interval, finds jobs whose next run time has
// passed, and executes them one at a time. A tick that is still executing
// when the next interval fires causes the next tick to be skipped, so two
// job batches never run concurrently.
type Poller struct {
	jobs     JobStore
	runner   TaskRunner
	calc     *schedule.Calculator
	config   Config
	logger   logging.Logger
	metrics  *Metrics
	now      func() time.Time
	ticking  atomic.Bool
	wg       sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a Poller.
func New(jobs JobStore, runner TaskRunner, calc *schedule.Calculator, cfg Config, logger logging.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Poller{
		jobs:    jobs,
		runner:  runner,
		calc:    calc,
		config:  cfg,
		logger:  logging.OrNop(logger),
		metrics: defaultMetrics(),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.logger.Info("Poller disabled by config")
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.PollInterval)
		defer ticker.Stop()

		p.logger.Info("Poller started (interval=%v)", p.config.PollInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopped:
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop shuts the loop down and waits for any in-flight tick to finish.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Poller stopping...")
		close(p.stopped)
		p.wg.Wait()
		p.logger.Info("Poller stopped")
	})
}

// Tick runs one poll cycle. If a previous cycle is still executing the call
// returns immediately without touching the store.
func (p *Poller) Tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		p.logger.Warn("Poller: previous tick still running, skipping")
		p.metrics.recordSkippedTick()
		return
	}
	defer p.ticking.Store(false)

	jobs, err := p.jobs.ListEnabledJobs(ctx)
	if err != nil {
		p.logger.Error("Poller: listing jobs failed: %v", err)
		return
	}

	now := p.now()
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if job.NextRun.IsZero() {
			p.armJob(ctx, job, now)
			continue
		}
		if !schedule.IsDue(job.NextRun, now) {
			continue
		}
		p.executeJob(ctx, job, now)
	}
}

// armJob gives a job without a next-run time its first one. The job fires on
// a later tick, never on the arming tick.
func (p *Poller) armJob(ctx context.Context, job store.Job, now time.Time) {
	next, err := p.calc.NextRun(job.Schedule, now)
	if err != nil {
		p.logger.Error("Poller: job %s has unusable schedule %q, disabling: %v", job.ID, job.Schedule, err)
		if derr := p.jobs.DisableJob(ctx, job.ID); derr != nil {
			p.logger.Error("Poller: disabling job %s failed: %v", job.ID, derr)
		}
		return
	}
	if err := p.jobs.SaveJobNextRun(ctx, job.ID, next); err != nil {
		p.logger.Error("Poller: arming job %s failed: %v", job.ID, err)
		return
	}
	p.logger.Info("Poller: armed job %s, first run %v", job.ID, next)
}

// executeJob runs one due job and reschedules or retires it. A failing job
// never stops the batch; it is logged, counted, and still advanced so it
// cannot wedge the loop by firing every tick.
func (p *Poller) executeJob(ctx context.Context, job store.Job, now time.Time) {
	p.logger.Info("Poller: executing job %s (%s)", job.ID, job.Schedule)
	started := time.Now()

	err := p.runner.RunJob(ctx, job)
	if err != nil {
		p.logger.Error("Poller: job %s failed: %v", job.ID, err)
		p.metrics.recordJobRun("error")
		p.recordEvent(ctx, "job_failed", job.ID)
	} else {
		p.metrics.recordJobRun("ok")
		p.recordEvent(ctx, "job_completed", job.ID)
	}
	p.logger.Debug("Poller: job %s took %v", job.ID, time.Since(started).Round(time.Millisecond))

	// One-shot jobs retire after a single firing, success or not.
	if job.Kind == string(schedule.KindOnce) {
		if err := p.jobs.DisableJob(ctx, job.ID); err != nil {
			p.logger.Error("Poller: disabling one-shot job %s failed: %v", job.ID, err)
		}
		return
	}

	next, err := p.calc.NextRun(job.Schedule, now)
	if err != nil {
		// The schedule was valid at insert time; treat corruption as fatal
		// for this job rather than retrying it forever.
		p.logger.Error("Poller: job %s has unusable schedule %q, disabling: %v", job.ID, job.Schedule, err)
		if derr := p.jobs.DisableJob(ctx, job.ID); derr != nil {
			p.logger.Error("Poller: disabling job %s failed: %v", job.ID, derr)
		}
		return
	}
	if err := p.jobs.SaveJobNextRun(ctx, job.ID, next); err != nil {
		p.logger.Error("Poller: saving next run for job %s failed: %v", job.ID, err)
	}
}

func (p *Poller) recordEvent(ctx context.Context, kind, payload string) {
	if err := p.jobs.RecordEvent(ctx, kind, payload); err != nil {
		p.logger.Warn("Poller: event record failed: %v", err)
	}
}

// Done returns a channel closed once Stop has been requested.
func (p *Poller) Done() <-chan struct{} {
	return p.stopped
}
