// Package reflection runs the nightly self-reflection timer. It polls on a
// short cadence but acts at most once per calendar day, at a configured local
// hour, producing a new personality snapshot from recent interaction history.
package reflection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mira/internal/intent"
	"mira/internal/logging"
	"mira/internal/store"
)

const (
	// DefaultPollInterval is how often the timer checks whether it is time
	// to reflect.
	DefaultPollInterval = 30 * time.Minute
	// historyWindow bounds how many recent events feed one reflection.
	historyWindow = 50
)

// TurnRunner executes one unattended agent turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, prompt string, execCtx intent.Context) (text string, voice bool, err error)
}

// StateStore is the slice of the store the reflector needs.
type StateStore interface {
	RecentEvents(ctx context.Context, limit int) ([]store.Event, error)
	SaveSnapshot(ctx context.Context, text string) error
	RecordEvent(ctx context.Context, kind, payload string) error
}

// Config holds reflection timer configuration.
type Config struct {
	Enabled      bool
	Hour         int // local hour at which reflection fires, 0-23
	PollInterval time.Duration
}

// Reflector is the daily reflection timer.
type Reflector struct {
	runner TurnRunner
	state  StateStore
	config Config
	loc    *time.Location
	logger logging.Logger

	enabled atomic.Bool // global toggle, flippable at runtime

	mu          sync.Mutex
	lastRunDate string // "2006-01-02" in the configured timezone

	now      func() time.Time
	ticking  atomic.Bool
	wg       sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a Reflector. loc defaults to time.Local.
func New(runner TurnRunner, state StateStore, cfg Config, loc *time.Location, logger logging.Logger) *Reflector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if loc == nil {
		loc = time.Local
	}
	r := &Reflector{
		runner:  runner,
		state:   state,
		config:  cfg,
		loc:     loc,
		logger:  logging.OrNop(logger),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
	r.enabled.Store(cfg.Enabled)
	return r
}

// SetEnabled flips the global reflection toggle. Disabling does not touch
// lastRunDate, so re-enabling later the same day cannot cause a double fire
// and a day spent disabled is simply skipped.
func (r *Reflector) SetEnabled(on bool) {
	r.enabled.Store(on)
	r.logger.Info("Reflection toggle set to %v", on)
}

// Enabled reports the current toggle state.
func (r *Reflector) Enabled() bool { return r.enabled.Load() }

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (r *Reflector) Start(ctx context.Context) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.config.PollInterval)
		defer ticker.Stop()

		r.logger.Info("Reflection timer started (hour=%02d:00 poll=%v enabled=%v)",
			r.config.Hour, r.config.PollInterval, r.enabled.Load())
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopped:
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop shuts the loop down and waits for any in-flight tick.
func (r *Reflector) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Reflection timer stopping...")
		close(r.stopped)
		r.wg.Wait()
		r.logger.Info("Reflection timer stopped")
	})
}

// Tick runs one poll cycle: a no-op unless the toggle is on, the local hour
// matches, and reflection has not already run today.
func (r *Reflector) Tick(ctx context.Context) {
	if !r.ticking.CompareAndSwap(false, true) {
		return
	}
	defer r.ticking.Store(false)

	if !r.enabled.Load() {
		return
	}

	now := r.now().In(r.loc)
	if now.Hour() != r.config.Hour {
		return
	}

	today := now.Format("2006-01-02")
	r.mu.Lock()
	alreadyRan := r.lastRunDate == today
	if !alreadyRan {
		r.lastRunDate = today
	}
	r.mu.Unlock()
	if alreadyRan {
		return
	}

	r.reflect(ctx)
}

// reflect gathers recent history and produces a new personality snapshot.
// Failures are logged; the day still counts as run so a flaky model cannot
// cause repeated reflection attempts all evening.
func (r *Reflector) reflect(ctx context.Context) {
	r.logger.Info("Reflection: starting daily run")

	events, err := r.state.RecentEvents(ctx, historyWindow)
	if err != nil {
		r.logger.Warn("Reflection: history unavailable: %v", err)
	}

	text, _, err := r.runner.RunTurn(ctx, buildPrompt(events), intent.ContextScheduledJob)
	if err != nil {
		r.logger.Error("Reflection: turn failed: %v", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.logger.Warn("Reflection: empty snapshot, keeping previous one")
		return
	}

	if err := r.state.SaveSnapshot(ctx, text); err != nil {
		r.logger.Error("Reflection: snapshot save failed: %v", err)
		return
	}
	if err := r.state.RecordEvent(ctx, "reflection_completed", ""); err != nil {
		r.logger.Warn("Reflection: event record failed: %v", err)
	}
	r.logger.Info("Reflection: new snapshot saved (%d chars)", len(text))
}

func buildPrompt(events []store.Event) string {
	var b strings.Builder
	b.WriteString("Reflect on the recent interaction history below and write an updated ")
	b.WriteString("personality snapshot: tone, recurring topics, and what the user seems to value. ")
	b.WriteString("Reply with the snapshot text only.\n\n## Recent history\n")
	if len(events) == 0 {
		b.WriteString("(no recorded events)\n")
		return b.String()
	}
	for _, e := range events {
		fmt.Fprintf(&b, "- %s %s %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Payload)
	}
	return b.String()
}

// LastRunDate returns the date string of the last completed fire.
func (r *Reflector) LastRunDate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRunDate
}
