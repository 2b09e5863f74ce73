// Package pulse runs the periodic check-in loop: an unattended timer that
// asks the agent whether there is anything worth telling the user, gated by
// an active-hours window and a 24h delivery dedup cache.
package pulse

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"mira/internal/intent"
	"mira/internal/logging"
)

// SentinelToken in generated output means "nothing to report". It suppresses
// delivery without consulting or populating the dedup cache.
const SentinelToken = "NOTHING_TO_REPORT"

const (
	// DefaultInterval is the check cadence.
	DefaultInterval = 30 * time.Minute
	// dedupWindow is how long a delivered check-in suppresses identical ones.
	dedupWindow = 24 * time.Hour
	dedupSize   = 256
)

// TurnRunner executes one unattended agent turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, prompt string, execCtx intent.Context) (text string, voice bool, err error)
}

// Notifier delivers a check-in to the user.
type Notifier interface {
	Notify(ctx context.Context, text string, voice bool) error
}

// EventRecorder appends to the interaction log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, kind, payload string) error
}

// Config holds check-in loop configuration.
type Config struct {
	Enabled  bool
	Interval time.Duration
	// ActiveStartHour and ActiveEndHour bound the delivery window in the
	// configured timezone. Start == End means always active. A window that
	// wraps midnight (start > end) is supported.
	ActiveStartHour int
	ActiveEndHour   int
	Prompt          string
}

// Checker is the periodic check-in loop.
type Checker struct {
	runner   TurnRunner
	notifier Notifier
	events   EventRecorder
	config   Config
	loc      *time.Location
	logger   logging.Logger

	delivered *expirable.LRU[string, time.Time]
	now       func() time.Time
	ticking   atomic.Bool
	wg        sync.WaitGroup
	stopped   chan struct{}
	stopOnce  sync.Once
}

// New creates a Checker. loc defaults to time.Local.
func New(runner TurnRunner, notifier Notifier, events EventRecorder, cfg Config, loc *time.Location, logger logging.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "Check in with the user if there is anything genuinely useful to say. " +
			"If there is nothing worth saying, reply with exactly " + SentinelToken + "."
	}
	if loc == nil {
		loc = time.Local
	}
	return &Checker{
		runner:    runner,
		notifier:  notifier,
		events:    events,
		config:    cfg,
		loc:       loc,
		logger:    logging.OrNop(logger),
		delivered: expirable.NewLRU[string, time.Time](dedupSize, nil, dedupWindow),
		now:       time.Now,
		stopped:   make(chan struct{}),
	}
}

// Start runs the check loop until ctx is cancelled or Stop is called.
func (c *Checker) Start(ctx context.Context) error {
	if !c.config.Enabled {
		c.logger.Info("Pulse disabled by config")
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()

		c.logger.Info("Pulse started (interval=%v window=%02d:00-%02d:00)",
			c.config.Interval, c.config.ActiveStartHour, c.config.ActiveEndHour)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopped:
				return
			case <-ticker.C:
				c.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop shuts the loop down and waits for any in-flight tick.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Pulse stopping...")
		close(c.stopped)
		c.wg.Wait()
		c.logger.Info("Pulse stopped")
	})
}

// Tick runs one check cycle.
func (c *Checker) Tick(ctx context.Context) {
	if !c.ticking.CompareAndSwap(false, true) {
		c.logger.Warn("Pulse: previous tick still running, skipping")
		return
	}
	defer c.ticking.Store(false)

	now := c.now().In(c.loc)
	if !c.withinActiveHours(now) {
		c.logger.Debug("Pulse: outside active hours (%02d:%02d), skipping", now.Hour(), now.Minute())
		return
	}

	text, voice, err := c.runner.RunTurn(ctx, c.config.Prompt, intent.ContextPulse)
	if err != nil {
		// Executor failure means nothing to deliver, not a loop fault.
		c.logger.Warn("Pulse: check-in turn failed: %v", err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, SentinelToken) {
		c.logger.Debug("Pulse: nothing to report")
		return
	}

	key := dedupKey(text)
	if _, dup := c.delivered.Get(key); dup {
		c.logger.Info("Pulse: suppressing duplicate check-in")
		c.recordEvent(ctx, "checkin_suppressed", "")
		return
	}

	if err := c.notifier.Notify(ctx, text, voice); err != nil {
		c.logger.Error("Pulse: delivery failed: %v", err)
		return
	}
	c.delivered.Add(key, now)
	c.recordEvent(ctx, "checkin_delivered", "")
	c.logger.Info("Pulse: check-in delivered (%d chars)", len(text))
}

// withinActiveHours reports whether t falls inside the configured window.
// The comparison uses minutes since midnight so a window that wraps past
// midnight (e.g. 22 to 6) works.
func (c *Checker) withinActiveHours(t time.Time) bool {
	start := c.config.ActiveStartHour * 60
	end := c.config.ActiveEndHour * 60
	if start == end {
		return true
	}
	cur := t.Hour()*60 + t.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func (c *Checker) recordEvent(ctx context.Context, kind, payload string) {
	if c.events == nil {
		return
	}
	if err := c.events.RecordEvent(ctx, kind, payload); err != nil {
		c.logger.Warn("Pulse: event record failed: %v", err)
	}
}

func dedupKey(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
