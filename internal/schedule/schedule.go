// Package schedule computes job due times from schedule descriptors.
//
// Three grammars are supported:
//
//	cron:  standard 5-field cron expression, e.g. "0 9 * * 1"
//	every: repeating interval, e.g. "every 1h 30m"
//	in:    one-shot delay, e.g. "in 45m"
//
// All due-time math happens in a single configured location; mixing UTC and
// local computation is how this class of bug usually sneaks in.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies how a schedule descriptor determines execution time.
type Kind string

const (
	// KindCron uses a standard 5-field cron expression.
	KindCron Kind = "cron"
	// KindEvery runs at a fixed interval ("every 2h", "every 1h 30m").
	KindEvery Kind = "every"
	// KindOnce fires once after a delay ("in 45m") and is never re-armed.
	KindOnce Kind = "once"
)

// ErrInvalidSchedule is returned for descriptors that parse under no grammar.
// Callers must reject the job; treating it as "due now" or silently "never
// due" are both wrong.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Spec is a parsed schedule descriptor.
type Spec struct {
	Kind Kind
	Raw  string
	// interval holds the parsed duration for every/once kinds.
	interval time.Duration
	// sched holds the parsed cron schedule for the cron kind.
	sched cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse classifies and validates a raw schedule descriptor.
func Parse(raw string) (Spec, error) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "every "):
		d, err := parseDurationTerms(strings.TrimPrefix(lower, "every "))
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, raw, err)
		}
		return Spec{Kind: KindEvery, Raw: trimmed, interval: d}, nil

	case strings.HasPrefix(lower, "in "):
		d, err := parseDurationTerms(strings.TrimPrefix(lower, "in "))
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, raw, err)
		}
		return Spec{Kind: KindOnce, Raw: trimmed, interval: d}, nil

	default:
		sched, err := cronParser.Parse(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, raw, err)
		}
		return Spec{Kind: KindCron, Raw: trimmed, sched: sched}, nil
	}
}

// parseDurationTerms parses one or more "<N><unit>" terms (units h and m)
// separated by whitespace, e.g. "1h 30m". The total must be positive.
func parseDurationTerms(s string) (time.Duration, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, errors.New("empty duration")
	}

	var total time.Duration
	for _, f := range fields {
		if len(f) < 2 {
			return 0, fmt.Errorf("malformed term %q", f)
		}
		unit := f[len(f)-1]
		n, err := strconv.Atoi(f[:len(f)-1])
		if err != nil {
			return 0, fmt.Errorf("malformed term %q", f)
		}
		switch unit {
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		default:
			return 0, fmt.Errorf("unknown unit in %q", f)
		}
	}

	if total <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return total, nil
}

// Calculator computes next due times in a fixed location.
type Calculator struct {
	loc *time.Location
}

// NewCalculator creates a Calculator. A nil location defaults to time.Local.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{loc: loc}
}

// Location returns the calculator's timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// NextRun returns the first due time strictly after ref for the given raw
// descriptor. Malformed descriptors return ErrInvalidSchedule.
func (c *Calculator) NextRun(raw string, ref time.Time) (time.Time, error) {
	spec, err := Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return c.NextRunSpec(spec, ref), nil
}

// NextRunSpec returns the first due time strictly after ref for an already
// parsed spec.
func (c *Calculator) NextRunSpec(spec Spec, ref time.Time) time.Time {
	switch spec.Kind {
	case KindEvery, KindOnce:
		return ref.Add(spec.interval)
	default:
		return spec.sched.Next(ref.In(c.loc))
	}
}

// IsDue reports whether a job with the given next-run time is due at now.
// A zero next-run time is never due; the poller recomputes it instead.
func IsDue(nextRun, now time.Time) bool {
	if nextRun.IsZero() {
		return false
	}
	return !nextRun.After(now)
}
