package reflection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mira/internal/intent"
	"mira/internal/store"
)

type mockRunner struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (m *mockRunner) RunTurn(_ context.Context, _ string, _ intent.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.text, false, m.err
}

func (m *mockRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockState struct {
	mu        sync.Mutex
	snapshots []string
	events    []string
}

func (m *mockState) RecentEvents(context.Context, int) ([]store.Event, error) {
	return []store.Event{{Kind: "turn_completed", CreatedAt: time.Now()}}, nil
}

func (m *mockState) SaveSnapshot(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, text)
	return nil
}

func (m *mockState) RecordEvent(_ context.Context, kind, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, kind)
	return nil
}

func (m *mockState) snapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func atHour(hour int) func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 2, hour, 15, 0, 0, time.UTC) }
}

func newTestReflector(runner *mockRunner, state *mockState, enabled bool) *Reflector {
	r := New(runner, state, Config{Enabled: enabled, Hour: 22}, time.UTC, nil)
	r.now = atHour(22)
	return r
}

func TestTick_FiresAtConfiguredHour(t *testing.T) {
	runner := &mockRunner{text: "calm, focused, values brevity"}
	state := &mockState{}
	r := newTestReflector(runner, state, true)

	r.Tick(context.Background())

	if state.snapshotCount() != 1 {
		t.Fatalf("snapshots = %d, want 1", state.snapshotCount())
	}
	if r.LastRunDate() != "2026-03-02" {
		t.Errorf("lastRunDate = %q", r.LastRunDate())
	}
}

func TestTick_OncePerCalendarDay(t *testing.T) {
	runner := &mockRunner{text: "snapshot"}
	state := &mockState{}
	r := newTestReflector(runner, state, true)

	r.Tick(context.Background())
	r.Tick(context.Background()) // same hour, later poll
	r.now = atHour(23)
	r.Tick(context.Background()) // hour mismatch anyway

	if runner.callCount() != 1 {
		t.Errorf("runs = %d, want 1", runner.callCount())
	}

	// Next day fires again.
	r.now = func() time.Time { return time.Date(2026, 3, 3, 22, 15, 0, 0, time.UTC) }
	r.Tick(context.Background())
	if runner.callCount() != 2 {
		t.Errorf("runs = %d, want 2 after day rollover", runner.callCount())
	}
}

func TestTick_WrongHourNoop(t *testing.T) {
	runner := &mockRunner{text: "snapshot"}
	state := &mockState{}
	r := newTestReflector(runner, state, true)
	r.now = atHour(10)

	r.Tick(context.Background())

	if runner.callCount() != 0 {
		t.Error("reflection ran outside configured hour")
	}
	if r.LastRunDate() != "" {
		t.Error("lastRunDate updated without a run")
	}
}

func TestTick_DisabledDoesNotUpdateLastRunDate(t *testing.T) {
	runner := &mockRunner{text: "snapshot"}
	state := &mockState{}
	r := newTestReflector(runner, state, false)

	r.Tick(context.Background())
	if runner.callCount() != 0 || r.LastRunDate() != "" {
		t.Fatal("disabled reflector acted or recorded a run")
	}

	// Re-enabling later the same day fires once, not twice.
	r.SetEnabled(true)
	r.Tick(context.Background())
	r.Tick(context.Background())
	if runner.callCount() != 1 {
		t.Errorf("runs = %d, want 1 after re-enable", runner.callCount())
	}
}

func TestTick_FailedRunStillCountsForToday(t *testing.T) {
	runner := &mockRunner{err: errors.New("llm down")}
	state := &mockState{}
	r := newTestReflector(runner, state, true)

	r.Tick(context.Background())
	r.Tick(context.Background())

	if runner.callCount() != 1 {
		t.Errorf("runs = %d, want 1 (no retry storm)", runner.callCount())
	}
	if state.snapshotCount() != 0 {
		t.Error("snapshot saved despite failed turn")
	}
}

func TestTick_EmptySnapshotKeepsPrevious(t *testing.T) {
	runner := &mockRunner{text: "   "}
	state := &mockState{}
	r := newTestReflector(runner, state, true)

	r.Tick(context.Background())

	if state.snapshotCount() != 0 {
		t.Error("blank snapshot was saved")
	}
}
