package intent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mira/internal/schedule"
	"mira/internal/store"
)

// mockStateStore records mutations in memory for assertions.
type mockStateStore struct {
	mu         sync.Mutex
	nextID     int64
	memories   map[int64]store.Memory
	jobs       []store.Job
	insertErr  error
	deleteErr  error
	candidates []store.Memory
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{memories: make(map[int64]store.Memory)}
}

func (m *mockStateStore) InsertMemory(_ context.Context, kind store.MemoryKind, text string, weight int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.nextID++
	m.memories[m.nextID] = store.Memory{ID: m.nextID, Kind: kind, Text: text, Weight: weight}
	return m.nextID, nil
}

func (m *mockStateStore) DeleteMemory(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.memories[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.memories, id)
	return nil
}

func (m *mockStateStore) FindMemoryCandidates(_ context.Context, search string) ([]store.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candidates != nil {
		return m.candidates, nil
	}
	var out []store.Memory
	for _, mem := range m.memories {
		out = append(out, mem)
	}
	return out, nil
}

func (m *mockStateStore) InsertJob(_ context.Context, job store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockStateStore) memoryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.memories)
}

func newTestPipeline(t *testing.T, ss *mockStateStore) *Pipeline {
	t.Helper()
	p := New(ss, schedule.NewCalculator(time.UTC), DefaultConfig(), nil)
	p.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	p.newID = func() string { return "test-job-id" }
	return p
}

func TestProcess_RememberFactApplied(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	res := p.Process(context.Background(), "Noted! [REMEMBER: user likes coffee] Anything else?", ContextInteractive)

	if len(res.Applied) != 1 || res.Applied[0].Kind != TagRememberFact {
		t.Fatalf("applied = %+v, want one remember-fact", res.Applied)
	}
	if ss.memoryCount() != 1 {
		t.Errorf("memory count = %d, want 1", ss.memoryCount())
	}
	if strings.Contains(res.Text, "[") {
		t.Errorf("tag not stripped from text: %q", res.Text)
	}
	if res.Text != "Noted! Anything else?" {
		t.Errorf("cleaned text = %q", res.Text)
	}
}

func TestProcess_FactCapStripsAllTags(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString("[REMEMBER: fact number ")
		b.WriteByte(byte('0' + i))
		b.WriteString("] ")
	}
	res := p.Process(context.Background(), b.String(), ContextInteractive)

	if len(res.Applied) != 5 {
		t.Errorf("applied %d facts, want 5", len(res.Applied))
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonCapExceeded {
		t.Errorf("rejections = %+v, want one cap-exceeded", res.Rejections)
	}
	if ss.memoryCount() != 5 {
		t.Errorf("memory count = %d, want 5", ss.memoryCount())
	}
	if strings.Contains(res.Text, "[REMEMBER") {
		t.Errorf("over-cap tag left in text: %q", res.Text)
	}
}

func TestProcess_DuplicateFactsNormalized(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	res := p.Process(context.Background(),
		"[REMEMBER: Likes   Coffee] and [REMEMBER: likes coffee]", ContextInteractive)

	if len(res.Applied) != 1 {
		t.Errorf("applied = %+v, want 1", res.Applied)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonDuplicate {
		t.Errorf("rejections = %+v, want one duplicate", res.Rejections)
	}
	if ss.memoryCount() != 1 {
		t.Errorf("memory count = %d, want 1", ss.memoryCount())
	}
}

func TestProcess_ForgetShortQueryRejectedBeforeLookup(t *testing.T) {
	ss := newMockStateStore()
	ss.candidates = []store.Memory{{ID: 1, Kind: store.MemoryFact, Text: "a"}}
	p := newTestPipeline(t, ss)

	res := p.Process(context.Background(), "[FORGET: a]", ContextInteractive)

	if len(res.Applied) != 0 {
		t.Errorf("applied = %+v, want none", res.Applied)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonQueryTooShort {
		t.Errorf("rejections = %+v, want query-too-short", res.Rejections)
	}
}

func TestProcess_ForgetBelowThreshold(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)
	ctx := context.Background()

	id, _ := ss.InsertMemory(ctx, store.MemoryFact, "prefers tea over coffee every single day", 0)

	res := p.Process(ctx, "[FORGET: favorite programming editor vim]", ContextInteractive)

	if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonBelowThreshold {
		t.Fatalf("rejections = %+v, want below-threshold", res.Rejections)
	}
	ss.mu.Lock()
	_, stillThere := ss.memories[id]
	ss.mu.Unlock()
	if !stillThere {
		t.Error("memory deleted despite failing overlap gate")
	}
}

func TestProcess_ForgetAboveThresholdDeletes(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)
	ctx := context.Background()

	id, _ := ss.InsertMemory(ctx, store.MemoryFact, "user likes coffee in the morning", 0)

	res := p.Process(ctx, "[FORGET: likes coffee morning]", ContextInteractive)

	if len(res.Applied) != 1 || res.Applied[0].Kind != TagForgetFact {
		t.Fatalf("applied = %+v, want one forget-fact", res.Applied)
	}
	if got := res.Applied[0].DeletedIDs; len(got) != 1 || got[0] != id {
		t.Errorf("DeletedIDs = %v, want [%d]", got, id)
	}
	if ss.memoryCount() != 0 {
		t.Errorf("memory count = %d, want 0", ss.memoryCount())
	}
}

func TestProcess_CreateJobBlockedForScheduledContext(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	for _, execCtx := range []Context{ContextScheduledJob, ContextPulse} {
		res := p.Process(context.Background(),
			"[SCHEDULE: every 1h | check the build]", execCtx)

		if len(res.Applied) != 0 {
			t.Errorf("%s: applied = %+v, want none", execCtx, res.Applied)
		}
		if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonBlockedContext {
			t.Errorf("%s: rejections = %+v, want blocked-context", execCtx, res.Rejections)
		}
		if strings.Contains(res.Text, "SCHEDULE") {
			t.Errorf("%s: blocked tag left in text: %q", execCtx, res.Text)
		}
	}
	if len(ss.jobs) != 0 {
		t.Errorf("jobs created in unattended context: %+v", ss.jobs)
	}
}

func TestProcess_CreateJobBornDisabledAndUnapproved(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	res := p.Process(context.Background(),
		"I'll set that up. [SCHEDULE: 0 9 * * 1 | Send the weekly summary]", ContextInteractive)

	if len(res.Applied) != 1 || res.Applied[0].JobID != "test-job-id" {
		t.Fatalf("applied = %+v, want one create-job", res.Applied)
	}
	if len(ss.jobs) != 1 {
		t.Fatalf("jobs = %+v, want 1", ss.jobs)
	}
	job := ss.jobs[0]
	if job.Enabled || job.Approved {
		t.Errorf("enabled=%v approved=%v, want both false", job.Enabled, job.Approved)
	}
	if job.Origin != store.OriginAgent {
		t.Errorf("origin = %q, want agent", job.Origin)
	}
	if job.NextRun.IsZero() {
		t.Error("NextRun not computed at creation")
	}
	if job.Prompt != "Send the weekly summary" {
		t.Errorf("prompt = %q", job.Prompt)
	}
}

func TestProcess_CreateJobInvalidScheduleRejected(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	for _, payload := range []string{
		"[SCHEDULE: whenever | do the thing]",
		"[SCHEDULE: every 1h]", // no pipe, no prompt
		"[SCHEDULE: | do the thing]",
	} {
		res := p.Process(context.Background(), payload, ContextInteractive)
		if len(res.Applied) != 0 {
			t.Errorf("%s: applied = %+v, want none", payload, res.Applied)
		}
		if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonInvalidSchedule {
			t.Errorf("%s: rejections = %+v, want invalid-schedule", payload, res.Rejections)
		}
	}
	if len(ss.jobs) != 0 {
		t.Errorf("invalid schedules created jobs: %+v", ss.jobs)
	}
}

func TestProcess_CompleteGoalDeletesOnlyGoals(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)
	ctx := context.Background()

	factID, _ := ss.InsertMemory(ctx, store.MemoryFact, "learn spanish phrases daily", 0)
	goalID, _ := ss.InsertMemory(ctx, store.MemoryGoal, "learn spanish", 0)

	res := p.Process(ctx, "[GOAL_DONE: learn spanish]", ContextInteractive)

	if len(res.Applied) != 1 {
		t.Fatalf("applied = %+v, want one complete-goal", res.Applied)
	}
	ss.mu.Lock()
	_, factAlive := ss.memories[factID]
	_, goalAlive := ss.memories[goalID]
	ss.mu.Unlock()
	if !factAlive {
		t.Error("complete-goal deleted a non-goal record")
	}
	if goalAlive {
		t.Error("goal record not deleted")
	}
}

func TestProcess_StoreErrorDegradesToRejection(t *testing.T) {
	ss := newMockStateStore()
	ss.insertErr = errors.New("disk full")
	p := newTestPipeline(t, ss)

	res := p.Process(context.Background(), "[REMEMBER: user likes coffee]", ContextInteractive)

	if len(res.Applied) != 0 {
		t.Errorf("applied = %+v, want none", res.Applied)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Reason != ReasonStoreError {
		t.Errorf("rejections = %+v, want store-error", res.Rejections)
	}
	if strings.Contains(res.Text, "[") {
		t.Errorf("tag left in text after store failure: %q", res.Text)
	}
}

func TestProcess_VoiceFlag(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	res := p.Process(context.Background(), "Good morning! [VOICE]", ContextPulse)

	if !res.Voice {
		t.Error("voice flag not set")
	}
	if len(res.Applied) != 0 || len(res.Rejections) != 0 {
		t.Errorf("voice tag treated as mutation: %+v / %+v", res.Applied, res.Rejections)
	}
	if res.Text != "Good morning!" {
		t.Errorf("cleaned text = %q", res.Text)
	}
}

func TestProcess_NoTagsPassthrough(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	raw := "Just a plain reply with [unrelated brackets: kept]."
	res := p.Process(context.Background(), raw, ContextInteractive)

	if res.Text != raw {
		t.Errorf("text altered: %q", res.Text)
	}
	if len(res.Applied) != 0 || len(res.Rejections) != 0 {
		t.Errorf("mutations on tag-free text: %+v / %+v", res.Applied, res.Rejections)
	}
}

func TestProcess_MixedTagsInOneResponse(t *testing.T) {
	ss := newMockStateStore()
	p := newTestPipeline(t, ss)

	raw := "Done. [REMEMBER: user works remotely] [GOAL: run a marathon] [VOICE]"
	res := p.Process(context.Background(), raw, ContextInteractive)

	if len(res.Applied) != 2 {
		t.Fatalf("applied = %+v, want 2", res.Applied)
	}
	if !res.Voice {
		t.Error("voice flag not set")
	}
	if res.Text != "Done." {
		t.Errorf("cleaned text = %q", res.Text)
	}
}
