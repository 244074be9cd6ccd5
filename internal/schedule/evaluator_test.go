package schedule

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/intent"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
)

// mockClock implements clock.Clock for testing.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{now: t}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// fakeExecutor records every intent it was asked to execute.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []intent.Options
}

func (f *fakeExecutor) Execute(ctx context.Context, it domain.Intent, opts intent.Options) (intent.Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	return intent.Summary{Execution: domain.IntentExecution{ID: "exec-1", IntentID: it.ID}}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMostRecentMissedCoalescesOlderPoints(t *testing.T) {
	sched := mustParseCron(t, "*/5 * * * *")
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := anchor.Add(23 * time.Minute) // four 5-min points missed: :05, :10, :15, :20

	fire, ok := mostRecentMissed(sched, anchor, now)
	if !ok {
		t.Fatal("expected a missed fire point")
	}
	want := time.Date(2026, 1, 1, 0, 20, 0, 0, time.UTC)
	if !fire.Equal(want) {
		t.Errorf("fire = %v, want %v (most recent, older points coalesced)", fire, want)
	}
}

func TestMostRecentMissedNoneDue(t *testing.T) {
	sched := mustParseCron(t, "0 3 * * *")
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := anchor.Add(time.Hour)

	if _, ok := mostRecentMissed(sched, anchor, now); ok {
		t.Error("expected no fire point due yet")
	}
}

func TestEvaluateOneFiresWithScheduledTrigger(t *testing.T) {
	st := testStore(t)
	clk := newMockClock(time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC))
	exec := &fakeExecutor{}
	ev := New(st, exec, clk, logging.New(false))

	cronExpr := "*/10 * * * *"
	it := domain.Intent{
		ID:           "intent-1",
		UserID:       "user-1",
		Enabled:      true,
		ScheduleKind: domain.ScheduleScheduled,
		ScheduleCron: &cronExpr,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := st.SaveIntent(it); err != nil {
		t.Fatalf("save intent: %v", err)
	}

	ev.evaluateOne(context.Background(), it, clk.Now())

	if exec.callCount() != 1 {
		t.Fatalf("expected 1 execution, got %d", exec.callCount())
	}
	if exec.calls[0].TriggerKind != domain.TriggerScheduled {
		t.Errorf("TriggerKind = %v, want scheduled", exec.calls[0].TriggerKind)
	}
	if exec.calls[0].TriggerTime == nil {
		t.Fatal("expected TriggerTime to be set")
	}
}

func TestEvaluateOneSkipsWhileAlreadyRunning(t *testing.T) {
	st := testStore(t)
	clk := newMockClock(time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC))
	exec := &fakeExecutor{}
	ev := New(st, exec, clk, logging.New(false))

	cronExpr := "*/10 * * * *"
	it := domain.Intent{
		ID:           "intent-2",
		UserID:       "user-1",
		Enabled:      true,
		ScheduleKind: domain.ScheduleScheduled,
		ScheduleCron: &cronExpr,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	ev.running["intent-2"] = true // simulate an in-flight execution
	ev.evaluateOne(context.Background(), it, clk.Now())

	if exec.callCount() != 0 {
		t.Errorf("expected execution to be skipped while already running, got %d calls", exec.callCount())
	}
}

func mustParseCron(t *testing.T, expr string) cron.Schedule {
	t.Helper()
	s, err := cron.ParseStandard(expr)
	if err != nil {
		t.Fatalf("parse cron %q: %v", expr, err)
	}
	return s
}
