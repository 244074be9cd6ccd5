package intent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/inventory"
	"github.com/Will-Luck/Docker-Sentinel/internal/lock"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
	"github.com/Will-Luck/Docker-Sentinel/internal/upgrade"
)

// fakeInventory serves a fixed, caller-configured container/instance set.
type fakeInventory struct {
	containers []domain.AnnotatedContainer
	instances  []domain.Instance
}

func (f fakeInventory) ListAnnotatedContainers(ctx context.Context, userID string, opts inventory.Options) ([]domain.AnnotatedContainer, error) {
	return f.containers, nil
}

func (f fakeInventory) Instances(userID string) ([]domain.Instance, error) {
	return f.instances, nil
}

// fakeUpgrader records every target it was asked to upgrade and always
// succeeds, returning a fixed before/after image pair.
type fakeUpgrader struct {
	calls []upgrade.Target
}

func (f *fakeUpgrader) Upgrade(ctx context.Context, t upgrade.Target, dryRun bool) (upgrade.Result, error) {
	f.calls = append(f.calls, t)
	return upgrade.Result{OldImage: "app:old", NewImage: "app:new"}, nil
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

func baseIntent(dryRun bool) domain.Intent {
	return domain.Intent{
		ID:              "intent-1",
		UserID:          "user-1",
		Name:            "test intent",
		Enabled:         true,
		ScheduleKind:    domain.ScheduleImmediate,
		DryRun:          dryRun,
		MatchContainers: []string{"web-1"},
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func oneMatchedContainer() domain.AnnotatedContainer {
	return domain.AnnotatedContainer{
		Container: domain.Container{
			ContainerID: "web-1",
			InstanceID:  "inst-1",
			EndpointID:  "inst-1::1",
			Name:        "web-1",
			Image:       "example.com/app:stable",
		},
		Registry:    "example.com",
		InstanceURL: "https://host",
		HasUpdate:   true,
	}
}

func TestExecuteDryRunReportsSkippedNotUpgraded(t *testing.T) {
	st := testStore(t)
	inv := fakeInventory{
		containers: []domain.AnnotatedContainer{oneMatchedContainer()},
		instances:  []domain.Instance{{ID: "inst-1", URL: "https://host"}},
	}
	up := &fakeUpgrader{}
	ex := New(st, inv, lock.New(), up, nil, nil, logging.New(false))

	summary, err := ex.Execute(context.Background(), baseIntent(true), Options{TriggerKind: domain.TriggerManual})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	exec := summary.Execution
	if exec.Status != domain.ExecCompleted {
		t.Errorf("status = %v, want completed", exec.Status)
	}
	if exec.ContainersMatched != 1 {
		t.Fatalf("ContainersMatched = %d, want 1", exec.ContainersMatched)
	}
	if exec.ContainersSkipped != exec.ContainersMatched {
		t.Errorf("ContainersSkipped = %d, want %d (== matched, per spec dry-run rule)", exec.ContainersSkipped, exec.ContainersMatched)
	}
	if exec.ContainersUpgraded != 0 {
		t.Errorf("ContainersUpgraded = %d, want 0 for a dry run", exec.ContainersUpgraded)
	}

	rows, err := st.ListExecutionContainers(exec.ID)
	if err != nil {
		t.Fatalf("list execution containers: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != domain.OutcomeDryRun {
		t.Fatalf("expected one dry_run row, got %+v", rows)
	}
}

func TestExecuteDryRunDoesNotContendForLock(t *testing.T) {
	st := testStore(t)
	inv := fakeInventory{
		containers: []domain.AnnotatedContainer{oneMatchedContainer()},
		instances:  []domain.Instance{{ID: "inst-1", URL: "https://host"}},
	}
	up := &fakeUpgrader{}
	locks := lock.New()
	// Simulate a concurrent real upgrade holding the same container's lock.
	key := lock.Key{InstanceID: "inst-1", ContainerID: "web-1"}
	if !locks.Acquire(key, "intent:other") {
		t.Fatal("expected to acquire lock for setup")
	}
	defer locks.Release(key)

	ex := New(st, inv, locks, up, nil, nil, logging.New(false))
	summary, err := ex.Execute(context.Background(), baseIntent(true), Options{TriggerKind: domain.TriggerManual})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rows, err := st.ListExecutionContainers(summary.Execution.ID)
	if err != nil {
		t.Fatalf("list execution containers: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != domain.OutcomeDryRun {
		t.Fatalf("expected dry run to preview despite lock contention, got %+v", rows)
	}
}

func TestExecuteRealUpgradeSkipsOnLockContentionWithOwner(t *testing.T) {
	st := testStore(t)
	inv := fakeInventory{
		containers: []domain.AnnotatedContainer{oneMatchedContainer()},
		instances:  []domain.Instance{{ID: "inst-1", URL: "https://host"}},
	}
	up := &fakeUpgrader{}
	locks := lock.New()
	key := lock.Key{InstanceID: "inst-1", ContainerID: "web-1"}
	if !locks.Acquire(key, "intent:winner") {
		t.Fatal("expected to acquire lock for setup")
	}
	defer locks.Release(key)

	ex := New(st, inv, locks, up, nil, nil, logging.New(false))
	summary, err := ex.Execute(context.Background(), baseIntent(false), Options{TriggerKind: domain.TriggerManual})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Execution.ContainersSkipped != 1 {
		t.Fatalf("ContainersSkipped = %d, want 1", summary.Execution.ContainersSkipped)
	}

	rows, err := st.ListExecutionContainers(summary.Execution.ID)
	if err != nil {
		t.Fatalf("list execution containers: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != domain.OutcomeSkipped {
		t.Fatalf("expected one skipped row, got %+v", rows)
	}
	if rows[0].ErrorMessage == nil || *rows[0].ErrorMessage != "locked-by-intent:winner" {
		t.Errorf("ErrorMessage = %v, want \"locked-by-intent:winner\"", rows[0].ErrorMessage)
	}
}

func TestExecuteRealUpgradeSucceeds(t *testing.T) {
	st := testStore(t)
	inv := fakeInventory{
		containers: []domain.AnnotatedContainer{oneMatchedContainer()},
		instances:  []domain.Instance{{ID: "inst-1", URL: "https://host"}},
	}
	up := &fakeUpgrader{}
	ex := New(st, inv, lock.New(), up, nil, nil, logging.New(false))

	summary, err := ex.Execute(context.Background(), baseIntent(false), Options{TriggerKind: domain.TriggerManual})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Execution.Status != domain.ExecCompleted {
		t.Errorf("status = %v, want completed", summary.Execution.Status)
	}
	if summary.Execution.ContainersUpgraded != 1 {
		t.Errorf("ContainersUpgraded = %d, want 1", summary.Execution.ContainersUpgraded)
	}
	if len(up.calls) != 1 {
		t.Fatalf("expected 1 upgrade call, got %d", len(up.calls))
	}
}

func TestExecuteScheduledAnchorUsesTriggerTimeNotWallClock(t *testing.T) {
	st := testStore(t)
	inv := fakeInventory{} // empty inventory -> empty-match short circuit
	up := &fakeUpgrader{}
	ex := New(st, inv, lock.New(), up, nil, nil, logging.New(false))

	it := baseIntent(false)
	it.ScheduleKind = domain.ScheduleScheduled
	fireTime := time.Date(2026, 1, 1, 0, 20, 0, 0, time.UTC)

	_, err := ex.Execute(context.Background(), it, Options{TriggerKind: domain.TriggerScheduled, TriggerTime: &fireTime})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	saved, found, err := st.GetIntent(it.UserID, it.ID)
	if err != nil || !found {
		t.Fatalf("get intent: found=%v err=%v", found, err)
	}
	if saved.LastEvaluatedAt == nil || !saved.LastEvaluatedAt.Equal(fireTime) {
		t.Errorf("LastEvaluatedAt = %v, want %v (the nominal fire time)", saved.LastEvaluatedAt, fireTime)
	}
}
