// Package intent implements the Intent Executor (spec §4.6): the
// component that turns one Intent into a concrete run against the live
// inventory — matching, locking, upgrading (or simulating, for a dry
// run), and rolling the outcome up into an IntentExecution record.
//
// Grounded on internal/engine/updater.go's Scan loop for the
// match-then-act shape and on internal/engine/queue.go for the
// group-then-process-sequentially pattern, generalized from "all running
// containers" to "one intent's matched set" and from a single local
// daemon to many instances.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Will-Luck/Docker-Sentinel/internal/clock"
	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/instance"
	"github.com/Will-Luck/Docker-Sentinel/internal/inventory"
	"github.com/Will-Luck/Docker-Sentinel/internal/lock"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
	"github.com/Will-Luck/Docker-Sentinel/internal/match"
	"github.com/Will-Luck/Docker-Sentinel/internal/metrics"
	"github.com/Will-Luck/Docker-Sentinel/internal/notify"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
	"github.com/Will-Luck/Docker-Sentinel/internal/upgrade"
)

// InventoryLister supplies the live container set an intent is matched
// against — internal/inventory.Service in production.
type InventoryLister interface {
	ListAnnotatedContainers(ctx context.Context, userID string, opts inventory.Options) ([]domain.AnnotatedContainer, error)
	Instances(userID string) ([]domain.Instance, error)
}

// Upgrader performs one container's upgrade pipeline.
type Upgrader interface {
	Upgrade(ctx context.Context, t upgrade.Target, dryRun bool) (upgrade.Result, error)
}

// Options carries the trigger context for one Execute call, per the §4.6
// contract execute(intent, userId, {triggerKind, triggerTime?, dryRunOverride?}).
type Options struct {
	TriggerKind    domain.TriggerKind
	TriggerTime    *time.Time
	DryRunOverride *bool
}

// Summary is what Execute returns to its caller (the scheduler or the
// manual-trigger HTTP handler).
type Summary struct {
	Execution domain.IntentExecution
}

// Executor runs one Intent to completion.
type Executor struct {
	store     *store.Store
	inventory InventoryLister
	locks     *lock.Manager
	upgrader  Upgrader
	notifier  *notify.Multi
	clock     clock.Clock
	log       *logging.Logger
}

// New builds an Executor.
func New(st *store.Store, inv InventoryLister, locks *lock.Manager, up Upgrader, notifier *notify.Multi, clk clock.Clock, log *logging.Logger) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{store: st, inventory: inv, locks: locks, upgrader: up, notifier: notifier, clock: clk, log: log}
}

// Execute implements spec §4.6.
func (e *Executor) Execute(ctx context.Context, it domain.Intent, opts Options) (Summary, error) {
	start := e.clock.Now()

	exec := domain.IntentExecution{
		ID:          uuid.NewString(),
		IntentID:    it.ID,
		UserID:      it.UserID,
		TriggerKind: opts.TriggerKind,
		Status:      domain.ExecRunning,
		StartedAt:   start,
	}
	if err := e.store.SaveExecution(exec); err != nil {
		return Summary{}, fmt.Errorf("open execution: %w", err)
	}

	dryRun := it.DryRun
	if opts.DryRunOverride != nil {
		dryRun = *opts.DryRunOverride
	}

	inv, err := e.inventory.ListAnnotatedContainers(ctx, it.UserID, inventory.Options{OnlyUpdates: false})
	if err != nil {
		return e.fail(exec, start, fmt.Errorf("list inventory: %w", err))
	}
	instances, err := e.inventory.Instances(it.UserID)
	if err != nil {
		return e.fail(exec, start, fmt.Errorf("list instances: %w", err))
	}
	lookup := inventory.NewInstanceLookup(instances)

	var slogger *slog.Logger
	if e.log != nil {
		slogger = e.log.Logger
	}
	matched := match.FindMatching(it, inv, lookup, true, slogger)
	exec.ContainersMatched = len(matched)

	// Empty-match short circuit (spec §4.6 edge case): nothing to do, but
	// the anchor still advances for scheduled triggers.
	if len(matched) == 0 {
		exec.Status = domain.ExecCompleted
		return e.finish(it, exec, start, opts)
	}

	groups := groupByStack(matched)

	rows := make([]domain.IntentExecutionContainer, 0, len(matched))
	var rowsMu sync.Mutex
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(group []match.MatchedContainer) {
			defer wg.Done()
			// Within a stack, upgrades run sequentially to avoid racing
			// on shared stack state; across stacks/standalone containers
			// they run concurrently.
			for _, mc := range group {
				row := e.upgradeOne(ctx, it, mc, dryRun, exec.ID)
				rowsMu.Lock()
				rows = append(rows, row)
				rowsMu.Unlock()
			}
		}(group)
	}
	wg.Wait()

	for _, row := range rows {
		if err := e.store.SaveExecutionContainer(row); err != nil && e.log != nil {
			e.log.Warn("failed to persist execution container row", "executionId", exec.ID, "error", err)
		}
		switch row.Status {
		case domain.OutcomeUpgraded:
			exec.ContainersUpgraded++
			metrics.ContainersUpgradedTotal.Inc()
		case domain.OutcomeFailed:
			exec.ContainersFailed++
			metrics.ContainersFailedTotal.Inc()
		case domain.OutcomeSkipped, domain.OutcomeDryRun:
			// A dry run previews every matched container without upgrading
			// any of them (spec §4.6 step 4: completed with
			// containersSkipped == containersMatched); lock-contention
			// skips count the same way.
			exec.ContainersSkipped++
			metrics.ContainersSkippedTotal.Inc()
			if row.Status == domain.OutcomeSkipped {
				metrics.LockContentionTotal.Inc()
			}
		}
	}

	switch {
	case exec.ContainersFailed > 0 && exec.ContainersUpgraded+exec.ContainersSkipped == 0:
		exec.Status = domain.ExecFailed
	case exec.ContainersFailed > 0:
		exec.Status = domain.ExecPartial
	default:
		exec.Status = domain.ExecCompleted
	}

	return e.finish(it, exec, start, opts)
}

// upgradeOne handles one matched container: acquire its lock, then either
// simulate (dry run), upgrade, or record a lock-contention skip.
func (e *Executor) upgradeOne(ctx context.Context, it domain.Intent, mc match.MatchedContainer, dryRun bool, executionID string) domain.IntentExecutionContainer {
	row := domain.IntentExecutionContainer{
		ID:            uuid.NewString(),
		ExecutionID:   executionID,
		ContainerID:   mc.ContainerID,
		ContainerName: mc.Name,
		Image:         mc.Image,
		InstanceID:    mc.InstanceID,
	}

	// Dry runs are an unconditional preview (spec §4.6 step 4): they never
	// touch the container and so never contend for its lock. Locking only
	// applies to the real-upgrade path (step 5).
	if !dryRun {
		key := lock.Key{InstanceID: mc.InstanceID, ContainerID: mc.ContainerID}
		owner := "intent:" + it.ID
		if !e.locks.Acquire(key, owner) {
			row.Status = domain.OutcomeSkipped
			msg := "locked-by-" + e.locks.Inspect(key).Owner
			row.ErrorMessage = &msg
			return row
		}
		defer e.locks.Release(key)
	}

	_, endpointNum := instance.SplitHostID(mc.EndpointID)
	target := upgrade.Target{
		InstanceURL: mc.InstanceURL,
		EndpointID:  endpointNum,
		ContainerID: mc.ContainerID,
		Name:        mc.Name,
		NewImageRef: mc.Image,
	}

	opStart := e.clock.Now()
	result, err := e.upgrader.Upgrade(ctx, target, dryRun)
	duration := e.clock.Since(opStart).Milliseconds()
	row.DurationMs = &duration

	if err != nil {
		row.Status = domain.OutcomeFailed
		msg := err.Error()
		row.ErrorMessage = &msg
		return row
	}

	if dryRun {
		row.Status = domain.OutcomeDryRun
	} else {
		row.Status = domain.OutcomeUpgraded
	}
	if result.OldImage != "" {
		row.OldImage = &result.OldImage
	}
	if result.NewImage != "" {
		row.NewImage = &result.NewImage
	}
	if result.OldDigest != "" {
		row.OldDigest = &result.OldDigest
	}
	if result.NewDigest != "" {
		row.NewDigest = &result.NewDigest
	}
	return row
}

// fail records a hard execution failure (inventory/listing errors that
// never reached the per-container stage).
func (e *Executor) fail(exec domain.IntentExecution, start time.Time, cause error) (Summary, error) {
	exec.Status = domain.ExecFailed
	msg := cause.Error()
	exec.ErrorMessage = &msg
	completed := e.clock.Now()
	exec.CompletedAt = &completed
	exec.DurationMs = e.clock.Since(start).Milliseconds()
	_ = e.store.SaveExecution(exec)
	return Summary{Execution: exec}, cause
}

// finish closes out exec, applies the anchor-update rule, persists the
// final row, and emits a single notification.
func (e *Executor) finish(it domain.Intent, exec domain.IntentExecution, start time.Time, opts Options) (Summary, error) {
	completed := e.clock.Now()
	exec.CompletedAt = &completed
	exec.DurationMs = e.clock.Since(start).Milliseconds()

	if err := e.store.SaveExecution(exec); err != nil {
		return Summary{Execution: exec}, fmt.Errorf("save execution: %w", err)
	}

	metrics.IntentExecutionsTotal.WithLabelValues(string(exec.Status), string(exec.TriggerKind)).Inc()
	metrics.IntentExecutionDuration.Observe(time.Duration(exec.DurationMs * int64(time.Millisecond)).Seconds())

	// Critical anchor rule (spec §4.6 / §4.7): a scheduled run's anchor is
	// the trigger's nominal fire time, never wall-clock completion time —
	// otherwise cumulative scheduler drift compounds run over run.
	anchor := completed
	if opts.TriggerKind == domain.TriggerScheduled && opts.TriggerTime != nil {
		anchor = *opts.TriggerTime
	}
	it.LastEvaluatedAt = &anchor
	it.LastExecutionID = &exec.ID
	if err := e.store.SaveIntent(it); err != nil && e.log != nil {
		e.log.Warn("failed to advance intent anchor", "intentId", it.ID, "error", err)
	}

	e.notifyOutcome(it, exec)
	return Summary{Execution: exec}, nil
}

func (e *Executor) notifyOutcome(it domain.Intent, exec domain.IntentExecution) {
	if e.notifier == nil {
		return
	}
	eventType := notify.EventUpdateSucceeded
	if exec.Status == domain.ExecFailed {
		eventType = notify.EventUpdateFailed
	}
	e.notifier.Notify(context.Background(), notify.Event{
		Type:          eventType,
		ContainerName: it.Name,
		Timestamp:     exec.CompletedAt.UTC(),
	})
}

// groupByStack partitions matched containers into sequential-execution
// groups: one group per stack name, plus one singleton group per
// standalone container (no stack), so standalone containers still run
// concurrently with every other group.
func groupByStack(matched []match.MatchedContainer) [][]match.MatchedContainer {
	byStack := make(map[string][]match.MatchedContainer)
	order := make([]string, 0, len(matched))
	var standalone [][]match.MatchedContainer

	for _, mc := range matched {
		if mc.StackName == nil || *mc.StackName == "" {
			standalone = append(standalone, []match.MatchedContainer{mc})
			continue
		}
		key := *mc.StackName
		if _, ok := byStack[key]; !ok {
			order = append(order, key)
		}
		byStack[key] = append(byStack[key], mc)
	}

	groups := make([][]match.MatchedContainer, 0, len(order)+len(standalone))
	for _, key := range order {
		groups = append(groups, byStack[key])
	}
	groups = append(groups, standalone...)
	return groups
}
