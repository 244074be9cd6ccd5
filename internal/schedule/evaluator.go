// Package schedule implements the Cron Evaluator & Scheduler (spec §4.7):
// a per-minute tick that advances every enabled, cron-scheduled intent to
// its most recent missed fire point and hands it to the Intent Executor.
//
// Grounded on internal/engine/scheduler.go's Run loop shape (clock-driven
// select loop, runtime interval changes via a reset channel), generalized
// from one fixed poll interval to one cron.Schedule per intent.
package schedule

import (
	"context"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/Will-Luck/Docker-Sentinel/internal/clock"
	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/intent"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
	"github.com/Will-Luck/Docker-Sentinel/internal/metrics"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
)

// Tick is how often the evaluator wakes up to check every scheduled
// intent's anchor against its cron expression.
const Tick = time.Minute

// IntentExecutor runs one intent to completion. Satisfied by *intent.Executor.
type IntentExecutor interface {
	Execute(ctx context.Context, it domain.Intent, opts intent.Options) (intent.Summary, error)
}

// Evaluator is the Cron Evaluator & Scheduler: on every tick it computes
// each scheduled intent's most recently missed fire point and, if any,
// executes it once.
type Evaluator struct {
	store    *store.Store
	executor IntentExecutor
	clock    clock.Clock
	log      *logging.Logger

	resetCh chan struct{}

	mu      sync.Mutex
	running map[string]bool // intentID -> an execution from this evaluator is in flight
}

// New builds an Evaluator.
func New(st *store.Store, executor IntentExecutor, clk clock.Clock, log *logging.Logger) *Evaluator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Evaluator{
		store:    st,
		executor: executor,
		clock:    clk,
		log:      log,
		resetCh:  make(chan struct{}, 1),
		running:  make(map[string]bool),
	}
}

// Run ticks once per Tick until ctx is cancelled, evaluating every
// scheduled intent on each wake. An initial pass runs immediately so a
// long-overdue intent doesn't wait a full tick after boot.
func (e *Evaluator) Run(ctx context.Context) error {
	e.evaluateAll(ctx)
	for {
		select {
		case <-e.clock.After(Tick):
			e.evaluateAll(ctx)
		case <-e.resetCh:
			// Wake early (e.g. an intent was just re-enabled); the next
			// loop iteration re-arms the normal tick.
			e.evaluateAll(ctx)
		case <-ctx.Done():
			if e.log != nil {
				e.log.Info("cron evaluator stopped")
			}
			return nil
		}
	}
}

// Nudge wakes the evaluator early, outside its normal tick — called by
// controllers after an anchor-reset event (enable, schedule edit).
func (e *Evaluator) Nudge() {
	select {
	case e.resetCh <- struct{}{}:
	default:
	}
}

func (e *Evaluator) evaluateAll(ctx context.Context) {
	intents, err := e.store.ListAllScheduledIntents()
	if err != nil {
		if e.log != nil {
			e.log.Warn("failed to list scheduled intents", "error", err)
		}
		return
	}

	now := e.clock.Now()
	for _, it := range intents {
		// Each intent's execution can block on real I/O for a while; run
		// it off the tick goroutine so one slow intent never delays the
		// others or the next tick's due-check.
		go e.evaluateOne(ctx, it, now)
	}
}

// evaluateOne computes it's most recent missed fire point, if any, and
// executes it. Per spec §4.7: when several cron points have been missed
// since the anchor, only the most recent fires and becomes the new
// anchor — older missed points are coalesced, never replayed.
func (e *Evaluator) evaluateOne(ctx context.Context, it domain.Intent, now time.Time) {
	if it.ScheduleCron == nil || *it.ScheduleCron == "" {
		return
	}
	sched, err := cron.ParseStandard(*it.ScheduleCron)
	if err != nil {
		if e.log != nil {
			e.log.Warn("invalid cron expression", "intentId", it.ID, "cron", *it.ScheduleCron, "error", err)
		}
		return
	}

	fire, ok := mostRecentMissed(sched, it.AnchorBasis(), now)
	if !ok {
		return
	}

	// Never start a second execution of the same intent while one is
	// still running (spec §5: "will not start a new execution for an
	// intent while the previous one is still running").
	if !e.tryClaim(it.ID) {
		return
	}
	defer e.release(it.ID)

	if e.log != nil {
		e.log.Info("cron fire", "intentId", it.ID, "fireTime", fire)
	}

	triggerTime := fire
	_, err = e.executor.Execute(ctx, it, intent.Options{
		TriggerKind: domain.TriggerScheduled,
		TriggerTime: &triggerTime,
	})
	if err != nil {
		metrics.CronFiresTotal.WithLabelValues("failed").Inc()
		if e.log != nil {
			e.log.Warn("scheduled intent execution failed", "intentId", it.ID, "error", err)
		}
		return
	}
	metrics.CronFiresTotal.WithLabelValues("fired").Inc()
}

// mostRecentMissed walks sched forward from anchor and returns the latest
// fire point that is still <= now, discarding any earlier ones it passed
// through along the way. ok is false when nothing has come due yet.
func mostRecentMissed(sched cron.Schedule, anchor, now time.Time) (fire time.Time, ok bool) {
	point := anchor
	for {
		next := sched.Next(point)
		if next.After(now) {
			return fire, ok
		}
		fire, ok = next, true
		point = next
	}
}

func (e *Evaluator) tryClaim(intentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[intentID] {
		return false
	}
	e.running[intentID] = true
	return true
}

func (e *Evaluator) release(intentID string) {
	e.mu.Lock()
	delete(e.running, intentID)
	e.mu.Unlock()
}
