// Package batch implements the Batch Job Runner (spec §4.8): the two
// independent periodic sweeps — registry images in use, and user-tracked
// apps — that keep LatestDescriptor/TrackedApp rows current independent
// of any Intent.
//
// Grounded on internal/engine/scheduler.go's clock-driven Run loop,
// generalized from one global poll interval to one interval per
// (userId, jobKind), and on internal/engine/updater.go's Scan for the
// per-target "check, absorb per-target errors, abort whole run on
// rate-limit" shape.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Will-Luck/Docker-Sentinel/internal/clock"
	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
	"github.com/Will-Luck/Docker-Sentinel/internal/metrics"
	"github.com/Will-Luck/Docker-Sentinel/internal/notify"
	"github.com/Will-Luck/Docker-Sentinel/internal/resolver"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
)

// Tick is how often the runner re-checks every enabled job's due time.
const Tick = time.Minute

// InitialRunDelay is how soon after boot a job with no prior run at all
// gets its first scheduled run.
const InitialRunDelay = 30 * time.Second

// Runner drives both batch sweep kinds for every user.
type Runner struct {
	store    *store.Store
	resolver *resolver.Resolver
	notifier *notify.Multi
	clock    clock.Clock
	log      *logging.Logger

	mu      sync.Mutex
	nextRun map[string]time.Time // cache key -> next scheduled run, per spec's "cached per-config" rule
	running map[string]bool
}

func cacheKey(userID string, kind domain.JobKind) string {
	return userID + "::" + string(kind)
}

// New builds a Runner.
func New(st *store.Store, res *resolver.Resolver, notifier *notify.Multi, clk clock.Clock, log *logging.Logger) *Runner {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Runner{
		store:    st,
		resolver: res,
		notifier: notifier,
		clock:    clk,
		log:      log,
		nextRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
	}
}

// Run ticks once per Tick until ctx is cancelled, starting any job whose
// cached nextRun has come due.
func (r *Runner) Run(ctx context.Context) error {
	r.evaluateAll(ctx)
	for {
		select {
		case <-r.clock.After(Tick):
			r.evaluateAll(ctx)
		case <-ctx.Done():
			if r.log != nil {
				r.log.Info("batch runner stopped")
			}
			return nil
		}
	}
}

func (r *Runner) evaluateAll(ctx context.Context) {
	configs, err := r.store.ListEnabledBatchJobConfigs()
	if err != nil {
		if r.log != nil {
			r.log.Warn("failed to list batch job configs", "error", err)
		}
		return
	}

	now := r.clock.Now()
	for _, cfg := range configs {
		due, ok := r.dueTime(cfg, now)
		if !ok || now.Before(due) {
			continue
		}
		if !r.tryClaim(cfg.UserID, cfg.JobKind) {
			continue
		}
		go func(cfg domain.BatchJobConfig) {
			defer r.release(cfg.UserID, cfg.JobKind)
			if _, err := r.RunOnce(ctx, cfg.UserID, cfg.JobKind, false); err != nil && r.log != nil {
				r.log.Warn("batch run failed", "userId", cfg.UserID, "jobKind", cfg.JobKind, "error", err)
			}
			// The next due time is recomputed from the run that just
			// completed, not from wall-clock "now" — this is what keeps
			// the cached value from drifting on every poll.
			r.mu.Lock()
			delete(r.nextRun, cacheKey(cfg.UserID, cfg.JobKind))
			r.mu.Unlock()
		}(cfg)
	}
}

// dueTime returns cfg's next scheduled run, computing and caching it on
// first sight (or after the cache was cleared by a just-completed run) per
// spec §4.8's scheduling rule.
func (r *Runner) dueTime(cfg domain.BatchJobConfig, now time.Time) (time.Time, bool) {
	key := cacheKey(cfg.UserID, cfg.JobKind)

	r.mu.Lock()
	if t, ok := r.nextRun[key]; ok {
		r.mu.Unlock()
		return t, true
	}
	r.mu.Unlock()

	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		return time.Time{}, false
	}

	var next time.Time
	last, found, err := r.store.LatestBatchRun(cfg.UserID, cfg.JobKind)
	switch {
	case err != nil:
		return time.Time{}, false
	case !found:
		next = now.Add(InitialRunDelay)
	case last.CompletedAt != nil:
		next = last.CompletedAt.Add(interval)
	case last.Status == domain.BatchRunning:
		next = last.StartedAt.Add(interval)
	default:
		next = now.Add(interval)
	}

	r.mu.Lock()
	r.nextRun[key] = next
	r.mu.Unlock()
	return next, true
}

func (r *Runner) tryClaim(userID string, kind domain.JobKind) bool {
	key := cacheKey(userID, kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[key] {
		return false
	}
	r.running[key] = true
	return true
}

func (r *Runner) release(userID string, kind domain.JobKind) {
	key := cacheKey(userID, kind)
	r.mu.Lock()
	delete(r.running, key)
	r.mu.Unlock()
}

// RunOnce executes one sweep for (userID, jobKind) to completion. Exposed
// directly so a "run now" HTTP handler can start an isManual run without
// waiting for the next tick.
func (r *Runner) RunOnce(ctx context.Context, userID string, kind domain.JobKind, isManual bool) (domain.BatchRun, error) {
	start := r.clock.Now()
	run := domain.BatchRun{
		ID:        fmt.Sprintf("%s-%d", userID, start.UnixNano()),
		UserID:    userID,
		JobKind:   kind,
		Status:    domain.BatchRunning,
		StartedAt: start,
		IsManual:  isManual,
	}
	if err := r.store.SaveBatchRun(run); err != nil {
		return run, fmt.Errorf("open batch run: %w", err)
	}

	var logs strings.Builder
	var sweepErr error
	switch kind {
	case domain.JobRegistrySweep:
		sweepErr = r.sweepRegistry(ctx, userID, &run, &logs)
	case domain.JobTrackedAppSweep:
		sweepErr = r.sweepTrackedApps(ctx, userID, &run, &logs)
	default:
		sweepErr = fmt.Errorf("unknown job kind %q", kind)
	}

	completed := r.clock.Now()
	run.CompletedAt = &completed
	duration := r.clock.Since(start).Milliseconds()
	run.DurationMs = &duration
	run.Logs = logs.String()

	if sweepErr != nil {
		run.Status = domain.BatchFailed
		msg := sweepErr.Error()
		run.ErrorMessage = &msg
	} else {
		run.Status = domain.BatchCompleted
	}

	if err := r.store.SaveBatchRun(run); err != nil {
		return run, fmt.Errorf("save batch run: %w", err)
	}

	metrics.BatchRunsTotal.WithLabelValues(string(kind), string(run.Status)).Inc()
	if run.DurationMs != nil {
		metrics.BatchRunDuration.WithLabelValues(string(kind)).Observe(float64(*run.DurationMs) / 1000)
	}
	return run, nil
}

// sweepRegistry resolves the latest upstream artifact for every registry
// image currently deployed across the user's inventory.
func (r *Runner) sweepRegistry(ctx context.Context, userID string, run *domain.BatchRun, logs *strings.Builder) error {
	images, err := r.store.ListDeployedImagesForUser(userID)
	if err != nil {
		return fmt.Errorf("list deployed images: %w", err)
	}

	for _, img := range images {
		run.ContainersChecked++

		prev, hadPrev, err := r.store.GetLatestDescriptorForImage(userID, img.Repo, img.Tag)
		if err != nil {
			fmt.Fprintf(logs, "image %s: load previous descriptor failed: %v\n", img.ImageRef, err)
			continue
		}

		latest, err := r.resolver.ResolveLatest(ctx, img.ImageRef, img.Tag, "", "", false)
		var rlErr *resolver.RateLimitError
		if asRateLimit(err, &rlErr) {
			// A provider rate-limit aborts the whole run; already-checked
			// targets keep their results, untouched ones are left alone.
			return rlErr
		}
		if latest == nil {
			fmt.Fprintf(logs, "image %s: no upstream result\n", img.ImageRef)
			continue
		}

		wasUpdate := hadPrev && resolver.HasUpdate(&img.CurrentDigestFull, nil, resolver.Latest{Digest: prev.Digest})
		nowUpdate := resolver.HasUpdate(&img.CurrentDigestFull, nil, *latest)

		desc := domain.LatestDescriptor{
			UserID: userID, Repo: img.Repo, Tag: img.Tag,
			Digest: latest.Digest, ResolvedTag: &latest.Tag,
			PublishedAt: latest.PublishedAt, ResolvedAt: r.clock.Now(),
		}
		if err := r.store.SaveLatestDescriptor(desc); err != nil {
			fmt.Fprintf(logs, "image %s: save descriptor failed: %v\n", img.ImageRef, err)
			continue
		}

		if nowUpdate && !wasUpdate {
			run.ContainersUpdated++
			metrics.BatchUpdatesDetectedTotal.WithLabelValues(string(domain.JobRegistrySweep)).Inc()
			r.notify(notify.EventUpdateAvailable, img.ImageRef)
			fmt.Fprintf(logs, "image %s: update newly detected\n", img.ImageRef)
		}
	}
	return nil
}

// sweepTrackedApps resolves the latest release for every app the user is
// tracking independent of any deployed container.
func (r *Runner) sweepTrackedApps(ctx context.Context, userID string, run *domain.BatchRun, logs *strings.Builder) error {
	apps, err := r.store.ListTrackedApps(userID)
	if err != nil {
		return fmt.Errorf("list tracked apps: %w", err)
	}

	for _, app := range apps {
		run.ContainersChecked++

		var latest *resolver.Latest
		var err error
		switch app.SourceKind {
		case domain.SourceKindForgeA, domain.SourceKindForgeB:
			latest, err = r.resolver.ResolveForgeLatest(ctx, string(app.SourceKind), app.SourceRef)
		default:
			latest, err = r.resolver.ResolveLatest(ctx, app.SourceRef, "latest", "", "", false)
		}

		var rlErr *resolver.RateLimitError
		if asRateLimit(err, &rlErr) {
			return rlErr
		}
		if latest == nil {
			fmt.Fprintf(logs, "app %s: no upstream result\n", app.Name)
			continue
		}

		wasUpdate := app.HasUpdate
		app.LatestDigest = latest.Digest
		if latest.Tag != "" {
			app.LatestVersion = &latest.Tag
		}
		app.LatestPublishedAt = latest.PublishedAt
		now := r.clock.Now()
		app.LastChecked = &now
		app.HasUpdate = resolver.HasUpdate(app.CurrentDigest, app.CurrentVersion, *latest)

		if err := r.store.SaveTrackedApp(app); err != nil {
			fmt.Fprintf(logs, "app %s: save failed: %v\n", app.Name, err)
			continue
		}

		if app.HasUpdate && !wasUpdate {
			run.ContainersUpdated++
			metrics.BatchUpdatesDetectedTotal.WithLabelValues(string(domain.JobTrackedAppSweep)).Inc()
			r.notify(notify.EventVersionAvailable, app.Name)
			fmt.Fprintf(logs, "app %s: update newly detected\n", app.Name)
		}
	}
	return nil
}

func (r *Runner) notify(eventType notify.EventType, name string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(context.Background(), notify.Event{
		Type: eventType, ContainerName: name, Timestamp: r.clock.Now(),
	})
}

// asRateLimit is errors.As with an already-typed target, used so callers
// don't need to re-declare the *resolver.RateLimitError var at each call
// site.
func asRateLimit(err error, target **resolver.RateLimitError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}
