package resolver

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RegistryState is per-registry rate-limit bookkeeping, adapted from the
// teacher's internal/registry/ratelimit.go RegistryState.
type RegistryState struct {
	Limit       int
	Remaining   int
	ResetAt     time.Time
	HasLimits   bool
	LastUpdated time.Time
}

// RateLimiter tracks per-registry rate-limit headers and decides whether a
// caller may proceed, following internal/registry/ratelimit.go's
// RateLimitTracker. Unlike the teacher, which silently skips-or-stops
// inside its own scan loop, CanProceed here is consumed by the resolver to
// construct a distinguished *RateLimitError (spec §4.1) rather than
// absorb the condition itself — propagation is the caller's (batch
// runner's) responsibility.
type RateLimiter struct {
	mu         sync.Mutex
	registries map[string]*RegistryState
}

// NewRateLimiter creates an empty tracker.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{registries: make(map[string]*RegistryState)}
}

// Record parses rate-limit response headers (Docker-Hub-style
// RateLimit-Limit/RateLimit-Remaining with a ";w=seconds" window suffix,
// and GitHub-style X-RateLimit-* with an epoch reset) and updates the
// tracked state for registry.
func (t *RateLimiter) Record(registry string, headers http.Header) {
	registry = NormaliseRegistryHost(registry)
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.registries[registry]
	if !ok {
		st = &RegistryState{}
		t.registries[registry] = st
	}
	st.LastUpdated = time.Now()

	if limit := headers.Get("RateLimit-Limit"); limit != "" {
		if v, window, ok := parseRateLimitValue(limit); ok {
			st.Limit = v
			st.HasLimits = true
			if window > 0 {
				st.ResetAt = time.Now().Add(window)
			}
		}
	}
	if remaining := headers.Get("RateLimit-Remaining"); remaining != "" {
		if v, _, ok := parseRateLimitValue(remaining); ok {
			st.Remaining = v
			st.HasLimits = true
		}
	}
	if limit := headers.Get("X-RateLimit-Limit"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			st.Limit = v
			st.HasLimits = true
		}
	}
	if remaining := headers.Get("X-RateLimit-Remaining"); remaining != "" {
		if v, err := strconv.Atoi(remaining); err == nil {
			st.Remaining = v
			st.HasLimits = true
		}
	}
	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			st.ResetAt = time.Unix(epoch, 0)
			st.HasLimits = true
		}
	}
}

// parseRateLimitValue parses a Docker-Hub-style "100;w=21600" value,
// returning the numeric value and the window duration if present.
func parseRateLimitValue(raw string) (value int, window time.Duration, ok bool) {
	parts := strings.SplitN(raw, ";", 2)
	v, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	if len(parts) == 2 {
		w := strings.TrimSpace(parts[1])
		w = strings.TrimPrefix(w, "w=")
		if secs, err := strconv.Atoi(w); err == nil {
			window = time.Duration(secs) * time.Second
		}
	}
	return v, window, true
}

// CanProceed reports whether a request against registry is likely to
// succeed given the last-recorded rate-limit state, leaving reserve
// requests of headroom before declaring exhaustion.
func (t *RateLimiter) CanProceed(registry string, reserve int) bool {
	registry = NormaliseRegistryHost(registry)
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.registries[registry]
	if !ok || !st.HasLimits {
		return true
	}
	if !st.ResetAt.IsZero() && time.Now().After(st.ResetAt) {
		return true
	}
	return st.Remaining > reserve
}

// Status returns a snapshot of every tracked registry's state, kept as an
// ambient diagnostic even though no UI consumes it in this repository
// (SPEC_FULL.md Supplementary Features).
func (t *RateLimiter) Status() map[string]RegistryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]RegistryState, len(t.registries))
	for k, v := range t.registries {
		out[k] = *v
	}
	return out
}
