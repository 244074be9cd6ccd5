package resolver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Will-Luck/Docker-Sentinel/internal/metrics"
)

// Resolver is the top-level Upstream Resolver (spec §4.1), composing the
// registry provider and the two forge providers with registry->forge
// fallback. Its methods take the fallback inputs (forge kind, forge ref,
// useFallback) as extra arguments, so it does not satisfy the Provider
// interface its constituents share.
type Resolver struct {
	registry *RegistryProvider
	forgeA   *ForgeAProvider
	forgeB   *ForgeBProvider
	log      *slog.Logger
}

// New builds a Resolver. Any provider may be nil if that source is not
// configured; resolveLatest then simply has nothing to fall back to.
func New(registry *RegistryProvider, forgeA *ForgeAProvider, forgeB *ForgeBProvider, log *slog.Logger) *Resolver {
	return &Resolver{registry: registry, forgeA: forgeA, forgeB: forgeB, log: log}
}

// ResolveLatest implements resolveLatest(repo, tag, {userId, forgeRefOpt,
// useFallback}): queries the registry for tag's manifest digest (with
// moving-tag reverse resolution inside RegistryProvider); on primary
// failure, when useFallback is true and forgeRef is non-empty, falls back
// to the forge's "latest release" feed, where digest stays nil.
func (r *Resolver) ResolveLatest(ctx context.Context, imageRef, tag string, forgeKind string, forgeRef string, useFallback bool) (*Latest, error) {
	var rlErr *RateLimitError

	if r.registry != nil {
		metrics.ResolverCallsTotal.WithLabelValues("registry").Inc()
		latest, err := r.registry.resolveTag(ctx, imageRef, tag)
		if err == nil {
			return latest, nil
		}
		if errors.As(err, &rlErr) {
			// Provider rate-limit must propagate, never be absorbed into
			// a fallback attempt (§4.1, §7).
			metrics.ResolverErrorsTotal.WithLabelValues("registry", "rate_limited").Inc()
			return nil, err
		}
		metrics.ResolverErrorsTotal.WithLabelValues("registry", "error").Inc()
		if r.log != nil {
			r.log.Warn("registry resolve failed", "image", imageRef, "error", err)
		}
		if !useFallback || forgeRef == "" {
			return nil, nil
		}
	}

	forge := r.forgeFor(forgeKind)
	if forge == nil {
		return nil, nil
	}
	metrics.ResolverCallsTotal.WithLabelValues(forgeKind).Inc()
	latest, err := forge.ResolveLatest(ctx, forgeRef)
	if err != nil {
		if errors.As(err, &rlErr) {
			metrics.ResolverErrorsTotal.WithLabelValues(forgeKind, "rate_limited").Inc()
			return nil, err
		}
		metrics.ResolverErrorsTotal.WithLabelValues(forgeKind, "error").Inc()
		if r.log != nil {
			r.log.Warn("forge resolve failed", "ref", forgeRef, "error", err)
		}
		return nil, nil
	}
	return latest, nil
}

// ResolveForgeLatest implements resolveForgeLatest(forgeKind, ref,
// tokenOpt).
func (r *Resolver) ResolveForgeLatest(ctx context.Context, forgeKind, ref string) (*Latest, error) {
	forge := r.forgeFor(forgeKind)
	if forge == nil {
		return nil, nil
	}
	metrics.ResolverCallsTotal.WithLabelValues(forgeKind).Inc()
	latest, err := forge.ResolveLatest(ctx, ref)
	if err != nil {
		reason := "error"
		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			reason = "rate_limited"
		}
		metrics.ResolverErrorsTotal.WithLabelValues(forgeKind, reason).Inc()
	}
	return latest, err
}

// ResolveForgeByTag implements resolveForgeByTag(forgeKind, ref, tag,
// tokenOpt).
func (r *Resolver) ResolveForgeByTag(ctx context.Context, forgeKind, ref, tag string) (*Latest, error) {
	forge := r.forgeFor(forgeKind)
	if forge == nil {
		return nil, nil
	}
	return forge.ResolveByTag(ctx, ref, tag)
}

func (r *Resolver) forgeFor(kind string) Provider {
	switch kind {
	case "forge-A":
		if r.forgeA == nil {
			return nil
		}
		return r.forgeA
	case "forge-B":
		if r.forgeB == nil {
			return nil
		}
		return r.forgeB
	default:
		return nil
	}
}
