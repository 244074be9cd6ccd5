// Package resolver implements the Upstream Resolver (spec §4.1): a unified
// interface over a container registry and two Git-forge release APIs,
// with registry-to-forge fallback and moving-tag reverse resolution.
//
// It generalizes the teacher's internal/registry package (which talks only
// to a single registry host per call, used standalone) behind the Provider
// interface {ResolveLatest, ResolveByTag}; published-at travels on the
// returned Latest rather than through a method of its own. The
// registry+forge fallback (Resolver) does not implement Provider.
package resolver

import (
	"context"
	"time"
)

// Release is the minimal shape a forge "latest release" or "release by
// tag" call returns (spec §4.1).
type Release struct {
	Tag         string
	PublishedAt *time.Time
	HTMLURL     *string
}

// Latest is the result of resolveLatest: digest, tag, published-at, with
// digest/publishedAt left nil when the provider can't supply them.
type Latest struct {
	Digest      *string
	Tag         string
	PublishedAt *time.Time
}

// Provider is the capability set every upstream source implements,
// following spec §9's "polymorphism across three upstream providers"
// guidance.
type Provider interface {
	// ResolveLatest returns the latest known artifact for ref (an image
	// coordinate for the registry provider, a repo coordinate for forges).
	ResolveLatest(ctx context.Context, ref string) (*Latest, error)
	// ResolveByTag returns the artifact for a specific tag/version.
	ResolveByTag(ctx context.Context, ref, tag string) (*Latest, error)
}

// RateLimitError is the distinguished, propagating error type required by
// §4.1/§4.8/§7: a provider rate-limit must halt the enclosing sweep rather
// than be absorbed like an ordinary transient failure.
type RateLimitError struct {
	Registry   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited by " + e.Registry
}
