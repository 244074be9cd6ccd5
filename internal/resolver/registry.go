package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	movingTag = "latest"

	// maxManifestHEADs bounds how many manifest HEAD requests
	// ResolveLatest's moving-tag reverse resolution will issue against a
	// repo's tag list before giving up, matching
	// internal/registry/resolve.go's two-pass rationale: cheap tags
	// endpoint first, then a bounded number of expensive per-tag digest
	// lookups.
	maxManifestHEADs = 10
)

var manifestAccept = strings.Join([]string{
	"application/vnd.docker.distribution.manifest.v2+json",
	"application/vnd.docker.distribution.manifest.list.v2+json",
	"application/vnd.oci.image.manifest.v1+json",
	"application/vnd.oci.image.index.v1+json",
}, ", ")

// Credential is a registry login (basic auth) or bearer token.
type Credential struct {
	Token    string
	Username string
	Password string
}

// RegistryProvider implements Provider against a container registry's
// Docker Registry v2 HTTP API, adapted from internal/registry/{resolve,
// checker,tags}.go.
type RegistryProvider struct {
	httpClient *http.Client
	limiter    *RateLimiter
	cred       func(host string) *Credential
}

// NewRegistryProvider builds a registry provider. credFor resolves
// per-registry-host credentials via the opaque credential accessor.
func NewRegistryProvider(limiter *RateLimiter, credFor func(host string) *Credential) *RegistryProvider {
	return &RegistryProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
		cred:       credFor,
	}
}

// ResolveLatest resolves the manifest digest of imageRef's tag. When the
// tag is the moving tag "latest", it additionally reverse-resolves that
// digest to a concrete semver tag by scanning the tag list, per §4.1.
func (p *RegistryProvider) ResolveLatest(ctx context.Context, imageRef string) (*Latest, error) {
	return p.resolveTag(ctx, imageRef, movingTag)
}

// ResolveByTag resolves a specific tag's manifest digest, with no
// reverse-resolution attempt (the tag is already concrete).
func (p *RegistryProvider) ResolveByTag(ctx context.Context, imageRef, tag string) (*Latest, error) {
	digest, err := p.manifestDigest(ctx, imageRef, tag)
	if err != nil {
		return nil, err
	}
	if digest == "" {
		return nil, nil
	}
	return &Latest{Digest: &digest, Tag: tag}, nil
}

func (p *RegistryProvider) resolveTag(ctx context.Context, imageRef, tag string) (*Latest, error) {
	digest, err := p.manifestDigest(ctx, imageRef, tag)
	if err != nil {
		return nil, err
	}
	if digest == "" {
		return nil, nil
	}

	result := &Latest{Digest: &digest, Tag: tag}
	if tag == movingTag {
		if resolved, err := p.reverseResolveTag(ctx, imageRef, digest); err == nil && resolved != "" {
			result.Tag = resolved
		}
		// A failed reverse resolution is not an error: the moving tag is
		// reported as-is per §4.1.
	}
	return result, nil
}

func (p *RegistryProvider) host(imageRef string) string {
	host := RegistryHost(imageRef)
	if host == "docker.io" {
		return "registry-1.docker.io"
	}
	return host
}

func (p *RegistryProvider) manifestDigest(ctx context.Context, imageRef, tag string) (string, error) {
	host := p.host(imageRef)
	registryHost := RegistryHost(imageRef)

	if p.limiter != nil && !p.limiter.CanProceed(registryHost, 1) {
		return "", &RateLimitError{Registry: registryHost}
	}

	repo := RepoPath(imageRef)
	url := fmt.Sprintf("https://%s/v2/%s/manifests/%s", host, repo, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("create manifest request: %w", err)
	}
	req.Header.Set("Accept", manifestAccept)
	p.authenticate(req, registryHost)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if p.limiter != nil {
		p.limiter.Record(registryHost, resp.Header)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{Registry: registryHost}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("manifest endpoint returned %d", resp.StatusCode)
	}

	return resp.Header.Get("Docker-Content-Digest"), nil
}

func (p *RegistryProvider) authenticate(req *http.Request, registryHost string) {
	if p.cred == nil {
		return
	}
	cred := p.cred(registryHost)
	if cred == nil {
		return
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	} else if cred.Username != "" {
		req.SetBasicAuth(cred.Username, cred.Password)
	}
}

type tagListResponse struct {
	Tags []string `json:"tags"`
}

// reverseResolveTag scans the repo's tag list for a non-moving tag whose
// manifest digest equals targetDigest, bounded by maxManifestHEADs,
// adapted from internal/registry/resolve.go's ResolveVersions.
func (p *RegistryProvider) reverseResolveTag(ctx context.Context, imageRef, targetDigest string) (string, error) {
	registryHost := RegistryHost(imageRef)
	host := p.host(imageRef)
	repo := RepoPath(imageRef)

	url := fmt.Sprintf("https://%s/v2/%s/tags/list?n=10000", host, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	p.authenticate(req, registryHost)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tags endpoint returned %d", resp.StatusCode)
	}

	var list tagListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", err
	}

	candidates := make([]string, 0, len(list.Tags))
	for _, t := range list.Tags {
		if t != movingTag {
			candidates = append(candidates, t)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	checked := 0
	for _, tag := range candidates {
		if checked >= maxManifestHEADs {
			break
		}
		if p.limiter != nil && !p.limiter.CanProceed(registryHost, 1) {
			break
		}
		checked++
		digest, err := p.manifestDigest(ctx, imageRef, tag)
		if err != nil {
			continue
		}
		if digest == targetDigest {
			return tag, nil
		}
	}
	return "", fmt.Errorf("no matching tag found for digest")
}
