package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ForgeAProvider implements Provider against a GitHub-shaped release API:
// GET /repos/{ref}/releases/latest and GET /repos/{ref}/releases/tags/{tag}.
// Adapted from internal/registry/releases.go's fetchGitHubRelease, which
// the teacher only used for by-tag lookups; this adds the "latest
// release" endpoint required by spec §4.1's resolveForgeLatest.
type ForgeAProvider struct {
	httpClient *http.Client
	baseURL    string
	token      func() string
}

// NewForgeAProvider builds a GitHub-shaped forge provider. baseURL
// defaults to the public GitHub API when empty (self-hosted GitHub
// Enterprise deployments can override it).
func NewForgeAProvider(baseURL string, token func() string) *ForgeAProvider {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &ForgeAProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

type githubRelease struct {
	TagName     string `json:"tag_name"`
	HTMLURL     string `json:"html_url"`
	PublishedAt string `json:"published_at"`
}

func (p *ForgeAProvider) ResolveLatest(ctx context.Context, repo string) (*Latest, error) {
	rel, err := p.fetch(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", p.baseURL, repo))
	if err != nil {
		return nil, err
	}
	if rel == nil || rel.TagName == "" {
		// No tag on the release: do not invent one (§4.1).
		return nil, nil
	}
	return githubReleaseToLatest(rel), nil
}

func (p *ForgeAProvider) ResolveByTag(ctx context.Context, repo, tag string) (*Latest, error) {
	// Try with and without a leading 'v' prefix (§4.1 resolveForgeByTag),
	// adapted from internal/registry/releases.go's fetchGitHubRelease.
	tags := []string{tag}
	if !strings.HasPrefix(tag, "v") {
		tags = append(tags, "v"+tag)
	} else {
		tags = append(tags, strings.TrimPrefix(tag, "v"))
	}

	var lastErr error
	for _, t := range tags {
		rel, err := p.fetch(ctx, fmt.Sprintf("%s/repos/%s/releases/tags/%s", p.baseURL, repo, t))
		if err != nil {
			lastErr = err
			continue
		}
		if rel != nil {
			return githubReleaseToLatest(rel), nil
		}
	}
	return nil, lastErr
}

func (p *ForgeAProvider) fetch(ctx context.Context, url string) (*githubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if p.token != nil {
		if tok := p.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return nil, &RateLimitError{Registry: "forge-A"}
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("releases endpoint returned %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &rel, nil
}

func githubReleaseToLatest(rel *githubRelease) *Latest {
	l := &Latest{Tag: rel.TagName}
	if rel.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, rel.PublishedAt); err == nil {
			l.PublishedAt = &t
		}
	}
	return l
}

// ForgeBProvider implements Provider against a GitLab-shaped release API:
// GET /projects/{ref}/releases (newest first) and GET
// /projects/{ref}/releases/{tag}. Its wire shape differs from forge A
// (releases are listed rather than having a dedicated "/latest" endpoint,
// and the project reference is URL-path-escaped), exercising the "one
// capability set, multiple implementations" guidance from spec §9 with a
// genuinely distinct provider shape rather than a second GitHub clone.
type ForgeBProvider struct {
	httpClient *http.Client
	baseURL    string
	token      func() string
}

func NewForgeBProvider(baseURL string, token func() string) *ForgeBProvider {
	if baseURL == "" {
		baseURL = "https://gitlab.com/api/v4"
	}
	return &ForgeBProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

type gitlabRelease struct {
	TagName     string `json:"tag_name"`
	ReleasedAt  string `json:"released_at"`
	Links       struct {
		Self string `json:"self"`
	} `json:"_links"`
}

func (p *ForgeBProvider) ResolveLatest(ctx context.Context, projectRef string) (*Latest, error) {
	var releases []gitlabRelease
	if err := p.fetchList(ctx, fmt.Sprintf("%s/projects/%s/releases?order_by=released_at&sort=desc&per_page=1", p.baseURL, pathEscape(projectRef)), &releases); err != nil {
		return nil, err
	}
	if len(releases) == 0 || releases[0].TagName == "" {
		return nil, nil
	}
	return gitlabReleaseToLatest(&releases[0]), nil
}

func (p *ForgeBProvider) ResolveByTag(ctx context.Context, projectRef, tag string) (*Latest, error) {
	tags := []string{tag}
	if !strings.HasPrefix(tag, "v") {
		tags = append(tags, "v"+tag)
	} else {
		tags = append(tags, strings.TrimPrefix(tag, "v"))
	}

	var lastErr error
	for _, t := range tags {
		var rel gitlabRelease
		found, err := p.fetchOne(ctx, fmt.Sprintf("%s/projects/%s/releases/%s", p.baseURL, pathEscape(projectRef), t), &rel)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			return gitlabReleaseToLatest(&rel), nil
		}
	}
	return nil, lastErr
}

func (p *ForgeBProvider) fetchList(ctx context.Context, url string, out *[]gitlabRelease) error {
	resp, err := p.do(ctx, url)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *ForgeBProvider) fetchOne(ctx context.Context, url string, out *gitlabRelease) (bool, error) {
	resp, err := p.do(ctx, url)
	if err != nil {
		return false, err
	}
	if resp == nil {
		return false, nil
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

func (p *ForgeBProvider) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if p.token != nil {
		if tok := p.token(); tok != "" {
			req.Header.Set("PRIVATE-TOKEN", tok)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, &RateLimitError{Registry: "forge-B"}
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("releases endpoint returned %d", resp.StatusCode)
	}
	return resp, nil
}

func gitlabReleaseToLatest(rel *gitlabRelease) *Latest {
	l := &Latest{Tag: rel.TagName}
	if rel.ReleasedAt != "" {
		if t, err := time.Parse(time.RFC3339, rel.ReleasedAt); err == nil {
			l.PublishedAt = &t
		}
	}
	return l
}

func pathEscape(s string) string {
	return strings.ReplaceAll(s, "/", "%2F")
}
