package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
)

// Auth carries the opaque credential payload for one instance: either a
// bearer token or a username/password pair, matching domain.AuthKind.
type Auth struct {
	Token    string
	Username string
	Password string
}

// Client talks to one remote instance's HTTP API, adapted from
// internal/portainer/client.go (same header-per-request auth style, same
// get/post/put/delete helper shape), generalized to accept either a
// bearer token or basic auth.
type Client struct {
	baseURL    string
	auth       Auth
	httpClient *http.Client
}

// NewClient builds a Client for the instance at baseURL.
func NewClient(baseURL string, auth Auth) *Client {
	return &Client{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) authenticate(req *http.Request) {
	if c.auth.Token != "" {
		req.Header.Set("X-API-Key", c.auth.Token)
		return
	}
	if c.auth.Username != "" {
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// TestConnection verifies the instance's base URL and credentials work.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/endpoints", nil, new([]Endpoint))
}

// ListEndpoints lists the instance's sub-partitions.
func (c *Client) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var eps []Endpoint
	err := c.do(ctx, http.MethodGet, "/api/endpoints", nil, &eps)
	return eps, err
}

// ListStacks lists all stacks visible on the instance.
func (c *Client) ListStacks(ctx context.Context) ([]Stack, error) {
	var stacks []Stack
	err := c.do(ctx, http.MethodGet, "/api/stacks", nil, &stacks)
	return stacks, err
}

// ListContainers lists containers on the given endpoint.
func (c *Client) ListContainers(ctx context.Context, endpointID int) ([]RemoteContainer, error) {
	var out []RemoteContainer
	path := fmt.Sprintf("/api/endpoints/%d/docker/containers/json?all=1", endpointID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// InspectContainer fetches the full inspect record for recreation.
func (c *Client) InspectContainer(ctx context.Context, endpointID int, containerID string) (*InspectResponse, error) {
	var insp InspectResponse
	path := fmt.Sprintf("/api/endpoints/%d/docker/containers/%s/json", endpointID, containerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &insp); err != nil {
		return nil, err
	}
	return &insp, nil
}

// StopContainer stops a container with a bounded timeout (spec §4.5 step 3).
func (c *Client) StopContainer(ctx context.Context, endpointID int, containerID string, timeoutSeconds int) error {
	path := fmt.Sprintf("/api/endpoints/%d/docker/containers/%s/stop?t=%d", endpointID, containerID, timeoutSeconds)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RemoveContainer removes a stopped container (spec §4.5 step 4).
func (c *Client) RemoveContainer(ctx context.Context, endpointID int, containerID string) error {
	path := fmt.Sprintf("/api/endpoints/%d/docker/containers/%s?v=1", endpointID, containerID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// PullImage pulls imageRef onto the target endpoint (spec §4.5 step 1).
func (c *Client) PullImage(ctx context.Context, endpointID int, imageRef string) error {
	path := fmt.Sprintf("/api/endpoints/%d/docker/images/create?fromImage=%s", endpointID, imageRef)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// createBody mirrors the Docker Engine API's container-create payload.
type createBody struct {
	Image            string                        `json:"Image"`
	Env              []string                      `json:"Env,omitempty"`
	Labels           map[string]string              `json:"Labels,omitempty"`
	HostConfig       *container.HostConfig          `json:"HostConfig,omitempty"`
	NetworkingConfig *network.NetworkingConfig      `json:"NetworkingConfig,omitempty"`
}

// CreateContainer creates a new container from a snapshotted config and a
// new image (spec §4.5 step 5).
func (c *Client) CreateContainer(ctx context.Context, endpointID int, name string, insp *InspectResponse, newImage string) (string, error) {
	body := createBody{
		Image:      newImage,
		HostConfig: insp.HostConfig,
	}
	if insp.Config != nil {
		body.Env = insp.Config.Env
		body.Labels = insp.Config.Labels
	}
	if nets := insp.Networks(); len(nets) > 0 {
		body.NetworkingConfig = &network.NetworkingConfig{EndpointsConfig: nets}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal create body: %w", err)
	}

	var resp struct {
		ID string `json:"Id"`
	}
	path := fmt.Sprintf("/api/endpoints/%d/docker/containers/create?name=%s", endpointID, name)
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(data), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// StartContainer starts a newly created container (spec §4.5 step 6).
func (c *Client) StartContainer(ctx context.Context, endpointID int, containerID string) error {
	path := fmt.Sprintf("/api/endpoints/%d/docker/containers/%s/start", endpointID, containerID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RedeployStack triggers a stack-wide redeploy, preserving its existing
// env vars (adapted from internal/portainer/client.go's RedeployStack).
func (c *Client) RedeployStack(ctx context.Context, stackID, endpointID int, env []EnvVar) error {
	body, err := json.Marshal(struct {
		Env       []EnvVar `json:"Env"`
		PullImage bool     `json:"pullImage"`
		Prune     bool     `json:"prune"`
	}{Env: env, PullImage: true, Prune: false})
	if err != nil {
		return fmt.Errorf("marshal redeploy body: %w", err)
	}
	path := fmt.Sprintf("/api/stacks/%d?endpointId=%d", stackID, endpointID)
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(body), nil)
}

// RemoveImage deletes an unused image from the target endpoint
// (SPEC_FULL.md Supplementary Features: unused-image cleanup).
func (c *Client) RemoveImage(ctx context.Context, endpointID int, imageID string) error {
	path := fmt.Sprintf("/api/endpoints/%d/docker/images/%s?force=1", endpointID, imageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListImages lists images present on the target endpoint.
func (c *Client) ListImages(ctx context.Context, endpointID int) ([]struct {
	ID       string   `json:"Id"`
	RepoTags []string `json:"RepoTags"`
}, error) {
	var out []struct {
		ID       string   `json:"Id"`
		RepoTags []string `json:"RepoTags"`
	}
	path := fmt.Sprintf("/api/endpoints/%d/docker/images/json", endpointID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}
