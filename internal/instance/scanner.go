package instance

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Container is a RemoteContainer enriched with endpoint and stack
// membership, adapted from internal/portainer/scanner.go's
// PortainerContainer.
type Container struct {
	ID           string
	Name         string
	Image        string
	ImageID      string
	State        string
	Status       string
	Labels       map[string]string
	EndpointID   int
	EndpointName string
	StackID      int
	StackName    string
}

// Scanner wraps Client with per-cycle stack caching, adapted from
// internal/portainer/scanner.go's Scanner.
type Scanner struct {
	client *Client

	mu     sync.Mutex
	stacks []Stack
}

// NewScanner builds a Scanner backed by client.
func NewScanner(client *Client) *Scanner {
	return &Scanner{client: client}
}

// Client returns the underlying Client.
func (s *Scanner) Client() *Client { return s.client }

// ResetCache clears the cached stack list; call once per inventory sweep.
func (s *Scanner) ResetCache() {
	s.mu.Lock()
	s.stacks = nil
	s.mu.Unlock()
}

// Endpoints returns Docker endpoints that are currently up.
func (s *Scanner) Endpoints(ctx context.Context) ([]Endpoint, error) {
	all, err := s.client.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.IsDocker() && ep.Status == StatusUp {
			out = append(out, ep)
		}
	}
	return out, nil
}

// EndpointContainers lists containers for ep, enriched with stack
// membership. Stacks are fetched once per scan cycle via cachedStacks.
func (s *Scanner) EndpointContainers(ctx context.Context, ep Endpoint) ([]Container, error) {
	stacks, err := s.cachedStacks(ctx)
	if err != nil {
		return nil, err
	}

	byProject := make(map[string]Stack, len(stacks))
	for _, st := range stacks {
		if st.EndpointID == ep.ID {
			byProject[st.Name] = st
		}
	}

	raw, err := s.client.ListContainers(ctx, ep.ID)
	if err != nil {
		return nil, err
	}

	out := make([]Container, 0, len(raw))
	for _, rc := range raw {
		c := Container{
			ID:           rc.ID,
			Name:         rc.Name(),
			Image:        rc.Image,
			ImageID:      rc.ImageID,
			State:        rc.State,
			Status:       rc.Status,
			Labels:       rc.Labels,
			EndpointID:   ep.ID,
			EndpointName: ep.Name,
		}
		if project := rc.StackName(); project != "" {
			if st, ok := byProject[project]; ok {
				c.StackID = st.ID
				c.StackName = st.Name
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Scanner) cachedStacks(ctx context.Context) ([]Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stacks != nil {
		return s.stacks, nil
	}
	stacks, err := s.client.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	s.stacks = stacks
	return s.stacks, nil
}

// HostID returns a logical host identifier combining the instance and
// endpoint; the inventory service stores it as a container's EndpointID.
func HostID(instanceID string, endpointID int) string {
	return fmt.Sprintf("%s:%d", instanceID, endpointID)
}

// SplitHostID is the inverse of HostID: it recovers the instance ID and
// numeric endpoint ID a hostID was built from.
func SplitHostID(hostID string) (instanceID string, endpointID int) {
	idx := strings.LastIndex(hostID, ":")
	if idx < 0 {
		return hostID, 0
	}
	instanceID = hostID[:idx]
	fmt.Sscanf(hostID[idx+1:], "%d", &endpointID)
	return instanceID, endpointID
}
