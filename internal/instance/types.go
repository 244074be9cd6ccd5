// Package instance is the client for a remote container-orchestrator
// endpoint (spec's Instance/Endpoint). It generalizes the teacher's
// internal/portainer package — which hard-coded a single product's API
// shape — into the spec's multi-tenant Instance model: many users, each
// with many instances, each exposing many endpoints (sub-partitions, e.g.
// managed hosts), behind one narrow capability interface.
package instance

import (
	"encoding/json"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
)

// EndpointType mirrors the upstream environment-type enum (adapted from
// internal/portainer/types.go's EndpointType).
type EndpointType int

const (
	EndpointDocker      EndpointType = 1
	EndpointAgentDocker EndpointType = 2
	EndpointEdgeAgent   EndpointType = 4
)

// EndpointStatus mirrors the upstream environment status.
type EndpointStatus int

const (
	StatusUp   EndpointStatus = 1
	StatusDown EndpointStatus = 2
)

// Endpoint is a sub-partition inside an Instance (spec glossary).
type Endpoint struct {
	ID     int            `json:"Id"`
	Name   string         `json:"Name"`
	URL    string         `json:"URL"`
	Type   EndpointType   `json:"Type"`
	Status EndpointStatus `json:"Status"`
}

// IsDocker reports whether this endpoint can be inventoried/upgraded.
func (e Endpoint) IsDocker() bool {
	return e.Type == EndpointDocker || e.Type == EndpointAgentDocker || e.Type == EndpointEdgeAgent
}

// StackType mirrors the upstream stack-kind enum.
type StackType int

const (
	StackSwarm      StackType = 1
	StackCompose    StackType = 2
	StackKubernetes StackType = 3
)

// EnvVar is a stack-level environment variable.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Stack is a logical grouping of containers deployed together.
type Stack struct {
	ID         int       `json:"Id"`
	Name       string    `json:"Name"`
	Type       StackType `json:"Type"`
	EndpointID int       `json:"EndpointId"`
	Env        []EnvVar  `json:"Env"`
}

// RemoteContainer is a container as reported by the remote endpoint,
// before stack-membership enrichment (adapted from
// internal/portainer/types.go's Container).
type RemoteContainer struct {
	ID      string            `json:"Id"`
	Names   []string          `json:"Names"`
	Image   string            `json:"Image"`
	ImageID string            `json:"ImageID"`
	State   string            `json:"State"`
	Status  string            `json:"Status"`
	Labels  map[string]string `json:"Labels"`
	Created int64             `json:"Created"`
}

// Name strips the leading slash the remote API prefixes container names
// with.
func (c RemoteContainer) Name() string {
	if len(c.Names) == 0 {
		return ""
	}
	n := c.Names[0]
	if len(n) > 0 && n[0] == '/' {
		return n[1:]
	}
	return n
}

// StackName reads the compose-project label, the same label docker
// compose (and the teacher's portainer package) uses to associate a
// container with its stack.
func (c RemoteContainer) StackName() string {
	return c.Labels["com.docker.compose.project"]
}

// InspectResponse is the subset of a container inspect response this
// package needs to snapshot and recreate a container, using moby's typed
// Config/HostConfig/NetworkSettings rather than the teacher's ad-hoc JSON
// structs — the remote endpoint's API is a Docker-Engine-API passthrough,
// so the same typed structs internal/docker used against a local daemon
// apply here too.
type InspectResponse struct {
	ID              string                `json:"Id"`
	Name            string                `json:"Name"`
	Image           string                `json:"Image"`
	Created         string                `json:"Created"`
	State           *container.State      `json:"State"`
	Config          *container.Config     `json:"Config"`
	HostConfig      *container.HostConfig `json:"HostConfig"`
	NetworkSettings json.RawMessage       `json:"NetworkSettings"`
}

// Networks extracts the per-network endpoint settings from
// NetworkSettings for use in a create-container call.
func (r InspectResponse) Networks() map[string]*network.EndpointSettings {
	var ns struct {
		Networks map[string]*network.EndpointSettings `json:"Networks"`
	}
	if len(r.NetworkSettings) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.NetworkSettings, &ns); err != nil {
		return nil
	}
	return ns.Networks
}

// ImageRef is a (possibly unused) image reference on an instance,
// supplementing §6's unused-image endpoints (SPEC_FULL.md Supplementary
// Features).
type ImageRef struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	EndpointID int    `json:"endpoint_id"`
	RepoTag    string `json:"repo_tag"`
}
