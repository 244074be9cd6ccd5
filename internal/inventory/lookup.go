package inventory

import "github.com/Will-Luck/Docker-Sentinel/internal/domain"

// InstanceLookup resolves an instance's base URL from the inventory the
// Matching Engine (internal/match) was just handed, avoiding a second
// store round trip per matched container. It implements
// match.InstanceLookup.
type InstanceLookup struct {
	byID map[string]string
}

// NewInstanceLookup builds a lookup from the instances backing a prior
// ListAnnotatedContainers call.
func NewInstanceLookup(instances []domain.Instance) InstanceLookup {
	byID := make(map[string]string, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst.URL
	}
	return InstanceLookup{byID: byID}
}

// InstanceURL implements match.InstanceLookup.
func (l InstanceLookup) InstanceURL(instanceID string) (string, bool) {
	url, ok := l.byID[instanceID]
	return url, ok
}
