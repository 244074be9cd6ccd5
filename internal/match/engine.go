package match

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
)

// DefaultRegistry is reported for image references with no explicit
// registry host, matching §4.3's "derived from the image reference"
// edge case.
const DefaultRegistry = "docker.io"

// DeriveRegistry extracts the registry host from an image reference: the
// portion before the first '/' if it looks like a host (contains '.' or
// ':'); otherwise the reference is assumed to live on the default public
// registry.
func DeriveRegistry(imageRef string) string {
	idx := strings.Index(imageRef, "/")
	if idx < 0 {
		return DefaultRegistry
	}
	candidate := imageRef[:idx]
	if strings.ContainsAny(candidate, ".:") {
		return candidate
	}
	return DefaultRegistry
}

// InstanceLookup resolves an instance's base URL for enrichment; the
// Container Inventory Service provides the live implementation.
type InstanceLookup interface {
	InstanceURL(instanceID string) (string, bool)
}

// MatchedContainer is an AnnotatedContainer enriched with the owning
// instance's base URL, ready for the Upgrade Executor.
type MatchedContainer struct {
	domain.AnnotatedContainer
}

// FindMatching implements the Matching Engine contract from spec §4.3:
// findMatching(intent, userId, requireUpdate) -> [MatchedContainer].
func FindMatching(intent domain.Intent, inventory []domain.AnnotatedContainer, instances InstanceLookup, requireUpdate bool, log *slog.Logger) []MatchedContainer {
	// Defensive treatment of an all-empty inclusion set (§4.3 edge case):
	// creation-time validation rejects this, but if encountered anyway,
	// match nothing rather than everything.
	if len(intent.MatchContainers) == 0 && len(intent.MatchImages) == 0 &&
		len(intent.MatchInstances) == 0 && len(intent.MatchStacks) == 0 &&
		len(intent.MatchRegistries) == 0 {
		return nil
	}

	instanceIDs := make(map[string]bool, len(intent.MatchInstances))
	for _, id := range intent.MatchInstances {
		instanceIDs[id] = true
	}

	var out []MatchedContainer
	for _, c := range inventory {
		if requireUpdate && !c.HasUpdate {
			continue
		}
		if !matchesIntent(intent, c, instanceIDs) {
			continue
		}

		mc := MatchedContainer{AnnotatedContainer: c}
		if instances != nil {
			url, ok := instances.InstanceURL(c.InstanceID)
			if !ok {
				if log != nil {
					log.Warn("dropping container with orphan instance reference",
						"instanceId", c.InstanceID, "containerId", c.ContainerID)
				}
				continue
			}
			mc.InstanceURL = url
		}
		out = append(out, mc)
	}
	return out
}

func matchesIntent(intent domain.Intent, c domain.AnnotatedContainer, instanceIDs map[string]bool) bool {
	name := c.Name
	image := c.Image
	registry := c.Registry

	if !Include(intent.MatchContainers, &name) {
		return false
	}
	if !Include(intent.MatchImages, &image) {
		return false
	}
	if !matchInstanceSet(intent.MatchInstances, instanceIDs, c.InstanceID) {
		return false
	}
	if !Include(intent.MatchStacks, c.StackName) {
		return false
	}
	if !Include(intent.MatchRegistries, &registry) {
		return false
	}

	// Exclusions are evaluated strictly after all inclusions: exclude
	// wins on a tie (spec §9 Open Question, resolved as documented).
	if !Exclude(intent.ExcludeContainers, &name) {
		return false
	}
	if !Exclude(intent.ExcludeImages, &image) {
		return false
	}
	if !Exclude(intent.ExcludeStacks, c.StackName) {
		return false
	}
	if !Exclude(intent.ExcludeRegistries, &registry) {
		return false
	}
	return true
}

// matchInstanceSet implements §4.3's note that matchInstances is an exact
// numeric-ID set, not a glob list.
func matchInstanceSet(patterns []string, ids map[string]bool, instanceID string) bool {
	if len(patterns) == 0 {
		return true
	}
	return ids[instanceID]
}

// looksNumeric is kept for callers that need to validate matchInstances
// entries are well-formed IDs before storing an intent.
func looksNumeric(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
