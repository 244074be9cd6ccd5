// Package inventory implements the Container Inventory Service (spec
// §4.2): lists containers from each of a user's instances, correlates
// them to deployed-image records, and annotates each with hasUpdate by
// joining against the persisted LatestDescriptor.
//
// Grounded on internal/portainer/scanner.go's EndpointContainers (now
// internal/instance.Scanner) for the per-instance listing, and on
// internal/engine/updater.go's Scan loop for the annotate-against-registry
// step, generalized from a single local daemon to many user-registered
// instances.
package inventory

import (
	"context"
	"log/slog"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/instance"
	"github.com/Will-Luck/Docker-Sentinel/internal/match"
	"github.com/Will-Luck/Docker-Sentinel/internal/resolver"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
)

// ScannerFactory builds the per-instance scanner from stored credentials.
// The HTTP/auth plumbing behind it is an out-of-scope external
// collaborator (spec §1); this interface is the seam.
type ScannerFactory func(inst domain.Instance, auth instance.Auth) *instance.Scanner

// Service lists and annotates the container inventory for a user.
type Service struct {
	store      *store.Store
	credFor    func(userID, instanceID string) (instance.Auth, bool)
	newScanner ScannerFactory
	log        *slog.Logger
}

// New builds an inventory Service.
func New(st *store.Store, credFor func(userID, instanceID string) (instance.Auth, bool), newScanner ScannerFactory, log *slog.Logger) *Service {
	return &Service{store: st, credFor: credFor, newScanner: newScanner, log: log}
}

// Instances returns the user's registered instances, for building an
// InstanceLookup alongside ListAnnotatedContainers.
func (s *Service) Instances(userID string) ([]domain.Instance, error) {
	return s.store.ListInstances(userID)
}

// Options controls ListAnnotatedContainers.
type Options struct {
	OnlyUpdates bool
}

// ListAnnotatedContainers implements the §4.2 contract:
// listAnnotatedContainers(userId, {onlyUpdates}) -> [AnnotatedContainer].
// Stack grouping is a consumer concern; this returns a flat list.
func (s *Service) ListAnnotatedContainers(ctx context.Context, userID string, opts Options) ([]domain.AnnotatedContainer, error) {
	instances, err := s.store.ListInstances(userID)
	if err != nil {
		return nil, err
	}

	var out []domain.AnnotatedContainer
	for _, inst := range instances {
		auth, ok := s.credFor(userID, inst.ID)
		if !ok {
			if s.log != nil {
				s.log.Warn("no credentials for instance, skipping", "instanceId", inst.ID)
			}
			continue
		}

		scanner := s.newScanner(inst, auth)
		scanner.ResetCache()

		endpoints, err := scanner.Endpoints(ctx)
		if err != nil {
			if s.log != nil {
				s.log.Warn("list endpoints failed", "instanceId", inst.ID, "error", err)
			}
			continue
		}

		for _, ep := range endpoints {
			containers, err := scanner.EndpointContainers(ctx, ep)
			if err != nil {
				if s.log != nil {
					s.log.Warn("list containers failed", "instanceId", inst.ID, "endpointId", ep.ID, "error", err)
				}
				continue
			}
			for _, c := range containers {
				annotated, err := s.annotate(userID, inst, ep, c)
				if err != nil {
					if s.log != nil {
						s.log.Warn("annotate container failed", "container", c.Name, "error", err)
					}
					continue
				}
				if opts.OnlyUpdates && !annotated.HasUpdate {
					continue
				}
				out = append(out, annotated)
			}
		}
	}
	return out, nil
}

func (s *Service) annotate(userID string, inst domain.Instance, ep instance.Endpoint, c instance.Container) (domain.AnnotatedContainer, error) {
	registry := match.DeriveRegistry(c.Image)
	repo, tag := splitImage(c.Image)

	var stackName *string
	if c.StackName != "" {
		sn := c.StackName
		stackName = &sn
	}

	digest := c.ImageID
	cont := domain.Container{
		ContainerID:   c.ID,
		InstanceID:    inst.ID,
		EndpointID:    instance.HostID(inst.ID, ep.ID),
		Name:          c.Name,
		StackName:     stackName,
		Image:         c.Image,
		Status:        c.Status,
		State:         c.State,
		CurrentDigest: &digest,
	}

	if err := s.store.SaveDeployedImage(domain.DeployedImage{
		InstanceID:        inst.ID,
		ImageRef:          c.Image,
		Registry:          registry,
		Repo:              repo,
		Tag:               tag,
		CurrentDigestFull: digest,
	}); err != nil {
		return domain.AnnotatedContainer{}, err
	}

	hasUpdate := false
	if desc, found, err := s.store.GetLatestDescriptorForImage(userID, repo, tag); err == nil && found {
		cd := digest
		ct := tag
		hasUpdate = resolver.HasUpdate(&cd, &ct, resolver.Latest{
			Digest: desc.Digest,
			Tag:    derefStr(desc.ResolvedTag, desc.Tag),
		})
	}

	return domain.AnnotatedContainer{
		Container:   cont,
		Registry:    registry,
		InstanceURL: inst.URL,
		HasUpdate:   hasUpdate,
	}, nil
}

func derefStr(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}

// splitImage separates an image reference's repo path from its tag,
// using the same registry-port-safe colon rule as
// internal/resolver.ReplaceTag.
func splitImage(imageRef string) (repo, tag string) {
	lastSlash := -1
	for i := len(imageRef) - 1; i >= 0; i-- {
		if imageRef[i] == '/' {
			lastSlash = i
			break
		}
	}
	afterSlash := imageRef
	prefix := ""
	if lastSlash >= 0 {
		afterSlash = imageRef[lastSlash+1:]
		prefix = imageRef[:lastSlash+1]
	}
	for i := len(afterSlash) - 1; i >= 0; i-- {
		if afterSlash[i] == ':' {
			return prefix + afterSlash[:i], afterSlash[i+1:]
		}
	}
	return prefix + afterSlash, "latest"
}
