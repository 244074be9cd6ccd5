// Package upgrade implements the Single-Container Upgrade Executor (spec
// §4.5): pull, snapshot, stop, remove, create, start and validate one
// container against a new image, with a best-effort rollback to the
// snapshotted config on failure.
//
// Grounded on internal/engine/updater.go's UpdateContainer /
// validateContainer / doRollback / cloneConfig pipeline, generalized from
// a single local Docker daemon to many user-registered instances talking
// through internal/instance.Client, and on internal/portainer/scanner.go's
// UpdateStandaloneContainer for the remote-API step shapes.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Will-Luck/Docker-Sentinel/internal/clock"
	"github.com/Will-Luck/Docker-Sentinel/internal/instance"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
)

// StepError wraps an error with the pipeline stage at which it occurred.
// Stage values: "inspect", "pull", "stop", "remove", "create", "start",
// "validate". Renamed from the teacher's finaliseError for the wider
// pipeline this executor covers.
type StepError struct {
	Stage string
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("upgrade step %s: %v", e.Stage, e.Err) }
func (e *StepError) Unwrap() error  { return e.Err }

// destructive reports whether the failing stage is the remove step or a
// later one, i.e. the old container may already be gone.
func (e *StepError) destructive() bool {
	switch e.Stage {
	case "remove", "create", "start", "validate":
		return true
	default:
		return false
	}
}

// SettleWindow is how long a newly started container is given to prove
// itself before validation (spec §4.5 step 7).
const SettleWindow = 10 * time.Second

// StopTimeoutSeconds bounds how long the old container is given to stop
// gracefully before the remote API forces it (spec §4.5 step 3).
const StopTimeoutSeconds = 30

// Target identifies the container being upgraded and the image to move
// it to.
type Target struct {
	InstanceURL string
	EndpointID  int
	ContainerID string
	Name        string
	NewImageRef string
}

// Result reports what the executor actually did, for the Intent Executor
// to fold into an IntentExecutionContainer row.
type Result struct {
	OldImage   string
	NewImage   string
	OldDigest  string
	NewDigest  string
	RolledBack bool
}

// ClientFactory builds the per-instance client the executor drives.
type ClientFactory func(instanceURL string) *instance.Client

// Executor performs one container's upgrade pipeline.
type Executor struct {
	newClient ClientFactory
	clock     clock.Clock
	log       *logging.Logger
}

// New builds an Executor.
func New(newClient ClientFactory, clk clock.Clock, log *logging.Logger) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{newClient: newClient, clock: clk, log: log}
}

// Upgrade runs the full pull->snapshot->stop->remove->create->start->validate
// pipeline against t, rolling back to the snapshotted config on failure.
// dryRun skips every mutating step and returns what would have happened.
func (e *Executor) Upgrade(ctx context.Context, t Target, dryRun bool) (Result, error) {
	client := e.newClient(t.InstanceURL)

	insp, err := client.InspectContainer(ctx, t.EndpointID, t.ContainerID)
	if err != nil {
		return Result{}, &StepError{Stage: "inspect", Err: err}
	}
	if insp.Config == nil {
		return Result{}, &StepError{Stage: "inspect", Err: fmt.Errorf("container config is nil for %s", t.Name)}
	}
	oldImage := insp.Config.Image

	if dryRun {
		return Result{OldImage: oldImage, NewImage: t.NewImageRef}, nil
	}

	if err := client.PullImage(ctx, t.EndpointID, t.NewImageRef); err != nil {
		return Result{}, &StepError{Stage: "pull", Err: err}
	}

	if err := client.StopContainer(ctx, t.EndpointID, t.ContainerID, StopTimeoutSeconds); err != nil {
		if e.log != nil {
			e.log.Warn("stop failed, proceeding with remove", "container", t.Name, "error", err)
		}
	}
	if err := client.RemoveContainer(ctx, t.EndpointID, t.ContainerID); err != nil {
		return Result{}, &StepError{Stage: "remove", Err: err}
	}

	newID, err := client.CreateContainer(ctx, t.EndpointID, t.Name, insp, t.NewImageRef)
	if err != nil {
		rolledBack := e.rollback(ctx, client, t, insp, oldImage)
		return Result{RolledBack: rolledBack}, &StepError{Stage: "create", Err: err}
	}

	if err := client.StartContainer(ctx, t.EndpointID, newID); err != nil {
		_ = client.RemoveContainer(ctx, t.EndpointID, newID)
		rolledBack := e.rollback(ctx, client, t, insp, oldImage)
		return Result{RolledBack: rolledBack}, &StepError{Stage: "start", Err: err}
	}

	select {
	case <-e.clock.After(SettleWindow):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	healthy, err := e.validate(ctx, client, t.EndpointID, newID)
	if err != nil || !healthy {
		_ = client.StopContainer(ctx, t.EndpointID, newID, 10)
		_ = client.RemoveContainer(ctx, t.EndpointID, newID)
		rolledBack := e.rollback(ctx, client, t, insp, oldImage)
		return Result{RolledBack: rolledBack}, &StepError{Stage: "validate", Err: fmt.Errorf("container %s failed to settle: %w", t.Name, err)}
	}

	newInsp, err := client.InspectContainer(ctx, t.EndpointID, newID)
	newDigest := ""
	if err == nil && newInsp.Config != nil {
		newDigest = newInsp.Image
	}

	return Result{
		OldImage:  oldImage,
		NewImage:  t.NewImageRef,
		OldDigest: insp.Image,
		NewDigest: newDigest,
	}, nil
}

// validate reports whether the replacement container is actually running,
// adapted from the teacher's validateContainer.
func (e *Executor) validate(ctx context.Context, client *instance.Client, endpointID int, containerID string) (bool, error) {
	insp, err := client.InspectContainer(ctx, endpointID, containerID)
	if err != nil {
		return false, err
	}
	if insp.State == nil {
		return false, fmt.Errorf("container state unknown")
	}
	return insp.State.Running && !insp.State.Restarting, nil
}

// rollback recreates the container from the pre-upgrade snapshot on a
// best-effort basis, adapted from the teacher's doRollback. It reports
// whether the recreate succeeded.
func (e *Executor) rollback(ctx context.Context, client *instance.Client, t Target, insp *instance.InspectResponse, oldImage string) bool {
	id, err := client.CreateContainer(ctx, t.EndpointID, t.Name, insp, oldImage)
	if err != nil {
		if e.log != nil {
			e.log.Error("rollback create failed", "container", t.Name, "error", err)
		}
		return false
	}
	if err := client.StartContainer(ctx, t.EndpointID, id); err != nil {
		if e.log != nil {
			e.log.Error("rollback start failed", "container", t.Name, "error", err)
		}
		return false
	}
	if e.log != nil {
		e.log.Info("rollback succeeded", "container", t.Name)
	}
	return true
}

// IsDestructiveFailure reports whether err failed at the remove step or
// later. A rollback is attempted for create, start and validate failures;
// a failed remove returns without one.
func IsDestructiveFailure(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.destructive()
}
