// Package domain holds the entity types shared across the control plane:
// users, instances, the container inventory cache, intents and their
// executions, and batch sweep bookkeeping. These are plain structs with
// JSON tags for bbolt storage; no behavior lives here beyond small
// invariant checks that belong to the type itself.
package domain

import "time"

// User owns every other entity; all queries are scoped to it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// AuthKind identifies how credentials for an Instance are shaped.
type AuthKind string

const (
	AuthKindToken    AuthKind = "token"
	AuthKindUserPass AuthKind = "userpass"
)

// Instance is a remote container-orchestrator endpoint owned by a user.
// Credentials are stored opaquely, keyed by instance ID, via the
// credential accessor in internal/store.
type Instance struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	AuthKind AuthKind `json:"auth_kind"`
}

// Credential is the opaque credential payload for one Instance, persisted
// separately from the Instance record itself so a credential rotation
// never touches the instance's identity fields.
type Credential struct {
	InstanceID string   `json:"instance_id"`
	UserID     string   `json:"user_id"`
	Kind       AuthKind `json:"kind"`
	Token      string   `json:"token,omitempty"`
	Username   string   `json:"username,omitempty"`
	Password   string   `json:"password,omitempty"`
}

// Container is a view over remote state cached locally. It is discovered
// by an inventory sweep and mutated only by the remote system; the cached
// copy is refreshed by the batch runner / inventory service.
type Container struct {
	ContainerID       string  `json:"container_id"`
	InstanceID        string  `json:"instance_id"`
	EndpointID        string  `json:"endpoint_id"`
	Name              string  `json:"name"`
	StackName         *string `json:"stack_name,omitempty"`
	Image             string  `json:"image"`
	Status            string  `json:"status"`
	State             string  `json:"state"`
	CurrentDigest     *string `json:"current_digest,omitempty"`
	CurrentDigestFull *string `json:"current_digest_full,omitempty"`
}

// AnnotatedContainer is a Container enriched with the information the
// matching engine and upgrade executor need: the derived registry, the
// owning instance's base URL, and whether a newer upstream artifact is
// known.
type AnnotatedContainer struct {
	Container
	Registry    string `json:"registry"`
	InstanceURL string `json:"instance_url"`
	HasUpdate   bool   `json:"has_update"`
}

// DeployedImage is derived during an inventory sweep and joined into
// container views.
type DeployedImage struct {
	InstanceID        string `json:"instance_id"`
	ImageRef          string `json:"image_ref"`
	Registry          string `json:"registry"`
	Repo              string `json:"repo"`
	Tag               string `json:"tag"`
	CurrentDigestFull string `json:"current_digest_full"`
}

// LatestDescriptor is the system's cached notion of the newest upstream
// artifact for either a registry image coordinate or a tracked-app source.
type LatestDescriptor struct {
	UserID      string     `json:"user_id"`
	Repo        string     `json:"repo,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	SourceKind  string     `json:"source_kind,omitempty"`
	SourceRef   string     `json:"source_ref,omitempty"`
	Digest      *string    `json:"digest,omitempty"`
	ResolvedTag *string    `json:"resolved_tag,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ResolvedAt  time.Time  `json:"resolved_at"`
}

// SourceKind enumerates where a TrackedApp's version information comes from.
type SourceKind string

const (
	SourceKindRegistry SourceKind = "registry"
	SourceKindForgeA   SourceKind = "forge-A"
	SourceKindForgeB   SourceKind = "forge-B"
)

// TrackedApp is a user-created, sweep-maintained record of an upstream
// artifact outside of any single container (e.g. a release feed the user
// wants watched independent of deployment).
type TrackedApp struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Name               string     `json:"name"`
	SourceKind         SourceKind `json:"source_kind"`
	SourceRef          string     `json:"source_ref"`
	CurrentVersion     *string    `json:"current_version,omitempty"`
	CurrentDigest      *string    `json:"current_digest,omitempty"`
	LatestVersion      *string    `json:"latest_version,omitempty"`
	LatestDigest       *string    `json:"latest_digest,omitempty"`
	CurrentPublishedAt *time.Time `json:"current_published_at,omitempty"`
	LatestPublishedAt  *time.Time `json:"latest_published_at,omitempty"`
	HasUpdate          bool       `json:"has_update"`
	LastChecked        *time.Time `json:"last_checked,omitempty"`
	ForgeTokenCipher   *string    `json:"forge_token_cipher,omitempty"`
}

// ScheduleKind says whether an Intent fires only when explicitly triggered
// or on a cron schedule.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleScheduled ScheduleKind = "scheduled"
)

// Intent is a declarative rule selecting containers and describing when
// and how to upgrade them.
type Intent struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	Description *string      `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	ScheduleKind ScheduleKind `json:"schedule_kind"`
	ScheduleCron *string     `json:"schedule_cron,omitempty"`
	DryRun      bool         `json:"dry_run"`

	MatchContainers   []string `json:"match_containers,omitempty"`
	MatchImages       []string `json:"match_images,omitempty"`
	MatchInstances    []string `json:"match_instances,omitempty"`
	MatchStacks       []string `json:"match_stacks,omitempty"`
	MatchRegistries   []string `json:"match_registries,omitempty"`
	ExcludeContainers []string `json:"exclude_containers,omitempty"`
	ExcludeImages     []string `json:"exclude_images,omitempty"`
	ExcludeStacks     []string `json:"exclude_stacks,omitempty"`
	ExcludeRegistries []string `json:"exclude_registries,omitempty"`

	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastExecutionID *string    `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// AnchorBasis returns the timestamp the cron evaluator computes the next
// fire point from: the last evaluation anchor if one exists, else the
// intent's creation time.
func (i Intent) AnchorBasis() time.Time {
	if i.LastEvaluatedAt != nil {
		return *i.LastEvaluatedAt
	}
	return i.CreatedAt
}

// TriggerKind identifies what caused an IntentExecution to start.
type TriggerKind string

const (
	TriggerManual      TriggerKind = "manual"
	TriggerScheduled   TriggerKind = "scheduled"
	TriggerScanDetected TriggerKind = "scan_detected"
)

// ExecutionStatus is the lifecycle state of an IntentExecution. Terminal
// once it is anything other than Running.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecPartial   ExecutionStatus = "partial"
	ExecFailed    ExecutionStatus = "failed"
)

// IntentExecution records one run of the Intent Executor.
type IntentExecution struct {
	ID                 string          `json:"id"`
	IntentID           string          `json:"intent_id"`
	UserID             string          `json:"user_id"`
	TriggerKind        TriggerKind     `json:"trigger_kind"`
	Status             ExecutionStatus `json:"status"`
	ContainersMatched  int             `json:"containers_matched"`
	ContainersUpgraded int             `json:"containers_upgraded"`
	ContainersFailed   int             `json:"containers_failed"`
	ContainersSkipped  int             `json:"containers_skipped"`
	DurationMs         int64           `json:"duration_ms"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether this execution has reached a final status.
func (e IntentExecution) Terminal() bool {
	return e.Status != ExecRunning
}

// ContainerOutcome is the per-container status an IntentExecutionContainer
// row can carry.
type ContainerOutcome string

const (
	OutcomeUpgraded ContainerOutcome = "upgraded"
	OutcomeFailed   ContainerOutcome = "failed"
	OutcomeSkipped  ContainerOutcome = "skipped"
	OutcomeDryRun   ContainerOutcome = "dry_run"
)

// IntentExecutionContainer is one container's outcome within an execution.
type IntentExecutionContainer struct {
	ID           string           `json:"id"`
	ExecutionID  string           `json:"execution_id"`
	ContainerID  string           `json:"container_id"`
	ContainerName string          `json:"container_name"`
	Image        string           `json:"image"`
	InstanceID   string           `json:"instance_id"`
	Status       ContainerOutcome `json:"status"`
	OldImage     *string          `json:"old_image,omitempty"`
	NewImage     *string          `json:"new_image,omitempty"`
	OldDigest    *string          `json:"old_digest,omitempty"`
	NewDigest    *string          `json:"new_digest,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	DurationMs   *int64           `json:"duration_ms,omitempty"`
}

// JobKind enumerates the two independent batch sweep kinds.
type JobKind string

const (
	JobRegistrySweep   JobKind = "registry-sweep"
	JobTrackedAppSweep JobKind = "tracked-app-sweep"
)

// BatchStatus is the lifecycle state of a BatchRun.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchRun records one run of a periodic sweep job.
type BatchRun struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	JobKind           JobKind     `json:"job_kind"`
	Status            BatchStatus `json:"status"`
	StartedAt         time.Time   `json:"started_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	DurationMs        *int64      `json:"duration_ms,omitempty"`
	ContainersChecked int         `json:"containers_checked"`
	ContainersUpdated int         `json:"containers_updated"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	IsManual          bool        `json:"is_manual"`
	Logs              string      `json:"logs"`
}

// BatchJobConfig is the per-(user,jobKind) schedule configuration.
type BatchJobConfig struct {
	UserID          string  `json:"user_id"`
	JobKind         JobKind `json:"job_kind"`
	Enabled         bool    `json:"enabled"`
	IntervalMinutes int     `json:"interval_minutes"`
	LogLevel        string  `json:"log_level"`
}
