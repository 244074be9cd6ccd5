// Package store persists the control plane's entities in a single embedded
// BoltDB file, one bucket per table from SPEC_FULL.md §6. The relational
// store itself is an out-of-scope external collaborator (spec §1); this
// package is the opaque, transactional key-attribute implementation of it,
// following the bucket-per-concern layout of the teacher's
// internal/store/bolt.go.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
)

var (
	bucketUsers            = []byte("users")
	bucketInstances        = []byte("instances")
	bucketDeployedImages   = []byte("deployed_images")
	bucketLatestDescriptors = []byte("latest_descriptors")
	bucketTrackedApps      = []byte("tracked_apps")
	bucketIntents          = []byte("intents")
	bucketExecutions       = []byte("intent_executions")
	bucketExecutionContainers = []byte("intent_execution_containers")
	bucketBatchRuns        = []byte("batch_runs")
	bucketBatchJobConfigs  = []byte("batch_job_configs")
	bucketCredentials      = []byte("credentials")
	bucketSettings         = []byte("settings")
	bucketSessions         = []byte("sessions")
	bucketRoles            = []byte("roles")
	bucketAPITokens        = []byte("api_tokens")
)

var allBuckets = [][]byte{
	bucketUsers, bucketInstances, bucketDeployedImages, bucketLatestDescriptors,
	bucketTrackedApps, bucketIntents, bucketExecutions, bucketExecutionContainers,
	bucketBatchRuns, bucketBatchJobConfigs, bucketCredentials, bucketSettings,
	bucketSessions, bucketRoles, bucketAPITokens,
}

// Store wraps a BoltDB database for control-plane persistence.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at the given path and ensures
// all required buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

func scopedKey(userID, id string) []byte {
	return []byte(userID + "::" + id)
}

func put(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.Put(key, data)
}

// --- Instances ---

func (s *Store) SaveInstance(inst domain.Instance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketInstances), scopedKey(inst.UserID, inst.ID), inst)
	})
}

func (s *Store) ListInstances(userID string) ([]domain.Instance, error) {
	var out []domain.Instance
	prefix := []byte(userID + "::")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInstances).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var inst domain.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			out = append(out, inst)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetInstance(userID, id string) (domain.Instance, bool, error) {
	var inst domain.Instance
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketInstances).Get(scopedKey(userID, id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &inst)
	})
	return inst, found, err
}

func (s *Store) DeleteInstance(userID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete(scopedKey(userID, id))
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- DeployedImages ---

func (s *Store) SaveDeployedImage(img domain.DeployedImage) error {
	key := []byte(img.InstanceID + "::" + img.ImageRef)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketDeployedImages), key, img)
	})
}

func (s *Store) GetDeployedImage(instanceID, imageRef string) (domain.DeployedImage, bool, error) {
	var img domain.DeployedImage
	found := false
	key := []byte(instanceID + "::" + imageRef)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDeployedImages).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &img)
	})
	return img, found, err
}

// ListDeployedImagesForUser returns the distinct registry images currently
// deployed across every instance the user owns — the registry-sweep job's
// target set. DeployedImage rows are keyed by instanceID, not userID, so
// this joins against the user's instance list.
func (s *Store) ListDeployedImagesForUser(userID string) ([]domain.DeployedImage, error) {
	instances, err := s.ListInstances(userID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(instances))
	for _, inst := range instances {
		owned[inst.ID] = true
	}

	var out []domain.DeployedImage
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployedImages).ForEach(func(k, v []byte) error {
			var img domain.DeployedImage
			if err := json.Unmarshal(v, &img); err != nil {
				return err
			}
			if owned[img.InstanceID] {
				out = append(out, img)
			}
			return nil
		})
	})
	return out, err
}

// --- Credentials ---

// SaveCredential persists one instance's opaque credential payload,
// scoped by user so a credential can never be read across tenants even
// if an instance ID collided.
func (s *Store) SaveCredential(cred domain.Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketCredentials), scopedKey(cred.UserID, cred.InstanceID), cred)
	})
}

func (s *Store) GetCredential(userID, instanceID string) (domain.Credential, bool, error) {
	var cred domain.Credential
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCredentials).Get(scopedKey(userID, instanceID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &cred)
	})
	return cred, found, err
}

func (s *Store) DeleteCredential(userID, instanceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete(scopedKey(userID, instanceID))
	})
}

// --- LatestDescriptors ---

// descriptorKey keys a LatestDescriptor by either (repo,tag) or
// (sourceKind,sourceRef), scoped to the user, matching §6's "or equivalent
// keyed by source kind" clause.
func descriptorKey(userID string, d domain.LatestDescriptor) []byte {
	if d.SourceKind != "" {
		return []byte(userID + "::app::" + d.SourceKind + "::" + d.SourceRef)
	}
	return []byte(userID + "::img::" + d.Repo + "::" + d.Tag)
}

func (s *Store) SaveLatestDescriptor(d domain.LatestDescriptor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketLatestDescriptors), descriptorKey(d.UserID, d), d)
	})
}

func (s *Store) GetLatestDescriptorForImage(userID, repo, tag string) (domain.LatestDescriptor, bool, error) {
	key := []byte(userID + "::img::" + repo + "::" + tag)
	return s.getDescriptor(key)
}

func (s *Store) GetLatestDescriptorForApp(userID, sourceKind, sourceRef string) (domain.LatestDescriptor, bool, error) {
	key := []byte(userID + "::app::" + sourceKind + "::" + sourceRef)
	return s.getDescriptor(key)
}

func (s *Store) getDescriptor(key []byte) (domain.LatestDescriptor, bool, error) {
	var d domain.LatestDescriptor
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLatestDescriptors).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &d)
	})
	return d, found, err
}

// --- TrackedApps ---

func (s *Store) SaveTrackedApp(a domain.TrackedApp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketTrackedApps), scopedKey(a.UserID, a.ID), a)
	})
}

func (s *Store) ListTrackedApps(userID string) ([]domain.TrackedApp, error) {
	var out []domain.TrackedApp
	prefix := []byte(userID + "::")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTrackedApps).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var a domain.TrackedApp
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// --- Intents ---

func (s *Store) SaveIntent(i domain.Intent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketIntents), scopedKey(i.UserID, i.ID), i)
	})
}

func (s *Store) GetIntent(userID, id string) (domain.Intent, bool, error) {
	var i domain.Intent
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIntents).Get(scopedKey(userID, id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &i)
	})
	return i, found, err
}

func (s *Store) ListIntents(userID string) ([]domain.Intent, error) {
	var out []domain.Intent
	prefix := []byte(userID + "::")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIntents).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var i domain.Intent
			if err := json.Unmarshal(v, &i); err != nil {
				return err
			}
			out = append(out, i)
		}
		return nil
	})
	return out, err
}

// ListAllScheduledIntents scans every user's intents looking for enabled,
// cron-scheduled ones. Used by the Cron Evaluator's per-minute tick.
func (s *Store) ListAllScheduledIntents() ([]domain.Intent, error) {
	var out []domain.Intent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).ForEach(func(k, v []byte) error {
			var i domain.Intent
			if err := json.Unmarshal(v, &i); err != nil {
				return err
			}
			if i.Enabled && i.ScheduleKind == domain.ScheduleScheduled {
				out = append(out, i)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteIntent(userID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).Delete(scopedKey(userID, id))
	})
}

// --- IntentExecutions ---

func (s *Store) SaveExecution(e domain.IntentExecution) error {
	key := []byte(e.UserID + "::" + e.IntentID + "::" + e.StartedAt.UTC().Format(time.RFC3339Nano) + "::" + e.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx.Bucket(bucketExecutions), key, e); err != nil {
			return err
		}
		return put(tx.Bucket(bucketExecutions), []byte("byid::"+e.ID), e)
	})
}

func (s *Store) GetExecution(id string) (domain.IntentExecution, bool, error) {
	var e domain.IntentExecution
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketExecutions).Get([]byte("byid::" + id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	return e, found, err
}

// ListExecutionsForIntent returns the most recent executions for an
// intent, newest first, bounded by limit.
func (s *Store) ListExecutionsForIntent(userID, intentID string, limit int) ([]domain.IntentExecution, error) {
	var out []domain.IntentExecution
	prefix := []byte(userID + "::" + intentID + "::")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketExecutions).Cursor()
		var last []byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			last = append([]byte(nil), k...)
			_ = last
		}
		// Walk backwards from the end of the prefix range.
		k, v := c.Seek(append(append([]byte(nil), prefix...), 0xFF))
		if k == nil {
			k, v = c.Last()
		} else {
			// Seek landed on the first key past the range; step back into it.
			k, v = c.Prev()
		}
		for k != nil && hasPrefix(k, prefix) {
			var e domain.IntentExecution
			if err := json.Unmarshal(v, &e); err == nil {
				out = append(out, e)
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			k, v = c.Prev()
		}
		return nil
	})
	return out, err
}

// --- IntentExecutionContainers ---

func (s *Store) SaveExecutionContainer(c domain.IntentExecutionContainer) error {
	key := []byte(c.ExecutionID + "::" + c.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketExecutionContainers), key, c)
	})
}

func (s *Store) ListExecutionContainers(executionID string) ([]domain.IntentExecutionContainer, error) {
	var out []domain.IntentExecutionContainer
	prefix := []byte(executionID + "::")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketExecutionContainers).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var row domain.IntentExecutionContainer
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// --- BatchRuns ---

func (s *Store) SaveBatchRun(r domain.BatchRun) error {
	key := []byte(r.UserID + "::" + string(r.JobKind) + "::" + r.StartedAt.UTC().Format(time.RFC3339Nano) + "::" + r.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx.Bucket(bucketBatchRuns), key, r); err != nil {
			return err
		}
		return put(tx.Bucket(bucketBatchRuns), []byte("byid::"+r.ID), r)
	})
}

func (s *Store) GetBatchRun(id string) (domain.BatchRun, bool, error) {
	var r domain.BatchRun
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBatchRuns).Get([]byte("byid::" + id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &r)
	})
	return r, found, err
}

// ListBatchRuns returns the most recent runs for a user (optionally
// filtered to a single job kind), newest first, bounded by limit.
func (s *Store) ListBatchRuns(userID string, jobKind *domain.JobKind, limit int) ([]domain.BatchRun, error) {
	var out []domain.BatchRun
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(userID + "::")
		if jobKind != nil {
			prefix = []byte(userID + "::" + string(*jobKind) + "::")
		}
		c := tx.Bucket(bucketBatchRuns).Cursor()
		end := append(append([]byte(nil), prefix...), 0xFF)
		k, v := c.Seek(end)
		if k == nil {
			k, v = c.Last()
		} else {
			// Seek landed on the first key past the range; step back into it.
			k, v = c.Prev()
		}
		for k != nil && hasPrefix(k, prefix) {
			var r domain.BatchRun
			if err := json.Unmarshal(v, &r); err == nil {
				out = append(out, r)
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			k, v = c.Prev()
		}
		return nil
	})
	return out, err
}

// LatestBatchRun returns the most recent run for (user, jobKind), if any.
func (s *Store) LatestBatchRun(userID string, jobKind domain.JobKind) (domain.BatchRun, bool, error) {
	runs, err := s.ListBatchRuns(userID, &jobKind, 1)
	if err != nil || len(runs) == 0 {
		return domain.BatchRun{}, false, err
	}
	return runs[0], true, nil
}

// --- BatchJobConfigs ---

func (s *Store) SaveBatchJobConfig(c domain.BatchJobConfig) error {
	key := []byte(c.UserID + "::" + string(c.JobKind))
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketBatchJobConfigs), key, c)
	})
}

func (s *Store) GetBatchJobConfig(userID string, jobKind domain.JobKind) (domain.BatchJobConfig, bool, error) {
	var c domain.BatchJobConfig
	found := false
	key := []byte(userID + "::" + string(jobKind))
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBatchJobConfigs).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &c)
	})
	return c, found, err
}

// ListEnabledBatchJobConfigs scans every (user, jobKind) config looking for
// enabled ones, for the batch scheduler's tick.
func (s *Store) ListEnabledBatchJobConfigs() ([]domain.BatchJobConfig, error) {
	var out []domain.BatchJobConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatchJobConfigs).ForEach(func(k, v []byte) error {
			var c domain.BatchJobConfig
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Enabled {
				out = append(out, c)
			}
			return nil
		})
	})
	return out, err
}

// --- Settings (generic runtime key/value, mirrors the teacher's
// SaveSetting/LoadSetting split between static Config and mutable
// runtime state) ---

func (s *Store) SaveSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

func (s *Store) LoadSetting(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSettings).Get([]byte(key))
		if v != nil {
			value = string(v)
		}
		return nil
	})
	return value, err
}
