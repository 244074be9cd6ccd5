// Package lock implements the Upgrade Lock Manager (spec §4.4): an
// in-process keyed mutex over (instanceId, containerId), with owner
// identity and stale-holder expiry. It generalizes the teacher's
// per-container sync.Map of bare *sync.Mutex
// (internal/engine/updater.go's `updating sync.Map`, `tryLock`/`unlock`)
// into a map of held-state structs carrying an owner label and acquisition
// time, since the teacher's version has no notion of "who holds this" or
// "how long have they held it" — both required by §4.4's staleness rule.
package lock

import (
	"sync"
	"time"
)

// Staleness is the age after which a held lock is considered abandoned and
// is forcibly released on the next acquire attempt (§4.4: 10 minutes).
const Staleness = 10 * time.Minute

// Key identifies a lockable container within an instance.
type Key struct {
	InstanceID  string
	ContainerID string
}

type holder struct {
	owner      string
	acquiredAt time.Time
}

// Manager is a process-wide singleton keyed mutex. Use New once at process
// init and pass the pointer by reference, per the teacher's "global lazy
// singletons -> explicit long-lived value" re-architecture guidance
// (spec §9).
type Manager struct {
	mu      sync.Mutex
	holders map[Key]holder
	clock   func() time.Time
}

// New creates an empty lock manager.
func New() *Manager {
	return &Manager{
		holders: make(map[Key]holder),
		clock:   time.Now,
	}
}

// Inspection is the read model returned by Inspect.
type Inspection struct {
	Held       bool
	Owner      string
	AcquiredAt time.Time
}

// Acquire attempts to take the lock for key under the given owner label
// (e.g. "intent:42" or "manual:user-7"). It never blocks: it returns false
// immediately if the key is already held by a fresh holder. If the
// existing holder is stale, it is forcibly released and replaced.
func (m *Manager) Acquire(key Key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if h, ok := m.holders[key]; ok {
		if now.Sub(h.acquiredAt) < Staleness {
			return false
		}
		// Stale: forcibly release the abandoned holder and proceed.
	}
	m.holders[key] = holder{owner: owner, acquiredAt: now}
	return true
}

// Release drops the lock for key, regardless of owner. Safe to call on a
// key that isn't held.
func (m *Manager) Release(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders, key)
}

// Inspect reports the current state of key without mutating it.
func (m *Manager) Inspect(key Key) Inspection {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holders[key]
	if !ok {
		return Inspection{}
	}
	return Inspection{Held: true, Owner: h.owner, AcquiredAt: h.acquiredAt}
}
