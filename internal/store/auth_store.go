package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Will-Luck/Docker-Sentinel/internal/auth"
)

// This file adapts the control-plane BoltDB for the internal/auth package's
// UserStore/SessionStore/RoleStore/APITokenStore contracts, following the
// same bucket-per-concern, JSON-marshaled-value layout as the rest of this
// package. Users are tenants: every other bucket's scopedKey userID is one
// of these users' IDs.

// --- Users ---

func (s *Store) CreateUser(user auth.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(user.ID)) != nil {
			return fmt.Errorf("user %q already exists", user.ID)
		}
		return put(b, []byte(user.ID), user)
	})
}

func (s *Store) GetUser(id string) (*auth.User, error) {
	var u auth.User
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUsers).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &u)
	})
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(username string) (*auth.User, error) {
	var u auth.User
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			if found {
				return nil
			}
			var candidate auth.User
			if err := json.Unmarshal(v, &candidate); err != nil {
				return err
			}
			if candidate.Username == username {
				u = candidate
				found = true
			}
			return nil
		})
	})
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUser(user auth.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketUsers), []byte(user.ID), user)
	})
}

func (s *Store) DeleteUser(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

func (s *Store) ListUsers() ([]auth.User, error) {
	var out []auth.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u auth.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	return out, err
}

func (s *Store) UserCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketUsers).Stats().KeyN
		return nil
	})
	return count, err
}

// CreateFirstUser atomically creates a user only if no users exist yet,
// closing the race between two concurrent setup-wizard submissions.
func (s *Store) CreateFirstUser(user auth.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Stats().KeyN > 0 {
			return auth.ErrUsersExist
		}
		return put(b, []byte(user.ID), user)
	})
}

// --- Sessions ---

func (s *Store) CreateSession(session auth.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketSessions), []byte(session.Token), session)
	})
}

func (s *Store) GetSession(token string) (*auth.Session, error) {
	var sess auth.Session
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(token))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &sess)
	})
	if err != nil || !found {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) DeleteSession(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(token))
	})
}

func (s *Store) DeleteSessionsForUser(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess auth.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.UserID == userID {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListSessionsForUser(userID string) ([]auth.Session, error) {
	var out []auth.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var sess auth.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.UserID == userID {
				out = append(out, sess)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteExpiredSessions() (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		now := time.Now()
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess auth.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if now.After(sess.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// --- Roles ---

func (s *Store) GetRole(id string) (*auth.Role, error) {
	var role auth.Role
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRoles).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &role)
	})
	if err != nil || !found {
		return nil, err
	}
	return &role, nil
}

func (s *Store) ListRoles() ([]auth.Role, error) {
	var out []auth.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).ForEach(func(k, v []byte) error {
			var role auth.Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			out = append(out, role)
			return nil
		})
	})
	return out, err
}

// SeedBuiltinRoles writes (or overwrites) the three built-in roles, so a
// permission added to a built-in role by a later release is picked up on
// every boot rather than frozen at first-run.
func (s *Store) SeedBuiltinRoles() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		for _, role := range auth.BuiltinRoles() {
			if err := put(b, []byte(role.ID), role); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- API tokens ---

func (s *Store) CreateAPIToken(token auth.APIToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketAPITokens), []byte(token.ID), token)
	})
}

func (s *Store) GetAPITokenByHash(hash string) (*auth.APIToken, error) {
	var tok auth.APIToken
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPITokens).ForEach(func(k, v []byte) error {
			if found {
				return nil
			}
			var candidate auth.APIToken
			if err := json.Unmarshal(v, &candidate); err != nil {
				return err
			}
			if candidate.TokenHash == hash {
				tok = candidate
				found = true
			}
			return nil
		})
	})
	if err != nil || !found {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) DeleteAPIToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPITokens).Delete([]byte(id))
	})
}

func (s *Store) ListAPITokensForUser(userID string) ([]auth.APIToken, error) {
	var out []auth.APIToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPITokens).ForEach(func(k, v []byte) error {
			var tok auth.APIToken
			if err := json.Unmarshal(v, &tok); err != nil {
				return err
			}
			if tok.UserID == userID {
				out = append(out, tok)
			}
			return nil
		})
	})
	return out, err
}

// TouchAPIToken records the token's most recent use time.
func (s *Store) TouchAPIToken(id string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPITokens)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var tok auth.APIToken
		if err := json.Unmarshal(v, &tok); err != nil {
			return err
		}
		tok.LastUsedAt = t
		return put(b, []byte(id), tok)
	})
}
