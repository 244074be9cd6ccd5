package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// Credential is the opaque payload behind credentialsFor(userId, kind) in
// spec §1: either a bearer token or a username/password pair, keyed by
// instance. The store treats it as opaque bytes. No code outside this file
// calls these accessors; cmd/fleetd reads instance credentials through
// GetCredential in bolt.go.
type Credential struct {
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func credentialKey(userID, instanceID string) []byte {
	return []byte(userID + "::" + instanceID)
}

// SetCredential stores the credential for a given (user, instance) pair.
func (s *Store) SetCredential(userID, instanceID string, c Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketCredentials), credentialKey(userID, instanceID), c)
	})
}

// CredentialsFor resolves the opaque credential accessor named in spec §1:
// credentialsFor(userId, kind) — here "kind" is the instance ID, since
// credentials are stored per-instance rather than per-provider-kind.
func (s *Store) CredentialsFor(userID, instanceID string) (Credential, bool, error) {
	var c Credential
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCredentials).Get(credentialKey(userID, instanceID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &c)
	})
	return c, found, err
}
