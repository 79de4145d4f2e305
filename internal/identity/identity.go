// Package identity mints and persists the stable per-machine participant
// identity shown to other collaborators (id, display name, cursor color).
package identity

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Identity is opaque to the rest of the system: the engine and transport
// receive it by value at construction time and never mutate it.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

var (
	adjectives = []string{"Swift", "Happy", "Fierce", "Calm", "Brave"}
	animals    = []string{"Tiger", "Eagle", "Panda", "Fox", "Hawk"}
	colors     = []string{"#FF5733", "#33FF57", "#3357FF", "#F333FF", "#FF33A8"}
)

var (
	bucketName  = []byte("identity")
	identityKey = []byte("me")
)

// Load returns the identity stored at path, minting and persisting a fresh
// one on first use. Subsequent loads of the same file return the same
// identity.
func Load(path string) (Identity, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("open identity store: %w", err)
	}
	defer db.Close()

	var id Identity
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("create identity bucket: %w", err)
		}
		if raw := bucket.Get(identityKey); raw != nil {
			if err := json.Unmarshal(raw, &id); err == nil && id.ID != "" {
				return nil
			}
			// Unreadable record: fall through and mint a replacement.
		}
		id = mint()
		raw, err := json.Marshal(id)
		if err != nil {
			return fmt.Errorf("marshal identity: %w", err)
		}
		return bucket.Put(identityKey, raw)
	})
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

func mint() Identity {
	return Identity{
		ID:    uuid.NewString(),
		Name:  adjectives[rand.Intn(len(adjectives))] + " " + animals[rand.Intn(len(animals))],
		Color: colors[rand.Intn(len(colors))],
	}
}
