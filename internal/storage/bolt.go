package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

var profilesBucket = []byte("profiles")

// errStop ends a bucket scan early.
var errStop = errors.New("stop")

// BoltGateway stores profiles as JSON values in an embedded bbolt file,
// keyed by owner and normalized URL.
type BoltGateway struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*BoltGateway, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, unavailable("open "+path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(profilesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, unavailable("create bucket", err)
	}

	return &BoltGateway{db: db, now: time.Now}, nil
}

// SetClock replaces the write clock.
func (g *BoltGateway) SetClock(now func() time.Time) { g.now = now }

// Upsert reads, merges and writes back inside one read-write transaction.
// bbolt serializes writers, which makes concurrent upserts of the same key
// observe each other.
func (g *BoltGateway) Upsert(ctx context.Context, p plugin.Profile) (plugin.Profile, error) {
	if err := ctx.Err(); err != nil {
		return plugin.Profile{}, err
	}
	p, key, err := prepare(p)
	if err != nil {
		return plugin.Profile{}, err
	}

	var merged plugin.Profile
	err = g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilesBucket)

		var existing *plugin.Profile
		if raw := b.Get([]byte(key)); raw != nil {
			var stored plugin.Profile
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			existing = &stored
		}

		merged = Merge(existing, p, g.now())
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return plugin.Profile{}, unavailable("upsert", err)
	}
	return merged, nil
}

// Get scans for the record with the given ID.
func (g *BoltGateway) Get(ctx context.Context, id string) (plugin.Profile, error) {
	var found *plugin.Profile
	err := g.each(func(p plugin.Profile) error {
		if p.ID == id {
			found = &p
			return errStop
		}
		return nil
	})
	if err != nil {
		return plugin.Profile{}, err
	}
	if found == nil {
		return plugin.Profile{}, ErrNotFound
	}
	return *found, nil
}

// List returns the owner's profiles, most recently updated first.
func (g *BoltGateway) List(ctx context.Context, ownerID string) ([]plugin.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profiles := []plugin.Profile{}
	err := g.each(func(p plugin.Profile) error {
		if ownerID == "" || p.OwnerID == ownerID {
			profiles = append(profiles, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortProfiles(profiles)
	return profiles, nil
}

// Remove deletes the profile of profileURL in the owner scope.
func (g *BoltGateway) Remove(ctx context.Context, ownerID, profileURL string) (bool, error) {
	key, _, err := Key(ownerID, profileURL)
	if err != nil {
		return false, err
	}

	var existed bool
	err = g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilesBucket)
		existed = b.Get([]byte(key)) != nil
		if !existed {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return false, unavailable("remove", err)
	}
	return existed, nil
}

// Close closes the database file.
func (g *BoltGateway) Close() error {
	return g.db.Close()
}

// each decodes every stored profile in key order.
func (g *BoltGateway) each(fn func(plugin.Profile) error) error {
	err := g.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).ForEach(func(k, v []byte) error {
			var p plugin.Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			return fn(p)
		})
	})
	if err != nil && !errors.Is(err, errStop) {
		return unavailable("read", err)
	}
	return nil
}
