// Package storage persists profiles behind one backend-agnostic contract.
//
// Every backend applies the same reconciliation policy (see Merge): one
// record per owner scope and normalized profile URL, text fields overwritten
// on each write, ScannedAt never moving backwards, UpdatedAt bumped on every
// write.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

var (
	// ErrStorageUnavailable is returned when the backend cannot be reached
	// or fails to complete an operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("profile not found")

	// ErrInvalidProfile is returned for records without a usable natural key.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrRejected is returned when a remote backend refuses a request.
	ErrRejected = errors.New("request rejected")
)

// Gateway is implemented by every profile store.
type Gateway interface {
	// Upsert inserts or merges p by (OwnerID, ProfileURL) and returns the
	// stored record. The call is atomic from the caller's point of view.
	Upsert(ctx context.Context, p plugin.Profile) (plugin.Profile, error)

	// Get returns the record with the given ID.
	Get(ctx context.Context, id string) (plugin.Profile, error)

	// List returns the records of ownerID ("" for every owner), most
	// recently updated first. Each call computes a fresh slice.
	List(ctx context.Context, ownerID string) ([]plugin.Profile, error)

	// Remove deletes the record of profileURL in the ownerID scope and
	// reports whether one existed.
	Remove(ctx context.Context, ownerID, profileURL string) (bool, error)

	// Close releases the backend.
	Close() error
}

// Key returns the natural key of profileURL within an owner scope, along
// with the normalized URL.
func Key(ownerID, profileURL string) (key, normalized string, err error) {
	normalized, err = normalize.URL(profileURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	ownerID = strings.TrimSpace(ownerID)
	return ownerID + "\x00" + normalized, normalized, nil
}

// prepare validates p and rewrites its identity fields to canonical form.
func prepare(p plugin.Profile) (plugin.Profile, string, error) {
	key, normalized, err := Key(p.OwnerID, p.ProfileURL)
	if err != nil {
		return plugin.Profile{}, "", err
	}
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	p.ProfileURL = normalized
	p.ID = normalize.RecordID(p.OwnerID, normalized)
	p.ScannedAt = utc(p.ScannedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
	return p, key, nil
}

// sortProfiles orders by UpdatedAt descending, ties broken by URL then owner.
func sortProfiles(profiles []plugin.Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.ProfileURL != b.ProfileURL {
			return a.ProfileURL < b.ProfileURL
		}
		return a.OwnerID < b.OwnerID
	})
}

// utc drops the location and monotonic reading so stored times compare
// and round-trip identically across backends.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
