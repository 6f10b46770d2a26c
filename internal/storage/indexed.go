package storage

import (
	"context"
	"log"
	"strings"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// Indexer keeps a secondary search index in step with the store.
type Indexer interface {
	IndexProfile(p plugin.Profile) error
	DeleteProfile(id string) error
}

// Indexed wraps a Gateway and mirrors successful writes into an Indexer.
// Index failures are logged; the store stays the source of truth.
type Indexed struct {
	Gateway
	index Indexer
}

// NewIndexed decorates g with idx.
func NewIndexed(g Gateway, idx Indexer) *Indexed {
	return &Indexed{Gateway: g, index: idx}
}

// Upsert writes through to the store, then indexes the stored record.
func (s *Indexed) Upsert(ctx context.Context, p plugin.Profile) (plugin.Profile, error) {
	stored, err := s.Gateway.Upsert(ctx, p)
	if err != nil {
		return stored, err
	}
	if err := s.index.IndexProfile(stored); err != nil {
		log.Printf("[storage] index %s: %v", stored.ID, err)
	}
	return stored, nil
}

// Remove deletes from the store, then drops the index entry.
func (s *Indexed) Remove(ctx context.Context, ownerID, profileURL string) (bool, error) {
	removed, err := s.Gateway.Remove(ctx, ownerID, profileURL)
	if err != nil || !removed {
		return removed, err
	}

	normalized, err := normalize.URL(profileURL)
	if err != nil {
		return removed, nil
	}
	id := normalize.RecordID(strings.TrimSpace(ownerID), normalized)
	if err := s.index.DeleteProfile(id); err != nil {
		log.Printf("[storage] unindex %s: %v", id, err)
	}
	return removed, nil
}
