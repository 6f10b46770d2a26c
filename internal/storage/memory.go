package storage

import (
	"context"
	"sync"
	"time"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// MemoryGateway is a thread-safe in-process profile store.
type MemoryGateway struct {
	data  map[string]plugin.Profile
	mutex sync.RWMutex
	now   func() time.Time
}

// NewMemoryGateway creates an empty in-memory store.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		data: make(map[string]plugin.Profile),
		now:  time.Now,
	}
}

// SetClock replaces the write clock.
func (m *MemoryGateway) SetClock(now func() time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = now
}

// Upsert merges p into the store under a single write lock.
func (m *MemoryGateway) Upsert(ctx context.Context, p plugin.Profile) (plugin.Profile, error) {
	if err := ctx.Err(); err != nil {
		return plugin.Profile{}, err
	}
	p, key, err := prepare(p)
	if err != nil {
		return plugin.Profile{}, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var existing *plugin.Profile
	if stored, ok := m.data[key]; ok {
		existing = &stored
	}
	merged := Merge(existing, p, m.now())
	m.data[key] = merged
	return merged, nil
}

// Get retrieves a profile by record ID.
func (m *MemoryGateway) Get(ctx context.Context, id string) (plugin.Profile, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, p := range m.data {
		if p.ID == id {
			return p, nil
		}
	}
	return plugin.Profile{}, ErrNotFound
}

// List returns a snapshot of the owner's profiles.
func (m *MemoryGateway) List(ctx context.Context, ownerID string) ([]plugin.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.RLock()
	profiles := make([]plugin.Profile, 0, len(m.data))
	for _, p := range m.data {
		if ownerID == "" || p.OwnerID == ownerID {
			profiles = append(profiles, p)
		}
	}
	m.mutex.RUnlock()

	sortProfiles(profiles)
	return profiles, nil
}

// Remove deletes the profile of profileURL in the owner scope.
func (m *MemoryGateway) Remove(ctx context.Context, ownerID, profileURL string) (bool, error) {
	key, _, err := Key(ownerID, profileURL)
	if err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, exists := m.data[key]
	delete(m.data, key)
	return exists, nil
}

// Size returns the number of stored profiles.
func (m *MemoryGateway) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.data)
}

// Close is a no-op.
func (m *MemoryGateway) Close() error { return nil }
