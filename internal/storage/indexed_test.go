package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

type recordingIndexer struct {
	indexed []string
	deleted []string
	err     error
}

func (r *recordingIndexer) IndexProfile(p plugin.Profile) error {
	r.indexed = append(r.indexed, p.ID)
	return r.err
}

func (r *recordingIndexer) DeleteProfile(id string) error {
	r.deleted = append(r.deleted, id)
	return r.err
}

func TestIndexed(t *testing.T) {
	ctx := context.Background()
	idx := &recordingIndexer{}
	g := NewIndexed(NewMemoryGateway(), idx)

	stored, err := g.Upsert(ctx, jane(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{stored.ID}, idx.indexed)

	removed, err := g.Remove(ctx, "", "https://www.linkedin.com/in/janedoe/")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{stored.ID}, idx.deleted)

	removed, err = g.Remove(ctx, "", stored.ProfileURL)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, idx.deleted, 1)
}

func TestIndexed_IndexFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	idx := &recordingIndexer{err: errors.New("index closed")}
	g := NewIndexed(NewMemoryGateway(), idx)

	_, err := g.Upsert(ctx, jane(time.Now()))
	require.NoError(t, err)

	all, err := g.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIndexed_StoreFailureSkipsIndex(t *testing.T) {
	idx := &recordingIndexer{}
	g := NewIndexed(NewMemoryGateway(), idx)

	p := jane(time.Now())
	p.ProfileURL = ""
	_, err := g.Upsert(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Empty(t, idx.indexed)
}
