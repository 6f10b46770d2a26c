package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestRemote(url string, tokens TokenSource) *RemoteGateway {
	g := NewRemoteGateway(RemoteConfig{BaseURL: url, Retries: 3}, tokens)
	g.backoff = func(int) time.Duration { return 0 }
	return g
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, exponentialBackoff(1))
	assert.Equal(t, 500*time.Millisecond, exponentialBackoff(2))
	assert.Equal(t, time.Second, exponentialBackoff(3))
}

func TestRemoteGateway_Upsert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/profiles/add", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body remoteProfile
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://www.linkedin.com/in/janedoe", body.ProfileURL)
		assert.Equal(t, "Jane", body.FirstName)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(plugin.Profile{
			ID:         "server-id",
			FirstName:  body.FirstName,
			ProfileURL: body.ProfileURL,
		})
	}))
	defer server.Close()

	g := newTestRemote(server.URL, staticToken("tok"))
	p := jane(time.Now())
	p.ProfileURL = "https://www.linkedin.com/in/janedoe/"

	stored, err := g.Upsert(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "server-id", stored.ID)
}

func TestRemoteGateway_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]plugin.Profile{{ID: "a"}, {ID: "b"}})
	}))
	defer server.Close()

	g := newTestRemote(server.URL, nil)
	profiles, err := g.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRemoteGateway_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := newTestRemote(server.URL, nil)
	_, err := g.Upsert(context.Background(), jane(time.Now()))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestRemoteGateway_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	g := newTestRemote(url, nil)
	_, err := g.List(context.Background(), "")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestRemoteGateway_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"profileUrl is required"}`))
	}))
	defer server.Close()

	g := newTestRemote(server.URL, nil)
	_, err := g.Upsert(context.Background(), jane(time.Now()))
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Contains(t, err.Error(), "profileUrl is required")
}

func TestRemoteGateway_GetAndRemove(t *testing.T) {
	id := normalize.RecordID("alice", "https://www.linkedin.com/in/janedoe")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/profiles/"+id:
			json.NewEncoder(w).Encode(plugin.Profile{ID: id})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/profiles/"+id:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	g := newTestRemote(server.URL, nil)
	ctx := context.Background()

	p, err := g.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	_, err = g.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := g.Remove(ctx, "alice", "https://www.linkedin.com/in/janedoe/")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = g.Remove(ctx, "bob", "https://www.linkedin.com/in/janedoe")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoteGateway_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newTestRemote(server.URL, nil)
	_, err := g.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
}
