package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// TokenSource supplies the bearer token of the signed-in user, or "".
type TokenSource interface {
	Token() string
}

// RemoteConfig configures a RemoteGateway.
type RemoteConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
	Retries   int
}

// DefaultRemoteConfig returns sensible defaults for the profile backend.
func DefaultRemoteConfig(baseURL string) RemoteConfig {
	return RemoteConfig{
		BaseURL:   baseURL,
		Timeout:   15 * time.Second,
		RateLimit: 5,
		Burst:     10,
		Retries:   3,
	}
}

// RemoteGateway talks to the profile backend over its REST API.
type RemoteGateway struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	retries     int
	tokens      TokenSource
	backoff     func(attempt int) time.Duration
}

// NewRemoteGateway creates a client for the backend at cfg.BaseURL. tokens
// may be nil for anonymous access.
func NewRemoteGateway(cfg RemoteConfig, tokens TokenSource) *RemoteGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &RemoteGateway{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(limit, cfg.Burst),
		retries:     cfg.Retries,
		tokens:      tokens,
		backoff:     exponentialBackoff,
	}
}

// exponentialBackoff returns the delay before retry number attempt.
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(250<<uint(attempt-1)) * time.Millisecond
}

// remoteProfile is the request body of the add endpoint.
type remoteProfile struct {
	ProfileURL string    `json:"profileUrl"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Title      string    `json:"title"`
	Company    string    `json:"company"`
	Location   string    `json:"location"`
	ScannedAt  time.Time `json:"scannedAt,omitzero"`
	OwnerID    string    `json:"ownerId,omitempty"`
}

// Upsert posts p to the add endpoint, which applies the merge policy
// server-side and returns the stored record.
func (g *RemoteGateway) Upsert(ctx context.Context, p plugin.Profile) (plugin.Profile, error) {
	p, _, err := prepare(p)
	if err != nil {
		return plugin.Profile{}, err
	}

	body, err := json.Marshal(remoteProfile{
		ProfileURL: p.ProfileURL,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Title:      p.Title,
		Company:    p.Company,
		Location:   p.Location,
		ScannedAt:  p.ScannedAt,
		OwnerID:    p.OwnerID,
	})
	if err != nil {
		return plugin.Profile{}, fmt.Errorf("encode profile: %w", err)
	}

	status, data, err := g.do(ctx, http.MethodPost, "/api/profiles/add", body)
	if err != nil {
		return plugin.Profile{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return plugin.Profile{}, rejected(status, data)
	}

	var stored plugin.Profile
	if err := json.Unmarshal(data, &stored); err != nil {
		return plugin.Profile{}, unavailable("decode response", err)
	}
	return stored, nil
}

// Get retrieves a profile by record ID.
func (g *RemoteGateway) Get(ctx context.Context, id string) (plugin.Profile, error) {
	status, data, err := g.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(id), nil)
	if err != nil {
		return plugin.Profile{}, err
	}
	if status == http.StatusNotFound {
		return plugin.Profile{}, ErrNotFound
	}
	if status != http.StatusOK {
		return plugin.Profile{}, rejected(status, data)
	}

	var p plugin.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return plugin.Profile{}, unavailable("decode response", err)
	}
	return p, nil
}

// List retrieves the caller's profiles. The backend derives the owner
// scope from the bearer token, so ownerID is not sent.
func (g *RemoteGateway) List(ctx context.Context, ownerID string) ([]plugin.Profile, error) {
	status, data, err := g.do(ctx, http.MethodGet, "/api/profiles", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, rejected(status, data)
	}

	profiles := []plugin.Profile{}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, unavailable("decode response", err)
	}
	return profiles, nil
}

// Remove deletes the record derived from ownerID and profileURL.
func (g *RemoteGateway) Remove(ctx context.Context, ownerID, profileURL string) (bool, error) {
	_, normalized, err := Key(ownerID, profileURL)
	if err != nil {
		return false, err
	}
	id := normalize.RecordID(strings.TrimSpace(ownerID), normalized)

	status, data, err := g.do(ctx, http.MethodDelete, "/api/profiles/"+url.PathEscape(id), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, rejected(status, data)
	}
}

// Close releases idle connections.
func (g *RemoteGateway) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

// do executes a request with rate limiting, retrying transport failures and
// 5xx responses. It returns the status and body of the first non-5xx
// response.
func (g *RemoteGateway) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= g.retries; attempt++ {
		if err := g.rateLimiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limiter error: %w", err)
		}

		status, data, err := g.roundTrip(ctx, method, path, body)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, nil, ctxErr
			}
			log.Printf("[storage] %s %s failed (attempt %d): %v", method, path, attempt, err)
			lastErr = err
		case status >= http.StatusInternalServerError:
			log.Printf("[storage] %s %s returned %d (attempt %d)", method, path, status, attempt)
			lastErr = fmt.Errorf("status %d", status)
		default:
			return status, data, nil
		}

		if attempt == g.retries {
			break
		}
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(g.backoff(attempt)):
		}
	}

	return 0, nil, unavailable(method+" "+path, lastErr)
}

func (g *RemoteGateway) roundTrip(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "cooptme/1.0")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.tokens != nil {
		if token := g.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func rejected(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if status == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, msg)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, status, msg)
}
