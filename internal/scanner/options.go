package scanner

import (
	"time"

	"github.com/HolbyKate/cooptme/internal/script"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// Config holds all configuration for a Scanner.
type Config struct {
	// Timeout bounds one attempt, from render start to terminal message.
	Timeout time.Duration

	// ExtractOnLoad runs the extraction script as soon as the page has
	// loaded instead of waiting for a logged-in page state. Suited to
	// public profiles and the static renderer.
	ExtractOnLoad bool

	// Parallelism caps concurrent attempts in ScanBatch.
	Parallelism int

	// EventBuffer is the capacity of the events channel.
	EventBuffer int

	// Injected scripts.
	PageStateScript plugin.Script
	ExtractScript   plugin.Script
}

// Options are per-attempt overrides.
type Options struct {
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration

	// OwnerID scopes the stored record. Empty falls back to the signed-in
	// user, then to the global scope.
	OwnerID string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		Parallelism:     2,
		EventBuffer:     256,
		PageStateScript: script.PageState(),
		ExtractScript:   script.ExtractProfile(),
	}
}
