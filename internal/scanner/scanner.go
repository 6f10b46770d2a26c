// Package scanner drives one profile scan attempt end to end: render the
// page, wait for the injected script's terminal message, normalize it and
// persist it through a storage gateway.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/HolbyKate/cooptme/internal/channel"
	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/internal/storage"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// ErrPageClosed is reported when the page stops delivering messages before
// a terminal one.
var ErrPageClosed = errors.New("page closed before a terminal message")

// OwnerSource supplies the user id of the current session, or "".
type OwnerSource interface {
	OwnerID() string
}

// Status is the result class of an attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the single result of a scan attempt.
type Outcome struct {
	Status  Status               `json:"status"`
	URL     string               `json:"url"`
	Profile *plugin.Profile      `json:"profile,omitempty"`
	Reason  plugin.FailureReason `json:"reason,omitempty"`
	Err     error                `json:"-"`
}

// Succeeded reports whether the profile was stored.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Stats aggregates outcomes across attempts.
type Stats struct {
	Attempts  int
	Succeeded int
	Failed    int
	ByReason  map[plugin.FailureReason]int
}

// Scanner orchestrates renderer, channel adapter, normalizer and gateway.
// It is safe for concurrent use; each Scan call owns its own page.
type Scanner struct {
	config     *Config
	renderer   plugin.Renderer
	gateway    storage.Gateway
	normalizer *normalize.Normalizer
	owner      OwnerSource

	events   chan plugin.ScanEvent
	eventsMu sync.RWMutex
	closed   bool

	stats   Stats
	statsMu sync.Mutex
}

// New creates a Scanner. owner may be nil.
func New(config *Config, renderer plugin.Renderer, gateway storage.Gateway, owner OwnerSource) *Scanner {
	if config == nil {
		config = DefaultConfig()
	}
	buffer := config.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Scanner{
		config:     config,
		renderer:   renderer,
		gateway:    gateway,
		normalizer: normalize.New(),
		owner:      owner,
		events:     make(chan plugin.ScanEvent, buffer),
		stats:      Stats{ByReason: make(map[plugin.FailureReason]int)},
	}
}

// SetNormalizer replaces the normalizer, typically to pin its clock.
func (s *Scanner) SetNormalizer(n *normalize.Normalizer) {
	s.normalizer = n
}

// Events returns the event channel. Events are dropped when it is full.
func (s *Scanner) Events() <-chan plugin.ScanEvent {
	return s.events
}

// attempt is the state of one Scan call.
type attempt struct {
	url      string
	state    plugin.ScanState
	injected bool
}

// Scan runs one attempt against url and blocks until it reaches a terminal
// state. Exactly one Outcome is returned per call.
func (s *Scanner) Scan(ctx context.Context, url string, opts Options) Outcome {
	a := &attempt{url: url, state: plugin.StateIdle}
	out := s.run(ctx, a, opts)
	s.record(out)
	return out
}

// ScanBatch scans urls with at most Config.Parallelism attempts in flight.
// Outcomes are returned in input order.
func (s *Scanner) ScanBatch(ctx context.Context, urls []string, opts Options) []Outcome {
	parallelism := s.config.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	outcomes := make([]Outcome, len(urls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, parallelism)

	for i, url := range urls {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[i] = s.Scan(ctx, url, opts)
		}(i, url)
	}

	wg.Wait()
	return outcomes
}

func (s *Scanner) run(ctx context.Context, a *attempt, opts Options) Outcome {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.config.Timeout
	}

	if err := ctx.Err(); err != nil {
		return s.fail(a, interruption(err), err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.transition(a, plugin.StateRendering)

	onLoad := s.config.PageStateScript
	if s.config.ExtractOnLoad {
		onLoad = s.config.ExtractScript
		a.injected = true
	}

	page, err := s.renderer.Open(attemptCtx, a.url, onLoad)
	if err != nil {
		if ctxErr := attemptCtx.Err(); ctxErr != nil {
			return s.fail(a, interruption(ctxErr), err)
		}
		return s.fail(a, plugin.ReasonRenderFailed, err)
	}
	defer page.Close()

	s.transition(a, plugin.StateAwaitingMessage)

	for {
		select {
		case <-attemptCtx.Done():
			return s.fail(a, interruption(attemptCtx.Err()), attemptCtx.Err())

		case msg, ok := <-page.Messages():
			if !ok {
				if ctxErr := attemptCtx.Err(); ctxErr != nil {
					return s.fail(a, interruption(ctxErr), ctxErr)
				}
				return s.fail(a, plugin.ReasonRenderFailed, ErrPageClosed)
			}

			res := channel.Classify(msg, page.Location())
			s.emit(plugin.ScanEvent{
				Type:    plugin.EventMessageReceived,
				URL:     a.url,
				State:   a.state,
				Message: string(res.Kind),
			})

			switch res.Kind {
			case channel.KindPageState:
				if !res.LoggedIn || a.injected {
					continue
				}
				a.injected = true
				if err := page.Inject(attemptCtx, s.config.ExtractScript); err != nil {
					if ctxErr := attemptCtx.Err(); ctxErr != nil {
						return s.fail(a, interruption(ctxErr), err)
					}
					return s.fail(a, plugin.ReasonRenderFailed, err)
				}
				s.emit(plugin.ScanEvent{
					Type:    plugin.EventScriptInjected,
					URL:     a.url,
					State:   a.state,
					Message: s.config.ExtractScript.Name,
				})

			case channel.KindError:
				err := fmt.Errorf("%s: %s", res.Reason, res.Detail)
				return s.fail(a, res.Reason, err)

			case channel.KindData:
				// Terminal: later messages on this page are never read.
				page.Close()
				if err := ctx.Err(); err != nil {
					return s.fail(a, interruption(err), err)
				}
				return s.persist(ctx, a, *res.Raw, s.ownerFor(opts))
			}
		}
	}
}

// persist normalizes raw and writes it through the gateway.
func (s *Scanner) persist(ctx context.Context, a *attempt, raw plugin.RawExtractionPayload, ownerID string) Outcome {
	profile, err := s.normalizer.Normalize(raw, ownerID)
	if err != nil {
		return s.fail(a, plugin.ReasonNormalizationError, err)
	}

	stored, err := s.gateway.Upsert(ctx, profile)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return s.fail(a, plugin.ReasonCancelled, err)
	case errors.Is(err, storage.ErrInvalidProfile):
		return s.fail(a, plugin.ReasonNormalizationError, err)
	default:
		return s.fail(a, plugin.ReasonStorageUnavailable, err)
	}

	s.transition(a, plugin.StateSucceeded)
	s.emit(plugin.ScanEvent{
		Type:    plugin.EventScanSucceeded,
		URL:     a.url,
		State:   a.state,
		Profile: &stored,
		Message: fmt.Sprintf("Stored %s", stored.FullName()),
	})
	return Outcome{Status: StatusSuccess, URL: a.url, Profile: &stored}
}

func (s *Scanner) fail(a *attempt, reason plugin.FailureReason, err error) Outcome {
	s.transition(a, plugin.StateFailed)
	if reason.Notify() {
		log.Printf("[scanner] %s failed (%s): %v", a.url, reason, err)
	}
	s.emit(plugin.ScanEvent{
		Type:    plugin.EventScanFailed,
		URL:     a.url,
		State:   a.state,
		Reason:  reason,
		Error:   err,
		Message: reason.Message(),
	})
	return Outcome{Status: StatusFailure, URL: a.url, Reason: reason, Err: err}
}

func (s *Scanner) transition(a *attempt, to plugin.ScanState) {
	if a.state.Terminal() {
		return
	}
	a.state = to
	s.emit(plugin.ScanEvent{
		Type:  plugin.EventStateChanged,
		URL:   a.url,
		State: to,
	})
}

func (s *Scanner) ownerFor(opts Options) string {
	if opts.OwnerID != "" {
		return opts.OwnerID
	}
	if s.owner != nil {
		return s.owner.OwnerID()
	}
	return ""
}

// interruption maps a context error to its failure reason. A caller's
// deadline counts as a timeout, an explicit cancel as cancellation.
func interruption(err error) plugin.FailureReason {
	if errors.Is(err, context.Canceled) {
		return plugin.ReasonCancelled
	}
	return plugin.ReasonTimeout
}

// emit sends an event to the event channel (non-blocking).
func (s *Scanner) emit(event plugin.ScanEvent) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		// Drop event if channel is full; consumers must not stall a scan.
	}
}

func (s *Scanner) record(out Outcome) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Attempts++
	if out.Succeeded() {
		s.stats.Succeeded++
		return
	}
	s.stats.Failed++
	s.stats.ByReason[out.Reason]++
}

// Stats returns a copy of the current stats.
func (s *Scanner) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	statsCopy := s.stats
	byReason := make(map[plugin.FailureReason]int, len(s.stats.ByReason))
	for k, v := range s.stats.ByReason {
		byReason[k] = v
	}
	statsCopy.ByReason = byReason
	return statsCopy
}

// Close releases the renderer and closes the events channel.
func (s *Scanner) Close() error {
	s.eventsMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.eventsMu.Unlock()

	if s.renderer != nil {
		return s.renderer.Close()
	}
	return nil
}
