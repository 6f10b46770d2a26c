// Package plugin defines the public types and interfaces of the profile
// scanner. External tools can import this package to plug in their own
// page renderers or consume scan events without forking the project.
package plugin

import (
	"context"
	"time"
)

// ---------- Core Data Types ----------

// Profile is the canonical contact record produced by a successful scan.
// Text fields are never absent: missing values are stored as "".
type Profile struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Title      string    `json:"title"`
	Company    string    `json:"company"`
	Location   string    `json:"location"`
	ProfileURL string    `json:"profileUrl"`
	ScannedAt  time.Time `json:"scannedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	OwnerID    string    `json:"ownerId,omitempty"`
}

// FullName joins first and last name the way they are displayed.
func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// RawExtractionPayload is the profile object posted by the extraction script.
// Either FullName or FirstName/LastName is set; ProfileURL falls back to the
// page location when the script could not read it.
type RawExtractionPayload struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	FullName   string `json:"fullName,omitempty"`
	Title      string `json:"title,omitempty"`
	Company    string `json:"company,omitempty"`
	Location   string `json:"location,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

// Script is a JavaScript snippet executed inside a rendered page. Renderers
// that cannot execute JavaScript dispatch on Name instead of Source.
type Script struct {
	Name   string
	Source string
}

// PageData is a fetched page handed to static extractors.
type PageData struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
}

// ---------- Failure Reasons ----------

// FailureReason classifies why a scan attempt did not produce a stored profile.
type FailureReason string

const (
	ReasonMalformedMessage      FailureReason = "malformed_message"
	ReasonMissingRequiredFields FailureReason = "missing_required_fields"
	ReasonElementsNotFound      FailureReason = "elements_not_found"
	ReasonNormalizationError    FailureReason = "normalization_error"
	ReasonStorageUnavailable    FailureReason = "storage_unavailable"
	ReasonTimeout               FailureReason = "timeout"
	ReasonCancelled             FailureReason = "cancelled"
	ReasonRenderFailed          FailureReason = "render_failed"
)

// Retryable reports whether trying the same URL again may succeed.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonTimeout, ReasonStorageUnavailable, ReasonRenderFailed:
		return true
	default:
		return false
	}
}

// Notify reports whether the user should be told about this failure.
// Cancellation is a deliberate caller action.
func (r FailureReason) Notify() bool {
	return r != ReasonCancelled
}

// Message returns the user-facing text for the failure category.
func (r FailureReason) Message() string {
	switch r {
	case ReasonMalformedMessage:
		return "The page sent data that could not be read."
	case ReasonMissingRequiredFields:
		return "This page does not look like a profile: no name or profile link was found."
	case ReasonElementsNotFound:
		return "This page does not look like a valid profile."
	case ReasonNormalizationError:
		return "The profile link is not a valid web address."
	case ReasonStorageUnavailable:
		return "The profile could not be saved. Check your connection and retry."
	case ReasonTimeout:
		return "The page took too long to respond. Retry the scan."
	case ReasonCancelled:
		return "Scan cancelled."
	case ReasonRenderFailed:
		return "The page could not be opened. Retry the scan."
	default:
		return "Unknown failure: " + string(r)
	}
}

// ---------- Event Types ----------

// ScanState is a step of the per-attempt state machine.
type ScanState string

const (
	StateIdle            ScanState = "idle"
	StateRendering       ScanState = "rendering"
	StateAwaitingMessage ScanState = "awaiting_message"
	StateSucceeded       ScanState = "succeeded"
	StateFailed          ScanState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ScanState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ScanEvent is a real-time notification emitted by the scanner.
type ScanEvent struct {
	Type    EventType
	URL     string
	State   ScanState
	Reason  FailureReason
	Profile *Profile
	Error   error
	Message string
}

// EventType identifies the kind of event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventMessageReceived
	EventScriptInjected
	EventScanSucceeded
	EventScanFailed
)

// ---------- Plugin Interfaces ----------

// Renderer loads third-party pages in an embedded, sandboxed page context.
type Renderer interface {
	// Name returns a human-readable identifier for this renderer.
	Name() string

	// Open loads url and runs onLoad (if any) once the page has loaded.
	// The returned Page delivers the messages posted by injected scripts.
	Open(ctx context.Context, url string, onLoad Script) (Page, error)

	// Close releases any resources held by the renderer.
	Close() error
}

// Extractor reads profile fields out of a static page. Fields it cannot
// find are left empty for the next extractor to fill.
type Extractor interface {
	// Name returns a human-readable identifier for this extractor.
	Name() string

	// Extract returns the fields found on page.
	Extract(page *PageData) (RawExtractionPayload, error)
}

// Page is one rendered page instance with its one-way message channel.
type Page interface {
	// Messages delivers raw messages in the order the page posted them.
	// The channel is closed when the page is closed.
	Messages() <-chan string

	// Location returns the page's current URL.
	Location() string

	// Inject executes script inside the page.
	Inject(ctx context.Context, script Script) error

	// Close tears the page down; messages posted afterwards are dropped.
	// Close may be called more than once.
	Close() error
}
