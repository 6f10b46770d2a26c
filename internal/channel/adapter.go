// Package channel classifies the raw messages an injected script posts back
// to the host into typed extraction outcomes.
package channel

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/internal/script"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// Kind is the class of a message.
type Kind string

const (
	// KindData carries a validated extraction payload. Terminal.
	KindData Kind = "data"
	// KindError carries a failure reason. Terminal.
	KindError Kind = "error"
	// KindPageState reports the page's session state. Non-terminal.
	KindPageState Kind = "page_state"
	// KindIgnored is a well-formed message of no interest. Non-terminal.
	KindIgnored Kind = "ignored"
)

// Message types posted by older versions of the injected scripts.
const (
	legacyAuthStatus    = "AUTH_STATUS"
	legacyLoginPage     = "LOGIN_PAGE"
	legacyScrapingError = "SCRAPING_ERROR"
)

// Outcome is the typed form of one message.
type Outcome struct {
	Kind     Kind
	Raw      *plugin.RawExtractionPayload
	Reason   plugin.FailureReason
	Detail   string
	LoggedIn bool
	Type     string
}

// Terminal reports whether the outcome ends a scan attempt.
func (o Outcome) Terminal() bool {
	return o.Kind == KindData || o.Kind == KindError
}

// envelope is the superset of every message shape the scripts post.
type envelope struct {
	Type       string          `json:"type"`
	LoggedIn   *bool           `json:"loggedIn"`
	IsLoggedIn *bool           `json:"isLoggedIn"`
	Profile    json.RawMessage `json:"profile"`
	Error      *string         `json:"error"`
}

// Classify turns one raw message into an Outcome. location is the page's
// current URL, used when the payload carries no profile URL. Classify has no
// side effects and never panics.
func Classify(message, location string) Outcome {
	body := bytes.TrimSpace([]byte(message))
	if len(body) == 0 || body[0] != '{' {
		return failure("", plugin.ReasonMalformedMessage, "message is not a JSON object")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return failure("", plugin.ReasonMalformedMessage, err.Error())
	}

	switch env.Type {
	case script.TypePageState, legacyAuthStatus:
		return Outcome{Kind: KindPageState, Type: env.Type, LoggedIn: loggedIn(env)}

	case legacyLoginPage:
		return Outcome{Kind: KindPageState, Type: env.Type}

	case script.TypeProfileData:
		profile := bytes.TrimSpace(env.Profile)
		if len(profile) == 0 || bytes.Equal(profile, []byte("null")) {
			return failure(env.Type, plugin.ReasonMissingRequiredFields, "profile is missing")
		}
		return classifyPayload(env.Type, profile, location)

	case script.TypeExtractionError, legacyScrapingError:
		return failure(env.Type, plugin.ReasonElementsNotFound, errorText(env))

	case "":
		// Untyped messages come from the first scraper version, which
		// posted either {error} or the bare profile object.
		if env.Error != nil {
			return failure("", plugin.ReasonElementsNotFound, errorText(env))
		}
		return classifyPayload("", body, location)

	default:
		return Outcome{Kind: KindIgnored, Type: env.Type}
	}
}

func classifyPayload(msgType string, data []byte, location string) Outcome {
	if len(data) == 0 || data[0] != '{' {
		return failure(msgType, plugin.ReasonMalformedMessage, "profile is not a JSON object")
	}

	var raw plugin.RawExtractionPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return failure(msgType, plugin.ReasonMalformedMessage, err.Error())
	}

	hasName := strings.TrimSpace(raw.FullName) != "" ||
		strings.TrimSpace(raw.FirstName) != "" ||
		strings.TrimSpace(raw.LastName) != ""
	if !hasName {
		return failure(msgType, plugin.ReasonMissingRequiredFields, "no name in payload")
	}

	// An unusable payload URL falls back to the page location.
	if _, err := normalize.URL(raw.ProfileURL); err != nil {
		if _, err := normalize.URL(location); err != nil {
			return failure(msgType, plugin.ReasonMissingRequiredFields, "no http(s) profile URL in payload or page location")
		}
		raw.ProfileURL = strings.TrimSpace(location)
	}

	return Outcome{Kind: KindData, Type: msgType, Raw: &raw}
}

func failure(msgType string, reason plugin.FailureReason, detail string) Outcome {
	return Outcome{Kind: KindError, Type: msgType, Reason: reason, Detail: detail}
}

func loggedIn(env envelope) bool {
	if env.LoggedIn != nil {
		return *env.LoggedIn
	}
	if env.IsLoggedIn != nil {
		return *env.IsLoggedIn
	}
	return false
}

func errorText(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return *env.Error
}
