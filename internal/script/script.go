// Package script holds the snippets injected into rendered profile pages.
//
// Every snippet posts exactly one JSON message per run through
// window.ReactNativeWebView.postMessage:
//
//	{ "type": "PAGE_STATE", "loggedIn": bool }                  non-terminal
//	{ "type": "PROFILE_DATA", "profile": RawExtractionPayload } terminal
//	{ "type": "EXTRACTION_ERROR", "error": string }             terminal
//
// The DOM selectors target a third-party page and are best effort only.
package script

import (
	_ "embed"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// Message types of the page-to-host channel.
const (
	TypePageState       = "PAGE_STATE"
	TypeProfileData     = "PROFILE_DATA"
	TypeExtractionError = "EXTRACTION_ERROR"
)

// Script names, used by renderers that cannot execute JavaScript.
const (
	NamePageState      = "page_state"
	NameExtractProfile = "extract_profile"
)

var (
	//go:embed js/page_state.js
	pageStateSource string

	//go:embed js/extract_profile.js
	extractProfileSource string
)

// PageState reports whether the page shows a logged-in session.
func PageState() plugin.Script {
	return plugin.Script{Name: NamePageState, Source: pageStateSource}
}

// ExtractProfile reads the profile fields of the current page.
func ExtractProfile() plugin.Script {
	return plugin.Script{Name: NameExtractProfile, Source: extractProfileSource}
}
