package extractor

import (
	"errors"
	"regexp"
	"strings"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// ErrNoCandidate is returned when a scanned payload holds no web address.
var ErrNoCandidate = errors.New("no URL found in scanned payload")

// Candidate is the address resolved from a scanned payload.
type Candidate struct {
	URL string
	// Profile is true when URL is a LinkedIn member profile. Other
	// addresses are meant to be opened, not scanned.
	Profile bool
}

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.|(?:[a-z]{2,3}\.)?linkedin\.com/)[^\s<>"']+`)

// ResolveCandidate extracts the address a QR code or shared snippet points
// at. The payload may be a bare URL, free text, a vCard or an HTML
// fragment. LinkedIn profile links win over any other address.
func ResolveCandidate(payload string) (Candidate, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Candidate{}, ErrNoCandidate
	}

	var found []string
	switch {
	case strings.HasPrefix(strings.ToUpper(payload), "BEGIN:VCARD"):
		found = vcardURLs(payload)
	case strings.HasPrefix(payload, "<"):
		links, err := ProfileLinks(&plugin.PageData{HTML: payload})
		if err == nil {
			found = links
		}
	}
	found = append(found, urlPattern.FindAllString(payload, -1)...)

	var fallback string
	for _, raw := range found {
		raw = strings.TrimRight(raw, ".,;:!?)]}")
		normalized, err := normalize.URL(raw)
		if err != nil {
			continue
		}
		if IsProfileURL(normalized) {
			return Candidate{URL: normalized, Profile: true}, nil
		}
		if fallback == "" {
			fallback = normalized
		}
	}

	if fallback == "" {
		return Candidate{}, ErrNoCandidate
	}
	return Candidate{URL: fallback}, nil
}

// vcardURLs returns the values of URL properties, including grouped and
// parameterized forms such as "item1.URL;type=pref:".
func vcardURLs(card string) []string {
	var urls []string
	for _, line := range strings.Split(strings.ReplaceAll(card, "\r\n", "\n"), "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if i := strings.Index(name, ";"); i >= 0 {
			name = name[:i]
		}
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if strings.EqualFold(strings.TrimSpace(name), "URL") {
			urls = append(urls, strings.TrimSpace(value))
		}
	}
	return urls
}
