// Package normalize turns validated extraction payloads into canonical
// profile records and derives their identity.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/HolbyKate/cooptme/pkg/plugin"
	"github.com/google/uuid"
)

// ErrNormalization is returned when a payload has no usable identity key.
var ErrNormalization = errors.New("profile normalization failed")

// profileNamespace scopes the name-based record IDs.
var profileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://cooptme.app/profiles"))

// Normalizer maps raw payloads to profiles, stamping them with its clock.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer using the wall clock.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock creates a Normalizer reading time from now.
func NewWithClock(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize converts raw into a canonical profile owned by ownerID ("" for
// the global scope). ScannedAt is the normalization time.
func (n *Normalizer) Normalize(raw plugin.RawExtractionPayload, ownerID string) (plugin.Profile, error) {
	profileURL, err := URL(raw.ProfileURL)
	if err != nil {
		return plugin.Profile{}, err
	}

	first := strings.TrimSpace(raw.FirstName)
	last := strings.TrimSpace(raw.LastName)
	if first == "" && last == "" {
		first, last = SplitName(raw.FullName)
	}

	ownerID = strings.TrimSpace(ownerID)
	return plugin.Profile{
		ID:         RecordID(ownerID, profileURL),
		FirstName:  first,
		LastName:   last,
		Title:      strings.TrimSpace(raw.Title),
		Company:    strings.TrimSpace(raw.Company),
		Location:   strings.TrimSpace(raw.Location),
		ProfileURL: profileURL,
		ScannedAt:  n.now().UTC(),
		OwnerID:    ownerID,
	}, nil
}

// URL returns the natural key form of a profile URL: lowercase scheme and
// host, no credentials, no trailing slash, no query string, no fragment.
// Scheme-less input is read as https.
func URL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty profile URL", ErrNormalization)
	}
	if !strings.Contains(raw, "://") {
		// "mailto:x" and "javascript:x" parse as opaque URLs; "host:443/p"
		// does too but its opaque part is a port.
		if u, err := url.Parse(raw); err == nil && u.Opaque != "" && !startsWithDigit(u.Opaque) {
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrNormalization, strings.ToLower(u.Scheme))
		}
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNormalization, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrNormalization, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrNormalization, raw)
	}

	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	return u.String(), nil
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// SplitName splits a display name on its first whitespace run. The first
// token is the first name; the remainder, internal spacing included, is the
// last name.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	idx := strings.IndexFunc(full, unicode.IsSpace)
	if idx < 0 {
		return full, ""
	}
	return full[:idx], strings.TrimLeftFunc(full[idx:], unicode.IsSpace)
}

// RecordID derives the stable record ID of a normalized profile URL within
// an owner scope.
func RecordID(ownerID, profileURL string) string {
	return uuid.NewSHA1(profileNamespace, []byte(ownerID+"\x00"+profileURL)).String()
}
