// Package extractor reads LinkedIn profile data out of static HTML and
// resolves scanned payloads (QR text, vCards, HTML) to profile URLs.
package extractor

import (
	"errors"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// ErrNoProfile is returned when no extractor found a name on the page.
var ErrNoProfile = errors.New("required elements not found")

// Registry holds the profile extractors, most authoritative first.
type Registry struct {
	extractors []plugin.Extractor
}

// NewRegistry creates a registry with all built-in extractors.
func NewRegistry() *Registry {
	return &Registry{
		extractors: []plugin.Extractor{
			NewJSONLDExtractor(),
			NewTopCardExtractor(),
			NewMetadataExtractor(),
		},
	}
}

// Register adds a custom extractor after the built-in ones.
func (r *Registry) Register(ext plugin.Extractor) {
	r.extractors = append(r.extractors, ext)
}

// Names returns the names of all registered extractors.
func (r *Registry) Names() []string {
	names := make([]string, len(r.extractors))
	for i, ext := range r.extractors {
		names[i] = ext.Name()
	}
	return names
}

// ExtractProfile runs every extractor and keeps, per field, the first
// non-empty value. The profile URL falls back to the page's final URL.
func (r *Registry) ExtractProfile(page *plugin.PageData) (plugin.RawExtractionPayload, error) {
	var merged plugin.RawExtractionPayload
	for _, ext := range r.extractors {
		found, err := ext.Extract(page)
		if err != nil {
			// other extractors should still run
			log.Printf("[extractor] %s: %v", ext.Name(), err)
			continue
		}
		fill(&merged, found)
	}

	if merged.ProfileURL == "" {
		merged.ProfileURL = page.FinalURL
		if merged.ProfileURL == "" {
			merged.ProfileURL = page.URL
		}
	}

	if merged.FullName == "" && merged.FirstName == "" && merged.LastName == "" {
		return merged, ErrNoProfile
	}
	return merged, nil
}

func fill(dst *plugin.RawExtractionPayload, src plugin.RawExtractionPayload) {
	// First and last name travel together so a later full name does not
	// mix with an earlier partial split.
	if dst.FullName == "" && dst.FirstName == "" && dst.LastName == "" {
		dst.FullName = src.FullName
		dst.FirstName = src.FirstName
		dst.LastName = src.LastName
	}
	set := func(dst *string, src string) {
		if *dst == "" {
			*dst = strings.TrimSpace(src)
		}
	}
	set(&dst.Title, src.Title)
	set(&dst.Company, src.Company)
	set(&dst.Location, src.Location)
	set(&dst.ProfileURL, src.ProfileURL)
}

// IsLoginWall reports whether page is a sign-in or auth-wall page rather
// than a readable profile.
func IsLoginWall(page *plugin.PageData) bool {
	for _, u := range []string{page.FinalURL, page.URL} {
		lower := strings.ToLower(u)
		if strings.Contains(lower, "/authwall") || strings.Contains(lower, "/login") ||
			strings.Contains(lower, "/checkpoint/") || strings.Contains(lower, "/uas/") {
			return true
		}
	}

	doc, err := parse(page)
	if err != nil {
		return false
	}
	return doc.Find(`form.login__form, #session_key, input[name="session_key"]`).Length() > 0
}

// IsProfileURL reports whether raw points at a LinkedIn member profile.
func IsProfileURL(raw string) bool {
	normalized, err := normalize.URL(raw)
	if err != nil {
		return false
	}
	lower := strings.ToLower(normalized)
	for _, prefix := range []string{"https://", "http://"} {
		lower = strings.TrimPrefix(lower, prefix)
	}
	host, path, _ := strings.Cut(lower, "/")
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return false
	}
	return strings.HasPrefix(path, "in/") && len(path) > len("in/")
}

func parse(page *plugin.PageData) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
}

func baseURL(page *plugin.PageData) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}
