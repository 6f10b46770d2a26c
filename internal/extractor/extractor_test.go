package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

const publicProfileHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Jane Doe - Staff Engineer - Acme | LinkedIn</title>
  <meta property="og:title" content="Jane Doe - Staff Engineer - Acme | LinkedIn">
  <link rel="canonical" href="https://fr.linkedin.com/in/janedoe">
  <script type="application/ld+json">
  {"@context":"http://schema.org","@graph":[
    {"@type":"WebPage","name":"Jane Doe"},
    {"@type":"Person","name":"Jane Doe","jobTitle":["Staff Engineer"],
     "worksFor":[{"@type":"Organization","name":"Acme"}],
     "address":{"@type":"PostalAddress","addressLocality":"Paris","addressCountry":"FR"},
     "url":"https://fr.linkedin.com/in/janedoe"}
  ]}
  </script>
</head>
<body><main><h1>Jane Doe</h1></main></body>
</html>`

const topCardHTML = `<html><body>
<main>
  <h1 class="text-heading-xlarge">  Jean-Luc
     Picard </h1>
  <div class="text-body-medium">Captain</div>
  <span class="text-body-small inline">La Barre, France</span>
</main>
</body></html>`

func TestRegistry_JSONLD(t *testing.T) {
	page := &plugin.PageData{URL: "https://www.linkedin.com/in/janedoe", HTML: publicProfileHTML}

	raw, err := NewRegistry().ExtractProfile(page)
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", raw.FullName)
	assert.Equal(t, "Staff Engineer", raw.Title)
	assert.Equal(t, "Acme", raw.Company)
	assert.Equal(t, "Paris, FR", raw.Location)
	assert.Equal(t, "https://fr.linkedin.com/in/janedoe", raw.ProfileURL)
}

func TestRegistry_TopCard(t *testing.T) {
	page := &plugin.PageData{
		URL:      "https://www.linkedin.com/in/jlp",
		FinalURL: "https://www.linkedin.com/in/jlp/",
		HTML:     topCardHTML,
	}

	raw, err := NewRegistry().ExtractProfile(page)
	require.NoError(t, err)

	assert.Equal(t, "Jean-Luc Picard", raw.FullName)
	assert.Equal(t, "Captain", raw.Title)
	assert.Equal(t, "La Barre, France", raw.Location)
	assert.Equal(t, "https://www.linkedin.com/in/jlp/", raw.ProfileURL)
}

func TestRegistry_TitleOnly(t *testing.T) {
	page := &plugin.PageData{
		URL:  "https://www.linkedin.com/in/ann",
		HTML: `<html><head><title>Ann Lee - Designer | LinkedIn</title></head></html>`,
	}

	raw, err := NewRegistry().ExtractProfile(page)
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", raw.FullName)
	assert.Equal(t, "Designer", raw.Title)
}

func TestRegistry_NoProfile(t *testing.T) {
	page := &plugin.PageData{URL: "https://example.com", HTML: `<html><body><p>hello</p></body></html>`}

	_, err := NewRegistry().ExtractProfile(page)
	assert.ErrorIs(t, err, ErrNoProfile)
}

type fixedExtractor struct{ raw plugin.RawExtractionPayload }

func (f fixedExtractor) Name() string { return "fixed" }
func (f fixedExtractor) Extract(*plugin.PageData) (plugin.RawExtractionPayload, error) {
	return f.raw, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedExtractor{raw: plugin.RawExtractionPayload{Company: "Starfleet"}})

	assert.Equal(t, []string{"json-ld", "top-card", "metadata", "fixed"}, r.Names())

	raw, err := r.ExtractProfile(&plugin.PageData{URL: "https://www.linkedin.com/in/jlp", HTML: topCardHTML})
	require.NoError(t, err)
	assert.Equal(t, "Starfleet", raw.Company)
}

func TestIsLoginWall(t *testing.T) {
	assert.True(t, IsLoginWall(&plugin.PageData{FinalURL: "https://www.linkedin.com/authwall?trk=x"}))
	assert.True(t, IsLoginWall(&plugin.PageData{
		URL:  "https://www.linkedin.com/in/jane",
		HTML: `<form class="login__form"><input name="session_key"></form>`,
	}))
	assert.False(t, IsLoginWall(&plugin.PageData{URL: "https://www.linkedin.com/in/jane", HTML: topCardHTML}))
}

func TestIsProfileURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.linkedin.com/in/janedoe", true},
		{"linkedin.com/in/janedoe/", true},
		{"https://fr.linkedin.com/in/jane-doe-123?trk=qr", true},
		{"https://www.linkedin.com/in/", false},
		{"https://www.linkedin.com/company/acme", false},
		{"https://notlinkedin.com/in/jane", false},
		{"https://example.com/in/jane", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsProfileURL(tt.url))
		})
	}
}

func TestProfileLinks(t *testing.T) {
	page := &plugin.PageData{
		URL: "https://www.linkedin.com/feed/",
		HTML: `<a href="/in/alice">Alice</a>
<a href="https://www.linkedin.com/in/bob/">Bob</a>
<a href="/in/alice">Alice again</a>
<a href="/company/acme">Acme</a>
<a href="mailto:x@y.z">mail</a>`,
	}

	links, err := ProfileLinks(page)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.linkedin.com/in/alice",
		"https://www.linkedin.com/in/bob/",
	}, links)
}

func TestResolveCandidate(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Candidate
		err     error
	}{
		{
			name:    "bare profile url",
			payload: "https://www.linkedin.com/in/janedoe/",
			want:    Candidate{URL: "https://www.linkedin.com/in/janedoe", Profile: true},
		},
		{
			name:    "scheme-less",
			payload: "linkedin.com/in/janedoe",
			want:    Candidate{URL: "https://linkedin.com/in/janedoe", Profile: true},
		},
		{
			name:    "free text",
			payload: "Let's connect: https://www.linkedin.com/in/janedoe?trk=qr. See you!",
			want:    Candidate{URL: "https://www.linkedin.com/in/janedoe", Profile: true},
		},
		{
			name:    "profile wins over other links",
			payload: "https://acme.com https://www.linkedin.com/in/janedoe",
			want:    Candidate{URL: "https://www.linkedin.com/in/janedoe", Profile: true},
		},
		{
			name: "vcard",
			payload: "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane Doe\r\n" +
				"item1.URL;type=pref:https://www.linkedin.com/in/janedoe\r\nEND:VCARD",
			want: Candidate{URL: "https://www.linkedin.com/in/janedoe", Profile: true},
		},
		{
			name:    "html",
			payload: `<p>Find me on <a href="https://www.linkedin.com/in/janedoe">LinkedIn</a></p>`,
			want:    Candidate{URL: "https://www.linkedin.com/in/janedoe", Profile: true},
		},
		{
			name:    "other site",
			payload: "https://acme.com/careers",
			want:    Candidate{URL: "https://acme.com/careers"},
		},
		{name: "empty", payload: "  ", err: ErrNoCandidate},
		{name: "no url", payload: "Jane Doe, Engineer", err: ErrNoCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveCandidate(tt.payload)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
