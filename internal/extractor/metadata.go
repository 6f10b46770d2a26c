package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// MetadataExtractor reads OpenGraph tags, the page title and the canonical
// link. Public profile pages title themselves
// "Jane Doe - Engineer - Acme | LinkedIn".
type MetadataExtractor struct{}

func NewMetadataExtractor() *MetadataExtractor { return &MetadataExtractor{} }

func (e *MetadataExtractor) Name() string { return "metadata" }

func (e *MetadataExtractor) Extract(page *plugin.PageData) (plugin.RawExtractionPayload, error) {
	var found plugin.RawExtractionPayload
	if page.HTML == "" {
		return found, nil
	}

	doc, err := parse(page)
	if err != nil {
		return found, err
	}

	title := meta(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title != "" {
		parts := splitTitle(title)
		found.FullName = parts[0]
		if len(parts) > 1 {
			found.Title = parts[1]
		}
		if len(parts) > 2 {
			found.Company = parts[2]
		}
	}

	if found.Title == "" {
		found.Title = headline(meta(doc, "og:description"))
	}

	base, _ := url.Parse(baseURL(page))
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && href != "" {
		found.ProfileURL = resolveURL(base, strings.TrimSpace(href))
	} else if ogURL := meta(doc, "og:url"); ogURL != "" {
		found.ProfileURL = resolveURL(base, ogURL)
	}

	return found, nil
}

// meta returns the content of the meta tag whose property or name is key.
func meta(doc *goquery.Document, key string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		property, _ := s.Attr("property")
		name, _ := s.Attr("name")
		if !strings.EqualFold(property, key) && !strings.EqualFold(name, key) {
			return true
		}
		content, _ = s.Attr("content")
		content = strings.TrimSpace(content)
		return content == ""
	})
	return content
}

// splitTitle drops the site suffix and splits the rest on " - ".
func splitTitle(title string) []string {
	if i := strings.LastIndex(title, "|"); i >= 0 {
		title = title[:i]
	}
	var parts []string
	for _, p := range strings.Split(title, " - ") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return []string{""}
	}
	return parts
}

// headline keeps the first sentence of an OpenGraph description.
func headline(description string) string {
	description = strings.TrimSpace(description)
	if i := strings.IndexAny(description, "·\n"); i >= 0 {
		description = description[:i]
	}
	return truncate(strings.TrimSpace(description), 200)
}
