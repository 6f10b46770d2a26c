package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// ProfileLinks returns the LinkedIn member profile links of page in
// document order, resolved against the page URL and deduplicated.
func ProfileLinks(page *plugin.PageData) ([]string, error) {
	if page.HTML == "" {
		return nil, nil
	}

	doc, err := parse(page)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL(page))
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}

		// Skip fragments, javascript:, mailto:, tel:
		trimmed := strings.TrimSpace(href)
		if strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "javascript:") ||
			strings.HasPrefix(trimmed, "mailto:") ||
			strings.HasPrefix(trimmed, "tel:") {
			return
		}

		resolved := resolveURL(base, trimmed)
		if resolved == "" || seen[resolved] || !IsProfileURL(resolved) {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})

	return links, nil
}

// resolveURL resolves a potentially relative URL against a base URL.
func resolveURL(base *url.URL, raw string) string {
	if base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// truncate limits a string to maxLen characters.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
