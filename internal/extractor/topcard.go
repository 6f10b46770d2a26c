package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// TopCardExtractor reads the profile header with the same selectors the
// in-page extraction script uses.
type TopCardExtractor struct {
	fields map[string][]string // field → selectors, in priority order
}

func NewTopCardExtractor() *TopCardExtractor {
	return &TopCardExtractor{
		fields: map[string][]string{
			"name":     {".text-heading-xlarge", ".top-card-layout__title", "main h1", "h1"},
			"title":    {".text-body-medium", ".top-card-layout__headline"},
			"company":  {".pv-text-details__right-panel-item-text", ".top-card-link__description"},
			"location": {".text-body-small.inline", ".top-card__subline-item"},
		},
	}
}

func (e *TopCardExtractor) Name() string { return "top-card" }

func (e *TopCardExtractor) Extract(page *plugin.PageData) (plugin.RawExtractionPayload, error) {
	var found plugin.RawExtractionPayload
	if page.HTML == "" {
		return found, nil
	}

	doc, err := parse(page)
	if err != nil {
		return found, err
	}

	found.FullName = firstText(doc, e.fields["name"])
	found.Title = firstText(doc, e.fields["title"])
	found.Company = firstText(doc, e.fields["company"])
	found.Location = firstText(doc, e.fields["location"])
	return found, nil
}

// firstText returns the collapsed text of the first selector that matches
// a non-empty element.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var text string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = strings.Join(strings.Fields(s.Text()), " ")
			return text == ""
		})
		if text != "" {
			return truncate(text, 300)
		}
	}
	return ""
}
