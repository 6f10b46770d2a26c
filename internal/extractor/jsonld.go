package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// JSONLDExtractor reads the schema.org Person embedded in
// application/ld+json script tags.
type JSONLDExtractor struct{}

func NewJSONLDExtractor() *JSONLDExtractor { return &JSONLDExtractor{} }

func (e *JSONLDExtractor) Name() string { return "json-ld" }

type ldPerson struct {
	Type       interface{}     `json:"@type"`
	Name       string          `json:"name"`
	GivenName  string          `json:"givenName"`
	FamilyName string          `json:"familyName"`
	JobTitle   interface{}     `json:"jobTitle"`
	WorksFor   json.RawMessage `json:"worksFor"`
	Address    json.RawMessage `json:"address"`
	URL        string          `json:"url"`
	Graph      []ldPerson      `json:"@graph"`
}

func (e *JSONLDExtractor) Extract(page *plugin.PageData) (plugin.RawExtractionPayload, error) {
	var found plugin.RawExtractionPayload
	if page.HTML == "" {
		return found, nil
	}

	doc, err := parse(page)
	if err != nil {
		return found, err
	}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		person, ok := findPerson([]byte(strings.TrimSpace(s.Text())))
		if !ok {
			return true
		}
		found = plugin.RawExtractionPayload{
			FullName:   strings.TrimSpace(person.Name),
			FirstName:  strings.TrimSpace(person.GivenName),
			LastName:   strings.TrimSpace(person.FamilyName),
			Title:      firstString(person.JobTitle),
			Company:    nameOf(person.WorksFor),
			Location:   locality(person.Address),
			ProfileURL: strings.TrimSpace(person.URL),
		}
		return false
	})

	return found, nil
}

// findPerson looks for a Person node at the top level, in an array or in
// an @graph. Malformed blocks are skipped.
func findPerson(data []byte) (ldPerson, bool) {
	var nodes []ldPerson
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &nodes); err != nil {
			return ldPerson{}, false
		}
	} else {
		var node ldPerson
		if err := json.Unmarshal(data, &node); err != nil {
			return ldPerson{}, false
		}
		nodes = append([]ldPerson{node}, node.Graph...)
	}

	for _, n := range nodes {
		if isPerson(n.Type) && (n.Name != "" || n.GivenName != "" || n.FamilyName != "") {
			return n, true
		}
	}
	return ldPerson{}, false
}

func isPerson(t interface{}) bool {
	switch v := t.(type) {
	case string:
		return v == "Person"
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "Person" {
				return true
			}
		}
	}
	return false
}

func firstString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// nameOf reads {"name": ...} from an object or the first element of an array.
func nameOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.Name)
	}
	var list []struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &list) == nil {
		for _, item := range list {
			if name := strings.TrimSpace(item.Name); name != "" {
				return name
			}
		}
	}
	return ""
}

func locality(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var addr struct {
		Locality string      `json:"addressLocality"`
		Country  interface{} `json:"addressCountry"`
	}
	if json.Unmarshal(raw, &addr) != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{addr.Locality, firstString(addr.Country)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
