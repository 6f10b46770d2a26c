// Package search keeps a bleve full-text index over stored profiles.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/HolbyKate/cooptme/internal/storage"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// GlobalOwner is the OwnerID indexed for profiles that belong to no user.
// Searching with it as the owner returns only those profiles.
const GlobalOwner = "_global"

// Index wraps a Bleve search index
type Index struct {
	index bleve.Index
}

// IndexedProfile represents a profile in the search index
type IndexedProfile struct {
	ID         string
	FullName   string
	Title      string
	Company    string
	Location   string
	ProfileURL string
	OwnerID    string
}

// Result represents a search hit
type Result struct {
	ID         string              `json:"id"`
	FullName   string              `json:"fullName"`
	Title      string              `json:"title"`
	Company    string              `json:"company"`
	Location   string              `json:"location"`
	ProfileURL string              `json:"profileUrl"`
	Score      float64             `json:"score"`
	Fragments  map[string][]string `json:"fragments,omitempty"`
}

// Open opens or creates a Bleve index at path
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// NewMemory creates an index that lives in memory only
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildIndexMapping maps names and headlines as text, owner and URL as
// exact keywords
func buildIndexMapping() mapping.IndexMapping {
	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = "en"

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	keywordFieldMapping.IncludeInAll = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("FullName", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Title", titleFieldMapping)
	docMapping.AddFieldMappingsAt("Company", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Location", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("ProfileURL", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("OwnerID", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

func toIndexed(p plugin.Profile) *IndexedProfile {
	owner := p.OwnerID
	if owner == "" {
		owner = GlobalOwner
	}
	return &IndexedProfile{
		ID:         p.ID,
		FullName:   p.FullName(),
		Title:      p.Title,
		Company:    p.Company,
		Location:   p.Location,
		ProfileURL: p.ProfileURL,
		OwnerID:    owner,
	}
}

// IndexProfile adds or updates a profile in the index
func (i *Index) IndexProfile(p plugin.Profile) error {
	return i.index.Index(p.ID, toIndexed(p))
}

// DeleteProfile removes a profile from the index
func (i *Index) DeleteProfile(id string) error {
	return i.index.Delete(id)
}

// Search runs a query string query, restricted to ownerID when set. An
// empty ownerID searches every owner, GlobalOwner only unowned profiles.
// An empty query matches everything.
func (i *Index) Search(queryStr, ownerID string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 20
	}

	var q query.Query = bleve.NewQueryStringQuery(queryStr)
	if queryStr == "" {
		q = bleve.NewMatchAllQuery()
	}
	if ownerID != "" {
		owner := bleve.NewTermQuery(ownerID)
		owner.SetField("OwnerID")
		q = bleve.NewConjunctionQuery(q, owner)
	}

	search := bleve.NewSearchRequestOptions(q, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Fields = []string{"FullName", "Title", "Company", "Location", "ProfileURL"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		hits = append(hits, &Result{
			ID:         hit.ID,
			FullName:   field(hit.Fields, "FullName"),
			Title:      field(hit.Fields, "Title"),
			Company:    field(hit.Fields, "Company"),
			Location:   field(hit.Fields, "Location"),
			ProfileURL: field(hit.Fields, "ProfileURL"),
			Score:      hit.Score,
			Fragments:  hit.Fragments,
		})
	}
	return hits, nil
}

func field(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// IndexFromGateway reindexes every stored profile in one batch
func (i *Index) IndexFromGateway(ctx context.Context, g storage.Gateway) (int, error) {
	profiles, err := g.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list profiles: %w", err)
	}

	batch := i.index.NewBatch()
	for _, p := range profiles {
		if err := batch.Index(p.ID, toIndexed(p)); err != nil {
			return 0, fmt.Errorf("batch index %s: %w", p.ID, err)
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(profiles), nil
}

// Count returns the number of profiles in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
