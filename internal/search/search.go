package search

import "strings"

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	ComponentID string `json:"componentId"`
	DocumentID  string `json:"documentId"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string // empty = all documents
	Type       string // empty = all component types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push components into a search index.
type Indexer interface {
	IndexComponents(records []ComponentRecord) error
	DeleteComponents(ids []string) error
}

// ComponentRecord is the data we index for a component.
type ComponentRecord struct {
	ID          string `json:"id"`
	ComponentID string `json:"componentId"`
	DocumentID  string `json:"documentId"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Text        string `json:"text"`
}

// RecordID is the index key of a component. Meilisearch ids only allow
// alphanumerics, '-' and '_'.
func RecordID(documentID, componentID string) string {
	return sanitizeID(documentID) + "__" + sanitizeID(componentID)
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
