package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process index used when Meilisearch is not configured or
// unreachable. Matching is a case-insensitive substring test on every term.
type Memory struct {
	mu      sync.RWMutex
	records map[string]ComponentRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]ComponentRecord)}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) IndexComponents(records []ComponentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *Memory) DeleteComponents(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *Memory) Search(q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))

	m.mu.RLock()
	matches := make([]ComponentRecord, 0)
	for _, r := range m.records {
		if q.DocumentID != "" && r.DocumentID != q.DocumentID {
			continue
		}
		if q.Type != "" && r.Type != q.Type {
			continue
		}
		haystack := strings.ToLower(r.Title + " " + r.Type + " " + r.Text)
		matched := true
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	total := len(matches)

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(q.Offset, total)
	end := min(start+limit, total)

	results := make([]Result, 0, end-start)
	for _, r := range matches[start:end] {
		results = append(results, Result{
			ID:          r.ID,
			ComponentID: r.ComponentID,
			DocumentID:  r.DocumentID,
			Type:        r.Type,
			Title:       r.Title,
			Snippet:     snippet(r.Text, terms),
		})
	}
	return results, total, nil
}

// snippet returns up to 120 characters of text around the first term found.
func snippet(text string, terms []string) string {
	const width = 120
	lower := strings.ToLower(text)
	start := 0
	for _, term := range terms {
		if i := strings.Index(lower, term); i >= 0 {
			start = max(0, i-width/4)
			break
		}
	}
	end := min(len(text), start+width)
	return strings.TrimSpace(text[start:end])
}

func (m *Memory) idsFor(documentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, r := range m.records {
		if r.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	return ids
}
