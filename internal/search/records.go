package search

import (
	"sort"
	"strings"

	"canvas/api/internal/component"
)

var titleFields = []string{"title", "text", "label", "appName", "key"}

// ComponentRecords builds index records for the components of a document.
// Components with no content are skipped.
func ComponentRecords(documentID string, components []component.Component) []ComponentRecord {
	records := make([]ComponentRecord, 0, len(components))
	for _, c := range components {
		if len(c.Content) == 0 {
			continue
		}
		keys := make([]string, 0, len(c.Content))
		for key := range c.Content {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			if v := strings.TrimSpace(c.Content[key]); v != "" {
				parts = append(parts, v)
			}
		}
		records = append(records, ComponentRecord{
			ID:          RecordID(documentID, c.ID),
			ComponentID: c.ID,
			DocumentID:  documentID,
			Type:        c.Type,
			Title:       recordTitle(c),
			Text:        strings.Join(parts, " "),
		})
	}
	return records
}

func recordTitle(c component.Component) string {
	for _, key := range titleFields {
		if v := strings.TrimSpace(c.Content[key]); v != "" {
			return v
		}
	}
	return c.Type
}
