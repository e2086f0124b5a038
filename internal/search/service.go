package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory index. The memory index is always kept current so the fallback
// never serves stale results after an outage.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, memory *Memory) *Service {
	if memory == nil {
		memory = NewMemory()
	}
	return &Service{meili: meili, memory: memory}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory index: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		log.Printf("search: memory index error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexComponents indexes records in memory and, fire-and-forget, in
// Meilisearch.
func (s *Service) IndexComponents(records []ComponentRecord) {
	if len(records) == 0 {
		return
	}
	_ = s.memory.IndexComponents(records)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComponents(records); err != nil {
			log.Printf("search: index %d components: %v", len(records), err)
		}
	}()
}

// ReindexDocument replaces every record of documentID with records.
// Stale ids (components no longer present) are removed.
func (s *Service) ReindexDocument(documentID string, records []ComponentRecord) {
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[r.ID] = struct{}{}
	}
	var stale []string
	for _, id := range s.memory.idsFor(documentID) {
		if _, ok := present[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		_ = s.memory.DeleteComponents(stale)
		if s.meili != nil && s.meili.Healthy() {
			go func() {
				if err := s.meili.DeleteComponents(stale); err != nil {
					log.Printf("search: drop stale components of %s: %v", documentID, err)
				}
			}()
		}
	}
	s.IndexComponents(records)
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
