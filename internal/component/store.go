package component

import (
	"fmt"
	"slices"
	"sort"

	"canvas/api/internal/catalog"
)

// DefaultRootTypes is the fixed set of component types that live at the top of
// the tree without a parent.
var DefaultRootTypes = []string{"root"}

// Catalog is the read-only definition source the store validates against.
type Catalog interface {
	Definition(typ string) (catalog.Definition, bool)
}

type record struct {
	c   Component
	seq uint64
}

// Store is not safe for concurrent use; callers serialize access per document.
type Store struct {
	records   map[string]*record
	children  map[string][]string
	rootTypes map[string]struct{}
	catalog   Catalog
	seq       uint64
}

type Option func(*Store)

func WithRootTypes(types ...string) Option {
	return func(s *Store) {
		s.rootTypes = make(map[string]struct{}, len(types))
		for _, typ := range types {
			s.rootTypes[typ] = struct{}{}
		}
	}
}

// WithCatalog enables type, child and content validation on writes.
func WithCatalog(c Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]*record),
		children: make(map[string][]string),
	}
	WithRootTypes(DefaultRootTypes...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) IsRootType(typ string) bool {
	_, ok := s.rootTypes[typ]
	return ok
}

// Get returns a copy of the component with the given id.
func (s *Store) Get(id string) (Component, error) {
	rec, ok := s.records[id]
	if !ok {
		return Component{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.c.Clone(), nil
}

func (s *Store) Lookup(id string) (Component, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Component{}, false
	}
	return rec.c.Clone(), true
}

func (s *Store) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

func (s *Store) Len() int {
	return len(s.records)
}

// Children returns the direct children of parentID ordered by position, ties
// broken by insertion order. An empty parentID lists the roots.
func (s *Store) Children(parentID string) []Component {
	ids := s.children[parentID]
	out := make([]Component, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].c.Clone())
	}
	return out
}

// Nested returns the subtree rooted at rootID in pre-order.
func (s *Store) Nested(rootID string) ([]Component, error) {
	if !s.Has(rootID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rootID)
	}
	ids := s.subtreeIDs(rootID)
	out := make([]Component, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].c.Clone())
	}
	return out, nil
}

// Snapshot returns every component, roots first, each subtree in pre-order.
func (s *Store) Snapshot() []Component {
	out := make([]Component, 0, len(s.records))
	for _, rootID := range s.children[""] {
		for _, id := range s.subtreeIDs(rootID) {
			out = append(out, s.records[id].c.Clone())
		}
	}
	return out
}

// Definition delegates to the catalog.
func (s *Store) Definition(typ string) (catalog.Definition, bool) {
	if s.catalog == nil {
		return catalog.Definition{}, false
	}
	return s.catalog.Definition(typ)
}

// IsDescendant reports whether id lies in the subtree of ancestorID, including
// ancestorID itself.
func (s *Store) IsDescendant(id, ancestorID string) bool {
	for current := id; current != ""; {
		if current == ancestorID {
			return true
		}
		rec, ok := s.records[current]
		if !ok {
			return false
		}
		current = rec.c.ParentID
	}
	return false
}

// Replace swaps the whole tree for components after checking that they form
// a well-formed forest. On error the current tree is left untouched.
func (s *Store) Replace(components []Component) error {
	next := &Store{
		records:   make(map[string]*record, len(components)),
		children:  make(map[string][]string),
		rootTypes: s.rootTypes,
		catalog:   s.catalog,
	}
	for _, c := range components {
		if c.ID == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidParent)
		}
		if _, exists := next.records[c.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		next.seq++
		next.records[c.ID] = &record{c: normalize(c.Clone()), seq: next.seq}
	}
	for _, c := range components {
		isRoot := next.IsRootType(c.Type)
		switch {
		case isRoot && c.ParentID != "":
			return fmt.Errorf("%w: root %s cannot have a parent", ErrInvalidParent, c.ID)
		case !isRoot && c.ParentID == "":
			return fmt.Errorf("%w: %s has no parent", ErrInvalidParent, c.ID)
		case !isRoot && !next.Has(c.ParentID):
			return fmt.Errorf("%w: %s references missing parent %s", ErrInvalidParent, c.ID, c.ParentID)
		}
	}
	for _, c := range components {
		next.link(next.records[c.ID])
	}
	reachable := 0
	for _, rootID := range next.children[""] {
		reachable += len(next.subtreeIDs(rootID))
	}
	if reachable != len(next.records) {
		return fmt.Errorf("%w: tree contains a cycle", ErrCycle)
	}

	s.records = next.records
	s.children = next.children
	s.seq = next.seq
	return nil
}

func normalize(c Component) Component {
	if c.Content == nil {
		c.Content = map[string]string{}
	}
	if c.Handlers == nil {
		c.Handlers = map[string]string{}
	}
	return c
}

func (s *Store) subtreeIDs(rootID string) []string {
	ids := []string{rootID}
	for _, childID := range s.children[rootID] {
		ids = append(ids, s.subtreeIDs(childID)...)
	}
	return ids
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// nextPosition returns a position that sorts after every current child of parentID.
func (s *Store) nextPosition(parentID, excludeID string) int {
	position := 0
	for _, id := range s.children[parentID] {
		if id == excludeID {
			continue
		}
		if p := s.records[id].c.Position + 1; p > position {
			position = p
		}
	}
	return position
}

func before(a, b *record) bool {
	if a.c.Position != b.c.Position {
		return a.c.Position < b.c.Position
	}
	return a.seq < b.seq
}

func (s *Store) link(rec *record) {
	siblings := s.children[rec.c.ParentID]
	i := sort.Search(len(siblings), func(i int) bool {
		return before(rec, s.records[siblings[i]])
	})
	s.children[rec.c.ParentID] = slices.Insert(siblings, i, rec.c.ID)
}

func (s *Store) unlink(rec *record) {
	siblings := s.children[rec.c.ParentID]
	if i := slices.Index(siblings, rec.c.ID); i >= 0 {
		siblings = slices.Delete(siblings, i, i+1)
	}
	if len(siblings) == 0 {
		delete(s.children, rec.c.ParentID)
		return
	}
	s.children[rec.c.ParentID] = siblings
}

func (s *Store) insert(c Component, seq uint64) {
	rec := &record{c: normalize(c), seq: seq}
	s.records[c.ID] = rec
	s.link(rec)
}

func (s *Store) remove(id string) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	s.unlink(rec)
	delete(s.records, id)
}

// checkPlacement validates that a component of typ may sit under parentID.
func (s *Store) checkPlacement(id, typ, parentID string) error {
	if s.IsRootType(typ) {
		if parentID != "" {
			return fmt.Errorf("%w: root %s cannot have a parent", ErrInvalidParent, id)
		}
		return nil
	}
	if parentID == "" {
		return fmt.Errorf("%w: %s needs a parent", ErrInvalidParent, id)
	}
	parent, ok := s.records[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s not found", ErrInvalidParent, parentID)
	}
	if def, ok := s.Definition(parent.c.Type); ok && !def.Accepts(typ) {
		return fmt.Errorf("%w: %s does not accept %s children", ErrInvalidParent, parent.c.Type, typ)
	}
	return nil
}

func (s *Store) checkContent(typ string, content map[string]string) error {
	if s.catalog == nil {
		return nil
	}
	def, ok := s.catalog.Definition(typ)
	if !ok {
		return nil
	}
	for key, raw := range content {
		field, ok := def.Field(key)
		if !ok {
			continue
		}
		if err := catalog.ValidateField(field.Kind, raw); err != nil {
			return fmt.Errorf("%w: field %s: %v", ErrInvalidContent, key, err)
		}
	}
	return nil
}

func (s *Store) checkBinding(typ string, binding *Binding) error {
	if binding == nil {
		return nil
	}
	if binding.EventType == "" || binding.StateRef == "" {
		return fmt.Errorf("%w: binding needs an event type and a state reference", ErrInvalidContent)
	}
	if err := catalog.ValidateField(catalog.KindBinding, binding.StateRef); err != nil {
		return fmt.Errorf("%w: binding: %v", ErrInvalidContent, err)
	}
	if def, ok := s.Definition(typ); ok {
		if _, ok := def.Events[binding.EventType]; !ok {
			return fmt.Errorf("%w: %s does not emit %s", ErrInvalidContent, typ, binding.EventType)
		}
	}
	return nil
}
