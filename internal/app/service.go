package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"canvas/api/internal/binding"
	"canvas/api/internal/builder"
	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
	"canvas/api/internal/config"
	"canvas/api/internal/gitrepo"
	"canvas/api/internal/history"
	"canvas/api/internal/presence"
	"canvas/api/internal/rbac"
	"canvas/api/internal/search"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
	"canvas/api/internal/util"
)

const systemAuthor = "canvas"

// DataStore is the document registry.
type DataStore interface {
	Ping(context.Context) error
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) (store.Document, error)
	TouchDocument(context.Context, string) error
	InsertVersion(context.Context, store.Version) (store.Version, error)
	ListVersions(context.Context, string) ([]store.Version, error)
}

type gitService interface {
	EnsureDocumentRepo(string, gitrepo.Snapshot, string) error
	CommitSnapshot(string, gitrepo.Snapshot, string, string) (gitrepo.CommitInfo, error)
	GetHeadSnapshot(string) (gitrepo.Snapshot, gitrepo.CommitInfo, error)
	GetSnapshotByHash(string, string) (gitrepo.Snapshot, gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	CreateTag(string, string, string) error
}

// PresenceStoreFunc returns the presence backend of one document.
type PresenceStoreFunc func(documentID string) presence.Store

type Option func(*Service)

func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithHandlers(r *HandlerRegistry) Option {
	return func(s *Service) { s.handlers = r }
}

func WithPresenceStore(fn PresenceStoreFunc) Option {
	return func(s *Service) { s.presenceStore = fn }
}

type Service struct {
	cfg           config.Config
	mode          rbac.Mode
	store         DataStore
	git           gitService
	catalog       *catalog.Catalog
	search        *search.Service
	handlers      *HandlerRegistry
	presenceStore PresenceStoreFunc

	ctx      context.Context
	cancel   context.CancelFunc
	autosave sync.WaitGroup

	mu   sync.Mutex
	docs map[string]*Document
}

func New(cfg config.Config, dataStore DataStore, gitService gitService, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		mode:   rbac.Normalize(cfg.Mode),
		store:  dataStore,
		git:    gitService,
		ctx:    ctx,
		cancel: cancel,
		docs:   make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = catalog.Builtin()
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil)
	}
	if s.handlers == nil {
		s.handlers = NewHandlerRegistry()
	}
	if s.presenceStore == nil {
		s.presenceStore = func(string) presence.Store { return presence.NewMemoryStore() }
	}
	if cfg.AutosaveInterval > 0 {
		s.autosave.Add(1)
		go s.autosaveLoop(cfg.AutosaveInterval)
	}
	return s
}

// autosaveLoop flushes dirty documents every interval until Close.
func (s *Service) autosaveLoop(interval time.Duration) {
	defer s.autosave.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(s.ctx); err != nil {
				log.Printf("app: autosave: %v", err)
			}
		}
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Mode() rbac.Mode {
	return s.mode
}

func (s *Service) Can(action rbac.Action) bool {
	return rbac.Can(s.mode, action)
}

func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Service) Handlers() *HandlerRegistry {
	return s.handlers
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	items, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Document{}
	}
	return items, nil
}

// CreateDocument registers a document and commits its starting tree: a root
// holding a single page.
func (s *Service) CreateDocument(ctx context.Context, name, author string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if author = strings.TrimSpace(author); author == "" {
		author = systemAuthor
	}

	doc, err := s.store.InsertDocument(ctx, store.Document{
		ID:        util.NewID("doc"),
		Name:      name,
		CreatedBy: author,
	})
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	initial := gitrepo.Snapshot{
		Components: []component.Component{
			{ID: "root", Type: "root", Content: map[string]string{"appName": name}},
			{ID: util.NewID("page"), Type: "page", ParentID: "root", Content: map[string]string{"key": "home"}},
		},
		State: map[string]any{},
	}
	if err := s.git.EnsureDocumentRepo(doc.ID, initial, author); err != nil {
		return nil, fmt.Errorf("create repo for %s: %w", doc.ID, err)
	}

	return map[string]any{"document": doc}, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	undo, redo := d.builder.Labels()
	return map[string]any{
		"document":   meta,
		"components": d.tree.Snapshot(),
		"mutations":  d.fullMutations(),
		"history":    historyPayload(undo, redo),
	}, nil
}

// document returns the live session of documentID, loading it from the head
// of its repository on first use. The registry lock is not held while loading.
func (s *Service) document(ctx context.Context, documentID string) (*Document, error) {
	s.mu.Lock()
	d, ok := s.docs[documentID]
	s.mu.Unlock()
	if ok {
		return d, nil
	}
	if s.ctx.Err() != nil {
		return nil, errShuttingDown()
	}

	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	snap, _, err := s.git.GetHeadSnapshot(documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	d, err = s.newDocument(documentID, snap)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if loaded, ok := s.docs[documentID]; ok {
		// A concurrent request loaded it first.
		return loaded, nil
	}
	if s.ctx.Err() != nil {
		return nil, errShuttingDown()
	}
	if err := d.presence.Start(s.ctx); err != nil {
		return nil, fmt.Errorf("start presence for %s: %w", documentID, err)
	}
	s.docs[documentID] = d
	s.search.ReindexDocument(documentID, search.ComponentRecords(documentID, snap.Components))
	return d, nil
}

func errShuttingDown() error {
	return domainError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down", nil)
}

func (s *Service) newDocument(documentID string, snap gitrepo.Snapshot) (*Document, error) {
	d := &Document{
		ID:     documentID,
		tree:   component.NewStore(component.WithCatalog(s.catalog)),
		mirror: state.NewMirror(),
		subs:   make(map[*subscriber]struct{}),
	}
	if err := d.tree.Replace(snap.Components); err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", documentID, err)
	}
	if err := d.mirror.Load(snap.State); err != nil {
		return nil, fmt.Errorf("load state of %s: %w", documentID, err)
	}

	h := history.New(history.WithCoalesceWindow(s.cfg.CoalesceWindow))
	d.builder = builder.New(d.tree, h, builder.WithState(d.mirror, func(p state.Patch) {
		d.broadcastPatch(p, nil)
	}))
	d.eval = binding.NewEvaluator(d.mirror, d.tree)

	opts := []presence.Option{presence.WithChangeHook(d.broadcastPresence)}
	if s.cfg.PresenceTimeout > 0 {
		opts = append(opts, presence.WithTimeout(s.cfg.PresenceTimeout))
	}
	if s.cfg.PresenceGroomInterval > 0 {
		opts = append(opts, presence.WithGroomInterval(s.cfg.PresenceGroomInterval))
	}
	d.presence = presence.NewManager(s.presenceStore(documentID), opts...)
	return d, nil
}

// Flush commits every document with unsaved changes to its repository.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	s.mu.Unlock()

	var errs []error
	for _, d := range docs {
		if err := s.flushDocument(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) flushDocument(ctx context.Context, d *Document) error {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	snap := d.snapshot()
	d.dirty = false
	d.mu.Unlock()

	if _, err := s.git.CommitSnapshot(d.ID, snap, systemAuthor, "Autosave"); err != nil {
		d.mu.Lock()
		d.dirty = true
		d.mu.Unlock()
		return fmt.Errorf("autosave %s: %w", d.ID, err)
	}
	if err := s.store.TouchDocument(ctx, d.ID); err != nil {
		log.Printf("app: touch document %s: %v", d.ID, err)
	}
	return nil
}

// Close stops autosave, flushes unsaved documents and stops their presence
// managers.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	s.autosave.Wait()
	err := s.Flush(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.docs {
		if closeErr := d.presence.Close(); closeErr != nil {
			log.Printf("app: close presence of %s: %v", id, closeErr)
		}
		d.subsMu.Lock()
		for sub := range d.subs {
			sub.close()
		}
		d.subsMu.Unlock()
	}
	s.search.Close()
	return err
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func historyPayload(undo, redo []string) map[string]any {
	if undo == nil {
		undo = []string{}
	}
	if redo == nil {
		redo = []string{}
	}
	return map[string]any{
		"undo":    undo,
		"redo":    redo,
		"canUndo": len(undo) > 0,
		"canRedo": len(redo) > 0,
	}
}
