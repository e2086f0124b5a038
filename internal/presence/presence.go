// Package presence tracks which collaborators are active on a document.
// Entries that are not refreshed within the timeout are groomed away.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"canvas/api/internal/binding"
)

const (
	DefaultTimeout       = 5 * time.Second
	DefaultGroomInterval = time.Second
)

var ErrAlreadyStarted = errors.New("presence manager already started")

type Selection struct {
	ComponentID  string               `json:"componentId"`
	InstancePath binding.InstancePath `json:"instancePath,omitempty"`
}

type Entry struct {
	UserID    string     `json:"userId"`
	Action    string     `json:"action"`
	Time      time.Time  `json:"time"`
	Selection *Selection `json:"selection,omitempty"`
}

// Store holds the entries of one document.
type Store interface {
	Put(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	// Prune deletes entries last seen before cutoff and returns how many went.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func WithGroomInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithChangeHook is called with the remaining entries after grooming removed any.
func WithChangeHook(fn func([]Entry)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// Manager owns the presence state of a single document. Its grooming timer
// runs between Start and Close.
type Manager struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	onChange func([]Entry)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		timeout:  DefaultTimeout,
		interval: DefaultGroomInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the grooming loop. It stops when ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.loop(ctx, m.done)
	return nil
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Groom(ctx); err != nil && ctx.Err() == nil {
				log.Printf("presence: groom failed: %v", err)
			}
		}
	}
}

// Close stops the grooming loop and waits for it to exit. It is safe to call
// more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	cancel, done := m.cancel, m.done
	m.started = false
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Ping records activity for e.UserID. A zero Time is stamped with now.
func (m *Manager) Ping(ctx context.Context, e Entry) error {
	if e.UserID == "" {
		return fmt.Errorf("presence ping: missing user id")
	}
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	if err := m.store.Put(ctx, e); err != nil {
		return fmt.Errorf("presence ping: %w", err)
	}
	return nil
}

// List returns the fresh entries ordered by user id.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	cutoff := m.now().Add(-m.timeout)
	out := entries[:0]
	for _, e := range entries {
		if e.Time.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Groom removes stale entries and returns how many were removed.
func (m *Manager) Groom(ctx context.Context) (int, error) {
	removed, err := m.store.Prune(ctx, m.now().Add(-m.timeout))
	if err != nil {
		return 0, err
	}
	if removed > 0 && m.onChange != nil {
		if entries, err := m.List(ctx); err == nil {
			m.onChange(entries)
		}
	}
	return removed, nil
}

// MemoryStore keeps entries in process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.UserID] = e
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.Time.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
