// Package entitystore keeps the client-side authoritative copy of a server
// collection (agents, workspaces) together with the current selection.
//
// Mutations are confirmed, not optimistic: local state changes only after the
// backend answers successfully, and a failed call leaves the collection
// exactly as it was.
package entitystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrNotFound is returned when an id is not a member of the collection.
	ErrNotFound = errors.New("entity not found")
	// ErrSuperseded is returned when a newer request for the same id (or a
	// newer Load) was issued before this response arrived. The response is
	// not applied.
	ErrSuperseded = errors.New("request superseded by a newer one")
)

// Entity is an item with a stable identity that can produce a deep copy of itself.
type Entity[T any] interface {
	EntityID() string
	Clone() T
}

// Backend is the CRUD boundary a store reconciles against.
type Backend[T any] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, draft T) (T, error)
	Update(ctx context.Context, id string, item T) (T, error)
	Delete(ctx context.Context, id string) error
}

// DefaultSelector picks the selection applied after Load or after the
// selected item is removed. It returns "" when nothing should be selected.
type DefaultSelector[T any] func(items []T) string

// Snapshot is a consistent, caller-owned copy of the store state.
type Snapshot[T Entity[T]] struct {
	Items      []T
	SelectedID string
	Loaded     bool
	LastError  error
}

// Selected returns the selected item, if any.
func (s Snapshot[T]) Selected() (T, bool) {
	if s.SelectedID != "" {
		for _, item := range s.Items {
			if item.EntityID() == s.SelectedID {
				return item, true
			}
		}
	}
	var zero T
	return zero, false
}

func (s Snapshot[T]) clone() Snapshot[T] {
	s.Items = cloneAll(s.Items)
	return s
}

// CreateOption adjusts a Create call.
type CreateOption func(*createOptions)

type createOptions struct {
	selectCreated bool
}

// WithSelect makes the created item the selection once the backend confirms it.
func WithSelect() CreateOption {
	return func(o *createOptions) { o.selectCreated = true }
}

// Store is the authoritative client-side collection for one entity type.
type Store[T Entity[T]] struct {
	name     string
	backend  Backend[T]
	selector DefaultSelector[T]
	logger   *slog.Logger

	mu         sync.Mutex
	items      []T
	selectedID string
	loaded     bool
	lastErr    error
	loadSeq    uint64
	reqSeq     uint64
	updateSeq  map[string]uint64 // id -> latest in-flight Update
	listeners  map[int]func(Snapshot[T])
	nextListen int

	notifyMu sync.Mutex
}

// New creates a store named name (used in logs) over backend.
func New[T Entity[T]](name string, backend Backend[T], selector DefaultSelector[T], logger *slog.Logger) *Store[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if selector == nil {
		selector = SelectFirst[T]
	}
	return &Store[T]{
		name:      name,
		backend:   backend,
		selector:  selector,
		logger:    logger.With("component", "entitystore", "collection", name),
		updateSeq: make(map[string]uint64),
		listeners: make(map[int]func(Snapshot[T])),
	}
}

// SelectFirst selects the first item of the collection.
func SelectFirst[T Entity[T]](items []T) string {
	if len(items) == 0 {
		return ""
	}
	return items[0].EntityID()
}

// Load replaces the collection with the backend's list. The previous
// selection survives when it is still a member; otherwise the default rule
// applies.
func (s *Store[T]) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.reqSeq++
	issued := s.reqSeq
	s.mu.Unlock()

	items, err := s.backend.List(ctx)

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		err = fmt.Errorf("load %s: %w", s.name, err)
		s.lastErr = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Warn("Load failed", "error", err)
		s.publish(snap)
		return err
	}

	s.items = cloneAll(items)
	// Updates issued before this list was requested are older than it.
	for id, updateSeq := range s.updateSeq {
		if updateSeq < issued {
			delete(s.updateSeq, id)
		}
	}
	s.loaded = true
	s.lastErr = nil
	if s.indexLocked(s.selectedID) < 0 {
		s.selectedID = s.selector(s.items)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("Loaded", "count", len(snap.Items), "selected", snap.SelectedID)
	s.publish(snap)
	return nil
}

// Create sends a draft to the backend and appends the confirmed item.
func (s *Store[T]) Create(ctx context.Context, draft T, opts ...CreateOption) (T, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	created, err := s.backend.Create(ctx, draft.Clone())
	if err != nil {
		var zero T
		return zero, s.fail(fmt.Errorf("create %s: %w", s.name, err))
	}

	s.mu.Lock()
	s.items = append(s.items, created.Clone())
	if o.selectCreated {
		s.selectedID = created.EntityID()
	}
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("Created", "id", created.EntityID())
	s.publish(snap)
	return created.Clone(), nil
}

// Update sends a full replacement for item and applies the confirmed copy in
// place. If another Update for the same id, or a Load, is issued and applied
// before this one completes, this response is discarded with ErrSuperseded.
func (s *Store[T]) Update(ctx context.Context, item T) (T, error) {
	var zero T
	id := item.EntityID()

	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		err := fmt.Errorf("update %s %q: %w", s.name, id, ErrNotFound)
		s.lastErr = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		return zero, err
	}
	s.reqSeq++
	seq := s.reqSeq
	s.updateSeq[id] = seq
	s.mu.Unlock()

	updated, err := s.backend.Update(ctx, id, item.Clone())

	s.mu.Lock()
	if s.updateSeq[id] != seq {
		s.mu.Unlock()
		s.logger.Debug("Discarding superseded update", "id", id)
		return zero, ErrSuperseded
	}
	delete(s.updateSeq, id)
	if err != nil {
		err = fmt.Errorf("update %s %q: %w", s.name, id, err)
		s.lastErr = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Warn("Update failed", "id", id, "error", err)
		s.publish(snap)
		return zero, err
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		// Removed locally while the request was in flight.
		s.mu.Unlock()
		return zero, fmt.Errorf("update %s %q: %w", s.name, id, ErrNotFound)
	}
	s.items[idx] = updated.Clone()
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return updated.Clone(), nil
}

// Remove deletes id on the backend and drops it locally. Removing the
// selected item reselects by the default rule.
func (s *Store[T]) Remove(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return s.fail(fmt.Errorf("delete %s %q: %w", s.name, id, err))
	}

	s.mu.Lock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	}
	delete(s.updateSeq, id)
	if s.selectedID == id {
		s.selectedID = s.selector(s.items)
	}
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("Removed", "id", id, "selected", snap.SelectedID)
	s.publish(snap)
	return nil
}

// Select makes id the selection. Only current members can be selected.
func (s *Store[T]) Select(id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("select %s %q: %w", s.name, id, ErrNotFound)
	}
	if s.selectedID == id {
		s.mu.Unlock()
		return nil
	}
	s.selectedID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// Get returns a copy of the item with id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.items[idx].Clone(), true
	}
	var zero T
	return zero, false
}

// Items returns a copy of the collection in server order.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.items)
}

// Selected returns a copy of the selected item.
func (s *Store[T]) Selected() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(s.selectedID); idx >= 0 {
		return s.items[idx].Clone(), true
	}
	var zero T
	return zero, false
}

// Snapshot returns a copy of the full state.
func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LastError returns the error of the most recent failed call, or nil if the
// most recent call succeeded.
func (s *Store[T]) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers fn for state changes and immediately delivers the
// current snapshot.
func (s *Store[T]) Subscribe(fn func(Snapshot[T])) (unsubscribe func()) {
	s.mu.Lock()
	s.nextListen++
	id := s.nextListen
	s.listeners[id] = fn
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyMu.Lock()
	fn(snap)
	s.notifyMu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store[T]) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Warn("Request failed", "error", err)
	s.publish(snap)
	return err
}

func (s *Store[T]) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, item := range s.items {
		if item.EntityID() == id {
			return i
		}
	}
	return -1
}

func (s *Store[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Items:      cloneAll(s.items),
		SelectedID: s.selectedID,
		Loaded:     s.loaded,
		LastError:  s.lastErr,
	}
}

func (s *Store[T]) publish(snap Snapshot[T]) {
	s.mu.Lock()
	fns := make([]func(Snapshot[T]), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, fn := range fns {
		fn(snap.clone())
	}
}

func cloneAll[T Entity[T]](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
