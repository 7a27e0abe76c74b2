// Package store implements the normalized in-memory collection of delivery
// records: the single source of truth for what the UI currently believes the
// server state is. Records are indexed by id for O(1) lookup and mutation;
// snapshots are ordered copies, newest id first.
//
// The store performs no I/O and no logging. Mutation is driven exclusively
// by the cache coordinator; every other component treats the store as
// read-only via Snapshot and Get.
package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/tbourn/go-delivery-console/internal/domain"
)

// Store-level contract violations. These indicate a programming defect in
// the caller, not an environmental failure, and are never swallowed.
var (
	// ErrDuplicateID is returned by Insert when the id is already present.
	ErrDuplicateID = errors.New("duplicate delivery id")

	// ErrNotFound is returned by Update when the id is absent.
	ErrNotFound = errors.New("delivery not found")
)

// Observer receives a fresh snapshot after every mutating call.
type Observer func([]domain.Delivery)

// Store is a normalized, concurrency-safe delivery table.
// The zero value is not usable; construct with New.
type Store struct {
	mu        sync.RWMutex
	byID      map[int64]domain.Delivery
	observers map[int]Observer
	nextObs   int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:      make(map[int64]domain.Delivery),
		observers: make(map[int]Observer),
	}
}

// ReplaceAll overwrites the entire collection. Used after a full list fetch.
// The input slice is copied; the caller keeps ownership of records.
func (s *Store) ReplaceAll(records []domain.Delivery) {
	s.mu.Lock()
	s.byID = make(map[int64]domain.Delivery, len(records))
	for _, d := range records {
		s.byID[d.ID] = d
	}
	s.mu.Unlock()
	s.notify()
}

// Insert adds a record. It fails with ErrDuplicateID when the id is already
// present; ids are unique within the collection at all times.
func (s *Store) Insert(d domain.Delivery) error {
	s.mu.Lock()
	if _, ok := s.byID[d.ID]; ok {
		s.mu.Unlock()
		return ErrDuplicateID
	}
	s.byID[d.ID] = d
	s.mu.Unlock()
	s.notify()
	return nil
}

// Update merges the patch's set fields into the record matching id and
// returns the resulting record. It fails with ErrNotFound when absent.
func (s *Store) Update(id int64, patch domain.DeliveryPatch) (domain.Delivery, error) {
	s.mu.Lock()
	cur, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return domain.Delivery{}, ErrNotFound
	}
	next := patch.Apply(cur)
	s.byID[id] = next
	s.mu.Unlock()
	s.notify()
	return next, nil
}

// Replace swaps the record matching id for a new record, which may carry a
// different id (e.g. the server rewrote a provisional id on create). It
// fails with ErrNotFound when id is absent and ErrDuplicateID when the new
// id already belongs to another record.
func (s *Store) Replace(id int64, next domain.Delivery) error {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if next.ID != id {
		if _, taken := s.byID[next.ID]; taken {
			s.mu.Unlock()
			return ErrDuplicateID
		}
		delete(s.byID, id)
	}
	s.byID[next.ID] = next
	s.mu.Unlock()
	s.notify()
	return nil
}

// Remove deletes the record matching id and reports whether a record was
// removed. Removing an absent id is a no-op, not an error, so duplicate
// delete requests are tolerated.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	_, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Get returns the record matching id, if present.
func (s *Store) Get(id int64) (domain.Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	return d, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns a consistent point-in-time copy of the collection,
// ordered by id descending (newest provisional ids first). The returned
// slice is owned by the caller.
func (s *Store) Snapshot() []domain.Delivery {
	s.mu.RLock()
	out := make([]domain.Delivery, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Subscribe registers an observer and returns its unsubscribe function.
// Observers run synchronously after each mutating call, outside the lock,
// each with its own snapshot copy.
func (s *Store) Subscribe(obs Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	obs := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		obs = append(obs, o)
	}
	s.mu.RUnlock()
	if len(obs) == 0 {
		return
	}
	for _, o := range obs {
		o(s.Snapshot())
	}
}
