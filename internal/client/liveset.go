package client

import (
	"sort"
	"sync"
	"time"
)

// LiveSet is a local copy of server rows keyed by id. Patches never move a
// row backwards in time: a row older than the one held is ignored.
type LiveSet[T any] struct {
	mu      sync.RWMutex
	rows    map[uint64]T
	key     func(T) uint64
	updated func(T) time.Time
}

// NewLiveSet returns an empty set using key for identity and updated for
// ordering versions of the same row.
func NewLiveSet[T any](key func(T) uint64, updated func(T) time.Time) *LiveSet[T] {
	return &LiveSet[T]{rows: make(map[uint64]T), key: key, updated: updated}
}

// Replace swaps the whole content for an authoritative snapshot.
func (s *LiveSet[T]) Replace(rows []T) {
	next := make(map[uint64]T, len(rows))
	for _, r := range rows {
		next[s.key(r)] = r
	}
	s.mu.Lock()
	s.rows = next
	s.mu.Unlock()
}

// Patch stores row unless the held version is newer. It reports whether the
// set changed.
func (s *LiveSet[T]) Patch(row T) bool {
	id := s.key(row)
	if id == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[id]; ok && s.updated(cur).After(s.updated(row)) {
		return false
	}
	s.rows[id] = row
	return true
}

// Remove drops a row.
func (s *LiveSet[T]) Remove(id uint64) {
	s.mu.Lock()
	delete(s.rows, id)
	s.mu.Unlock()
}

// Get returns one row.
func (s *LiveSet[T]) Get(id uint64) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	return r, ok
}

// List returns the rows ordered by id.
func (s *LiveSet[T]) List() []T {
	s.mu.RLock()
	out := make([]T, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return s.key(out[i]) < s.key(out[j]) })
	return out
}

// Len is the number of rows held.
func (s *LiveSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
