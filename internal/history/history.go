// Package history keeps the most recent envelopes of one channel for one
// participant. A Store is a fixed-capacity ring that drops the oldest entry
// when full.
//
// A Store is not safe for concurrent use; the owning participant manager
// serializes access.
package history

import "github.com/eldtechnologies/chatmesh/internal/models"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Store is a bounded, insertion-ordered envelope log.
type Store struct {
	items   []models.Envelope
	head    int // next write position
	size    int
	dropped uint64
}

// New creates a store holding at most capacity envelopes.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{items: make([]models.Envelope, capacity)}
}

// Append adds env, evicting the oldest entry when the store is full. It
// reports whether an entry was evicted.
func (s *Store) Append(env models.Envelope) bool {
	evicted := s.size == len(s.items)
	s.items[s.head] = env
	s.head = (s.head + 1) % len(s.items)
	if evicted {
		s.dropped++
	} else {
		s.size++
	}
	return evicted
}

// All returns a copy of the stored envelopes, oldest first. The result is
// never nil.
func (s *Store) All() []models.Envelope {
	out := make([]models.Envelope, 0, s.size)
	start := (s.head - s.size + len(s.items)) % len(s.items)
	for i := 0; i < s.size; i++ {
		out = append(out, s.items[(start+i)%len(s.items)])
	}
	return out
}

// Clear empties the store in place.
func (s *Store) Clear() {
	clear(s.items)
	s.head = 0
	s.size = 0
}

// Len returns the number of stored envelopes.
func (s *Store) Len() int { return s.size }

// Cap returns the capacity.
func (s *Store) Cap() int { return len(s.items) }

// Dropped returns how many envelopes have been evicted since creation.
func (s *Store) Dropped() uint64 { return s.dropped }
