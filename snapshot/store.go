package snapshot

import (
	"sync"

	"merger/domain/orderbook"
)

// Store is the shared, most recent merged book.
type Store struct {
	mu   sync.RWMutex
	book orderbook.Book
}

func NewStore() *Store {
	return &Store{}
}

// Update replaces the current book. The caller keeps ownership of b.
func (s *Store) Update(b orderbook.Book) {
	c := b.Clone()

	s.mu.Lock()
	s.book = c
	s.mu.Unlock()
}

// Read returns a private copy of the current book.
// Before the first Update this is the empty book.
func (s *Store) Read() orderbook.Book {
	s.mu.RLock()
	b := s.book.Clone()
	s.mu.RUnlock()
	return b
}

// Seq is the sequence number of the current book, 0 before the first Update.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Seq
}
