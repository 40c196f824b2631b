package todo

import (
	"context"
	"sync"
)

// StubRepository keeps the last saved mapping in memory.
type StubRepository struct {
	mu      sync.Mutex
	saved   map[string][]Item
	saves   int
	LoadErr error
	SaveErr error
}

func NewStubRepository(initial map[string][]Item) *StubRepository {
	return &StubRepository{saved: cloneItems(initial)}
}

func (s *StubRepository) Load(_ context.Context) (map[string][]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return cloneItems(s.saved), nil
}

func (s *StubRepository) Save(_ context.Context, items map[string][]Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.saved = cloneItems(items)
	s.saves++
	return nil
}

func (s *StubRepository) Saved() map[string][]Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.saved)
}

func (s *StubRepository) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
