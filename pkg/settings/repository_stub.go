package settings

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// StubRepository keeps settings in memory.
type StubRepository struct {
	mu     sync.Mutex
	values map[string]string
	// SetErr is returned by every write when set
	SetErr error
}

func NewStubRepository() *StubRepository {
	return &StubRepository{values: make(map[string]string)}
}

func (s *StubRepository) GetFilterIds(ctx context.Context) (Filter, error) {
	value, ok, _ := s.GetValue(ctx, filterKey)
	if !ok || value == "" {
		return nil, nil
	}
	return decodeFilter(value), nil
}

func (s *StubRepository) SetFilterIds(ctx context.Context, ids Filter) error {
	if ids == nil {
		return s.DeleteValue(ctx, filterKey)
	}
	data, err := json.Marshal([]string(ids))
	if err != nil {
		return err
	}
	return s.SetValue(ctx, filterKey, string(data))
}

func (s *StubRepository) GetValue(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *StubRepository) SetValue(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.values[key] = value
	return nil
}

func (s *StubRepository) DeleteValue(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	delete(s.values, key)
	return nil
}

func (s *StubRepository) Values() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}
