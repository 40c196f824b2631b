package todo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Store keeps todo items per calendar day and writes the whole mapping through the
// repository on every mutation.
type Store struct {
	repo Repository

	mu    sync.Mutex
	items map[string][]Item
}

// NewStore loads the persisted items. A load failure starts with an empty mapping.
func NewStore(ctx context.Context, repo Repository) *Store {
	items, err := repo.Load(ctx)
	if err != nil {
		log.Warnf("Failed to load todo items, starting empty: %v", err)
		items = nil
	}
	if items == nil {
		items = make(map[string][]Item)
	}
	return &Store{repo: repo, items: items}
}

func (s *Store) List(date time.Time) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[DayKey(date)]
	if items == nil {
		return []Item{}
	}
	return slices.Clone(items)
}

// Add appends a new item to date's list. Titles that are empty after trimming are ignored
// and a zero Item is returned.
func (s *Store) Add(ctx context.Context, title string, date time.Time) (Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Item{}, nil
	}
	item := Item{ID: uuid.New(), Title: title}
	key := DayKey(date)

	err := s.mutate(ctx, func(items map[string][]Item) error {
		items[key] = append(slices.Clone(items[key]), item)
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *Store) Toggle(ctx context.Context, id uuid.UUID, date time.Time) error {
	key := DayKey(date)
	return s.mutate(ctx, func(items map[string][]Item) error {
		idx := slices.IndexFunc(items[key], func(i Item) bool { return i.ID == id })
		if idx < 0 {
			return ErrItemNotFound
		}
		dayItems := slices.Clone(items[key])
		dayItems[idx].IsCompleted = !dayItems[idx].IsCompleted
		items[key] = dayItems
		return nil
	})
}

// Delete removes the item. Removing the last item of a day removes the day.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, date time.Time) error {
	key := DayKey(date)
	return s.mutate(ctx, func(items map[string][]Item) error {
		idx := slices.IndexFunc(items[key], func(i Item) bool { return i.ID == id })
		if idx < 0 {
			return ErrItemNotFound
		}
		dayItems := slices.Delete(slices.Clone(items[key]), idx, idx+1)
		if len(dayItems) == 0 {
			delete(items, key)
		} else {
			items[key] = dayItems
		}
		return nil
	})
}

// Snapshot returns a copy of the whole mapping.
func (s *Store) Snapshot() map[string][]Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// mutate applies fn to a copy of the mapping and keeps the copy only when it was saved.
func (s *Store) mutate(ctx context.Context, fn func(items map[string][]Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := maps.Clone(s.items)
	if err := fn(updated); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to save todo items: %w", err)
	}
	s.items = updated
	return nil
}

func cloneItems(items map[string][]Item) map[string][]Item {
	clone := make(map[string][]Item, len(items))
	for key, dayItems := range items {
		clone[key] = slices.Clone(dayItems)
	}
	return clone
}
