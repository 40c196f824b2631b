package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klokku/lunarcal/internal/poller"
	"github.com/klokku/lunarcal/pkg/event"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentFetches = 4

// Source serves read-only events from subscribed ICS feeds. Feeds are downloaded on the
// first query and then on every poll; a poll that sees a feed's content change notifies
// Changes.
type Source struct {
	feeds   []Feed
	fetcher *Fetcher
	loc     *time.Location

	syncMu sync.Mutex
	mu     sync.RWMutex
	parsed map[string][]ParsedEvent
	hashes map[string]string
	synced bool

	changes chan struct{}
	poller  *poller.Poller
}

func NewSource(feeds []Feed, fetcher *Fetcher, loc *time.Location) *Source {
	return &Source{
		feeds:   feeds,
		fetcher: fetcher,
		loc:     loc,
		parsed:  make(map[string][]ParsedEvent),
		hashes:  make(map[string]string),
		changes: make(chan struct{}, 1),
	}
}

// Subscribed feeds need no permission.
func (s *Source) CheckAuthorization(_ context.Context) event.AuthorizationStatus {
	return event.Granted
}

func (s *Source) RequestAuthorization(_ context.Context) (event.AuthorizationStatus, error) {
	return event.Granted, nil
}

func (s *Source) ListCalendars(_ context.Context) ([]event.Calendar, error) {
	calendars := make([]event.Calendar, 0, len(s.feeds))
	for _, feed := range s.feeds {
		calendars = append(calendars, event.Calendar{ID: feed.ID, Title: feed.Name, Color: feed.Color})
	}
	return calendars, nil
}

func (s *Source) QueryEvents(ctx context.Context, start, end time.Time, calendarIds []string) ([]event.CalendarEvent, error) {
	s.mu.RLock()
	synced := s.synced
	s.mu.RUnlock()
	if !synced {
		if _, err := s.Sync(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]event.CalendarEvent, 0)
	for _, feed := range s.feeds {
		if calendarIds != nil && !slices.Contains(calendarIds, feed.ID) {
			continue
		}
		events = append(events, Expand(feed, s.parsed[feed.ID], start, end, s.loc)...)
	}
	slices.SortStableFunc(events, func(a, b event.CalendarEvent) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return strings.Compare(a.Title, b.Title)
	})
	return events, nil
}

func (s *Source) Changes() <-chan struct{} {
	return s.changes
}

// DeleteEvent always fails, feeds are read-only. Unknown ids report ErrEventNotFound.
func (s *Source) DeleteEvent(_ context.Context, id string) error {
	feedID, rest, ok := strings.Cut(id, "/")
	if !ok {
		return event.ErrEventNotFound
	}
	uid, _, _ := strings.Cut(rest, "@")

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.parsed[feedID] {
		if e.UID == uid {
			return event.ErrReadOnly
		}
	}
	return event.ErrEventNotFound
}

type feedResult struct {
	events []ParsedEvent
	hash   string
	err    error
}

// Sync downloads all feeds concurrently and reports whether any content changed. A feed
// that fails keeps its previous events; the error is returned only when no feed succeeded.
func (s *Source) Sync(ctx context.Context) (bool, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	results := make([]feedResult, len(s.feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, feed := range s.feeds {
		g.Go(func() error {
			results[i] = s.load(gctx, feed)
			// a failing feed must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	var errs []error
	for i, feed := range s.feeds {
		result := results[i]
		if result.err != nil {
			log.Errorf("Failed to sync ICS feed %s: %v", feed.ID, result.err)
			errs = append(errs, result.err)
			continue
		}
		if s.hashes[feed.ID] != result.hash {
			changed = true
		}
		s.hashes[feed.ID] = result.hash
		s.parsed[feed.ID] = result.events
	}
	if len(s.feeds) > 0 && len(errs) == len(s.feeds) {
		return false, fmt.Errorf("failed to sync ICS feeds: %w", errors.Join(errs...))
	}
	s.synced = true
	return changed, nil
}

func (s *Source) load(ctx context.Context, feed Feed) feedResult {
	fetched, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return feedResult{err: err}
	}
	sum := sha256.Sum256(fetched.Body)
	events, err := Parse(feed.ID, fetched.Body, s.loc)
	if err != nil {
		return feedResult{err: err}
	}
	return feedResult{events: events, hash: hex.EncodeToString(sum[:])}
}

// StartPolling syncs the feeds on the cron schedule spec until Stop is called.
func (s *Source) StartPolling(ctx context.Context, spec string) error {
	p, err := poller.Start(ctx, "ics feeds", spec, s.poll)
	if err != nil {
		return err
	}
	s.poller = p
	return nil
}

func (s *Source) Stop() {
	if s.poller != nil {
		s.poller.Stop()
	}
}

func (s *Source) poll(ctx context.Context) {
	changed, err := s.Sync(ctx)
	if err != nil {
		log.Errorf("ICS poll failed: %v", err)
		return
	}
	if changed {
		log.Info("ICS feeds changed")
		s.notify()
	}
}

func (s *Source) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
