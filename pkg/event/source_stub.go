package event

import (
	"context"
	"slices"
	"sync"
	"time"
)

// StubSource is an in-memory Source. It is used by tests and by the "stub" source type.
type StubSource struct {
	mu        sync.Mutex
	calendars []Calendar
	events    []CalendarEvent
	status    AuthorizationStatus
	// status returned by RequestAuthorization, Granted when empty
	grantOnRequest AuthorizationStatus
	queryErr       error
	queries        [][]string
	changes        chan struct{}
	// called at the start of QueryEvents when set, outside the lock
	BeforeQuery func(ctx context.Context)
}

func NewStubSource(calendars []Calendar, events []CalendarEvent) *StubSource {
	return &StubSource{
		calendars: calendars,
		events:    events,
		status:    Granted,
		changes:   make(chan struct{}, 1),
	}
}

func (s *StubSource) CheckAuthorization(_ context.Context) AuthorizationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *StubSource) RequestAuthorization(_ context.Context) (AuthorizationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == NotDetermined {
		s.status = Granted
		if s.grantOnRequest != "" {
			s.status = s.grantOnRequest
		}
	}
	return s.status, nil
}

func (s *StubSource) ListCalendars(_ context.Context) ([]Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calendars), nil
}

func (s *StubSource) QueryEvents(ctx context.Context, start, end time.Time, calendarIds []string) ([]CalendarEvent, error) {
	if s.BeforeQuery != nil {
		s.BeforeQuery(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, slices.Clone(calendarIds))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	result := make([]CalendarEvent, 0)
	for _, e := range s.events {
		if calendarIds != nil && !slices.Contains(calendarIds, e.CalendarID) {
			continue
		}
		if !e.StartDate.Before(end) || (!e.EndDate.After(start) && !e.StartDate.Equal(start)) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *StubSource) Changes() <-chan struct{} {
	return s.changes
}

func (s *StubSource) DeleteEvent(_ context.Context, eventId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.events, func(e CalendarEvent) bool { return e.ID == eventId })
	if idx < 0 {
		return ErrEventNotFound
	}
	if !s.events[idx].AllowsModify {
		return ErrReadOnly
	}
	s.events = slices.Delete(s.events, idx, idx+1)
	s.notifyLocked()
	return nil
}

// AddEvent adds an event and signals a change, like an external edit would.
func (s *StubSource) AddEvent(e CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	s.notifyLocked()
}

func (s *StubSource) SetStatus(status AuthorizationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetRequestResult sets the status a pending RequestAuthorization resolves to.
func (s *StubSource) SetRequestResult(status AuthorizationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantOnRequest = status
}

func (s *StubSource) SetQueryError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// Queries returns the calendar id lists of all QueryEvents calls so far.
func (s *StubSource) Queries() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

func (s *StubSource) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
