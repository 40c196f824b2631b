package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klokku/lunarcal/internal/poller"
	"github.com/klokku/lunarcal/pkg/event"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var ErrUnauthenticated = errors.New("google account is not connected")

const maxConcurrentCalendars = 4

// Source reads events of all calendars of the connected Google account.
type Source struct {
	auth *Auth
	loc  *time.Location
	// extra client options, used to point the client at another endpoint
	options []option.ClientOption

	changes  chan struct{}
	poller   *poller.Poller
	mu       sync.Mutex
	lastPoll time.Time
}

func NewSource(auth *Auth, loc *time.Location, options ...option.ClientOption) *Source {
	return &Source{
		auth:    auth,
		loc:     loc,
		options: options,
		changes: make(chan struct{}, 1),
	}
}

func (s *Source) CheckAuthorization(ctx context.Context) event.AuthorizationStatus {
	return s.auth.Status(ctx)
}

// RequestAuthorization reports the current status. Access itself is granted through the
// OAuth login routes, which need a browser.
func (s *Source) RequestAuthorization(ctx context.Context) (event.AuthorizationStatus, error) {
	return s.auth.Status(ctx), nil
}

func (s *Source) ListCalendars(ctx context.Context) ([]event.Calendar, error) {
	entries, err := s.listCalendarEntries(ctx)
	if err != nil {
		return nil, err
	}
	calendars := make([]event.Calendar, 0, len(entries))
	for _, entry := range entries {
		calendars = append(calendars, event.Calendar{
			ID:           entry.Id,
			Title:        calendarTitle(entry),
			Color:        entry.BackgroundColor,
			AllowsModify: writable(entry.AccessRole),
		})
	}
	return calendars, nil
}

func (s *Source) QueryEvents(ctx context.Context, start, end time.Time, calendarIds []string) ([]event.CalendarEvent, error) {
	service, err := s.service(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.listCalendarEntries(ctx)
	if err != nil {
		return nil, err
	}

	selected := make([]*gcal.CalendarListEntry, 0, len(entries))
	for _, entry := range entries {
		if calendarIds == nil || slices.Contains(calendarIds, entry.Id) {
			selected = append(selected, entry)
		}
	}

	results := make([][]event.CalendarEvent, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalendars)
	for i, entry := range selected {
		g.Go(func() error {
			events, err := s.calendarEvents(gctx, service, entry, start, end)
			if err != nil {
				return err
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	events := make([]event.CalendarEvent, 0)
	for _, r := range results {
		events = append(events, r...)
	}
	slices.SortStableFunc(events, func(a, b event.CalendarEvent) int {
		return a.StartDate.Compare(b.StartDate)
	})
	return events, nil
}

func (s *Source) calendarEvents(ctx context.Context, service *gcal.Service, entry *gcal.CalendarListEntry, start, end time.Time) ([]event.CalendarEvent, error) {
	events := make([]event.CalendarEvent, 0)
	call := service.Events.List(entry.Id).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			e, err := s.toCalendarEvent(entry, item)
			if err != nil {
				log.Warnf("Skipping Google event %s: %v", item.Id, err)
				continue
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events of calendar %s: %w", entry.Id, err)
	}
	return events, nil
}

func (s *Source) toCalendarEvent(entry *gcal.CalendarListEntry, item *gcal.Event) (event.CalendarEvent, error) {
	if item.Start == nil || item.End == nil {
		return event.CalendarEvent{}, errors.New("missing start or end")
	}
	start, allDay, err := s.parseEventTime(item.Start)
	if err != nil {
		return event.CalendarEvent{}, err
	}
	end, _, err := s.parseEventTime(item.End)
	if err != nil {
		return event.CalendarEvent{}, err
	}
	return event.CalendarEvent{
		ID:            eventID(entry.Id, item.Id),
		CalendarID:    entry.Id,
		CalendarTitle: calendarTitle(entry),
		AllowsModify:  writable(entry.AccessRole),
		Title:         item.Summary,
		Location:      item.Location,
		Notes:         item.Description,
		URL:           item.HtmlLink,
		IsAllDay:      allDay,
		StartDate:     start,
		EndDate:       end,
		Color:         entry.BackgroundColor,
	}, nil
}

// parseEventTime reads a timed or an all-day event boundary. All-day dates are midnight in
// the source location.
func (s *Source) parseEventTime(t *gcal.EventDateTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return parsed.In(s.loc), false, nil
	}
	parsed, err := time.ParseInLocation(time.DateOnly, t.Date, s.loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}

func (s *Source) Changes() <-chan struct{} {
	return s.changes
}

func (s *Source) DeleteEvent(ctx context.Context, id string) error {
	calendarId, eventId, ok := splitEventID(id)
	if !ok {
		return event.ErrEventNotFound
	}
	service, err := s.service(ctx)
	if err != nil {
		return err
	}

	entry, err := service.CalendarList.Get(calendarId).Context(ctx).Do()
	if err != nil {
		if notFound(err) {
			return event.ErrEventNotFound
		}
		return fmt.Errorf("unable to retrieve calendar %s: %w", calendarId, err)
	}
	if !writable(entry.AccessRole) {
		return event.ErrReadOnly
	}

	if err := service.Events.Delete(calendarId, eventId).Context(ctx).Do(); err != nil {
		if notFound(err) {
			return event.ErrEventNotFound
		}
		return fmt.Errorf("unable to delete event in Google Calendar: %w", err)
	}
	s.notify()
	return nil
}

// StartPolling checks for modified events on the cron schedule spec until Stop is called.
func (s *Source) StartPolling(ctx context.Context, spec string) error {
	s.mu.Lock()
	s.lastPoll = time.Now()
	s.mu.Unlock()

	p, err := poller.Start(ctx, "google calendar", spec, s.poll)
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
	if s.auth.Status(ctx) != event.Granted {
		return
	}
	s.mu.Lock()
	since := s.lastPoll
	s.mu.Unlock()
	pollStart := time.Now()

	changed, err := s.changedSince(ctx, since)
	if err != nil {
		log.Errorf("Google calendar poll failed: %v", err)
		return
	}
	s.mu.Lock()
	s.lastPoll = pollStart
	s.mu.Unlock()

	if changed {
		log.Info("Google calendar changed")
		s.notify()
	}
}

// changedSince reports whether any event of any calendar was modified or deleted after since.
func (s *Source) changedSince(ctx context.Context, since time.Time) (bool, error) {
	service, err := s.service(ctx)
	if err != nil {
		return false, err
	}
	entries, err := s.listCalendarEntries(ctx)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		updated, err := service.Events.List(entry.Id).
			UpdatedMin(since.UTC().Format(time.RFC3339)).
			ShowDeleted(true).
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return false, fmt.Errorf("unable to check calendar %s for changes: %w", entry.Id, err)
		}
		if len(updated.Items) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Source) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Source) listCalendarEntries(ctx context.Context) ([]*gcal.CalendarListEntry, error) {
	service, err := s.service(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]*gcal.CalendarListEntry, 0)
	err = service.CalendarList.List().Pages(ctx, func(page *gcal.CalendarList) error {
		entries = append(entries, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve calendars from Google Calendar: %w", err)
	}
	return entries, nil
}

func (s *Source) service(ctx context.Context) (*gcal.Service, error) {
	client, err := s.auth.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google auth client: %w", err)
	}
	if client == nil {
		return nil, ErrUnauthenticated
	}
	return newService(ctx, client, s.options)
}

func newService(ctx context.Context, client *http.Client, options []option.ClientOption) (*gcal.Service, error) {
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, options...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar client: %w", err)
	}
	return service, nil
}

func calendarTitle(entry *gcal.CalendarListEntry) string {
	if entry.SummaryOverride != "" {
		return entry.SummaryOverride
	}
	return entry.Summary
}

func writable(accessRole string) bool {
	return accessRole == "owner" || accessRole == "writer"
}

// Calendar ids never contain a slash, event ids are base32hex.
func eventID(calendarId, eventId string) string {
	return calendarId + "/" + eventId
}

func splitEventID(id string) (string, string, bool) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

func notFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
