package event

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

type Aggregator struct {
	source Source
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Fetch returns the events in [start, end) of the calendars allowed by filter.
// A nil filter allows all calendars, an empty one allows none.
func (a *Aggregator) Fetch(ctx context.Context, start, end time.Time, filter []string) ([]CalendarEvent, error) {
	if filter != nil && len(filter) == 0 {
		log.Debug("Empty calendar filter, skipping event query")
		return []CalendarEvent{}, nil
	}
	events, err := a.source.QueryEvents(ctx, start, end, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	if events == nil {
		events = []CalendarEvent{}
	}
	return events, nil
}

// CalendarInfos lists the source calendars sorted by title and marks those allowed by filter.
func (a *Aggregator) CalendarInfos(ctx context.Context, filter []string) ([]CalendarInfo, error) {
	calendars, err := a.source.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	infos := make([]CalendarInfo, 0, len(calendars))
	for _, c := range calendars {
		infos = append(infos, CalendarInfo{
			ID:         c.ID,
			Title:      c.Title,
			Color:      c.Color,
			IsSelected: filter == nil || slices.Contains(filter, c.ID),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Title < infos[j].Title
	})
	return infos, nil
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// GroupByDay buckets events under the start of day of their StartDate in loc.
// Events spanning several days appear only under their start day. Order within a bucket is preserved.
func GroupByDay(events []CalendarEvent, loc *time.Location) map[time.Time][]CalendarEvent {
	byDay := make(map[time.Time][]CalendarEvent)
	for _, e := range events {
		day := StartOfDay(e.StartDate, loc)
		byDay[day] = append(byDay[day], e)
	}
	return byDay
}

// Flatten concatenates the buckets in day order.
func Flatten(byDay map[time.Time][]CalendarEvent) []CalendarEvent {
	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Before(days[j])
	})
	events := make([]CalendarEvent, 0)
	for _, day := range days {
		events = append(events, byDay[day]...)
	}
	return events
}
