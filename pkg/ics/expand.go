package ics

import (
	"fmt"
	"time"

	"github.com/klokku/lunarcal/pkg/event"
	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 5000

// Expand turns the parsed events of feed into the occurrences overlapping [start, end).
// Recurring events are expanded with their RRULE minus EXDATEs; instances overridden by a
// RECURRENCE-ID event are replaced by the override, and cancelled overrides drop the instance.
func Expand(feed Feed, events []ParsedEvent, start, end time.Time, loc *time.Location) []event.CalendarEvent {
	bases := make(map[string]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	for _, e := range events {
		if e.RecurrenceID != nil {
			overrides[e.UID] = append(overrides[e.UID], e)
			continue
		}
		if existing, ok := bases[e.UID]; !ok || e.Sequence > existing.Sequence {
			bases[e.UID] = e
		}
	}

	out := make([]event.CalendarEvent, 0)
	for uid, base := range bases {
		if base.Cancelled {
			continue
		}
		if base.RRule == "" {
			if overlaps(base.Start, base.End, start, end) {
				out = append(out, toCalendarEvent(feed, base, base.Start, base.End, eventID(feed.ID, uid, nil), loc))
			}
			continue
		}

		overridden := make(map[int64]bool, len(overrides[uid]))
		for _, o := range overrides[uid] {
			overridden[o.RecurrenceID.Unix()] = true
		}
		for _, instance := range expandRule(base, start, end) {
			if overridden[instance.Unix()] {
				continue
			}
			instanceEnd := instance.Add(base.End.Sub(base.Start))
			if base.AllDay {
				instanceEnd = instance.AddDate(0, 0, max(calendarDays(base.Start, base.End), 1))
			}
			if !overlaps(instance, instanceEnd, start, end) {
				continue
			}
			out = append(out, toCalendarEvent(feed, base, instance, instanceEnd, eventID(feed.ID, uid, &instance), loc))
		}
	}

	for uid, list := range overrides {
		for _, o := range list {
			if o.Cancelled || !overlaps(o.Start, o.End, start, end) {
				continue
			}
			out = append(out, toCalendarEvent(feed, o, o.Start, o.End, eventID(feed.ID, uid, o.RecurrenceID), loc))
		}
	}
	return out
}

// expandRule returns instance starts of a recurring event that may overlap [start, end).
func expandRule(base ParsedEvent, start, end time.Time) []time.Time {
	rule, err := rrule.StrToRRule(base.RRule)
	if err != nil {
		log.Warnf("Ignoring invalid RRULE %q of event %s: %v", base.RRule, base.UID, err)
		return nil
	}
	rule.DTStart(base.Start)

	set := rrule.Set{}
	set.RRule(rule)
	for _, exDate := range base.ExDates {
		set.ExDate(exDate)
	}

	// instances starting before the range may still reach into it
	duration := base.End.Sub(base.Start)
	from := start.Add(-duration).In(base.Start.Location())
	instances := set.Between(from, end.In(base.Start.Location()), true)
	if len(instances) > maxOccurrencesPerEvent {
		log.Warnf("Event %s has more than %d occurrences in range, truncating", base.UID, maxOccurrencesPerEvent)
		instances = instances[:maxOccurrencesPerEvent]
	}
	return instances
}

// calendarDays counts the calendar days from the day of from to the day of to, ignoring
// DST changes in between.
func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	days := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).Sub(time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC))
	return int(days.Hours() / 24)
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd). Zero length events
// overlap when they start inside the range.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func eventID(feedID string, uid string, instance *time.Time) string {
	if instance == nil {
		return fmt.Sprintf("%s/%s", feedID, uid)
	}
	return fmt.Sprintf("%s/%s@%s", feedID, uid, instance.UTC().Format(layoutUTC))
}

func toCalendarEvent(feed Feed, e ParsedEvent, start, end time.Time, id string, loc *time.Location) event.CalendarEvent {
	if e.AllDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	}
	return event.CalendarEvent{
		ID:            id,
		CalendarID:    feed.ID,
		CalendarTitle: feed.Name,
		Title:         e.Summary,
		Location:      e.Location,
		Notes:         e.Description,
		URL:           e.URL,
		IsAllDay:      e.AllDay,
		StartDate:     start.In(loc),
		EndDate:       end.In(loc),
		Color:         feed.Color,
	}
}
