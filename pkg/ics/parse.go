package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	log "github.com/sirupsen/logrus"
)

const (
	layoutUTC      = "20060102T150405Z"
	layoutDateTime = "20060102T150405"
	layoutDate     = "20060102"
)

// ParsedEvent is a VEVENT before recurrence expansion.
type ParsedEvent struct {
	UID         string
	Sequence    int
	Summary     string
	Description string
	Location    string
	URL         string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Cancelled   bool
	RRule       string
	ExDates     []time.Time
	// set on overrides of a single instance of a recurring event
	RecurrenceID *time.Time
}

// Parse reads all VEVENTs of an ICS document. Floating times and unknown TZIDs are read in loc.
// Events that cannot be read are skipped.
func Parse(feedID string, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("feed %s is empty", feedID)
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedID, err)
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		parsed, err := parseEvent(ve, loc)
		if err != nil {
			log.Warnf("Skipping event in feed %s: %v", feedID, err)
			continue
		}
		events = append(events, parsed)
	}
	log.Debugf("Parsed %d events from feed %s", len(events), feedID)
	return events, nil
}

func parseEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Sequence = n
		}
	}
	out.Summary = propertyValue(ve, ical.ComponentPropertySummary)
	out.Description = propertyValue(ve, ical.ComponentPropertyDescription)
	out.Location = propertyValue(ve, ical.ComponentPropertyLocation)
	out.URL = propertyValue(ve, "URL")
	out.Cancelled = strings.EqualFold(propertyValue(ve, "STATUS"), "CANCELLED")

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("event %s has no DTSTART", out.UID)
	}
	start, allDay, err := parseTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("event %s: invalid DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay

	out.End = start
	if allDay {
		out.End = start.AddDate(0, 0, 1)
	}
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, err := parseTime(dtEnd.Value, dtEnd.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("event %s: invalid DTEND: %w", out.UID, err)
		}
		if end.After(start) {
			out.End = end
		}
	}

	out.RRule = propertyValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			exDate, _, err := parseTime(part, p.ICalParameters, loc)
			if err != nil {
				log.Debugf("Ignoring invalid EXDATE %q of event %s", part, out.UID)
				continue
			}
			out.ExDates = append(out.ExDates, exDate)
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		recurrenceID, _, err := parseTime(rid.Value, rid.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("event %s: invalid RECURRENCE-ID: %w", out.UID, err)
		}
		out.RecurrenceID = &recurrenceID
	}
	return out, nil
}

func propertyValue(ve *ical.VEvent, property ical.ComponentProperty) string {
	if p := ve.GetProperty(property); p != nil {
		return p.Value
	}
	return ""
}

// parseTime reads a DATE or DATE-TIME value. Dates are midnight in loc and report allDay.
func parseTime(value string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, errors.New("empty value")
	}

	isDate := !strings.Contains(value, "T")
	if v, ok := params["VALUE"]; ok && len(v) > 0 && strings.EqualFold(v[0], "DATE") {
		isDate = true
	}
	if isDate {
		t, err := time.ParseInLocation(layoutDate, value, loc)
		return t, true, err
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(layoutUTC, value)
		return t, false, err
	}

	valueLoc := loc
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tz[0], `"`)); err == nil {
			valueLoc = l
		} else {
			log.Debugf("Unknown TZID %q, using %s", tz[0], loc)
		}
	}
	t, err := time.ParseInLocation(layoutDateTime, value, valueLoc)
	return t, false, err
}
