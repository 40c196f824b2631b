package grid

import (
	"encoding/json"
	"time"

	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/lunar"
)

// CalendarDay is one annotated grid cell.
type CalendarDay struct {
	Date       time.Time             `json:"date"`
	LunarShort string                `json:"lunarShort"`
	LunarFull  string                `json:"lunarFull"`
	Holidays   []string              `json:"holidays"`
	SolarTerm  string                `json:"solarTerm,omitempty"`
	OffDay     *bool                 `json:"offDay,omitempty"`
	Events     []event.CalendarEvent `json:"events"`
}

type LunarConverter interface {
	ToLunar(date time.Time) lunar.Date
}

type HolidayAnnotator interface {
	Annotate(date time.Time, lunarDate lunar.Date) ([]string, *bool)
}

type SolarTermAnnotator interface {
	TermFor(date time.Time) (string, bool)
}

// Annotator composes lunar, holiday and solar term annotations with the events of each day.
type Annotator struct {
	converter LunarConverter
	holidays  HolidayAnnotator
	terms     SolarTermAnnotator
}

func NewAnnotator(converter LunarConverter, holidays HolidayAnnotator, terms SolarTermAnnotator) *Annotator {
	return &Annotator{
		converter: converter,
		holidays:  holidays,
		terms:     terms,
	}
}

// Annotate returns one CalendarDay per date, in input order. eventsByDay is keyed by the
// start of day of each date in the dates' location, as produced by event.GroupByDay.
func (a *Annotator) Annotate(dates []time.Time, eventsByDay map[time.Time][]event.CalendarEvent) []CalendarDay {
	days := make([]CalendarDay, 0, len(dates))
	for _, date := range dates {
		days = append(days, a.annotateDay(date, eventsByDay))
	}
	return days
}

func (a *Annotator) annotateDay(date time.Time, eventsByDay map[time.Time][]event.CalendarEvent) CalendarDay {
	lunarDate := a.converter.ToLunar(date)
	holidays, offDay := a.holidays.Annotate(date, lunarDate)
	if holidays == nil {
		holidays = []string{}
	}
	term, _ := a.terms.TermFor(date)

	events := eventsByDay[event.StartOfDay(date, date.Location())]
	if events == nil {
		events = []event.CalendarEvent{}
	}

	return CalendarDay{
		Date:       date,
		LunarShort: lunar.ShortLabel(lunarDate),
		LunarFull:  lunar.FullLabel(lunarDate),
		Holidays:   holidays,
		SolarTerm:  term,
		OffDay:     offDay,
		Events:     events,
	}
}

// DayCell is either a RegularDay or a WeekNumberCell.
type DayCell interface {
	isDayCell()
}

type RegularDay struct {
	CalendarDay
}

type WeekNumberCell struct {
	Week int
}

func (RegularDay) isDayCell()     {}
func (WeekNumberCell) isDayCell() {}

func (d RegularDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		CalendarDay
	}{"day", d.CalendarDay})
}

func (w WeekNumberCell) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Week int    `json:"week"`
	}{"week", w.Week})
}

// Layout splits days into rows of seven. With week numbers every row starts with a
// WeekNumberCell holding the ISO week of the row's Monday, whatever weekday the row starts on.
func Layout(days []CalendarDay, withWeekNumbers bool) [][]DayCell {
	rows := make([][]DayCell, 0, len(days)/daysPerWeek)
	for start := 0; start < len(days); start += daysPerWeek {
		end := min(start+daysPerWeek, len(days))
		row := make([]DayCell, 0, daysPerWeek+1)
		if withWeekNumbers {
			row = append(row, WeekNumberCell{Week: isoWeek(days[start:end])})
		}
		for _, d := range days[start:end] {
			row = append(row, RegularDay{d})
		}
		rows = append(rows, row)
	}
	return rows
}

func isoWeek(row []CalendarDay) int {
	date := row[0].Date
	for _, d := range row {
		if d.Date.Weekday() == time.Monday {
			date = d.Date
			break
		}
	}
	_, week := date.ISOWeek()
	return week
}
