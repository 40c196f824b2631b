package solarterm

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/6tail/lunar-go/calendar"
	"gopkg.in/yaml.v3"
)

//go:embed data/corrections.yaml
var embeddedCorrections []byte

// The jieqi table of a lunar year spans from the previous 大雪 to the next 惊蛰. Terms outside
// the lunar year's own range are keyed by their pinyin name.
var tableNames = map[string]string{
	"DA_XUE":   "大雪",
	"DONG_ZHI": "冬至",
	"XIAO_HAN": "小寒",
	"DA_HAN":   "大寒",
	"LI_CHUN":  "立春",
	"YU_SHUI":  "雨水",
	"JING_ZHE": "惊蛰",
}

// Term is one solar term boundary of a given year.
type Term struct {
	Name  string
	Year  int
	Month time.Month
	Day   int
}

func (t Term) date() time.Time {
	return time.Date(t.Year, t.Month, t.Day, 0, 0, 0, 0, time.UTC)
}

// Corrections maps year -> term name -> day delta.
type Corrections map[int]map[string]int

func LoadCorrections(data []byte) (Corrections, error) {
	corrections := Corrections{}
	if err := yaml.Unmarshal(data, &corrections); err != nil {
		return nil, fmt.Errorf("failed to parse solar term corrections: %w", err)
	}
	return corrections, nil
}

type Annotator struct {
	corrections Corrections

	mu     sync.Mutex
	byYear map[int][]Term
}

// NewAnnotator returns an annotator using the embedded correction table.
func NewAnnotator() (*Annotator, error) {
	corrections, err := LoadCorrections(embeddedCorrections)
	if err != nil {
		return nil, err
	}
	return NewAnnotatorWithCorrections(corrections), nil
}

func NewAnnotatorWithCorrections(corrections Corrections) *Annotator {
	return &Annotator{
		corrections: corrections,
		byYear:      make(map[int][]Term),
	}
}

// TermFor returns the name of the solar term that begins on the calendar day of date.
func (a *Annotator) TermFor(date time.Time) (string, bool) {
	year, month, day := date.Date()
	for _, term := range a.TermsFor(year) {
		if term.Month == month && term.Day == day {
			return term.Name, true
		}
	}
	return "", false
}

// TermsFor returns the 24 terms of year in calendar order. Dates are China Standard Time
// calendar days, shifted by the year's corrections.
func (a *Annotator) TermsFor(year int) []Term {
	a.mu.Lock()
	defer a.mu.Unlock()

	if terms, ok := a.byYear[year]; ok {
		return terms
	}
	terms := a.compute(year)
	a.byYear[year] = terms
	return terms
}

func (a *Annotator) compute(year int) []Term {
	// midsummer always falls inside the lunar year named after the solar year
	table := calendar.NewSolarFromYmd(year, 6, 1).GetLunar().GetJieQiTable()

	seen := make(map[string]bool, 24)
	terms := make([]Term, 0, 24)
	for key, solar := range table {
		if solar.GetYear() != year {
			continue
		}
		name := key
		if chinese, ok := tableNames[key]; ok {
			name = chinese
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		day := time.Date(year, time.Month(solar.GetMonth()), solar.GetDay()+a.corrections[year][name], 0, 0, 0, 0, time.UTC)
		terms = append(terms, Term{
			Name:  name,
			Year:  day.Year(),
			Month: day.Month(),
			Day:   day.Day(),
		})
	}
	slices.SortFunc(terms, func(x, y Term) int {
		return x.date().Compare(y.date())
	})
	return terms
}
