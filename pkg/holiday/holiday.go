package holiday

import (
	"time"

	"github.com/klokku/lunarcal/pkg/lunar"
)

type LunarConverter interface {
	ToLunar(date time.Time) lunar.Date
}

type TermFinder interface {
	TermFor(date time.Time) (string, bool)
}

// Annotator resolves holiday names and off-day adjustments for a date.
type Annotator struct {
	rules       []Rule
	adjustments *AdjustmentTable
	converter   LunarConverter
	terms       TermFinder
}

func NewAnnotator(rules []Rule, adjustments *AdjustmentTable, converter LunarConverter, terms TermFinder) *Annotator {
	return &Annotator{
		rules:       rules,
		adjustments: adjustments,
		converter:   converter,
		terms:       terms,
	}
}

// Annotate returns the names of all holidays on date, in rule order and without duplicates,
// and the off-day flag when date is listed in the adjustment table of its year.
func (a *Annotator) Annotate(date time.Time, lunarDate lunar.Date) ([]string, *bool) {
	holidays := make([]string, 0, 2)
	seen := make(map[string]bool)
	for _, rule := range a.rules {
		if seen[rule.Name] || !a.matches(rule, date, lunarDate) {
			continue
		}
		seen[rule.Name] = true
		holidays = append(holidays, rule.Name)
	}

	var offDay *bool
	if a.adjustments != nil {
		if adj, ok := a.adjustments.Lookup(date); ok {
			isOffDay := adj.IsOffDay
			offDay = &isOffDay
		}
	}
	return holidays, offDay
}

func (a *Annotator) matches(rule Rule, date time.Time, lunarDate lunar.Date) bool {
	switch rule.Kind {
	case KindSolar:
		return int(date.Month()) == rule.Month && date.Day() == rule.Day
	case KindLunar:
		return !lunarDate.Leap && lunarDate.Month == rule.Month && lunarDate.Day == rule.Day
	case KindLunarEve:
		if lunarDate.Leap || lunarDate.Month != 12 || lunarDate.Day < 29 || a.converter == nil {
			return false
		}
		next := a.converter.ToLunar(time.Date(date.Year(), date.Month(), date.Day()+1, 0, 0, 0, 0, date.Location()))
		return !next.Leap && next.Month == 1 && next.Day == 1
	case KindTerm:
		if a.terms == nil {
			return false
		}
		term, ok := a.terms.TermFor(date)
		return ok && term == rule.Term
	case KindWeekday:
		if int(date.Month()) != rule.Month || int(date.Weekday()) != rule.Weekday {
			return false
		}
		if rule.Nth == -1 {
			return date.AddDate(0, 0, 7).Month() != date.Month()
		}
		return (date.Day()-1)/7+1 == rule.Nth
	}
	return false
}

// NewDefaultAnnotator builds an annotator from the embedded rule table and the adjustment
// tables of the embedded data plus dataDir.
func NewDefaultAnnotator(dataDir string, converter LunarConverter, terms TermFinder) (*Annotator, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	adjustments, err := LoadAdjustments(dataDir)
	if err != nil {
		return nil, err
	}
	return NewAnnotator(rules, adjustments, converter, terms), nil
}
