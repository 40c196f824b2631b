package holiday

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed data/rules.yaml data/adjustments/*.yaml
var embedded embed.FS

const dateLayout = "2006-01-02"

type RuleKind string

const (
	KindSolar    RuleKind = "solar"
	KindLunar    RuleKind = "lunar"
	KindLunarEve RuleKind = "lunar_eve"
	KindTerm     RuleKind = "term"
	KindWeekday  RuleKind = "weekday"
)

type Rule struct {
	Name    string   `yaml:"name"`
	Kind    RuleKind `yaml:"kind"`
	Month   int      `yaml:"month"`
	Day     int      `yaml:"day"`
	Weekday int      `yaml:"weekday"`
	Nth     int      `yaml:"nth"`
	Term    string   `yaml:"term"`
}

type ruleDocument struct {
	Rules []Rule `yaml:"rules"`
}

// Adjustment is one officially announced rest day or compensatory workday.
type Adjustment struct {
	Name     string `yaml:"name"`
	Date     string `yaml:"date"`
	IsOffDay bool   `yaml:"isOffDay"`
}

// YearAdjustments follows the layout of the yearly holiday-cn documents.
type YearAdjustments struct {
	Year   int          `yaml:"year"`
	Papers []string     `yaml:"papers"`
	Days   []Adjustment `yaml:"days"`
}

// AdjustmentTable indexes adjustments of all loaded years by date.
type AdjustmentTable struct {
	years  map[int]YearAdjustments
	byDate map[string]Adjustment
}

// DefaultRules returns the embedded rule table.
func DefaultRules() ([]Rule, error) {
	data, err := embedded.ReadFile("data/rules.yaml")
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]Rule, error) {
	var doc ruleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse holiday rules: %w", err)
	}
	for i, rule := range doc.Rules {
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("invalid holiday rule %d (%s): %w", i, rule.Name, err)
		}
	}
	return doc.Rules, nil
}

func validateRule(rule Rule) error {
	if rule.Name == "" {
		return errors.New("name is required")
	}
	switch rule.Kind {
	case KindSolar, KindLunar:
		if rule.Month < 1 || rule.Month > 12 || rule.Day < 1 || rule.Day > 31 {
			return fmt.Errorf("month/day out of range: %d/%d", rule.Month, rule.Day)
		}
	case KindWeekday:
		if rule.Month < 1 || rule.Month > 12 || rule.Weekday < 0 || rule.Weekday > 6 {
			return fmt.Errorf("month/weekday out of range: %d/%d", rule.Month, rule.Weekday)
		}
		if rule.Nth == 0 || rule.Nth < -1 || rule.Nth > 5 {
			return fmt.Errorf("nth out of range: %d", rule.Nth)
		}
	case KindTerm:
		if rule.Term == "" {
			return errors.New("term is required")
		}
	case KindLunarEve:
	default:
		return fmt.Errorf("unknown kind %q", rule.Kind)
	}
	return nil
}

// LoadAdjustments loads the embedded yearly tables and then every <year>.yaml file found in
// dataDir. A year present in dataDir replaces the embedded table of that year.
// An empty dataDir loads the embedded tables only.
func LoadAdjustments(dataDir string) (*AdjustmentTable, error) {
	table := &AdjustmentTable{years: make(map[int]YearAdjustments)}

	embeddedFiles, err := fs.Glob(embedded, "data/adjustments/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range embeddedFiles {
		data, err := embedded.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := table.add(path.Base(name), data); err != nil {
			return nil, err
		}
	}

	if dataDir != "" {
		files, err := filepath.Glob(filepath.Join(dataDir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		for _, name := range files {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read holiday data %s: %w", name, err)
			}
			if err := table.add(filepath.Base(name), data); err != nil {
				return nil, err
			}
			log.Infof("Loaded holiday adjustments from %s", name)
		}
	}

	table.reindex()
	return table, nil
}

func (t *AdjustmentTable) add(fileName string, data []byte) error {
	var doc YearAdjustments
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse holiday data %s: %w", fileName, err)
	}
	if doc.Year == 0 {
		year, err := strconv.Atoi(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
		if err != nil {
			return fmt.Errorf("holiday data %s has no year", fileName)
		}
		doc.Year = year
	}
	for _, day := range doc.Days {
		parsed, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			return fmt.Errorf("holiday data %s: invalid date %q: %w", fileName, day.Date, err)
		}
		if parsed.Year() != doc.Year {
			return fmt.Errorf("holiday data %s: date %s is outside year %d", fileName, day.Date, doc.Year)
		}
	}
	t.years[doc.Year] = doc
	return nil
}

func (t *AdjustmentTable) reindex() {
	t.byDate = make(map[string]Adjustment)
	for _, year := range t.years {
		for _, day := range year.Days {
			// first entry for a date wins
			if _, exists := t.byDate[day.Date]; !exists {
				t.byDate[day.Date] = day
			}
		}
	}
}

func (t *AdjustmentTable) Lookup(date time.Time) (Adjustment, bool) {
	adj, ok := t.byDate[date.Format(dateLayout)]
	return adj, ok
}

// Years returns the loaded years, unordered.
func (t *AdjustmentTable) Years() []int {
	years := make([]int, 0, len(t.years))
	for year := range t.years {
		years = append(years, year)
	}
	return years
}
