package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "LUNARCAL_"

type Application struct {
	Host     string    `koanf:"host"`
	Listen   string    `koanf:"listen"`
	Calendar Calendar  `koanf:"calendar"`
	Holiday  Holiday   `koanf:"holiday"`
	Database Database  `koanf:"db"`
	Source   Source    `koanf:"source"`
	Ics      []IcsFeed `koanf:"ics"`
	Google   Google    `koanf:"google"`
	Cache    Cache     `koanf:"cache"`
}

type Calendar struct {
	Timezone     string        `koanf:"timezone"`
	WeekFirstDay string        `koanf:"weekfirstday"`
	Debounce     time.Duration `koanf:"debounce"`
	WeekNumbers  bool          `koanf:"weeknumbers"`
}

type Holiday struct {
	// DataDir holds <year>.yaml adjustment tables that extend or replace the built-in ones.
	DataDir string `koanf:"datadir"`
}

type Database struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

type Source struct {
	Type     string `koanf:"type"`
	PollCron string `koanf:"pollcron"`
}

const (
	SourceIcs    = "ics"
	SourceGoogle = "google"
	SourceStub   = "stub"
)

type IcsFeed struct {
	Id    string `koanf:"id"`
	Name  string `koanf:"name"`
	Url   string `koanf:"url"`
	Color string `koanf:"color"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
}

type Cache struct {
	Dir string `koanf:"dir"`
}

func defaults() Application {
	return Application{
		Host:   "http://localhost:8181",
		Listen: ":8181",
		Calendar: Calendar{
			Timezone:     "Local",
			WeekFirstDay: "monday",
			Debounce:     500 * time.Millisecond,
			WeekNumbers:  false,
		},
		Database: Database{
			Driver: DriverSqlite,
			Path:   "lunarcal.db",
			Host:   "localhost",
			Port:   5432,
			User:   "lunarcal",
			Name:   "lunarcal",
			Schema: "lunarcal",
		},
		Source: Source{
			Type:     SourceIcs,
			PollCron: "*/15 * * * *",
		},
		Cache: Cache{
			Dir: "cache",
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}
	if err := app.validate(); err != nil {
		return Application{}, err
	}

	return app, nil
}

func (a Application) validate() error {
	switch a.Database.Driver {
	case DriverSqlite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", a.Database.Driver)
	}
	switch a.Source.Type {
	case SourceIcs, SourceGoogle, SourceStub:
	default:
		return fmt.Errorf("unsupported event source %q", a.Source.Type)
	}
	if a.Calendar.Debounce < 0 {
		return fmt.Errorf("calendar debounce must not be negative")
	}
	if _, err := a.Calendar.FirstWeekday(); err != nil {
		return err
	}
	if _, err := a.Calendar.Location(); err != nil {
		return err
	}
	return nil
}

func (c Calendar) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Calendar) FirstWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.WeekFirstDay) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("invalid first day of week %q", c.WeekFirstDay)
}
