package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/klokku/lunarcal/internal/config"
	"github.com/klokku/lunarcal/internal/event_bus"
	"github.com/klokku/lunarcal/internal/utils"
	"github.com/klokku/lunarcal/pkg/coordinator"
	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/google"
	"github.com/klokku/lunarcal/pkg/grid"
	"github.com/klokku/lunarcal/pkg/holiday"
	"github.com/klokku/lunarcal/pkg/ics"
	"github.com/klokku/lunarcal/pkg/lunar"
	"github.com/klokku/lunarcal/pkg/settings"
	"github.com/klokku/lunarcal/pkg/solarterm"
	"github.com/klokku/lunarcal/pkg/todo"
	log "github.com/sirupsen/logrus"
)

// PollingSource is an event source that watches its backend for changes on a schedule.
type PollingSource interface {
	event.Source
	StartPolling(ctx context.Context, spec string) error
	Stop()
}

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	SettingsRepo settings.Repository
	TodoRepo     todo.Repository
	TodoStore    *todo.Store

	LunarConverter *lunar.Converter
	SolarTerms     *solarterm.Annotator
	Holidays       *holiday.Annotator
	LunarHandler   *lunar.Handler

	Source     event.Source
	GoogleAuth *google.Auth

	Coordinator        *coordinator.Coordinator
	CoordinatorHandler *coordinator.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(ctx context.Context, db *sqlx.DB, cfg config.Application, clock utils.Clock) (*Dependencies, error) {
	deps := &Dependencies{Clock: clock}

	loc, err := cfg.Calendar.Location()
	if err != nil {
		return nil, err
	}
	firstWeekday, err := cfg.Calendar.FirstWeekday()
	if err != nil {
		return nil, err
	}

	deps.EventBus = event_bus.NewEventBus()
	subscribeLogging(deps.EventBus)

	deps.SettingsRepo = settings.NewRepository(db)
	deps.TodoRepo = todo.NewRepository(db)
	deps.TodoStore = todo.NewStore(ctx, deps.TodoRepo)

	deps.LunarConverter = lunar.NewConverter()
	deps.SolarTerms, err = solarterm.NewAnnotator()
	if err != nil {
		return nil, fmt.Errorf("failed to load solar terms: %w", err)
	}
	deps.Holidays, err = holiday.NewDefaultAnnotator(cfg.Holiday.DataDir, deps.LunarConverter, deps.SolarTerms)
	if err != nil {
		return nil, fmt.Errorf("failed to load holidays: %w", err)
	}
	deps.LunarHandler = lunar.NewHandler(deps.LunarConverter, clock, loc)

	switch cfg.Source.Type {
	case config.SourceIcs:
		feeds := make([]ics.Feed, 0, len(cfg.Ics))
		for _, f := range cfg.Ics {
			feeds = append(feeds, ics.Feed{ID: f.Id, Name: f.Name, URL: f.Url, Color: f.Color})
		}
		deps.Source = ics.NewSource(feeds, ics.NewFetcher(nil, cfg.Cache.Dir), loc)
		log.Infof("Using %d ICS feed(s) as event source", len(feeds))
	case config.SourceGoogle:
		deps.GoogleAuth = google.NewAuth(deps.SettingsRepo, google.OAuthConfig(cfg))
		deps.Source = google.NewSource(deps.GoogleAuth, loc)
		log.Info("Using Google Calendar as event source")
	default:
		deps.Source = event.NewStubSource(nil, nil)
		log.Warn("Using the in-memory stub event source")
	}

	annotator := grid.NewAnnotator(deps.LunarConverter, deps.Holidays, deps.SolarTerms)
	deps.Coordinator = coordinator.New(
		deps.Source,
		annotator,
		deps.SettingsRepo,
		deps.TodoStore,
		deps.EventBus,
		clock,
		coordinator.Options{Location: loc, FirstWeekday: firstWeekday, Debounce: cfg.Calendar.Debounce},
	)
	deps.CoordinatorHandler = coordinator.NewHandler(deps.Coordinator, cfg.Calendar.WeekNumbers)

	if deps.GoogleAuth != nil {
		deps.GoogleAuth.OnStatusChange(func(ctx context.Context) {
			status, err := deps.Coordinator.RequestAuthorization(ctx)
			if err != nil {
				log.Warnf("Failed to refresh authorization: %v", err)
				return
			}
			log.Infof("Calendar authorization is now %s", status)
		})
	}

	return deps, nil
}

func subscribeLogging(bus *event_bus.EventBus) {
	event_bus.SubscribeTyped(bus, event_bus.CalendarViewRebuilt, func(e event_bus.EventT[event_bus.ViewRebuilt]) error {
		log.Debugf("View of %s rebuilt (generation %d, %d events, authorized: %t)",
			e.Data.Month.Format("2006-01"), e.Data.Generation, e.Data.Events, e.Data.Authorized)
		return nil
	})
	event_bus.SubscribeTyped(bus, event_bus.CalendarEventDeleted, func(e event_bus.EventT[event_bus.EventDeleted]) error {
		log.Infof("Event %s deleted from calendar %s", e.Data.EventId, e.Data.CalendarId)
		return nil
	})
	event_bus.SubscribeTyped(bus, event_bus.TodoChanged, func(e event_bus.EventT[event_bus.TodoChange]) error {
		log.Debugf("Todo %s %s on %s", e.Data.ItemId, e.Data.Action, e.Data.Day)
		return nil
	})
}

// startPolling begins change polling when the source supports it.
func startPolling(ctx context.Context, source event.Source, spec string) (stop func(), err error) {
	polling, ok := source.(PollingSource)
	if !ok || spec == "" {
		return func() {}, nil
	}
	if err := polling.StartPolling(ctx, spec); err != nil {
		return nil, err
	}
	return polling.Stop, nil
}
