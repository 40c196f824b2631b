package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klokku/lunarcal/internal/event_bus"
	"github.com/klokku/lunarcal/internal/utils"
	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/grid"
	"github.com/klokku/lunarcal/pkg/settings"
	"github.com/klokku/lunarcal/pkg/todo"
	log "github.com/sirupsen/logrus"
)

const DefaultDebounce = 500 * time.Millisecond

// ViewState is an immutable snapshot of the calendar view. Slices are replaced, never
// modified in place, so a snapshot can be shared freely.
type ViewState struct {
	SelectedMonth       time.Time                 `json:"selectedMonth"`
	SelectedDay         time.Time                 `json:"selectedDay"`
	Filter              settings.Filter           `json:"filter"`
	Days                []grid.CalendarDay        `json:"days"`
	CalendarInfos       []event.CalendarInfo      `json:"calendars"`
	SelectedDayEvents   []event.CalendarEvent     `json:"selectedDayEvents"`
	SelectedDayTodos    []todo.Item               `json:"selectedDayTodos"`
	AuthorizationStatus event.AuthorizationStatus `json:"authorizationStatus"`
	Loaded              bool                      `json:"loaded"`
	Generation          uint64                    `json:"generation"`
}

type Options struct {
	Location     *time.Location
	FirstWeekday time.Weekday
	Debounce     time.Duration
}

type Coordinator struct {
	source     event.Source
	aggregator *event.Aggregator
	annotator  *grid.Annotator
	settings   settings.Repository
	todos      *todo.Store
	bus        *event_bus.EventBus
	clock      utils.Clock

	loc          *time.Location
	firstWeekday time.Weekday
	debounce     time.Duration

	invalidate chan struct{}

	mu    sync.Mutex
	state ViewState
	// bumped whenever an input of an in-flight rebuild changes
	monthGen  uint64
	filterGen uint64
}

func New(
	source event.Source,
	annotator *grid.Annotator,
	settingsRepo settings.Repository,
	todos *todo.Store,
	bus *event_bus.EventBus,
	clock utils.Clock,
	opts Options,
) *Coordinator {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	today := utils.Today(clock, loc)
	return &Coordinator{
		source:       source,
		aggregator:   event.NewAggregator(source),
		annotator:    annotator,
		settings:     settingsRepo,
		todos:        todos,
		bus:          bus,
		clock:        clock,
		loc:          loc,
		firstWeekday: opts.FirstWeekday,
		debounce:     opts.Debounce,
		invalidate:   make(chan struct{}, 1),
		state: ViewState{
			SelectedMonth:       grid.MonthStart(today),
			SelectedDay:         today,
			Days:                []grid.CalendarDay{},
			CalendarInfos:       []event.CalendarInfo{},
			SelectedDayEvents:   []event.CalendarEvent{},
			SelectedDayTodos:    todos.List(today),
			AuthorizationStatus: event.NotDetermined,
		},
	}
}

func (c *Coordinator) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Location() *time.Location {
	return c.loc
}

// Run owns the debounce timer until ctx is cancelled. Invalidate signals and source change
// notifications arriving within the debounce window collapse into one rebuild.
func (c *Coordinator) Run(ctx context.Context) {
	timer := time.NewTimer(c.debounce)
	timer.Stop()
	defer timer.Stop()

	changes := c.source.Changes()
	for {
		select {
		case <-ctx.Done():
			log.Debug("Calendar coordinator stopped")
			return
		case <-c.invalidate:
			timer.Reset(c.debounce)
		case <-changes:
			log.Debug("Event source reported a change")
			timer.Reset(c.debounce)
		case <-timer.C:
			c.rebuild(ctx)
		}
	}
}

// Refresh schedules a debounced rebuild of the current month.
func (c *Coordinator) Refresh() {
	select {
	case c.invalidate <- struct{}{}:
	default:
		// a signal is already pending
	}
}

// RefreshNow rebuilds the current month immediately. The rebuild is detached from ctx
// cancellation so a caller going away does not leave the new month without events.
func (c *Coordinator) RefreshNow(ctx context.Context) ViewState {
	c.rebuild(context.WithoutCancel(ctx))
	return c.State()
}

func (c *Coordinator) GoToMonth(ctx context.Context, delta int) ViewState {
	c.mu.Lock()
	c.state.SelectedMonth = grid.AddMonths(c.state.SelectedMonth, delta)
	c.monthGen++
	c.mu.Unlock()
	return c.RefreshNow(ctx)
}

func (c *Coordinator) GoToNextMonth(ctx context.Context) ViewState {
	return c.GoToMonth(ctx, 1)
}

func (c *Coordinator) GoToPreviousMonth(ctx context.Context) ViewState {
	return c.GoToMonth(ctx, -1)
}

func (c *Coordinator) GoToCurrentMonth(ctx context.Context) ViewState {
	c.mu.Lock()
	c.state.SelectedMonth = grid.MonthStart(utils.Today(c.clock, c.loc))
	c.monthGen++
	c.mu.Unlock()
	return c.RefreshNow(ctx)
}

// ResetToToday shows the current month and selects today.
func (c *Coordinator) ResetToToday(ctx context.Context) ViewState {
	today := utils.Today(c.clock, c.loc)
	c.mu.Lock()
	c.state.SelectedMonth = grid.MonthStart(today)
	c.state.SelectedDay = today
	c.monthGen++
	c.mu.Unlock()
	return c.RefreshNow(ctx)
}

// SelectDay selects date without fetching. Events come from the published grid only, so a
// date outside of it has no events.
func (c *Coordinator) SelectDay(date time.Time) ViewState {
	day := event.StartOfDay(date, c.loc)
	todos := c.todos.List(day)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SelectedDay = day
	c.state.SelectedDayEvents = eventsOf(c.state.Days, day)
	c.state.SelectedDayTodos = todos
	return c.state
}

// SetFilter persists ids and schedules a rebuild. A nil ids shows all calendars.
func (c *Coordinator) SetFilter(ctx context.Context, ids []string) error {
	filter := settings.Filter(ids)
	if err := c.settings.SetFilterIds(ctx, filter); err != nil {
		return fmt.Errorf("failed to store calendar filter: %w", err)
	}

	c.mu.Lock()
	c.filterGen++
	c.state.Filter = slices.Clone(filter)
	c.state.CalendarInfos = applyFilter(c.state.CalendarInfos, filter)
	c.mu.Unlock()

	c.Refresh()
	return nil
}

// SetCalendarSelected toggles one calendar in the current filter.
func (c *Coordinator) SetCalendarSelected(ctx context.Context, calendarId string, selected bool) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.state.CalendarInfos))
	for _, info := range c.state.CalendarInfos {
		if info.ID == calendarId {
			continue
		}
		if info.IsSelected {
			ids = append(ids, info.ID)
		}
	}
	c.mu.Unlock()

	if selected {
		ids = append(ids, calendarId)
	}
	return c.SetFilter(ctx, ids)
}

// RequestAuthorization asks the source for access again and schedules a rebuild.
func (c *Coordinator) RequestAuthorization(ctx context.Context) (event.AuthorizationStatus, error) {
	status, err := c.source.RequestAuthorization(ctx)
	if err != nil {
		log.Warnf("Authorization request failed: %v", err)
		status = c.source.CheckAuthorization(ctx)
	}

	c.mu.Lock()
	c.state.AuthorizationStatus = status
	c.mu.Unlock()

	c.Refresh()
	return status, err
}

// DeleteEvent removes an event at the source. A failure leaves the view untouched.
func (c *Coordinator) DeleteEvent(ctx context.Context, eventId string) error {
	calendarId := ""
	c.mu.Lock()
	for _, day := range c.state.Days {
		for _, e := range day.Events {
			if e.ID == eventId {
				calendarId = e.CalendarID
			}
		}
	}
	c.mu.Unlock()

	if err := c.source.DeleteEvent(ctx, eventId); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventId, err)
	}
	log.Infof("Deleted event %s", eventId)

	c.publish(ctx, event_bus.CalendarEventDeleted, event_bus.EventDeleted{EventId: eventId, CalendarId: calendarId})
	c.Refresh()
	return nil
}

func (c *Coordinator) AddTodo(ctx context.Context, title string, date time.Time) (todo.Item, error) {
	day := event.StartOfDay(date, c.loc)
	item, err := c.todos.Add(ctx, title, day)
	if err != nil {
		return todo.Item{}, err
	}
	if item.ID != uuid.Nil {
		c.todosChanged(ctx, day, item.ID, "added")
	}
	return item, nil
}

func (c *Coordinator) ToggleTodo(ctx context.Context, id uuid.UUID, date time.Time) error {
	day := event.StartOfDay(date, c.loc)
	if err := c.todos.Toggle(ctx, id, day); err != nil {
		return err
	}
	c.todosChanged(ctx, day, id, "toggled")
	return nil
}

func (c *Coordinator) DeleteTodo(ctx context.Context, id uuid.UUID, date time.Time) error {
	day := event.StartOfDay(date, c.loc)
	if err := c.todos.Delete(ctx, id, day); err != nil {
		return err
	}
	c.todosChanged(ctx, day, id, "deleted")
	return nil
}

func (c *Coordinator) Todos(date time.Time) []todo.Item {
	return c.todos.List(event.StartOfDay(date, c.loc))
}

func (c *Coordinator) todosChanged(ctx context.Context, day time.Time, id uuid.UUID, action string) {
	c.mu.Lock()
	if c.state.SelectedDay.Equal(day) {
		c.state.SelectedDayTodos = c.todos.List(day)
	}
	c.mu.Unlock()

	c.publish(ctx, event_bus.TodoChanged, event_bus.TodoChange{Day: todo.DayKey(day), ItemId: id.String(), Action: action})
}

// rebuild recomputes the grid of the selected month. The published state keeps its last
// value until the result is ready. A result whose month or filter changed meanwhile, or
// whose ctx was cancelled, is dropped.
func (c *Coordinator) rebuild(ctx context.Context) {
	c.mu.Lock()
	month := c.state.SelectedMonth
	monthGen, filterGen := c.monthGen, c.filterGen
	c.mu.Unlock()

	filter, err := c.settings.GetFilterIds(ctx)
	if err != nil {
		log.Warnf("Failed to read calendar filter, showing all calendars: %v", err)
		filter = nil
	}

	status := c.authorize(ctx)
	dates := grid.Build(month, c.firstWeekday)

	events := []event.CalendarEvent{}
	infos := []event.CalendarInfo{}
	if status == event.Granted {
		start, end := dates[0], dates[len(dates)-1].AddDate(0, 0, 1)
		fetched, err := c.aggregator.Fetch(ctx, start, end, filter)
		if err != nil {
			log.Errorf("Failed to fetch events for %s: %v", month.Format("2006-01"), err)
		} else {
			events = fetched
		}
		calendars, err := c.aggregator.CalendarInfos(ctx, filter)
		if err != nil {
			log.Errorf("Failed to list calendars: %v", err)
		} else {
			infos = calendars
		}
	} else {
		log.Debugf("Event source not authorized (%s), building grid without events", status)
	}

	if err := ctx.Err(); err != nil {
		log.Debugf("Discarding cancelled rebuild of %s: %v", month.Format("2006-01"), err)
		return
	}

	days := c.annotator.Annotate(dates, event.GroupByDay(events, c.loc))

	c.mu.Lock()
	if c.monthGen != monthGen || c.filterGen != filterGen {
		c.mu.Unlock()
		log.Debugf("Discarding stale rebuild of %s", month.Format("2006-01"))
		return
	}
	c.state.Days = days
	c.state.Filter = filter
	c.state.CalendarInfos = infos
	c.state.AuthorizationStatus = status
	c.state.SelectedDayEvents = eventsOf(days, c.state.SelectedDay)
	c.state.SelectedDayTodos = c.todos.List(c.state.SelectedDay)
	c.state.Loaded = true
	c.state.Generation++
	generation := c.state.Generation
	c.mu.Unlock()

	log.Debugf("Rebuilt %s: %d days, %d events", month.Format("2006-01"), len(days), len(events))
	c.publish(ctx, event_bus.CalendarViewRebuilt, event_bus.ViewRebuilt{
		Month:      month,
		Days:       len(days),
		Events:     len(events),
		Authorized: status == event.Granted,
		Generation: generation,
	})
}

// authorize resolves the authorization status once. Resolved statuses only change
// through RequestAuthorization.
func (c *Coordinator) authorize(ctx context.Context) event.AuthorizationStatus {
	c.mu.Lock()
	status := c.state.AuthorizationStatus
	c.mu.Unlock()
	if status != event.NotDetermined {
		return status
	}

	status = c.source.CheckAuthorization(ctx)
	if status != event.NotDetermined {
		return status
	}
	requested, err := c.source.RequestAuthorization(ctx)
	if err != nil {
		log.Warnf("Authorization request failed: %v", err)
		return event.NotDetermined
	}
	return requested
}

func (c *Coordinator) publish(ctx context.Context, eventType event_bus.EventType, data any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(event_bus.NewEvent(ctx, eventType, data)); err != nil {
		log.Warnf("Failed to publish %s: %v", eventType, err)
	}
}

func eventsOf(days []grid.CalendarDay, day time.Time) []event.CalendarEvent {
	for _, d := range days {
		if d.Date.Equal(day) {
			return d.Events
		}
	}
	return []event.CalendarEvent{}
}

func applyFilter(infos []event.CalendarInfo, filter settings.Filter) []event.CalendarInfo {
	updated := make([]event.CalendarInfo, 0, len(infos))
	for _, info := range infos {
		info.IsSelected = filter == nil || slices.Contains(filter, info.ID)
		updated = append(updated, info)
	}
	return updated
}
