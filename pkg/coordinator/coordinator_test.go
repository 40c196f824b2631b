package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klokku/lunarcal/internal/event_bus"
	"github.com/klokku/lunarcal/internal/utils"
	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/grid"
	"github.com/klokku/lunarcal/pkg/holiday"
	"github.com/klokku/lunarcal/pkg/lunar"
	"github.com/klokku/lunarcal/pkg/settings"
	"github.com/klokku/lunarcal/pkg/solarterm"
	"github.com/klokku/lunarcal/pkg/todo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shanghai, _ = time.LoadLocation("Asia/Shanghai")

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, shanghai)
}

func testCalendars() []event.Calendar {
	return []event.Calendar{
		{ID: "work", Title: "Work", AllowsModify: true},
		{ID: "home", Title: "Home"},
	}
}

func testEvents() []event.CalendarEvent {
	return []event.CalendarEvent{
		{ID: "standup", CalendarID: "work", AllowsModify: true, Title: "Standup",
			StartDate: time.Date(2025, 10, 1, 10, 0, 0, 0, shanghai), EndDate: time.Date(2025, 10, 1, 10, 15, 0, 0, shanghai)},
		{ID: "dinner", CalendarID: "home", Title: "Family dinner",
			StartDate: time.Date(2025, 10, 6, 19, 0, 0, 0, shanghai), EndDate: time.Date(2025, 10, 6, 21, 0, 0, 0, shanghai)},
		{ID: "review", CalendarID: "work", AllowsModify: true, Title: "Review",
			StartDate: time.Date(2025, 11, 5, 14, 0, 0, 0, shanghai), EndDate: time.Date(2025, 11, 5, 15, 0, 0, 0, shanghai)},
	}
}

type fixture struct {
	coordinator *Coordinator
	source      *event.StubSource
	settings    *settings.StubRepository
	todos       *todo.StubRepository
	bus         *event_bus.EventBus
	rebuilds    atomic.Int32
}

func newFixture(t *testing.T, source *event.StubSource, debounce time.Duration) *fixture {
	t.Helper()
	converter := lunar.NewConverter()
	terms, err := solarterm.NewAnnotator()
	require.NoError(t, err)
	holidays, err := holiday.NewDefaultAnnotator("", converter, terms)
	require.NoError(t, err)

	f := &fixture{
		source:   source,
		settings: settings.NewStubRepository(),
		todos:    todo.NewStubRepository(nil),
		bus:      event_bus.NewEventBus(),
	}
	clock := &utils.MockClock{FixedNow: time.Date(2025, 10, 1, 8, 0, 0, 0, shanghai)}
	f.coordinator = New(
		source,
		grid.NewAnnotator(converter, holidays, terms),
		f.settings,
		todo.NewStore(context.Background(), f.todos),
		f.bus,
		clock,
		Options{Location: shanghai, FirstWeekday: time.Monday, Debounce: debounce},
	)
	event_bus.SubscribeTyped(f.bus, event_bus.CalendarViewRebuilt, func(e event_bus.EventT[event_bus.ViewRebuilt]) error {
		f.rebuilds.Add(1)
		return nil
	})
	return f
}

func (f *fixture) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coordinator.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestCoordinator_RefreshNow(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)

	state := f.coordinator.RefreshNow(context.Background())

	assert.True(t, state.Loaded)
	assert.Equal(t, event.Granted, state.AuthorizationStatus)
	assert.Equal(t, date(2025, 10, 1), state.SelectedMonth)
	require.Len(t, state.Days, 35)
	assert.Equal(t, date(2025, 9, 29), state.Days[0].Date)
	assert.Equal(t, date(2025, 11, 2), state.Days[34].Date)

	// 2025-10-01 is the third cell
	assert.Equal(t, []string{"国庆节"}, state.Days[2].Holidays)
	require.Len(t, state.Days[2].Events, 1)
	assert.Equal(t, "standup", state.Days[2].Events[0].ID)

	assert.Equal(t, date(2025, 10, 1), state.SelectedDay)
	require.Len(t, state.SelectedDayEvents, 1)
	assert.Equal(t, "standup", state.SelectedDayEvents[0].ID)

	// sorted by title, all selected without a filter
	assert.Equal(t, []event.CalendarInfo{
		{ID: "home", Title: "Home", IsSelected: true},
		{ID: "work", Title: "Work", IsSelected: true},
	}, state.CalendarInfos)
	assert.Nil(t, state.Filter)
	assert.Equal(t, int32(1), f.rebuilds.Load())
}

func TestCoordinator_Authorization(t *testing.T) {
	t.Run("Undetermined status is requested on first rebuild", func(t *testing.T) {
		source := event.NewStubSource(testCalendars(), testEvents())
		source.SetStatus(event.NotDetermined)
		f := newFixture(t, source, DefaultDebounce)

		state := f.coordinator.RefreshNow(context.Background())
		assert.Equal(t, event.Granted, state.AuthorizationStatus)
		assert.Len(t, state.SelectedDayEvents, 1)
	})

	t.Run("Denied access still produces the annotated grid", func(t *testing.T) {
		source := event.NewStubSource(testCalendars(), testEvents())
		source.SetStatus(event.NotDetermined)
		source.SetRequestResult(event.Denied)
		f := newFixture(t, source, DefaultDebounce)

		state := f.coordinator.RefreshNow(context.Background())
		assert.Equal(t, event.Denied, state.AuthorizationStatus)
		require.Len(t, state.Days, 35)
		assert.Equal(t, []string{"国庆节"}, state.Days[2].Holidays)
		for _, day := range state.Days {
			assert.Empty(t, day.Events)
		}
		assert.Empty(t, source.Queries())
		assert.True(t, state.Loaded)
	})

	t.Run("Resolved status is kept until requested again", func(t *testing.T) {
		source := event.NewStubSource(testCalendars(), testEvents())
		source.SetStatus(event.Denied)
		f := newFixture(t, source, DefaultDebounce)
		ctx := context.Background()

		assert.Equal(t, event.Denied, f.coordinator.RefreshNow(ctx).AuthorizationStatus)
		source.SetStatus(event.Granted)
		assert.Equal(t, event.Denied, f.coordinator.RefreshNow(ctx).AuthorizationStatus)

		status, err := f.coordinator.RequestAuthorization(ctx)
		require.NoError(t, err)
		assert.Equal(t, event.Granted, status)
		state := f.coordinator.RefreshNow(ctx)
		assert.Equal(t, event.Granted, state.AuthorizationStatus)
		assert.Len(t, state.SelectedDayEvents, 1)
	})
}

func TestCoordinator_QueryErrorDegradesToNoEvents(t *testing.T) {
	source := event.NewStubSource(testCalendars(), testEvents())
	source.SetQueryError(errors.New("network down"))
	f := newFixture(t, source, DefaultDebounce)

	state := f.coordinator.RefreshNow(context.Background())
	require.Len(t, state.Days, 35)
	assert.Empty(t, state.SelectedDayEvents)
	assert.Equal(t, "八月初十", state.Days[2].LunarFull)
}

func TestCoordinator_Navigation(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	ctx := context.Background()
	f.coordinator.RefreshNow(ctx)

	state := f.coordinator.GoToNextMonth(ctx)
	assert.Equal(t, date(2025, 11, 1), state.SelectedMonth)
	assert.Equal(t, date(2025, 10, 27), state.Days[0].Date)
	// the selected day is still October 1st, which is outside the November grid
	assert.Empty(t, state.SelectedDayEvents)

	state = f.coordinator.GoToMonth(ctx, -2)
	assert.Equal(t, date(2025, 9, 1), state.SelectedMonth)
	assert.Equal(t, date(2025, 9, 1), state.Days[0].Date)

	state = f.coordinator.GoToPreviousMonth(ctx)
	assert.Equal(t, date(2025, 8, 1), state.SelectedMonth)

	state = f.coordinator.GoToCurrentMonth(ctx)
	assert.Equal(t, date(2025, 10, 1), state.SelectedMonth)

	f.coordinator.GoToMonth(ctx, 14)
	f.coordinator.SelectDay(date(2026, 12, 24))
	state = f.coordinator.ResetToToday(ctx)
	assert.Equal(t, date(2025, 10, 1), state.SelectedMonth)
	assert.Equal(t, date(2025, 10, 1), state.SelectedDay)
	assert.Len(t, state.SelectedDayEvents, 1)
}

func TestCoordinator_NavigationSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	state := f.coordinator.GoToNextMonth(context.Background())
	require.Len(t, state.Days[9].Events, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state = f.coordinator.GoToPreviousMonth(ctx)
	assert.Equal(t, date(2025, 10, 1), state.SelectedMonth)
	require.Len(t, state.Days[2].Events, 1)
	assert.Equal(t, "standup", state.Days[2].Events[0].ID)

	state = f.coordinator.GoToNextMonth(ctx)
	assert.Equal(t, date(2025, 11, 1), state.SelectedMonth)
	// 2025-11-05 is the tenth cell of the November grid
	require.Len(t, state.Days[9].Events, 1)
	assert.Equal(t, "review", state.Days[9].Events[0].ID)
	assert.Equal(t, int32(3), f.rebuilds.Load())
}

func TestCoordinator_CancelledRebuildKeepsLastState(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	before := f.coordinator.RefreshNow(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.coordinator.rebuild(ctx)

	after := f.coordinator.State()
	assert.Equal(t, before.Generation, after.Generation)
	require.Len(t, after.Days[2].Events, 1)
	assert.Len(t, after.SelectedDayEvents, 1)
	assert.Equal(t, int32(1), f.rebuilds.Load())
}

func TestCoordinator_SelectDay(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	f.coordinator.RefreshNow(context.Background())

	state := f.coordinator.SelectDay(time.Date(2025, 10, 6, 22, 0, 0, 0, shanghai))
	assert.Equal(t, date(2025, 10, 6), state.SelectedDay)
	require.Len(t, state.SelectedDayEvents, 1)
	assert.Equal(t, "dinner", state.SelectedDayEvents[0].ID)

	t.Run("Day outside the grid has no events and is not fetched", func(t *testing.T) {
		queries := len(f.source.Queries())
		state := f.coordinator.SelectDay(date(2025, 11, 5))
		assert.Empty(t, state.SelectedDayEvents)
		assert.NotNil(t, state.SelectedDayEvents)
		assert.Len(t, f.source.Queries(), queries)
	})
}

func TestCoordinator_RapidSetFilterRebuildsOnce(t *testing.T) {
	debounce := 100 * time.Millisecond
	source := event.NewStubSource(testCalendars(), testEvents())
	f := newFixture(t, source, debounce)
	f.run(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.SetFilter(ctx, []string{"home"}))
	require.NoError(t, f.coordinator.SetFilter(ctx, []string{}))
	require.NoError(t, f.coordinator.SetFilter(ctx, nil))
	require.NoError(t, f.coordinator.SetFilter(ctx, []string{"work"}))

	require.Eventually(t, func() bool { return f.rebuilds.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(3 * debounce)
	assert.Equal(t, int32(1), f.rebuilds.Load())

	assert.Equal(t, [][]string{{"work"}}, source.Queries())
	state := f.coordinator.State()
	assert.Equal(t, settings.Filter{"work"}, state.Filter)
	require.Len(t, state.SelectedDayEvents, 1)
	assert.Equal(t, "standup", state.SelectedDayEvents[0].ID)
}

func TestCoordinator_EmptyFilterShowsNoEvents(t *testing.T) {
	source := event.NewStubSource(testCalendars(), testEvents())
	f := newFixture(t, source, DefaultDebounce)
	ctx := context.Background()

	require.NoError(t, f.coordinator.SetFilter(ctx, []string{}))
	state := f.coordinator.RefreshNow(ctx)

	require.NotNil(t, state.Filter)
	assert.Empty(t, state.Filter)
	assert.Empty(t, state.SelectedDayEvents)
	assert.Empty(t, source.Queries())
	for _, info := range state.CalendarInfos {
		assert.False(t, info.IsSelected)
	}
}

func TestCoordinator_SetCalendarSelected(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	ctx := context.Background()
	f.coordinator.RefreshNow(ctx)

	require.NoError(t, f.coordinator.SetCalendarSelected(ctx, "home", false))
	filter, err := f.settings.GetFilterIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Filter{"work"}, filter)

	state := f.coordinator.State()
	assert.Equal(t, []event.CalendarInfo{
		{ID: "home", Title: "Home", IsSelected: false},
		{ID: "work", Title: "Work", IsSelected: true},
	}, state.CalendarInfos)

	require.NoError(t, f.coordinator.SetCalendarSelected(ctx, "home", true))
	filter, err = f.settings.GetFilterIds(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"work", "home"}, filter)
}

func TestCoordinator_SetFilterPersistFailure(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	f.settings.SetErr = errors.New("read-only database")

	err := f.coordinator.SetFilter(context.Background(), []string{"work"})
	assert.Error(t, err)
	assert.Nil(t, f.coordinator.State().Filter)
}

func TestCoordinator_StaleRebuildIsDiscarded(t *testing.T) {
	source := event.NewStubSource(testCalendars(), testEvents())
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	source.BeforeQuery = func(ctx context.Context) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	}
	f := newFixture(t, source, DefaultDebounce)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.coordinator.RefreshNow(ctx)
	}()
	<-entered

	state := f.coordinator.GoToNextMonth(ctx)
	assert.Equal(t, date(2025, 10, 27), state.Days[0].Date)

	close(release)
	wg.Wait()

	state = f.coordinator.State()
	assert.Equal(t, date(2025, 11, 1), state.SelectedMonth)
	assert.Equal(t, date(2025, 10, 27), state.Days[0].Date)
	assert.Equal(t, uint64(1), state.Generation)
	assert.Equal(t, int32(1), f.rebuilds.Load())
}

func TestCoordinator_SourceChangeTriggersRebuild(t *testing.T) {
	source := event.NewStubSource(testCalendars(), testEvents())
	f := newFixture(t, source, 20*time.Millisecond)
	f.coordinator.RefreshNow(context.Background())
	f.run(t)

	source.AddEvent(event.CalendarEvent{
		ID: "lunch", CalendarID: "home", Title: "Lunch",
		StartDate: time.Date(2025, 10, 1, 12, 0, 0, 0, shanghai), EndDate: time.Date(2025, 10, 1, 13, 0, 0, 0, shanghai),
	})

	require.Eventually(t, func() bool {
		return len(f.coordinator.State().SelectedDayEvents) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "lunch", f.coordinator.State().SelectedDayEvents[1].ID)
}

func TestCoordinator_DeleteEvent(t *testing.T) {
	source := event.NewStubSource(testCalendars(), testEvents())
	f := newFixture(t, source, 20*time.Millisecond)
	ctx := context.Background()
	f.coordinator.RefreshNow(ctx)

	var deleted []event_bus.EventDeleted
	var mu sync.Mutex
	event_bus.SubscribeTyped(f.bus, event_bus.CalendarEventDeleted, func(e event_bus.EventT[event_bus.EventDeleted]) error {
		mu.Lock()
		defer mu.Unlock()
		deleted = append(deleted, e.Data)
		return nil
	})

	t.Run("Failure leaves the state untouched", func(t *testing.T) {
		before := f.coordinator.State()

		err := f.coordinator.DeleteEvent(ctx, "dinner")
		assert.ErrorIs(t, err, event.ErrReadOnly)
		assert.Contains(t, err.Error(), "dinner")

		err = f.coordinator.DeleteEvent(ctx, "missing")
		assert.ErrorIs(t, err, event.ErrEventNotFound)

		assert.Equal(t, before, f.coordinator.State())
	})

	t.Run("Success refreshes the grid", func(t *testing.T) {
		f.run(t)
		require.NoError(t, f.coordinator.DeleteEvent(ctx, "standup"))

		require.Eventually(t, func() bool {
			return len(f.coordinator.State().SelectedDayEvents) == 0
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []event_bus.EventDeleted{{EventId: "standup", CalendarId: "work"}}, deleted)
	})
}

func TestCoordinator_Todos(t *testing.T) {
	f := newFixture(t, event.NewStubSource(testCalendars(), testEvents()), DefaultDebounce)
	ctx := context.Background()

	var changes atomic.Int32
	event_bus.SubscribeTyped(f.bus, event_bus.TodoChanged, func(e event_bus.EventT[event_bus.TodoChange]) error {
		changes.Add(1)
		return nil
	})

	item, err := f.coordinator.AddTodo(ctx, "buy mooncakes", time.Date(2025, 10, 1, 23, 0, 0, 0, shanghai))
	require.NoError(t, err)
	assert.Equal(t, []todo.Item{item}, f.coordinator.State().SelectedDayTodos)

	// whitespace only titles are ignored
	_, err = f.coordinator.AddTodo(ctx, "   ", date(2025, 10, 1))
	require.NoError(t, err)
	assert.Len(t, f.coordinator.State().SelectedDayTodos, 1)

	require.NoError(t, f.coordinator.ToggleTodo(ctx, item.ID, date(2025, 10, 1)))
	assert.True(t, f.coordinator.State().SelectedDayTodos[0].IsCompleted)

	// other days do not touch the selected day's list
	other, err := f.coordinator.AddTodo(ctx, "dentist", date(2025, 10, 2))
	require.NoError(t, err)
	assert.Len(t, f.coordinator.State().SelectedDayTodos, 1)
	assert.Equal(t, []todo.Item{other}, f.coordinator.Todos(date(2025, 10, 2)))

	require.NoError(t, f.coordinator.DeleteTodo(ctx, item.ID, date(2025, 10, 1)))
	assert.Empty(t, f.coordinator.State().SelectedDayTodos)
	assert.NotContains(t, f.todos.Saved(), "2025-10-01")

	assert.ErrorIs(t, f.coordinator.DeleteTodo(ctx, item.ID, date(2025, 10, 1)), todo.ErrItemNotFound)
	assert.Equal(t, int32(4), changes.Load())
}
