package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var warsaw, _ = time.LoadLocation("Europe/Warsaw")

func testEvents() []CalendarEvent {
	return []CalendarEvent{
		{ID: "1", CalendarID: "work", Title: "Standup", StartDate: time.Date(2025, 10, 1, 9, 0, 0, 0, warsaw), EndDate: time.Date(2025, 10, 1, 9, 15, 0, 0, warsaw)},
		{ID: "2", CalendarID: "home", Title: "Dinner", StartDate: time.Date(2025, 10, 1, 19, 0, 0, 0, warsaw), EndDate: time.Date(2025, 10, 1, 21, 0, 0, 0, warsaw)},
		{ID: "3", CalendarID: "work", Title: "Trip", StartDate: time.Date(2025, 10, 2, 8, 0, 0, 0, warsaw), EndDate: time.Date(2025, 10, 5, 18, 0, 0, 0, warsaw)},
		{ID: "4", CalendarID: "home", Title: "Late call", StartDate: time.Date(2025, 10, 2, 23, 30, 0, 0, warsaw), EndDate: time.Date(2025, 10, 3, 0, 30, 0, 0, warsaw)},
		{ID: "5", CalendarID: "work", Title: "Next month", StartDate: time.Date(2025, 11, 10, 9, 0, 0, 0, warsaw), EndDate: time.Date(2025, 11, 10, 10, 0, 0, 0, warsaw)},
	}
}

func TestAggregator_Fetch(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 9, 29, 0, 0, 0, 0, warsaw)
	end := time.Date(2025, 11, 3, 0, 0, 0, 0, warsaw)

	t.Run("Nil filter returns events of all calendars", func(t *testing.T) {
		source := NewStubSource(nil, testEvents())
		events, err := NewAggregator(source).Fetch(ctx, start, end, nil)
		require.NoError(t, err)
		assert.Len(t, events, 4)
		assert.Equal(t, []string{"1", "2", "3", "4"}, ids(events))
	})

	t.Run("Filter limits calendars", func(t *testing.T) {
		source := NewStubSource(nil, testEvents())
		events, err := NewAggregator(source).Fetch(ctx, start, end, []string{"home"})
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "4"}, ids(events))
	})

	t.Run("Empty filter returns no events without querying", func(t *testing.T) {
		source := NewStubSource(nil, testEvents())
		events, err := NewAggregator(source).Fetch(ctx, start, end, []string{})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Empty(t, source.Queries())
	})

	t.Run("Source error is returned", func(t *testing.T) {
		source := NewStubSource(nil, testEvents())
		source.SetQueryError(errors.New("boom"))
		_, err := NewAggregator(source).Fetch(ctx, start, end, nil)
		assert.Error(t, err)
	})
}

func TestAggregator_CalendarInfos(t *testing.T) {
	source := NewStubSource([]Calendar{
		{ID: "w", Title: "Work", Color: "#ff0000"},
		{ID: "b", Title: "Birthdays"},
		{ID: "h", Title: "Home"},
	}, nil)
	a := NewAggregator(source)

	infos, err := a.CalendarInfos(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []CalendarInfo{
		{ID: "b", Title: "Birthdays", IsSelected: true},
		{ID: "h", Title: "Home", IsSelected: true},
		{ID: "w", Title: "Work", Color: "#ff0000", IsSelected: true},
	}, infos)

	infos, err = a.CalendarInfos(context.Background(), []string{"w"})
	require.NoError(t, err)
	assert.False(t, infos[0].IsSelected)
	assert.False(t, infos[1].IsSelected)
	assert.True(t, infos[2].IsSelected)

	infos, err = a.CalendarInfos(context.Background(), []string{})
	require.NoError(t, err)
	for _, info := range infos {
		assert.False(t, info.IsSelected)
	}
}

func TestGroupByDay(t *testing.T) {
	events := testEvents()
	byDay := GroupByDay(events, warsaw)

	require.Len(t, byDay, 3)
	assert.Equal(t, []string{"1", "2"}, ids(byDay[time.Date(2025, 10, 1, 0, 0, 0, 0, warsaw)]))
	// the multi-day trip only appears on its start day
	assert.Equal(t, []string{"3", "4"}, ids(byDay[time.Date(2025, 10, 2, 0, 0, 0, 0, warsaw)]))
	assert.Empty(t, byDay[time.Date(2025, 10, 3, 0, 0, 0, 0, warsaw)])

	t.Run("Buckets partition the input", func(t *testing.T) {
		total := 0
		for _, bucket := range byDay {
			total += len(bucket)
		}
		assert.Equal(t, len(events), total)
	})

	t.Run("Grouping the flattened result is idempotent", func(t *testing.T) {
		assert.Equal(t, byDay, GroupByDay(Flatten(byDay), warsaw))
	})

	t.Run("Day depends on the location", func(t *testing.T) {
		// 23:30 in Warsaw is already the next day in Tokyo
		tokyo, err := time.LoadLocation("Asia/Tokyo")
		require.NoError(t, err)
		byDay := GroupByDay(events[3:4], tokyo)
		assert.Contains(t, byDay, time.Date(2025, 10, 3, 0, 0, 0, 0, tokyo))
	})
}

func TestStubSource_DeleteEvent(t *testing.T) {
	events := testEvents()
	events[0].AllowsModify = true
	source := NewStubSource(nil, events)

	assert.ErrorIs(t, source.DeleteEvent(context.Background(), "2"), ErrReadOnly)
	assert.ErrorIs(t, source.DeleteEvent(context.Background(), "missing"), ErrEventNotFound)
	require.NoError(t, source.DeleteEvent(context.Background(), "1"))

	select {
	case <-source.Changes():
	default:
		t.Fatal("expected a change notification")
	}
}

func ids(events []CalendarEvent) []string {
	result := make([]string, 0, len(events))
	for _, e := range events {
		result = append(result, e.ID)
	}
	return result
}
