package event_bus

import "time"

const (
	CalendarViewRebuilt  EventType = "calendar.view.rebuilt"
	CalendarEventDeleted EventType = "calendar.event.deleted"
	TodoChanged          EventType = "todo.changed"
)

type ViewRebuilt struct {
	Month      time.Time
	Days       int
	Events     int
	Authorized bool
	// Generation increases with every published rebuild.
	Generation uint64
}

type EventDeleted struct {
	EventId    string
	CalendarId string
}

type TodoChange struct {
	Day    string
	ItemId string
	// Action is one of "added", "toggled" or "deleted".
	Action string
}
