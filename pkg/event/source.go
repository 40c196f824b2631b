package event

import (
	"context"
	"time"
)

// Source is an external event store that can change asynchronously.
type Source interface {
	CheckAuthorization(ctx context.Context) AuthorizationStatus
	// RequestAuthorization asks for access and returns the resulting status.
	RequestAuthorization(ctx context.Context) (AuthorizationStatus, error)
	ListCalendars(ctx context.Context) ([]Calendar, error)
	// QueryEvents returns events overlapping [start, end). A nil calendarIds means all calendars.
	QueryEvents(ctx context.Context, start, end time.Time, calendarIds []string) ([]CalendarEvent, error)
	// Changes delivers a signal whenever the source content may have changed.
	Changes() <-chan struct{}
	DeleteEvent(ctx context.Context, eventId string) error
}
