package todo

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrItemNotFound = errors.New("todo item not found")

type Item struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"isCompleted"`
}

const dayKeyLayout = "2006-01-02"

// DayKey identifies the calendar day of date in date's own location.
func DayKey(date time.Time) string {
	return date.Format(dayKeyLayout)
}

// ParseDay parses a DayKey into local midnight in loc.
func ParseDay(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dayKeyLayout, key, loc)
}
