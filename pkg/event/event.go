package event

import (
	"errors"
	"time"
)

var ErrReadOnly = errors.New("event belongs to a read-only calendar")
var ErrEventNotFound = errors.New("event not found")

// CalendarEvent is an immutable snapshot of one event occurrence as reported by a Source.
type CalendarEvent struct {
	ID            string    `json:"id"`
	CalendarID    string    `json:"calendarId"`
	CalendarTitle string    `json:"calendarTitle"`
	AllowsModify  bool      `json:"allowsModify"`
	Title         string    `json:"title"`
	Location      string    `json:"location,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	URL           string    `json:"url,omitempty"`
	IsAllDay      bool      `json:"isAllDay"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	Color         string    `json:"color,omitempty"`
}

type CalendarInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Color      string `json:"color,omitempty"`
	IsSelected bool   `json:"isSelected"`
}

// Calendar is a calendar as listed by a Source, before the filter is applied.
type Calendar struct {
	ID           string
	Title        string
	Color        string
	AllowsModify bool
}

type AuthorizationStatus string

const (
	NotDetermined AuthorizationStatus = "not_determined"
	Granted       AuthorizationStatus = "granted"
	Denied        AuthorizationStatus = "denied"
)
