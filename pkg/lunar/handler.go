package lunar

import (
	"net/http"
	"time"

	"github.com/klokku/lunarcal/internal/rest"
	"github.com/klokku/lunarcal/internal/utils"
)

type DateDTO struct {
	Date       string `json:"date"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Day        int    `json:"day"`
	Leap       bool   `json:"leap"`
	MonthName  string `json:"monthName"`
	DayName    string `json:"dayName"`
	ShortLabel string `json:"shortLabel"`
	FullLabel  string `json:"fullLabel"`
	Ganzhi     string `json:"ganzhi"`
	Zodiac     string `json:"zodiac"`
}

type Handler struct {
	converter *Converter
	clock     utils.Clock
	loc       *time.Location
}

func NewHandler(converter *Converter, clock utils.Clock, loc *time.Location) *Handler {
	return &Handler{converter: converter, clock: clock, loc: loc}
}

// GetDate describes the lunar date of ?date=YYYY-MM-DD, today when the parameter is missing.
func (h *Handler) GetDate(w http.ResponseWriter, r *http.Request) {
	date := utils.Today(h.clock, h.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, h.loc)
		if err != nil {
			rest.WriteError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err.Error())
			return
		}
		date = parsed
	}
	rest.WriteJSON(w, http.StatusOK, h.describe(date))
}

func (h *Handler) describe(date time.Time) DateDTO {
	d := h.converter.ToLunar(date)
	return DateDTO{
		Date:       date.Format(time.DateOnly),
		Year:       d.Year,
		Month:      d.Month,
		Day:        d.Day,
		Leap:       d.Leap,
		MonthName:  MonthName(d),
		DayName:    DayName(d),
		ShortLabel: ShortLabel(d),
		FullLabel:  FullLabel(d),
		Ganzhi:     h.converter.GanzhiYear(date),
		Zodiac:     h.converter.Zodiac(date),
	}
}
