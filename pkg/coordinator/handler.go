package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/klokku/lunarcal/internal/rest"
	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/grid"
	"github.com/klokku/lunarcal/pkg/todo"
	log "github.com/sirupsen/logrus"
)

type ViewDTO struct {
	ViewState
	Rows [][]grid.DayCell `json:"rows"`
}

type CalendarsDTO struct {
	Calendars []event.CalendarInfo `json:"calendars"`
	// nil shows all calendars
	Ids []string `json:"ids"`
}

type FilterDTO struct {
	Ids []string `json:"ids"`
}

type AuthorizationDTO struct {
	Status event.AuthorizationStatus `json:"status"`
}

type TodoDTO struct {
	Title string `json:"title"`
}

type Handler struct {
	coordinator *Coordinator
	weekNumbers bool
}

func NewHandler(coordinator *Coordinator, weekNumbers bool) *Handler {
	return &Handler{coordinator: coordinator, weekNumbers: weekNumbers}
}

func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, h.coordinator.State())
}

func (h *Handler) ShiftMonth(w http.ResponseWriter, r *http.Request) {
	delta, err := strconv.Atoi(r.URL.Query().Get("delta"))
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid month delta", err.Error())
		return
	}
	log.Debugf("Shifting month by %d", delta)
	h.writeView(w, h.coordinator.GoToMonth(r.Context(), delta))
}

func (h *Handler) ResetToToday(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, h.coordinator.ResetToToday(r.Context()))
}

func (h *Handler) SelectDay(w http.ResponseWriter, r *http.Request) {
	day, err := todo.ParseDay(r.URL.Query().Get("date"), h.coordinator.Location())
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err.Error())
		return
	}
	h.writeView(w, h.coordinator.SelectDay(day))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) GetCalendars(w http.ResponseWriter, r *http.Request) {
	state := h.coordinator.State()
	rest.WriteJSON(w, http.StatusOK, CalendarsDTO{
		Calendars: state.CalendarInfos,
		Ids:       state.Filter,
	})
}

func (h *Handler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var filter FilterDTO
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	if err := h.coordinator.SetFilter(r.Context(), filter.Ids); err != nil {
		rest.WriteError(w, http.StatusInternalServerError, "Failed to store calendar filter", err.Error())
		return
	}
	state := h.coordinator.State()
	rest.WriteJSON(w, http.StatusOK, CalendarsDTO{
		Calendars: state.CalendarInfos,
		Ids:       state.Filter,
	})
}

func (h *Handler) RequestAuthorization(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.RequestAuthorization(r.Context())
	if err != nil {
		log.Warnf("Authorization request failed: %v", err)
	}
	rest.WriteJSON(w, http.StatusOK, AuthorizationDTO{Status: status})
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventId := mux.Vars(r)["eventId"]
	err := h.coordinator.DeleteEvent(r.Context(), eventId)
	if err != nil {
		switch {
		case errors.Is(err, event.ErrReadOnly):
			rest.WriteError(w, http.StatusForbidden, "Event cannot be deleted", err.Error())
		case errors.Is(err, event.ErrEventNotFound):
			rest.WriteError(w, http.StatusNotFound, "Event not found", err.Error())
		default:
			rest.WriteError(w, http.StatusInternalServerError, "Failed to delete event", err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTodos(w http.ResponseWriter, r *http.Request) {
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	rest.WriteJSON(w, http.StatusOK, h.coordinator.Todos(day))
}

func (h *Handler) AddTodo(w http.ResponseWriter, r *http.Request) {
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	var dto TodoDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	item, err := h.coordinator.AddTodo(r.Context(), dto.Title, day)
	if err != nil {
		rest.WriteError(w, http.StatusInternalServerError, "Failed to add todo", err.Error())
		return
	}
	if item.ID == uuid.Nil {
		// blank title, nothing was added
		rest.WriteJSON(w, http.StatusOK, h.coordinator.Todos(day))
		return
	}
	rest.WriteJSON(w, http.StatusCreated, h.coordinator.Todos(day))
}

func (h *Handler) ToggleTodo(w http.ResponseWriter, r *http.Request) {
	h.modifyTodo(w, r, h.coordinator.ToggleTodo)
}

func (h *Handler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	h.modifyTodo(w, r, h.coordinator.DeleteTodo)
}

func (h *Handler) modifyTodo(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID, day time.Time) error) {
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["todoId"])
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid todo id", err.Error())
		return
	}
	if err := fn(r.Context(), id, day); err != nil {
		if errors.Is(err, todo.ErrItemNotFound) {
			rest.WriteError(w, http.StatusNotFound, "Todo not found", err.Error())
			return
		}
		rest.WriteError(w, http.StatusInternalServerError, "Failed to update todo", err.Error())
		return
	}
	rest.WriteJSON(w, http.StatusOK, h.coordinator.Todos(day))
}

func (h *Handler) parseDay(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	day, err := todo.ParseDay(r.URL.Query().Get("date"), h.coordinator.Location())
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err.Error())
		return time.Time{}, false
	}
	return day, true
}

func (h *Handler) writeView(w http.ResponseWriter, state ViewState) {
	rest.WriteJSON(w, http.StatusOK, ViewDTO{
		ViewState: state,
		Rows:      grid.Layout(state.Days, h.weekNumbers),
	})
}
