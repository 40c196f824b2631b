package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Calendar view
	r.HandleFunc("/api/view", deps.CoordinatorHandler.GetView).Methods("GET")
	r.HandleFunc("/api/view/month", deps.CoordinatorHandler.ShiftMonth).Queries("delta", "{delta}").Methods("POST")
	r.HandleFunc("/api/view/today", deps.CoordinatorHandler.ResetToToday).Methods("POST")
	r.HandleFunc("/api/view/day", deps.CoordinatorHandler.SelectDay).Queries("date", "{date}").Methods("PUT")
	r.HandleFunc("/api/view/refresh", deps.CoordinatorHandler.Refresh).Methods("POST")

	// Calendars and access
	r.HandleFunc("/api/calendars", deps.CoordinatorHandler.GetCalendars).Methods("GET")
	r.HandleFunc("/api/calendars", deps.CoordinatorHandler.SetFilter).Methods("PUT")
	r.HandleFunc("/api/authorization", deps.CoordinatorHandler.RequestAuthorization).Methods("POST")
	r.HandleFunc("/api/events/{eventId}", deps.CoordinatorHandler.DeleteEvent).Methods("DELETE")

	// Todos
	r.HandleFunc("/api/todos", deps.CoordinatorHandler.ListTodos).Queries("date", "{date}").Methods("GET")
	r.HandleFunc("/api/todos", deps.CoordinatorHandler.AddTodo).Queries("date", "{date}").Methods("POST")
	r.HandleFunc("/api/todos/{todoId}", deps.CoordinatorHandler.ToggleTodo).Queries("date", "{date}").Methods("PATCH")
	r.HandleFunc("/api/todos/{todoId}", deps.CoordinatorHandler.DeleteTodo).Queries("date", "{date}").Methods("DELETE")

	// Lunar calendar
	r.HandleFunc("/api/lunar", deps.LunarHandler.GetDate).Methods("GET")

	// Google integration
	if deps.GoogleAuth != nil {
		r.HandleFunc("/api/integrations/google/auth/login", deps.GoogleAuth.OAuthLogin).Methods("GET")
		r.HandleFunc("/api/integrations/google/auth/logout", deps.GoogleAuth.OAuthLogout).Methods("DELETE")
		r.HandleFunc("/api/integrations/google/auth/callback", deps.GoogleAuth.OAuthCallback).Methods("GET")
		r.HandleFunc("/api/integrations/google/auth", deps.GoogleAuth.GetStatus).Methods("GET")
	}
}
