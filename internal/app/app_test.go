package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/lunarcal/internal/config"
	"github.com/klokku/lunarcal/internal/test_utils"
	"github.com/klokku/lunarcal/internal/utils"
	"github.com/klokku/lunarcal/pkg/event"
	"github.com/klokku/lunarcal/pkg/google"
	"github.com/klokku/lunarcal/pkg/ics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(sourceType string) config.Application {
	return config.Application{
		Host:   "http://localhost:8181",
		Listen: ":0",
		Calendar: config.Calendar{
			Timezone:     "Asia/Shanghai",
			WeekFirstDay: "monday",
			Debounce:     10 * time.Millisecond,
			WeekNumbers:  true,
		},
		Source: config.Source{Type: sourceType},
	}
}

func setupRouter(t *testing.T, cfg config.Application) (*mux.Router, *Dependencies) {
	t.Helper()
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	clock := &utils.MockClock{FixedNow: time.Date(2025, 10, 1, 8, 0, 0, 0, shanghai)}

	deps, err := BuildDependencies(context.Background(), test_utils.SetupTestDB(t), cfg, clock)
	require.NoError(t, err)

	r := mux.NewRouter()
	SetupMiddleware(r)
	RegisterRoutes(r, deps)
	return r, deps
}

func TestBuildDependencies_SourceByType(t *testing.T) {
	testCases := []struct {
		sourceType string
		check      func(t *testing.T, deps *Dependencies)
	}{
		{config.SourceStub, func(t *testing.T, deps *Dependencies) {
			assert.IsType(t, &event.StubSource{}, deps.Source)
			assert.Nil(t, deps.GoogleAuth)
		}},
		{config.SourceIcs, func(t *testing.T, deps *Dependencies) {
			assert.IsType(t, &ics.Source{}, deps.Source)
			assert.Implements(t, (*PollingSource)(nil), deps.Source)
		}},
		{config.SourceGoogle, func(t *testing.T, deps *Dependencies) {
			assert.IsType(t, &google.Source{}, deps.Source)
			assert.NotNil(t, deps.GoogleAuth)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.sourceType, func(t *testing.T) {
			_, deps := setupRouter(t, testConfig(tc.sourceType))
			tc.check(t, deps)
		})
	}
}

func TestRoutes(t *testing.T) {
	r, deps := setupRouter(t, testConfig(config.SourceStub))
	deps.Coordinator.RefreshNow(context.Background())

	testCases := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"View", http.MethodGet, "/api/view", "", http.StatusOK, `"type":"week"`},
		{"Next month", http.MethodPost, "/api/view/month?delta=1", "", http.StatusOK, `"selectedMonth":"2025-11-01T00:00:00+08:00"`},
		{"Back to today", http.MethodPost, "/api/view/today", "", http.StatusOK, `"selectedMonth":"2025-10-01T00:00:00+08:00"`},
		{"Select day", http.MethodPut, "/api/view/day?date=2025-10-06", "", http.StatusOK, `"holidays":["中秋节"]`},
		{"Refresh", http.MethodPost, "/api/view/refresh", "", http.StatusAccepted, ""},
		{"Calendars", http.MethodGet, "/api/calendars", "", http.StatusOK, `"calendars":[]`},
		{"Filter", http.MethodPut, "/api/calendars", `{"ids":[]}`, http.StatusOK, `"ids":[]`},
		{"Authorization", http.MethodPost, "/api/authorization", "", http.StatusOK, `"status":"granted"`},
		{"Delete unknown event", http.MethodDelete, "/api/events/missing", "", http.StatusNotFound, `"error":"Event not found"`},
		{"Add todo", http.MethodPost, "/api/todos?date=2025-10-06", `{"title":"buy mooncakes"}`, http.StatusCreated, `"title":"buy mooncakes"`},
		{"List todos", http.MethodGet, "/api/todos?date=2025-10-06", "", http.StatusOK, `"isCompleted":false`},
		{"Todos need a date", http.MethodGet, "/api/todos", "", http.StatusNotFound, ""},
		{"Lunar date", http.MethodGet, "/api/lunar?date=2025-10-06", "", http.StatusOK, `"fullLabel":"八月十五"`},
		{"Google routes are off", http.MethodGet, "/api/integrations/google/auth", "", http.StatusNotFound, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tc.wantBody)
		})
	}
}

func TestRecoverPanics(t *testing.T) {
	r := mux.NewRouter()
	SetupMiddleware(r)
	r.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error","details":"boom"}`, w.Body.String())
}
