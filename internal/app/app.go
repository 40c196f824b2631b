package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/klokku/lunarcal/internal/config"
	"github.com/klokku/lunarcal/internal/database"
	"github.com/klokku/lunarcal/internal/utils"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Application wires configuration, database, router, and server lifecycle.
type Application struct {
	cfg    config.Application
	db     *sqlx.DB
	deps   *Dependencies
	router *mux.Router
	srv    *http.Server
}

// NewApplication constructs the full HTTP application, ready to Run().
func NewApplication(ctx context.Context, configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	deps, err := BuildDependencies(ctx, db, cfg, utils.SystemClock{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	r := mux.NewRouter()
	SetupMiddleware(r)
	RegisterRoutes(r, deps)

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Listen,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, db: db, deps: deps, router: r, srv: srv}, nil
}

// Run serves HTTP and keeps the calendar view up to date until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer a.db.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	coordinatorDone := make(chan struct{})
	go func() {
		a.deps.Coordinator.Run(runCtx)
		close(coordinatorDone)
	}()
	a.deps.Coordinator.RefreshNow(runCtx)

	stopPolling, err := startPolling(runCtx, a.deps.Source, a.cfg.Source.PollCron)
	if err != nil {
		return err
	}
	defer stopPolling()

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		cancel()
		<-coordinatorDone
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	err = a.srv.Shutdown(shutdownCtx)
	cancel()
	<-coordinatorDone
	return err
}
