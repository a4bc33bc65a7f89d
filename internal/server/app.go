// Package server initializes and runs the portal API server: the Postgres
// repositories, the user/plan services, the HTTP router, and graceful
// shutdown on OS signals.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neodalsi/dalsi/internal/logging"
	"github.com/neodalsi/dalsi/internal/server/config"
	"github.com/neodalsi/dalsi/internal/server/db"
	"github.com/neodalsi/dalsi/internal/server/generate"
	"github.com/neodalsi/dalsi/internal/server/httpapi"
	"github.com/neodalsi/dalsi/internal/server/users"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	manager     db.RepositoryManager
	userService *users.Service
	handler     http.Handler
	limiter     *httpapi.RateLimiter
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	manager, err := db.NewPostgresRepositoryManager(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	us := users.NewService(manager.Users(), c)

	limiter := httpapi.NewRateLimiter(c.RateLimitRPS, c.RateLimitBurst)

	registry := prometheus.NewRegistry()
	metrics := httpapi.NewMetrics(registry)

	handler := httpapi.NewRouter(&httpapi.RouterDeps{
		Users:       us,
		Plans:       manager.Plans(),
		Responder:   generate.NewCannedResponder(),
		Logger:      logger,
		RateLimiter: limiter,
		Gatherer:    registry,
		Metrics:     metrics,
	})

	return &App{
		config:      c,
		logger:      logger,
		manager:     manager,
		userService: us,
		handler:     handler,
		limiter:     limiter,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.handler,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "server shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "listening", "addr", app.config.EndpointAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.limiter.Stop()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
