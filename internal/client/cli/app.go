package cli

import (
	"bufio"
	"context"
	"database/sql"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neodalsi/dalsi/internal/client/api"
	"github.com/neodalsi/dalsi/internal/client/config"
	"github.com/neodalsi/dalsi/internal/client/services"
	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/logging"
)

// Mode is the connectivity status shown in the prompt.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// App wires the portal CLI together: configuration, the local store, the
// REST client, and the session orchestrator.
type App struct {
	config  *config.Config
	session *services.Session
	api     api.Client
	log     logging.Logger
	db      *sql.DB
	Mode    Mode
	reader  *bufio.Reader
}

func NewApp(c *config.Config, log logging.Logger) (*App, error) {
	ctx := context.Background()

	db, err := storage.Open(ctx, c.DatabaseDSN)
	if err != nil {
		log.Error(ctx, "initializing local store", "error", err)
		return nil, err
	}

	store := storage.NewSQLiteStore(db)
	apiClient := api.NewRESTClient(c.APIBaseURL, c.RequestTimeout)
	session := services.NewSession(apiClient, store, log,
		services.WithRefreshInterval(c.RefreshInterval))

	return &App{
		config:  c,
		session: session,
		api:     apiClient,
		log:     log,
		db:      db,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the session, the connectivity watcher, and the REPL. It blocks
// until the user exits.
func (a *App) Run(ctx context.Context) {
	defer a.close()

	a.session.Start(ctx)

	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	a.Root(ctx)
}

func (a *App) close() {
	a.session.Teardown()
	_ = a.api.Close()
	_ = a.db.Close()
}

func (a *App) isLoggedIn() bool {
	return a.session.IsAuthenticated()
}

func (a *App) setMode(mode Mode) {
	if a.Mode != mode {
		a.Mode = mode
		a.log.Info(context.Background(), "connectivity changed", "mode", mode)
	}
}

// StartOnlineStatusWatcher probes the health endpoint every interval and
// flips the connectivity mode accordingly.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := a.api.Ping(pingCtx)
			cancel()

			if err != nil {
				a.setMode(ModeOffline)
			} else {
				a.setMode(ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}
