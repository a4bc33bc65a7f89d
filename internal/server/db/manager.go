package db

import (
	"context"
	"database/sql"

	"github.com/neodalsi/dalsi/internal/server/plans"
	"github.com/neodalsi/dalsi/internal/server/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context) error
	Conn() *sql.DB
	Users() users.Repository
	Plans() plans.Repository
	Close() error
}
