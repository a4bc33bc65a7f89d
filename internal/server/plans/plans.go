// Package plans serves the subscription plan table: the per-tier quota
// limits the clients overlay onto their compiled-in defaults.
package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neodalsi/dalsi/internal/common"
)

type Plan struct {
	Tier           string
	Name           string
	QueriesPerHour int
	QueriesPerDay  int
}

type Repository interface {
	GetByTier(ctx context.Context, tier string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) GetByTier(ctx context.Context, tier string) (*Plan, error) {
	query :=
		`SELECT tier, name, queries_per_hour, queries_per_day FROM subscription_plans
         WHERE tier = $1
         `

	plan := &Plan{}
	err := r.db.QueryRowContext(ctx, query, tier).
		Scan(&plan.Tier, &plan.Name, &plan.QueriesPerHour, &plan.QueriesPerDay)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	return plan, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Plan, error) {
	query := `SELECT tier, name, queries_per_hour, queries_per_day FROM subscription_plans ORDER BY queries_per_day`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var result []*Plan
	for rows.Next() {
		plan := &Plan{}
		if err := rows.Scan(&plan.Tier, &plan.Name, &plan.QueriesPerHour, &plan.QueriesPerDay); err != nil {
			return nil, err
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}
