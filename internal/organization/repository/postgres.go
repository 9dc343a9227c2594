package repository

import (
	"context"
	"database/sql"
	"errors"

	"site-scheduler/backend/internal/organization/domain"
)

// PostgresRepository stores organizations in the organizations table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByName returns the oldest organization called name. A missing row yields (nil, nil).
func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*domain.Org, error) {
	var (
		o      domain.Org
		status string
	)
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at FROM organizations WHERE name = $1 ORDER BY created_at LIMIT 1`, name)
	switch err := row.Scan(&o.ID, &o.Name, &status, &o.CreatedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	o.Status = domain.OrgStatus(status)
	return &o, nil
}

// Create inserts o. The caller assigns o.ID.
func (r *PostgresRepository) Create(ctx context.Context, o *domain.Org) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		o.ID, o.Name, string(o.Status), o.CreatedAt)
	return err
}
