package repository

import (
	"context"
	"database/sql"
	"errors"

	"site-scheduler/backend/internal/user/domain"
)

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByEmail looks the user up by normalized email. A missing row yields (nil, nil).
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var (
		u      domain.User
		name   sql.NullString
		status string
	)
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, status, created_at, updated_at FROM users WHERE email = $1`,
		domain.NormalizeEmail(email))
	switch err := row.Scan(&u.ID, &u.Email, &name, &status, &u.CreatedAt, &u.UpdatedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	u.Name = name.String
	u.Status = domain.UserStatus(status)
	return &u, nil
}

// Create inserts u. The caller assigns u.ID.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, sql.NullString{String: u.Name, Valid: u.Name != ""}, string(u.Status), u.CreatedAt, u.UpdatedAt)
	return err
}
