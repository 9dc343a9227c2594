package repository

import (
	"context"
	"database/sql"
	"errors"

	"site-scheduler/backend/internal/identity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a login repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserAndProvider returns the login for the given user and provider, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUserAndProvider(ctx context.Context, userID string, provider domain.LoginProvider) (*domain.Login, error) {
	var l domain.Login
	var p string
	var ph sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_id, password_hash, created_at
		 FROM logins WHERE user_id = $1 AND provider = $2`, userID, string(provider)).
		Scan(&l.ID, &l.UserID, &p, &l.ProviderID, &ph, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l.Provider = domain.LoginProvider(p)
	if ph.Valid {
		l.PasswordHash = ph.String
	}
	return &l, nil
}

// Create persists the login to the database. The login must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, l *domain.Login) error {
	ph := sql.NullString{String: l.PasswordHash, Valid: l.PasswordHash != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO logins (id, user_id, provider, provider_id, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.UserID, string(l.Provider), l.ProviderID, ph, l.CreatedAt)
	return err
}

// UpdatePasswordHash updates the password hash for the login with the given id. Returns an error if the update fails.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	ph := sql.NullString{String: passwordHash, Valid: passwordHash != ""}
	_, err := r.db.ExecContext(ctx, `UPDATE logins SET password_hash = $2 WHERE id = $1`, id, ph)
	return err
}
