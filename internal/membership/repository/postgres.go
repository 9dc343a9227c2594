package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"site-scheduler/backend/internal/membership/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listByUserSQL = `
SELECT m.id, m.user_id, m.org_id, o.name, m.role, m.display_order, m.created_at
FROM memberships m
JOIN organizations o ON o.id = m.org_id
WHERE m.user_id = $1
ORDER BY m.display_order ASC, m.created_at ASC`

// ListByUser returns the user's memberships sorted by display order. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		var m domain.Membership
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrgID, &m.OrgName, &role, &m.DisplayOrder, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The query already orders rows; sorting again keeps equal timestamps stable.
	domain.Sort(out)
	return out, nil
}

// UpdateDisplayOrder sets display_order for membershipID. A missing row is an error.
func (r *PostgresRepository) UpdateDisplayOrder(ctx context.Context, membershipID string, order int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE memberships SET display_order = $2 WHERE id = $1`, membershipID, order)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("membership %s not found", membershipID)
	}
	return nil
}

// GetRole returns the role for (userID, orgID), or "" if there is no membership.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetRole(ctx context.Context, userID, orgID string) (domain.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return domain.Role(role), nil
}

// CreateMembership persists the membership to the database. The membership must have ID set.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memberships (id, user_id, org_id, role, display_order, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.OrgID, string(m.Role), m.DisplayOrder, m.CreatedAt)
	return err
}
