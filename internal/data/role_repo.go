package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/darstays/stayportal/internal/data/pgxutil"
	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	apperrors "github.com/darstays/stayportal/internal/errors"
)

// RoleAssignment is one row of user_roles.
type RoleAssignment struct {
	UserID    string          `db:"user_id"`
	Role      domainauth.Role `db:"role"`
	GrantedAt time.Time       `db:"granted_at"`
}

// RoleRepo reads and writes the single-row-per-subject role table.
type RoleRepo struct {
	DB *sql.DB
}

// NewRoleRepo creates a new RoleRepo.
func NewRoleRepo(db *sql.DB) *RoleRepo {
	return &RoleRepo{DB: db}
}

// RoleFor returns the role stored for userID. A missing row, or a value outside the known
// role set, is reported as ok=false with no error.
func (r *RoleRepo) RoleFor(ctx context.Context, userID string) (domainauth.Role, bool, error) {
	if r.DB == nil {
		return "", false, ErrNoDatabase
	}
	var raw string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&raw)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query role: %w", err)
	}

	role, ok := domainauth.ParseRole(raw)
	return role, ok, nil
}

// Grant assigns role to userID, replacing any existing assignment.
func (r *RoleRepo) Grant(ctx context.Context, userID string, role domainauth.Role) (*RoleAssignment, error) {
	if userID == "" {
		return nil, apperrors.ValidationField("user_id", "user id is required")
	}
	if _, ok := domainauth.ParseRole(string(role)); !ok {
		return nil, apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", role))
	}

	var out RoleAssignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO user_roles (user_id, role)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, granted_at = now()
			RETURNING user_id::text, role, granted_at`, userID, string(role))
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[RoleAssignment])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// Revoke removes the assignment for userID. It returns a NotFound error when none exists.
func (r *RoleRepo) Revoke(ctx context.Context, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("no role assigned")
	}
	return nil
}

// List returns every assignment, most recently granted first.
func (r *RoleRepo) List(ctx context.Context) ([]RoleAssignment, error) {
	var out []RoleAssignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT user_id::text, role, granted_at FROM user_roles ORDER BY granted_at DESC, user_id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[RoleAssignment])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}
