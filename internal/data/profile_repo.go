package data

import (
	"context"
	"database/sql"
	"errors"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	apperrors "github.com/darstays/stayportal/internal/errors"
)

// ProfileRepo persists application profiles created at sign-up.
type ProfileRepo struct {
	DB *sql.DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db}
}

// CreateProfile inserts the profile. A profile that already exists for the user is
// treated as success so a retried sign-up stays idempotent.
func (r *ProfileRepo) CreateProfile(ctx context.Context, p domainauth.Profile) error {
	if r.DB == nil {
		return ErrNoDatabase
	}
	if p.UserID == "" {
		return apperrors.ValidationField("user_id", "user id is required")
	}
	if p.Email == "" {
		return apperrors.ValidationField("email", "email is required")
	}

	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO profiles (user_id, email, full_name) VALUES ($1, $2, $3)`,
		p.UserID, p.Email, p.FullName)
	if apperrors.IsUniqueViolation(err, "profiles_pkey") {
		return nil
	}
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// GetProfile loads the profile for userID.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error) {
	var p domainauth.Profile
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id::text, email, full_name FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Email, &p.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("profile not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &p, nil
}
