package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

const loadProfileSQL = `SELECT "id", "email", "full_name", "role", "company_name", "is_active", "created_at"
FROM "user_profiles" WHERE "id" = $1`

// ProfileStore reads user_profiles rows.
type ProfileStore struct {
	db     *sql.DB
	logger logging.Logger
}

var _ auth.ProfileLoader = (*ProfileStore)(nil)

// NewProfileStore returns a ProfileStore.
func NewProfileStore(db *sql.DB, log logging.Logger) *ProfileStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ProfileStore{db: db, logger: log}
}

// LoadProfile returns the profile for userID, or nil when none exists.
func (s *ProfileStore) LoadProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	var (
		p       auth.Profile
		company sql.NullString
	)
	err := s.db.QueryRowContext(ctx, loadProfileSQL, userID).
		Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &company, &p.IsActive, &p.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("load profile failed", logging.String("user_id", userID), logging.Err(err))
		return nil, errors.New(errors.ErrCodeStorageFailure, errors.DefaultMessageForCode(errors.ErrCodeStorageFailure)).WithCause(err)
	}
	p.CompanyName = company.String
	return &p, nil
}
