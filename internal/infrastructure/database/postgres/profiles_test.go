package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	pkgerrors "github.com/turtacn/ConstructOps/pkg/errors"
)

var profileColumns = []string{"id", "email", "full_name", "role", "company_name", "is_active", "created_at"}

func TestLoadProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewProfileStore(db, logging.NewNopLogger())

	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM "user_profiles"`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow("u1", "ann@example.com", "Ann Lee", "architect", nil, true, created))

	p, err := store.LoadProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &auth.Profile{
		ID:        "u1",
		Email:     "ann@example.com",
		FullName:  "Ann Lee",
		Role:      "architect",
		IsActive:  true,
		CreatedAt: created,
	}, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadProfile_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewProfileStore(db, nil)

	mock.ExpectQuery(`FROM "user_profiles"`).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(profileColumns))

	p, err := store.LoadProfile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLoadProfile_Failure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewProfileStore(db, nil)

	mock.ExpectQuery(`FROM "user_profiles"`).WillReturnError(errors.New("too many connections"))

	_, err = store.LoadProfile(context.Background(), "u1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageFailure))
}
