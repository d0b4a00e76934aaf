package repository

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUserRepository_GetByAPIKeyHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "api_key_hash", "status"}).
		AddRow(2, "Crew", "crew@valley.test", "abc123", "active")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` WHERE (api_key_hash = ? AND api_key_hash <> '')")).
		WithArgs("abc123", sqlmock.AnyArg()).
		WillReturnRows(rows)

	u, err := repo.GetByAPIKeyHash(" abc123 ")
	require.NoError(t, err)
	assert.Equal(t, uint(2), u.ID)
	assert.Equal(t, "crew@valley.test", u.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByAPIKeyHashBlank(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	_, err := repo.GetByAPIKeyHash("")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_TouchAPIKeyUsage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET `api_key_last_used_at`=\\?.* WHERE id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.TouchAPIKeyUsage(2, at))
	require.NoError(t, mock.ExpectationsWereMet())
}
