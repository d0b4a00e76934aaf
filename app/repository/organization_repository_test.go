package repository

import (
	"database/sql/driver"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ManuelReschke/SprayOps/app/models"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	return db, mock
}

func TestOrganizationRepository_CreateWithOwner(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `organizations`").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO `organization_members`").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	org := &models.Organization{Name: "Valley Aerial", OwnerUserID: 1, OwnerEmail: "pilot@valley.test", Mode: models.OrganizationModeAgAerial}
	owner := &models.OrganizationMember{UserID: 1, Role: models.MemberRoleOwner}
	require.NoError(t, repo.CreateWithOwner(org, owner))

	assert.Equal(t, uint(7), org.ID)
	assert.Equal(t, uint(7), owner.OrganizationID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_CreateWithOwnerDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `organizations`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'pilot@valley.test'"})
	mock.ExpectRollback()

	org := &models.Organization{Name: "Valley Aerial", OwnerUserID: 1, OwnerEmail: "pilot@valley.test"}
	err := repo.CreateWithOwner(org, &models.OrganizationMember{UserID: 1, Role: models.MemberRoleOwner})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_GetByOwnerEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "owner_user_id", "owner_email", "plan", "credits_total"}).
		AddRow(4, "Valley Aerial", 1, "pilot@valley.test", models.PlanProfessional, 500)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `organizations` WHERE owner_email = ?")).
		WithArgs("pilot@valley.test", sqlmock.AnyArg()).
		WillReturnRows(rows)

	org, err := repo.GetByOwnerEmail("  Pilot@Valley.TEST ")
	require.NoError(t, err)
	assert.Equal(t, uint(4), org.ID)
	assert.Equal(t, models.PlanProfessional, org.Plan)
	assert.Equal(t, 500, org.CreditsTotal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `organizations`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(42)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_GetByStripeCustomerIDBlank(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	_, err := repo.GetByStripeCustomerID("   ")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_ConsumeCredits(t *testing.T) {
	tests := []struct {
		name     string
		enforce  bool
		query    string
		args     []driver.Value
		affected int64
		want     bool
	}{
		{
			name:     "enforced with balance",
			enforce:  true,
			query:    "UPDATE `organizations` SET `credits_used`=credits_used + ? WHERE id = ? AND credits_total + credits_rollover - credits_used >= ?",
			args:     []driver.Value{5, 9, 5},
			affected: 1,
			want:     true,
		},
		{
			name:     "enforced without balance",
			enforce:  true,
			query:    "UPDATE `organizations` SET `credits_used`=credits_used + ? WHERE id = ? AND credits_total + credits_rollover - credits_used >= ?",
			args:     []driver.Value{5, 9, 5},
			affected: 0,
			want:     false,
		},
		{
			name:     "unenforced",
			enforce:  false,
			query:    "UPDATE `organizations` SET `credits_used`=credits_used + ? WHERE id = ?",
			args:     []driver.Value{5, 9},
			affected: 1,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewOrganizationRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(tt.query)).
				WithArgs(tt.args...).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			ok, err := repo.ConsumeCredits(9, 5, tt.enforce)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOrganizationRepository_AddRolloverCreditsMissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `organizations` SET `credits_rollover`=credits_rollover + ? WHERE id = ?")).
		WithArgs(100, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	assert.ErrorIs(t, repo.AddRolloverCredits(3, 100), gorm.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_UpdateFieldsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)

	require.NoError(t, repo.UpdateFields(1, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
