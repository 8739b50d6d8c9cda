package provisioning

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialer/internal/telephony"
)

func TestPostgresRepo_SaveProvisioningInsertsBoth(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subaccounts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO phone_numbers")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresRepo(db)
	sub := Subaccount{ID: "s1", Email: "a@b.co", CRMToken: "tok", AccountSid: "AC1", AuthToken: "t", Status: SubaccountActive, CreatedAt: testNow, UpdatedAt: testNow}
	num := &PhoneNumber{ID: "n1", CRMToken: "tok", PhoneNumber: "+1555", Status: NumberPurchased, PricePaid: decimal.NewFromInt(1),
		Capabilities: telephony.Capabilities{Voice: true}, CreatedAt: testNow, UpdatedAt: testNow}
	require.NoError(t, repo.SaveProvisioning(context.Background(), sub, true, num))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveProvisioningDuplicateRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO phone_numbers")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	repo := NewPostgresRepo(db)
	err = repo.SaveProvisioning(context.Background(), Subaccount{ID: "s1"}, false, &PhoneNumber{ID: "n1", PhoneSid: "PN1"})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SubaccountByToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "email", "crm_token", "account_sid", "auth_token", "credits", "status", "metadata", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM subaccounts WHERE crm_token = $1 AND status = 'active'")).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s1", "a@b.co", "tok", "AC1", "t", "2.50", "active", []byte(`{"plan":"pro"}`), testNow, testNow))

	repo := NewPostgresRepo(db)
	sub, err := repo.SubaccountByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "AC1", sub.AccountSid)
	assert.True(t, sub.Credits.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "pro", sub.Metadata["plan"])

	mock.ExpectQuery(regexp.QuoteMeta("FROM subaccounts WHERE lower(email)")).
		WillReturnRows(sqlmock.NewRows(cols))
	_, err = repo.SubaccountByEmail(context.Background(), "x@y.co")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_AssignMemberMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE phone_numbers")).
		WithArgs("PN1", "tok", "m@b.co", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresRepo(db).AssignMember(context.Background(), "tok", "PN1", "m@b.co", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}
