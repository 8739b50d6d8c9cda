package calls

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func sampleRecord() CallRecord {
	return CallRecord{
		CallSid:         "CA1",
		ParentCallSid:   "CA0",
		AccountSid:      "AC1",
		From:            "+15550001111",
		To:              "+15550002222",
		Direction:       DirectionOutgoing,
		Status:          StatusCompleted,
		DurationSeconds: 42,
		LegPrice:        "-0.0130",
		Currency:        "USD",
		TotalPrice:      0.0364,
		Priced:          true,
	}
}

func TestPostgresLedger_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l := &PostgresLedger{DB: db, Now: fixedNow}
	inserted, err := l.Insert(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_DuplicateIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_records")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "call_records_call_sid_key"})

	l := &PostgresLedger{DB: db, Now: fixedNow}
	inserted, err := l.Insert(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestPostgresLedger_OtherErrorsPropagate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_records")).
		WillReturnError(errors.New("connection reset"))

	l := &PostgresLedger{DB: db, Now: fixedNow}
	_, err = l.Insert(context.Background(), sampleRecord())
	require.Error(t, err)
}

func TestPostgresLedger_RejectsEmptyCallSid(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	_, err = l.Insert(context.Background(), CallRecord{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPostgresLedger_GetByCallSidNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM call_records")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	l := NewPostgresLedger(db)
	_, err = l.GetByCallSid(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_WritesOncePerCallSid(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()

	first := sampleRecord()
	ok, err := m.Insert(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	second := sampleRecord()
	second.TotalPrice = 99
	ok, err = m.Insert(ctx, second)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := m.GetByCallSid(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, 0.0364, got.TotalPrice)
	assert.Len(t, m.All(), 1)
}
