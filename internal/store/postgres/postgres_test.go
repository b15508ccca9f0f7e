package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store"
)

func setupTest(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	clk := clock.NewFake(1000)
	s := New(db, clk, 0, 1)
	return s, mock, func() { db.Close() }
}

func TestPut(t *testing.T) {
	s, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO envelopes").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.Put(context.Background(), domain.Envelope{
		ClientID:          "acme",
		SubmissionID:      "sub-1",
		Recipients:        []string{"a@x.com"},
		DestinationDomain: "x.com",
		Message:           "hello",
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_NoneEligible(t *testing.T) {
	s, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectQuery("WITH claimed AS").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := s.Claim(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkSent_WrongStateIsDistinguishedFromNotFound(t *testing.T) {
	s, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE envelopes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.MarkSent(context.Background(), 7)
	require.ErrorIs(t, err, store.ErrWrongState)
}

func TestMarkSent_UnknownID(t *testing.T) {
	s, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE envelopes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.MarkSent(context.Background(), 999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveInactive(t *testing.T) {
	s, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM envelopes").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RemoveInactive(context.Background(), 3600)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestStatusOf_Unknown(t *testing.T) {
	s, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, status FROM envelopes").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))

	_, err := s.StatusOf(context.Background(), "acme", "sub-1")
	require.ErrorIs(t, err, store.ErrUnknownSubmission)
}
