package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, nil, "server-1"), mock
}

func TestAdapter_SaveIssuesUpsert(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectExec("INSERT INTO storage_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	err := a.Save(context.Background(), "rule:r1", []byte(`{"id":"r1"}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_LoadReturnsNilOnMiss(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectQuery("SELECT key, state, persisted_at, server_id, schema_version, version FROM storage_entries").
		WithArgs("rule:missing").
		WillReturnRows(sqlmock.NewRows([]string{"key", "state", "persisted_at", "server_id", "schema_version", "version"}))

	entry, err := a.Load(context.Background(), "rule:missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_DeleteReportsExistence(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectExec("DELETE FROM storage_entries").WithArgs("rule:r1").WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := a.Delete(context.Background(), "rule:r1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireConfigured_NilAdapter(t *testing.T) {
	err := RequireConfigured(nil)
	require.Error(t, err)
}
