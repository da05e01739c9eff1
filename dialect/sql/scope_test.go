package sql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/dialect"
)

func scoperForTest(t *testing.T) (*Scoper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewScoper(OpenDB(dialect.SQLite, db)), mock
}

func TestScoperRootCommit(t *testing.T) {
	s, mock := scoperForTest(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	scope, err := s.Begin(ctx)
	require.NoError(t, err)
	require.True(t, s.InScope())
	require.NoError(t, scope.Exec(ctx, "INSERT INTO users DEFAULT VALUES", []any{}, nil))
	require.NoError(t, scope.Commit())
	assert.False(t, s.InScope())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoperNestedRollback(t *testing.T) {
	s, mock := scoperForTest(t)
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT strata_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT strata_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT strata_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	outer, err := s.Begin(ctx)
	require.NoError(t, err)
	inner, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, inner.Exec(ctx, "INSERT INTO users DEFAULT VALUES", []any{}, nil))
	// Inner rollback undoes only the inner scope.
	require.NoError(t, inner.Rollback())
	require.NoError(t, outer.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoperNestedCommit(t *testing.T) {
	s, mock := scoperForTest(t)
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT strata_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT strata_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT strata_sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT strata_sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	outer, err := s.Begin(ctx)
	require.NoError(t, err)
	first, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Commit())
	// Savepoint names stay unique within one root transaction.
	second, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, second.Commit())
	require.NoError(t, outer.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScopeOutOfOrder(t *testing.T) {
	s, mock := scoperForTest(t)
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT strata_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	outer, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Begin(ctx)
	require.NoError(t, err)
	// Committing the outer scope while the inner one is open must fail.
	err = outer.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
}

func TestScopeDoubleCommit(t *testing.T) {
	s, mock := scoperForTest(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx := context.Background()
	scope, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, scope.Commit())
	assert.ErrorIs(t, scope.Commit(), ErrScopeDone)
	assert.ErrorIs(t, scope.Exec(ctx, "SELECT 1", []any{}, nil), ErrScopeDone)
	// Close after commit is a no-op.
	assert.NoError(t, scope.Close())
}

func TestScopeCloseRollsBack(t *testing.T) {
	s, mock := scoperForTest(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	scope, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoperQuerier(t *testing.T) {
	s, mock := scoperForTest(t)
	// Idle: the bare driver answers.
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	var rows Rows
	require.NoError(t, s.Querier().Query(context.Background(), "SELECT 1", []any{}, &rows))
	require.NoError(t, rows.Close())

	// In scope: reads join the open transaction.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 2").WillReturnRows(sqlmock.NewRows([]string{"2"}).AddRow(2))
	mock.ExpectRollback()
	scope, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Querier().Query(context.Background(), "SELECT 2", []any{}, &rows))
	require.NoError(t, rows.Close())
	require.NoError(t, scope.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
