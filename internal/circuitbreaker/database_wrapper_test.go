package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	wrapper := NewDatabaseWrapper(db, zaptest.NewLogger(t))
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, wrapper.PingContext(ctx))

	mock.ExpectExec("INSERT INTO messages").
		WithArgs("msg-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	result, err := wrapper.ExecContext(ctx, "INSERT INTO messages (id) VALUES (?)", "msg-1")
	require.NoError(t, err)
	affected, _ := result.RowsAffected()
	assert.Equal(t, int64(1), affected)

	mock.ExpectQuery("SELECT (.+) FROM interactions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("int-1"))
	rows, err := wrapper.QueryContext(ctx, "SELECT id FROM interactions")
	require.NoError(t, err)
	rows.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapper_OpensOnFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	wrapper := NewDatabaseWrapper(db, zaptest.NewLogger(t))
	ctx := context.Background()

	threshold := int(DatabaseSettings().FailureThreshold)
	for i := 0; i < threshold; i++ {
		mock.ExpectExec("UPDATE interactions").WillReturnError(sql.ErrConnDone)
		_, err := wrapper.ExecContext(ctx, "UPDATE interactions SET status = ?", "escalated")
		assert.True(t, errors.Is(err, sql.ErrConnDone))
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	_, err = wrapper.ExecContext(ctx, "UPDATE interactions SET status = ?", "completed")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
