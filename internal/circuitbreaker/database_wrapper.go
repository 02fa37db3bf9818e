package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps database operations with circuit breaker
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker("database", DatabaseSettings().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("database", "interaction-store", cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

func (dw *DatabaseWrapper) record(err error) {
	GlobalMetricsCollector.RecordRequest("database", "interaction-store", dw.cb.State(), err == nil)
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	dw.record(err)
	return err
}

// ExecContext wraps database exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	dw.record(err)
	return result, err
}

// QueryContext wraps database query with circuit breaker. sql.ErrNoRows is not a failure.
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := dw.cb.Execute(ctx, func() error {
		var qErr error
		rows, qErr = dw.db.QueryContext(ctx, query, args...)
		if errors.Is(qErr, sql.ErrNoRows) {
			return nil
		}
		return qErr
	})
	dw.record(err)
	return rows, err
}

// Close closes the underlying database
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// GetDB returns the underlying database for read helpers such as sqlx
func (dw *DatabaseWrapper) GetDB() *sql.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.IsOpen()
}
