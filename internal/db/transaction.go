package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillsbank/transaction-service/internal/domain"
)

// txKey is the key type for carrying the transaction in a context.
type txKey struct{}

// TransactionManager implements domain.TransactionManager on PostgreSQL.
// Each unit of work is one database transaction; repositories pick the
// transaction up from the context.
type TransactionManager struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewTransactionManager creates a TransactionManager. lockTimeout bounds how
// long a unit may wait on a row lock before aborting as contention; zero
// means 3s.
func NewTransactionManager(pool *pgxpool.Pool, lockTimeout time.Duration, logger *slog.Logger) *TransactionManager {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionManager{pool: pool, lockTimeout: lockTimeout, logger: logger}
}

// WithinTx executes fn inside one database transaction. If fn returns an
// error the transaction is rolled back, otherwise it is committed. Lock-wait
// timeouts, deadlocks and serialization conflicts surface as
// domain.ErrContention after rollback.
func (tm *TransactionManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			tm.logger.Error("failed to roll back transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	// Bound lock waits so contended units abort instead of queueing forever.
	// SET LOCAL scopes the setting to this transaction only.
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", tm.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if isContention(err) {
			return fmt.Errorf("%w: %s", domain.ErrContention, err)
		}
		return err // rolled back by the deferred Rollback
	}

	if err := tx.Commit(ctx); err != nil {
		if isContention(err) {
			return fmt.Errorf("%w: %s", domain.ErrContention, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// getTx retrieves the transaction carried by the context, or nil.
func getTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// isContention reports whether err is a retryable locking fault:
// lock_not_available (55P03), serialization_failure (40001) or
// deadlock_detected (40P01).
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01":
		return true
	}
	return false
}

// isUniqueViolation reports whether err is a unique constraint violation
// (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
