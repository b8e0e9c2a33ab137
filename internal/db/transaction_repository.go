package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillsbank/transaction-service/internal/domain"
)

// TransactionRepository implements domain.TransactionRepository using
// PostgreSQL. The transactions table is append-only: there is no update or
// delete path here.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Append writes one transaction record within the surrounding transaction, so
// it commits or aborts together with the balance updates.
func (r *TransactionRepository) Append(ctx context.Context, record *domain.TransactionRecord) error {
	tx := getTx(ctx)
	if tx == nil {
		return fmt.Errorf("Append requires a transaction context")
	}

	query := `
		INSERT INTO transactions (
			id, account_id_from, account_id_to,
			amount, transaction_type, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	// Empty keys are stored as NULL so the unique constraint only binds
	// requests that actually carried one.
	var key any
	if record.IdempotencyKey != "" {
		key = record.IdempotencyKey
	}

	_, err := tx.Exec(ctx, query,
		record.ID,
		record.FromAccountID,
		record.ToAccountID,
		record.Amount,
		string(record.Type),
		key,
		record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRecord, record.IdempotencyKey)
		}
		return fmt.Errorf("failed to append transaction record: %w", err)
	}

	return nil
}

// GetByIdempotencyKey returns the committed record carrying the key, or nil
// when no such record exists.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	query := `
		SELECT id, account_id_from, account_id_to,
		       amount, transaction_type, COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE idempotency_key = $1
	`

	var row pgx.Row
	if tx := getTx(ctx); tx != nil {
		row = tx.QueryRow(ctx, query, key)
	} else {
		row = r.pool.QueryRow(ctx, query, key)
	}

	record, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record by idempotency key: %w", err)
	}
	return record, nil
}

// ListByAccount returns records where the account is either side, newest
// first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.TransactionRecord, error) {
	query := `
		SELECT id, account_id_from, account_id_to,
		       amount, transaction_type, COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE account_id_from = $1 OR account_id_to = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return records, nil
}

func scanTransaction(row pgx.Row) (*domain.TransactionRecord, error) {
	var record domain.TransactionRecord
	var txType string

	err := row.Scan(
		&record.ID,
		&record.FromAccountID,
		&record.ToAccountID,
		&record.Amount,
		&txType,
		&record.IdempotencyKey,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Type = domain.TransactionType(txType)
	return &record, nil
}
