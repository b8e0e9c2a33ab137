package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/skillsbank/transaction-service/internal/domain"
)

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByID retrieves an account without locking it.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT account_id, balance, owner_ref, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
	`

	var row pgx.Row
	if tx := getTx(ctx); tx != nil {
		row = tx.QueryRow(ctx, query, id)
	} else {
		row = r.pool.QueryRow(ctx, query, id)
	}

	return scanAccount(row)
}

// LockForUpdate acquires an exclusive row lock on the account via
// SELECT ... FOR UPDATE and returns its state as of lock acquisition. It must
// be called within a transaction context; callers are responsible for taking
// locks in ascending identifier order.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	tx := getTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("LockForUpdate requires a transaction context")
	}

	query := `
		SELECT account_id, balance, owner_ref, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE
	`

	return scanAccount(tx.QueryRow(ctx, query, id))
}

// AdjustBalance applies a relative balance change to a row locked within the
// same transaction.
func (r *AccountRepository) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	tx := getTx(ctx)
	if tx == nil {
		return fmt.Errorf("AdjustBalance requires a transaction context")
	}

	query := `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = NOW()
		WHERE account_id = $1
	`

	result, err := tx.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Balance,
		&account.OwnerRef,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	return &account, nil
}
