package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository is the ledger-side view of account rows. Lock and adjust
// calls only make sense inside a transaction context opened by the
// TransactionManager; once a row is locked by one unit nothing else may read
// or write it until that unit commits or aborts.
type AccountRepository interface {
	// GetByID retrieves an account without locking it.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// LockForUpdate acquires an exclusive row lock on the account for the
	// duration of the surrounding transaction and returns its current state.
	// Returns ErrAccountNotFound if the row doesn't exist.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)

	// AdjustBalance applies a relative balance change to a row already locked
	// within the same transaction. Delta may be negative.
	AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
}

// TransactionRepository is the append-only transaction log.
type TransactionRepository interface {
	// Append writes one record within the surrounding transaction. Returns
	// ErrDuplicateRecord if the record's idempotency key is already committed.
	Append(ctx context.Context, record *TransactionRecord) error

	// GetByIdempotencyKey returns the committed record carrying the key, or
	// nil when no such record exists.
	GetByIdempotencyKey(ctx context.Context, key string) (*TransactionRecord, error)

	// ListByAccount returns records where the account is either side, newest
	// first, up to limit.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]TransactionRecord, error)
}

// TransactionManager runs a function inside one atomic unit of work. If fn
// returns an error the unit is rolled back, otherwise it is committed. The
// transaction travels in the context passed to fn.
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// IdentityVerifier resolves a requester identity to the account it owns.
// Implementations call the external account service; any non-success answer
// is ErrIdentityUnknown, never a transient engine error.
type IdentityVerifier interface {
	Resolve(ctx context.Context, email string) (uuid.UUID, error)
}

// EventPublisher emits a notification after a transfer has committed.
// Publishing is best-effort and must never affect the transfer outcome.
type EventPublisher interface {
	PublishTransferCompleted(ctx context.Context, record *TransactionRecord) error
}
