package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a row in the account ledger. Balances are fixed-point decimals
// and must never be negative in any committed state.
type Account struct {
	ID        uuid.UUID       // Unique identifier of the account
	Balance   decimal.Decimal // Current balance, non-negative
	OwnerRef  uuid.UUID       // Identity that owns the account
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionType tags a transaction record. Only transfers exist today.
type TransactionType string

const TransactionTypeTransfer TransactionType = "transfer"

// TransactionRecord is one committed movement of value between two accounts.
// Records are append-only: once written they are never updated or deleted,
// and exactly one record exists per committed transfer.
type TransactionRecord struct {
	ID             uuid.UUID
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Type           TransactionType
	IdempotencyKey string // empty when the caller supplied none
	CreatedAt      time.Time
}

// TransferRequest carries one inbound transfer. It lives only for the
// duration of a single engine invocation and is never persisted as-is.
type TransferRequest struct {
	Email          string // requester identity, resolved against the source account
	SourceID       uuid.UUID
	TargetID       uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string // optional; enables safe retries
}

// TransferResult acknowledges a committed transfer. Balances are deliberately
// not echoed back: post-transfer state is racy the moment the locks are released.
type TransferResult struct {
	TransactionID uuid.UUID
	Replayed      bool // true when an idempotent retry matched an earlier commit
	CreatedAt     time.Time
}

// NewTransactionRecord builds the audit record for a transfer about to be
// attempted. It is only persisted inside the same atomic unit as the two
// balance updates.
func NewTransactionRecord(sourceID, targetID uuid.UUID, amount decimal.Decimal, idempotencyKey string) *TransactionRecord {
	return &TransactionRecord{
		ID:             uuid.New(),
		FromAccountID:  sourceID,
		ToAccountID:    targetID,
		Amount:         amount,
		Type:           TransactionTypeTransfer,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}

// ValidAmount reports whether amount is a well-formed transfer amount:
// strictly positive with at most two decimal places.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Exponent() >= -2
}
