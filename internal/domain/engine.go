package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TransferService is the transfer engine. It validates a request, proves
// ownership of the source account, and moves value between two ledger rows
// together with the audit record as a single atomic unit.
type TransferService struct {
	accounts  AccountRepository
	log       TransactionRepository
	txManager TransactionManager
	verifier  IdentityVerifier
	// Optional publisher for post-commit transfer.completed events.
	publisher EventPublisher

	logger        *slog.Logger
	verifyTimeout time.Duration
}

// NewTransferService wires the engine. Pass nil for publisher if no events
// should be emitted. verifyTimeout bounds the identity call independently of
// the storage transaction; zero means 3s.
func NewTransferService(
	accounts AccountRepository,
	log TransactionRepository,
	txManager TransactionManager,
	verifier IdentityVerifier,
	publisher EventPublisher,
	logger *slog.Logger,
	verifyTimeout time.Duration,
) *TransferService {
	if logger == nil {
		logger = slog.Default()
	}
	if verifyTimeout <= 0 {
		verifyTimeout = 3 * time.Second
	}
	return &TransferService{
		accounts:      accounts,
		log:           log,
		txManager:     txManager,
		verifier:      verifier,
		publisher:     publisher,
		logger:        logger,
		verifyTimeout: verifyTimeout,
	}
}

// ExecuteTransfer moves req.Amount from the source account to the target
// account. Either both balance updates and the audit record commit together,
// or none of them do.
//
// Validation and ownership checks run before any lock is taken. Inside the
// atomic unit, both account rows are locked in ascending identifier order
// regardless of transfer direction, so two concurrent transfers between the
// same pair can never deadlock and every balance read is linearized against
// concurrent units touching either account.
func (s *TransferService) ExecuteTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.SourceID == req.TargetID {
		return nil, ErrSameAccount
	}
	if !ValidAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}

	if err := s.verifyOwnership(ctx, req.Email, req.SourceID); err != nil {
		return nil, err
	}

	// Idempotent retry: a committed record with this key means the transfer
	// already happened, so return the original result without opening a unit.
	if req.IdempotencyKey != "" {
		existing, err := s.log.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			return &TransferResult{TransactionID: existing.ID, Replayed: true, CreatedAt: existing.CreatedAt}, nil
		}
	}

	record := NewTransactionRecord(req.SourceID, req.TargetID, req.Amount, req.IdempotencyKey)

	err := s.txManager.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.lockAndApply(txCtx, req, record); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		// A retry that raced past the pre-check hits the unique constraint on
		// the idempotency key; the unit rolled back, the original stands.
		if req.IdempotencyKey != "" && errors.Is(err, ErrDuplicateRecord) {
			existing, lookupErr := s.log.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return &TransferResult{TransactionID: existing.ID, Replayed: true, CreatedAt: existing.CreatedAt}, nil
			}
		}
		return nil, err
	}

	if s.publisher != nil {
		// Best-effort, after commit. A broker failure must not make an
		// already-committed transfer look failed.
		go func(r *TransactionRecord) {
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.publisher.PublishTransferCompleted(pubCtx, r); err != nil {
				s.logger.Warn("failed to publish transfer completed event",
					slog.String("transaction_id", r.ID.String()),
					slog.String("error", err.Error()))
			}
		}(record)
	}

	return &TransferResult{TransactionID: record.ID, CreatedAt: record.CreatedAt}, nil
}

// lockAndApply runs inside one atomic unit: lock both rows in a fixed total
// order, re-check state under lock, mutate both balances, append the record.
func (s *TransferService) lockAndApply(ctx context.Context, req TransferRequest, record *TransactionRecord) error {
	firstID, secondID := req.SourceID, req.TargetID
	if secondID.String() < firstID.String() {
		firstID, secondID = secondID, firstID
	}

	locked := make(map[uuid.UUID]*Account, 2)
	for _, id := range []uuid.UUID{firstID, secondID} {
		acct, err := s.accounts.LockForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				if id == req.SourceID {
					return ErrSourceNotFound
				}
				return ErrTargetNotFound
			}
			return fmt.Errorf("failed to lock account %s: %w", id, err)
		}
		locked[id] = acct
	}

	source := locked[req.SourceID]
	if source.Balance.LessThan(req.Amount) {
		return ErrInsufficientFunds
	}

	if err := s.accounts.AdjustBalance(ctx, req.SourceID, req.Amount.Neg()); err != nil {
		return fmt.Errorf("failed to debit source account: %w", err)
	}
	if err := s.accounts.AdjustBalance(ctx, req.TargetID, req.Amount); err != nil {
		return fmt.Errorf("failed to credit target account: %w", err)
	}

	if err := s.log.Append(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return err
		}
		return fmt.Errorf("failed to append transaction record: %w", err)
	}

	return nil
}

// verifyOwnership resolves the requester identity and requires it to own the
// claimed source account. All failures collapse into ErrUnauthorized so an
// unauthenticated probe cannot learn whether an account exists.
func (s *TransferService) verifyOwnership(ctx context.Context, email string, sourceID uuid.UUID) error {
	if email == "" {
		return ErrUnauthorized
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	ownedID, err := s.verifier.Resolve(verifyCtx, email)
	if err != nil {
		if !errors.Is(err, ErrIdentityUnknown) {
			s.logger.Warn("identity verification failed",
				slog.String("error", err.Error()))
		}
		return ErrUnauthorized
	}
	if ownedID != sourceID {
		return ErrUnauthorized
	}
	return nil
}

// ListTransactions returns the transaction history of an account, newest
// first. The requester must own the account it is asking about.
func (s *TransferService) ListTransactions(ctx context.Context, email string, accountID uuid.UUID, limit int) ([]TransactionRecord, error) {
	if err := s.verifyOwnership(ctx, email, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	records, err := s.log.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return records, nil
}
