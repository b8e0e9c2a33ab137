package domain

import "errors"

var (
	// ErrSameAccount is returned when source and target are the same account.
	ErrSameAccount = errors.New("source and target must be different accounts")

	// ErrInvalidAmount is returned when the transfer amount is not a positive
	// value with at most two decimal places.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrUnauthorized is returned when the requester identity does not own the
	// claimed source account. It deliberately does not distinguish an unknown
	// identity from an ownership mismatch.
	ErrUnauthorized = errors.New("requester does not own the source account")

	// ErrAccountNotFound is returned by repositories when an account row
	// doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSourceNotFound is returned when the source account row is missing
	// from the ledger even though ownership verification passed.
	ErrSourceNotFound = errors.New("source account not found")

	// ErrTargetNotFound is returned when the target account doesn't exist.
	ErrTargetNotFound = errors.New("target account not found")

	// ErrInsufficientFunds is returned when the source balance, read under
	// lock, is below the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrContention is returned when a lock wait times out or the unit loses a
	// serialization conflict. The unit had no effect and the caller may retry.
	ErrContention = errors.New("transfer aborted due to contention, retry")

	// ErrDuplicateRecord is returned when appending a transaction record whose
	// idempotency key is already committed.
	ErrDuplicateRecord = errors.New("transaction record with idempotency key already exists")

	// ErrIdentityUnknown is returned by the identity verifier when the email
	// does not resolve to any account.
	ErrIdentityUnknown = errors.New("identity not found")
)
