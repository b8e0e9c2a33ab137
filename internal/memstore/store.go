// Package memstore is an in-memory implementation of the ledger interfaces
// with the same observable semantics as the PostgreSQL layer: exclusive
// per-account row locks held for the lifetime of an atomic unit, and
// all-or-nothing visibility of a unit's writes. It backs the engine tests and
// has no place in a production deployment.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skillsbank/transaction-service/internal/domain"
)

type sessionKey struct{}

// Store holds committed ledger state. It implements
// domain.AccountRepository, domain.TransactionRepository and
// domain.TransactionManager.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]domain.Account
	records  []domain.TransactionRecord
	byKey    map[string]int // idempotency key -> index into records

	lockMu   sync.Mutex
	rowLocks map[uuid.UUID]*sync.Mutex
}

// session is one in-flight atomic unit: the rows it holds locked and the
// writes it will apply at commit.
type session struct {
	store   *Store
	locked  []uuid.UUID
	deltas  []balanceDelta
	appends []domain.TransactionRecord
}

type balanceDelta struct {
	id    uuid.UUID
	delta decimal.Decimal
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]domain.Account),
		byKey:    make(map[string]int),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// PutAccount seeds or replaces an account row.
func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

// Balance returns the committed balance of an account.
func (s *Store) Balance(id uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

// Records returns a copy of all committed transaction records.
func (s *Store) Records() []domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TransactionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// WithinTx implements domain.TransactionManager. fn's writes become visible
// atomically at commit; on error every pending write is discarded. Row locks
// taken during fn are released either way.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess := &session{store: s}
	defer sess.releaseLocks()

	if err := fn(context.WithValue(ctx, sessionKey{}, sess)); err != nil {
		return err
	}

	sess.commit()
	return nil
}

func getSession(ctx context.Context) *session {
	if sess, ok := ctx.Value(sessionKey{}).(*session); ok {
		return sess
	}
	return nil
}

// GetByID implements domain.AccountRepository.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

// LockForUpdate implements domain.AccountRepository. The row lock blocks any
// other unit touching the same account until this unit finishes.
func (s *Store) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	sess := getSession(ctx)
	if sess == nil {
		return nil, fmt.Errorf("LockForUpdate requires a transaction context")
	}

	sess.lockRow(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

// AdjustBalance implements domain.AccountRepository. The change stays pending
// until the unit commits.
func (s *Store) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	sess := getSession(ctx)
	if sess == nil {
		return fmt.Errorf("AdjustBalance requires a transaction context")
	}

	s.mu.Lock()
	_, ok := s.accounts[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrAccountNotFound
	}

	sess.deltas = append(sess.deltas, balanceDelta{id: id, delta: delta})
	return nil
}

// Append implements domain.TransactionRepository.
func (s *Store) Append(ctx context.Context, record *domain.TransactionRecord) error {
	sess := getSession(ctx)
	if sess == nil {
		return fmt.Errorf("Append requires a transaction context")
	}

	if record.IdempotencyKey != "" {
		s.mu.Lock()
		_, dup := s.byKey[record.IdempotencyKey]
		s.mu.Unlock()
		if dup {
			return domain.ErrDuplicateRecord
		}
		for _, pending := range sess.appends {
			if pending.IdempotencyKey == record.IdempotencyKey {
				return domain.ErrDuplicateRecord
			}
		}
	}

	sess.appends = append(sess.appends, *record)
	return nil
}

// GetByIdempotencyKey implements domain.TransactionRepository.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	record := s.records[idx]
	return &record, nil
}

// ListByAccount implements domain.TransactionRepository, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TransactionRecord
	for _, record := range s.records {
		if record.FromAccountID == accountID || record.ToAccountID == accountID {
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (sess *session) lockRow(id uuid.UUID) {
	sess.store.lockMu.Lock()
	lock, ok := sess.store.rowLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		sess.store.rowLocks[id] = lock
	}
	sess.store.lockMu.Unlock()

	lock.Lock()
	sess.locked = append(sess.locked, id)
}

func (sess *session) releaseLocks() {
	sess.store.lockMu.Lock()
	defer sess.store.lockMu.Unlock()
	for i := len(sess.locked) - 1; i >= 0; i-- {
		sess.store.rowLocks[sess.locked[i]].Unlock()
	}
	sess.locked = nil
}

func (sess *session) commit() {
	s := sess.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range sess.deltas {
		account := s.accounts[d.id]
		account.Balance = account.Balance.Add(d.delta)
		s.accounts[d.id] = account
	}
	for _, record := range sess.appends {
		s.records = append(s.records, record)
		if record.IdempotencyKey != "" {
			s.byKey[record.IdempotencyKey] = len(s.records) - 1
		}
	}
}

var (
	_ domain.AccountRepository     = (*Store)(nil)
	_ domain.TransactionRepository = (*Store)(nil)
	_ domain.TransactionManager    = (*Store)(nil)
)
