package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsbank/transaction-service/internal/domain"
	"github.com/skillsbank/transaction-service/internal/memstore"
)

// fakeVerifier resolves emails from a fixed map.
type fakeVerifier struct {
	owners map[string]uuid.UUID
	calls  int
	mu     sync.Mutex
}

func (f *fakeVerifier) Resolve(ctx context.Context, email string) (uuid.UUID, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	id, ok := f.owners[email]
	if !ok {
		return uuid.Nil, domain.ErrIdentityUnknown
	}
	return id, nil
}

// failingLog wraps a transaction repository and fails Append on demand.
type failingLog struct {
	domain.TransactionRepository
	failAppend bool
}

func (f *failingLog) Append(ctx context.Context, record *domain.TransactionRecord) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	return f.TransactionRepository.Append(ctx, record)
}

// failingAccounts wraps an account repository and fails credits (positive
// deltas) on demand, after any debit already went through.
type failingAccounts struct {
	domain.AccountRepository
	failCredit bool
}

func (f *failingAccounts) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	if f.failCredit && delta.IsPositive() {
		return errors.New("connection reset")
	}
	return f.AccountRepository.AdjustBalance(ctx, id, delta)
}

// capturingPublisher records published transactions.
type capturingPublisher struct {
	events chan *domain.TransactionRecord
}

func (p *capturingPublisher) PublishTransferCompleted(ctx context.Context, record *domain.TransactionRecord) error {
	p.events <- record
	return nil
}

type testEnv struct {
	store    *memstore.Store
	verifier *fakeVerifier
	service  *domain.TransferService

	alice      uuid.UUID // owned by alice@example.com
	bob        uuid.UUID // owned by bob@example.com
	aliceEmail string
	bobEmail   string
}

func newTestEnv(t *testing.T, opts ...func(*testEnv, *memstore.Store) *domain.TransferService) *testEnv {
	t.Helper()

	store := memstore.New()
	env := &testEnv{
		store:      store,
		alice:      uuid.New(),
		bob:        uuid.New(),
		aliceEmail: "alice@example.com",
		bobEmail:   "bob@example.com",
	}
	env.verifier = &fakeVerifier{owners: map[string]uuid.UUID{
		env.aliceEmail: env.alice,
		env.bobEmail:   env.bob,
	}}

	store.PutAccount(domain.Account{ID: env.alice, Balance: decimal.RequireFromString("500.00"), OwnerRef: uuid.New()})
	store.PutAccount(domain.Account{ID: env.bob, Balance: decimal.RequireFromString("200.00"), OwnerRef: uuid.New()})

	if len(opts) > 0 {
		env.service = opts[0](env, store)
	} else {
		env.service = domain.NewTransferService(store, store, store, env.verifier, nil, nil, time.Second)
	}
	return env
}

func (env *testEnv) transfer(email string, from, to uuid.UUID, amount string) (*domain.TransferResult, error) {
	return env.service.ExecuteTransfer(context.Background(), domain.TransferRequest{
		Email:    email,
		SourceID: from,
		TargetID: to,
		Amount:   decimal.RequireFromString(amount),
	})
}

func TestExecuteTransfer_MovesFundsAndAppendsRecord(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.transfer(env.aliceEmail, env.alice, env.bob, "300.00")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Replayed)
	assert.NotEqual(t, uuid.Nil, result.TransactionID)

	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("200.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("500.00")))

	records := env.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, result.TransactionID, records[0].ID)
	assert.Equal(t, env.alice, records[0].FromAccountID)
	assert.Equal(t, env.bob, records[0].ToAccountID)
	assert.Equal(t, domain.TransactionTypeTransfer, records[0].Type)
	assert.True(t, records[0].Amount.Equal(decimal.RequireFromString("300.00")))
}

func TestExecuteTransfer_ConservesTotalBalance(t *testing.T) {
	env := newTestEnv(t)
	before := env.store.Balance(env.alice).Add(env.store.Balance(env.bob))

	_, err := env.transfer(env.aliceEmail, env.alice, env.bob, "123.45")
	require.NoError(t, err)

	after := env.store.Balance(env.alice).Add(env.store.Balance(env.bob))
	assert.True(t, before.Equal(after), "total balance changed: %s -> %s", before, after)
}

func TestExecuteTransfer_RejectsSelfTransfer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.transfer(env.aliceEmail, env.alice, env.alice, "10.00")
	assert.ErrorIs(t, err, domain.ErrSameAccount)

	// Rejected before the ownership check runs.
	assert.Equal(t, 0, env.verifier.calls)
	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("500.00")))
}

func TestExecuteTransfer_RejectsInvalidAmounts(t *testing.T) {
	env := newTestEnv(t)

	for _, amount := range []string{"0", "-5.00", "10.001"} {
		_, err := env.transfer(env.aliceEmail, env.alice, env.bob, amount)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "amount %s", amount)
	}
	assert.Empty(t, env.store.Records())
}

func TestExecuteTransfer_UnauthorizedSender(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		email string
		from  uuid.UUID
	}{
		{"unknown email", "mallory@example.com", env.alice},
		{"empty email", "", env.alice},
		{"email owns a different account", env.bobEmail, env.alice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.transfer(tt.email, tt.from, env.bob, "10.00")
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}

	// No balance moved and nothing was logged.
	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("500.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("200.00")))
	assert.Empty(t, env.store.Records())
}

func TestExecuteTransfer_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.transfer(env.aliceEmail, env.alice, env.bob, "500.01")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("500.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("200.00")))
	assert.Empty(t, env.store.Records())
}

func TestExecuteTransfer_ExactBalanceDrainsAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.transfer(env.aliceEmail, env.alice, env.bob, "500.00")
	require.NoError(t, err)
	assert.True(t, env.store.Balance(env.alice).IsZero())
}

func TestExecuteTransfer_TargetNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.transfer(env.aliceEmail, env.alice, uuid.New(), "10.00")
	assert.ErrorIs(t, err, domain.ErrTargetNotFound)
	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("500.00")))
}

func TestExecuteTransfer_SourceRowMissing(t *testing.T) {
	// Ownership resolves to an account id that has no ledger row.
	store := memstore.New()
	ghost := uuid.New()
	target := uuid.New()
	store.PutAccount(domain.Account{ID: target, Balance: decimal.RequireFromString("100.00"), OwnerRef: uuid.New()})

	verifier := &fakeVerifier{owners: map[string]uuid.UUID{"ghost@example.com": ghost}}
	service := domain.NewTransferService(store, store, store, verifier, nil, nil, time.Second)

	_, err := service.ExecuteTransfer(context.Background(), domain.TransferRequest{
		Email:    "ghost@example.com",
		SourceID: ghost,
		TargetID: target,
		Amount:   decimal.RequireFromString("10.00"),
	})
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestExecuteTransfer_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	key := uuid.New().String()

	req := domain.TransferRequest{
		Email:          env.aliceEmail,
		SourceID:       env.alice,
		TargetID:       env.bob,
		Amount:         decimal.RequireFromString("100.00"),
		IdempotencyKey: key,
	}

	first, err := env.service.ExecuteTransfer(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.service.ExecuteTransfer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	// The balances moved exactly once.
	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("400.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("300.00")))
	assert.Len(t, env.store.Records(), 1)
}

func TestExecuteTransfer_RollsBackWhenAppendFails(t *testing.T) {
	var log *failingLog
	env := newTestEnv(t, func(env *testEnv, store *memstore.Store) *domain.TransferService {
		log = &failingLog{TransactionRepository: store, failAppend: true}
		return domain.NewTransferService(store, log, store, env.verifier, nil, nil, time.Second)
	})

	_, err := env.transfer(env.aliceEmail, env.alice, env.bob, "100.00")
	require.Error(t, err)

	// The whole unit rolled back: no partial debit, no record.
	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("500.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("200.00")))
	assert.Empty(t, env.store.Records())

	// The same request succeeds once the fault clears.
	log.failAppend = false
	_, err = env.transfer(env.aliceEmail, env.alice, env.bob, "100.00")
	require.NoError(t, err)
	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("400.00")))
}

func TestExecuteTransfer_RollsBackWhenCreditFails(t *testing.T) {
	// The source debit succeeds inside the unit, then the target credit
	// fails; the committed state must show no debit either.
	env := newTestEnv(t, func(env *testEnv, store *memstore.Store) *domain.TransferService {
		accounts := &failingAccounts{AccountRepository: store, failCredit: true}
		return domain.NewTransferService(accounts, store, store, env.verifier, nil, nil, time.Second)
	})

	_, err := env.transfer(env.aliceEmail, env.alice, env.bob, "100.00")
	require.Error(t, err)

	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("500.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("200.00")))
	assert.Empty(t, env.store.Records())
}

func TestExecuteTransfer_ConcurrentOppositeTransfers(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = env.transfer(env.aliceEmail, env.alice, env.bob, "30.00")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = env.transfer(env.bobEmail, env.bob, env.alice, "20.00")
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.True(t, env.store.Balance(env.alice).Equal(decimal.RequireFromString("490.00")))
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("210.00")))
	assert.Len(t, env.store.Records(), 2)
}

func TestExecuteTransfer_ConcurrentDrainNeverGoesNegative(t *testing.T) {
	env := newTestEnv(t)

	// 10 concurrent withdrawals of 100.00 against a 500.00 balance: exactly
	// 5 can succeed.
	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.transfer(env.aliceEmail, env.alice, env.bob, "100.00")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.True(t, env.store.Balance(env.alice).IsZero())
	assert.True(t, env.store.Balance(env.bob).Equal(decimal.RequireFromString("700.00")))
}

func TestExecuteTransfer_PublishesEventAfterCommit(t *testing.T) {
	publisher := &capturingPublisher{events: make(chan *domain.TransactionRecord, 1)}
	env := newTestEnv(t, func(env *testEnv, store *memstore.Store) *domain.TransferService {
		return domain.NewTransferService(store, store, store, env.verifier, publisher, nil, time.Second)
	})

	result, err := env.transfer(env.aliceEmail, env.alice, env.bob, "50.00")
	require.NoError(t, err)

	select {
	case record := <-publisher.events:
		assert.Equal(t, result.TransactionID, record.ID)
		assert.Equal(t, env.alice, record.FromAccountID)
		assert.Equal(t, env.bob, record.ToAccountID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transfer event")
	}
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.transfer(env.aliceEmail, env.alice, env.bob, "10.00")
	require.NoError(t, err)
	_, err = env.transfer(env.bobEmail, env.bob, env.alice, "5.00")
	require.NoError(t, err)

	records, err := env.service.ListTransactions(context.Background(), env.aliceEmail, env.alice, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// Asking about someone else's account is refused.
	_, err = env.service.ListTransactions(context.Background(), env.bobEmail, env.alice, 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
