package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// stubStore is an in-memory wallet.Store. WithTx serializes callers with a
// mutex, which is how it stands in for row locking in these tests.
type stubStore struct {
	mu       sync.Mutex
	accounts map[int64]Account
	byExtID  map[string]int64
	entries  []Entry
	tiers    []Tier
	nextID   int64
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts: make(map[int64]Account),
		byExtID:  make(map[string]int64),
		nextID:   1,
	}
}

func (store *stubStore) seedAccount(balance Satang, creditLimit Satang, lifetimeSpend Satang) Account {
	store.mu.Lock()
	defer store.mu.Unlock()
	account := Account{
		ID:            store.nextID,
		ExternalID:    "ext-" + string(rune('a'+store.nextID)),
		Balance:       balance,
		CreditLimit:   creditLimit,
		LifetimeSpend: lifetimeSpend,
	}
	store.accounts[account.ID] = account
	store.byExtID[account.ExternalID] = account.ID
	store.nextID++
	return account
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(ctx, unlockedStore{store})
}

func (store *stubStore) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.GetAccount(ctx, accountID)
}

func (store *stubStore) FindAccountByExternalID(ctx context.Context, externalID string) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.FindAccountByExternalID(ctx, externalID)
}

func (store *stubStore) CreateAccount(ctx context.Context, externalID string, displayName string) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.CreateAccount(ctx, externalID, displayName)
}

func (store *stubStore) LockAccount(ctx context.Context, accountID int64) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.LockAccount(ctx, accountID)
}

func (store *stubStore) SaveBalances(ctx context.Context, accountID int64, balance Satang, creditLimit Satang, lifetimeSpend Satang) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.SaveBalances(ctx, accountID, balance, creditLimit, lifetimeSpend)
}

func (store *stubStore) InsertEntry(ctx context.Context, input EntryInput) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.InsertEntry(ctx, input)
}

func (store *stubStore) ListEntries(ctx context.Context, accountID int64, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.ListEntries(ctx, accountID, limit)
}

func (store *stubStore) SpendTiers(ctx context.Context) ([]Tier, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return unlockedStore{store}.SpendTiers(ctx)
}

// unlockedStore is the view handed to transaction callbacks; the outer mutex
// is already held.
type unlockedStore struct {
	backing *stubStore
}

func (view unlockedStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, view)
}

func (view unlockedStore) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	account, ok := view.backing.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (view unlockedStore) FindAccountByExternalID(ctx context.Context, externalID string) (Account, error) {
	accountID, ok := view.backing.byExtID[externalID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return view.backing.accounts[accountID], nil
}

func (view unlockedStore) CreateAccount(ctx context.Context, externalID string, displayName string) (Account, error) {
	if _, exists := view.backing.byExtID[externalID]; exists {
		return Account{}, ErrAccountExists
	}
	account := Account{ID: view.backing.nextID, ExternalID: externalID, DisplayName: displayName}
	view.backing.accounts[account.ID] = account
	view.backing.byExtID[externalID] = account.ID
	view.backing.nextID++
	return account, nil
}

func (view unlockedStore) LockAccount(ctx context.Context, accountID int64) (Account, error) {
	return view.GetAccount(ctx, accountID)
}

func (view unlockedStore) SaveBalances(ctx context.Context, accountID int64, balance Satang, creditLimit Satang, lifetimeSpend Satang) error {
	account, ok := view.backing.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = balance
	account.CreditLimit = creditLimit
	account.LifetimeSpend = lifetimeSpend
	view.backing.accounts[accountID] = account
	return nil
}

func (view unlockedStore) InsertEntry(ctx context.Context, input EntryInput) (Entry, error) {
	entry := Entry{
		ID:             int64(len(view.backing.entries) + 1),
		AccountID:      input.AccountID,
		Type:           input.Type,
		Amount:         input.Amount,
		BalanceBefore:  input.BalanceBefore,
		BalanceAfter:   input.BalanceAfter,
		ProductID:      input.ProductID,
		StockUnitID:    input.StockUnitID,
		Description:    input.Description,
		CreatedUnixUTC: input.CreatedUnixUTC,
	}
	view.backing.entries = append(view.backing.entries, entry)
	return entry, nil
}

func (view unlockedStore) ListEntries(ctx context.Context, accountID int64, limit int) ([]Entry, error) {
	entries := make([]Entry, 0, limit)
	for index := len(view.backing.entries) - 1; index >= 0 && len(entries) < limit; index-- {
		if view.backing.entries[index].AccountID == accountID {
			entries = append(entries, view.backing.entries[index])
		}
	}
	return entries, nil
}

func (view unlockedStore) SpendTiers(ctx context.Context) ([]Tier, error) {
	return view.backing.tiers, nil
}

func mustService(t *testing.T, store Store) *Service {
	t.Helper()
	service, err := NewService(store, func() int64 { return 1_700_000_000 })
	if err != nil {
		t.Fatalf("service init: %v", err)
	}
	return service
}

func TestApplyDeltaDebitWithinCredit(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 50_00, 0)
	service := mustService(t, store)

	entry, err := service.ApplyDelta(context.Background(), account.ID, -30_00, EntryPurchase, "buy")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if entry.BalanceAfter != -30_00 {
		t.Fatalf("expected balance -3000, got %d", entry.BalanceAfter)
	}
	if entry.BalanceBefore+entry.Amount != entry.BalanceAfter {
		t.Fatalf("entry does not reconcile: %+v", entry)
	}
}

func TestApplyDeltaRejectsBelowCreditFloor(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 50_00, 0)
	service := mustService(t, store)

	// 30 spent of a 50 limit leaves 20; another 30 must fail.
	if _, err := service.ApplyDelta(context.Background(), account.ID, -30_00, EntryPurchase, "first"); err != nil {
		t.Fatalf("first debit: %v", err)
	}
	_, err := service.ApplyDelta(context.Background(), account.ID, -30_00, EntryPurchase, "second")
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	got, _ := store.GetAccount(context.Background(), account.ID)
	if got.Balance != -30_00 {
		t.Fatalf("failed debit must not move the balance, got %d", got.Balance)
	}
	entries, _ := store.ListEntries(context.Background(), account.ID, 10)
	if len(entries) != 1 {
		t.Fatalf("failed debit must not append an entry, got %d", len(entries))
	}
}

func TestApplyDeltaZeroLimitZeroBalance(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 0, 0)
	service := mustService(t, store)

	_, err := service.ApplyDelta(context.Background(), account.ID, -1, EntryPurchase, "broke")
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
}

func TestApplyDeltaOverdraftBypassesFloor(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 0, 0)
	service := mustService(t, store)

	entry, err := service.ApplyDelta(context.Background(), account.ID, -70_00, EntryPurchase, "gift", AllowOverdraft())
	if err != nil {
		t.Fatalf("overdraft debit: %v", err)
	}
	if entry.BalanceAfter != -70_00 {
		t.Fatalf("expected balance -7000, got %d", entry.BalanceAfter)
	}
}

func TestApplyDeltaValidatesSigns(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 0, 0)
	service := mustService(t, store)

	if _, err := service.ApplyDelta(context.Background(), account.ID, 10_00, EntryPurchase, "bad"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("positive purchase must fail, got %v", err)
	}
	if _, err := service.ApplyDelta(context.Background(), account.ID, -10_00, EntryTopup, "bad"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative topup must fail, got %v", err)
	}
	if _, err := service.ApplyDelta(context.Background(), account.ID, 0, EntryTopup, "bad"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero topup must fail, got %v", err)
	}
	if _, err := service.ApplyDelta(context.Background(), account.ID, 5_00, EntryType("weird"), "bad"); !errors.Is(err, ErrInvalidEntryType) {
		t.Fatalf("unknown type must fail, got %v", err)
	}

	// A free product still records its sale as a zero-amount purchase entry.
	entry, err := service.ApplyDelta(context.Background(), account.ID, 0, EntryPurchase, "purchase: Trial")
	if err != nil {
		t.Fatalf("zero purchase must be allowed: %v", err)
	}
	if entry.Amount != 0 || entry.BalanceAfter != entry.BalanceBefore {
		t.Fatalf("zero purchase must not move the balance, got %+v", entry)
	}
}

func TestConcurrentDebitsNeverBreachFloor(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 100_00, 0)
	service := mustService(t, store)

	const workers = 20
	var group sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			if _, err := service.ApplyDelta(context.Background(), account.ID, -30_00, EntryPurchase, "race"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	group.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	if won != 3 {
		t.Fatalf("expected exactly 3 debits of 30 within a 100 limit, got %d", won)
	}
	got, _ := store.GetAccount(context.Background(), account.ID)
	if got.Balance != -90_00 {
		t.Fatalf("expected balance -9000, got %d", got.Balance)
	}
}

func TestLedgerReconstructsBalance(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(0, 100_00, 0)
	service := mustService(t, store)
	ctx := context.Background()

	mutations := []struct {
		amount Satang
		kind   EntryType
	}{
		{50_00, EntryTopup},
		{-30_00, EntryPurchase},
		{20_00, EntryRefund},
		{-10_00, EntryPurchase},
	}
	for _, mutation := range mutations {
		if _, err := service.ApplyDelta(ctx, account.ID, mutation.amount, mutation.kind, "replay"); err != nil {
			t.Fatalf("apply %d: %v", mutation.amount, err)
		}
	}

	var replayed Satang
	store.mu.Lock()
	for _, entry := range store.entries {
		replayed += entry.Amount
	}
	store.mu.Unlock()
	got, _ := store.GetAccount(ctx, account.ID)
	if replayed != got.Balance {
		t.Fatalf("ledger sum %d != balance %d", replayed, got.Balance)
	}
}

func TestRaiseCreditLimitAppendsAuditEntry(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	account := store.seedAccount(10_00, 0, 0)
	service := mustService(t, store)

	newLimit, err := service.RaiseCreditLimit(context.Background(), account.ID, 50_00)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if newLimit != 50_00 {
		t.Fatalf("expected limit 5000, got %d", newLimit)
	}
	got, _ := store.GetAccount(context.Background(), account.ID)
	if got.Balance != 10_00 {
		t.Fatalf("limit raise must not move the balance, got %d", got.Balance)
	}
	entries, _ := store.ListEntries(context.Background(), account.ID, 10)
	if len(entries) != 1 || entries[0].Type != EntryAdjustment || entries[0].Amount != 0 {
		t.Fatalf("expected one zero-amount adjustment entry, got %+v", entries)
	}

	if _, err := service.RaiseCreditLimit(context.Background(), account.ID, -5_00); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative delta must fail, got %v", err)
	}
}

func TestRecordSpendGrantsTiers(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.tiers = []Tier{
		{MinSpend: 100_00, CreditLimitGrant: 50_00},
		{MinSpend: 200_00, CreditLimitGrant: 200_00},
	}
	account := store.seedAccount(0, 0, 0)
	service := mustService(t, store)
	ctx := context.Background()

	result, err := service.RecordSpend(ctx, account.ID, 60_00)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if result.LimitRaised || result.CreditLimit != 0 {
		t.Fatalf("60 baht must not reach a tier, got %+v", result)
	}

	result, err = service.RecordSpend(ctx, account.ID, 60_00)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if !result.LimitRaised || result.CreditLimit != 50_00 {
		t.Fatalf("120 baht lifetime must grant the 50 limit, got %+v", result)
	}

	result, err = service.RecordSpend(ctx, account.ID, 100_00)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if !result.LimitRaised || result.CreditLimit != 200_00 {
		t.Fatalf("220 baht lifetime must grant the 200 limit, got %+v", result)
	}
	if result.LifetimeSpend != 220_00 {
		t.Fatalf("expected lifetime 22000, got %d", result.LifetimeSpend)
	}
}

func TestRecordSpendNeverLowersLimit(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.tiers = []Tier{{MinSpend: 100_00, CreditLimitGrant: 50_00}}
	account := store.seedAccount(0, 300_00, 0)
	service := mustService(t, store)

	result, err := service.RecordSpend(context.Background(), account.ID, 150_00)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if result.LimitRaised || result.CreditLimit != 300_00 {
		t.Fatalf("a tier below the current limit must not lower it, got %+v", result)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustService(t, store)
	ctx := context.Background()

	first, err := service.GetOrCreate(ctx, "line-u1", "Somchai")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := service.GetOrCreate(ctx, "line-u1", "Somchai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same account, got %d and %d", first.ID, second.ID)
	}
	if _, err := service.GetOrCreate(ctx, "   ", "blank"); !errors.Is(err, ErrInvalidExternalID) {
		t.Fatalf("blank external id must fail, got %v", err)
	}
}
