package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/wallet"
)

const testNow int64 = 1_700_000_000

type stubStore struct {
	mu     sync.Mutex
	tokens map[int64]Token
	byCode map[string]int64
	nextID int64
}

func newStubStore() *stubStore {
	return &stubStore{tokens: make(map[int64]Token), byCode: make(map[string]int64), nextID: 1}
}

func (store *stubStore) seed(token Token) Token {
	store.mu.Lock()
	defer store.mu.Unlock()
	token.ID = store.nextID
	store.tokens[token.ID] = token
	store.byCode[token.Code] = token.ID
	store.nextID++
	return token
}

func (store *stubStore) FindByCode(ctx context.Context, code string) (Token, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	tokenID, ok := store.byCode[code]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return store.tokens[tokenID], nil
}

func (store *stubStore) Insert(ctx context.Context, token Token) (Token, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	token.ID = store.nextID
	store.tokens[token.ID] = token
	store.byCode[token.Code] = token.ID
	store.nextID++
	return token, nil
}

func (store *stubStore) MarkUsed(ctx context.Context, tokenID int64, accountID int64, usedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	token, ok := store.tokens[tokenID]
	if !ok || token.UsedUnixUTC != nil {
		return ErrTokenNotFound
	}
	token.UsedByAccount = &accountID
	token.UsedUnixUTC = &usedUnixUTC
	store.tokens[tokenID] = token
	return nil
}

func (store *stubStore) UnmarkUsed(ctx context.Context, tokenID int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	token, ok := store.tokens[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	token.UsedByAccount = nil
	token.UsedUnixUTC = nil
	store.tokens[tokenID] = token
	return nil
}

type stubAccounts struct {
	mu         sync.Mutex
	deltaErr   error
	raiseErr   error
	credits    []wallet.Satang
	limitDelta []wallet.Satang
}

func (accounts *stubAccounts) ApplyDelta(ctx context.Context, accountID int64, amount wallet.Satang, entryType wallet.EntryType, description string, options ...wallet.DeltaOption) (wallet.Entry, error) {
	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	if accounts.deltaErr != nil {
		return wallet.Entry{}, accounts.deltaErr
	}
	accounts.credits = append(accounts.credits, amount)
	return wallet.Entry{AccountID: accountID, Amount: amount, BalanceAfter: amount}, nil
}

func (accounts *stubAccounts) RaiseCreditLimit(ctx context.Context, accountID int64, delta wallet.Satang) (wallet.Satang, error) {
	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	if accounts.raiseErr != nil {
		return 0, accounts.raiseErr
	}
	accounts.limitDelta = append(accounts.limitDelta, delta)
	return delta, nil
}

func mustService(t *testing.T, store Store, accounts CreditAccounts) *Service {
	t.Helper()
	service, err := NewService(store, accounts, func() int64 { return testNow }, zap.NewNop())
	if err != nil {
		t.Fatalf("service init: %v", err)
	}
	return service
}

func TestRedeemGrantsCreditAndLimit(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.seed(Token{Code: "AB12CD34", CreditAmount: 100_00, LimitBonus: 50_00, ExpiresUnixUTC: testNow + 3600})
	accounts := &stubAccounts{}
	service := mustService(t, store, accounts)

	redemption, err := service.Redeem(context.Background(), 9, " ab12cd34 ")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redemption.CreditGranted != 100_00 || redemption.LimitGranted != 50_00 {
		t.Fatalf("unexpected grants %+v", redemption)
	}
	if len(accounts.credits) != 1 || accounts.credits[0] != 100_00 {
		t.Fatalf("expected one 10000 credit, got %v", accounts.credits)
	}
	if len(accounts.limitDelta) != 1 || accounts.limitDelta[0] != 50_00 {
		t.Fatalf("expected one 5000 limit raise, got %v", accounts.limitDelta)
	}
}

func TestRedeemUsedTokenLooksUnknown(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	used := testNow - 100
	store.seed(Token{Code: "AB12CD34", CreditAmount: 100_00, ExpiresUnixUTC: testNow + 3600, UsedUnixUTC: &used})
	service := mustService(t, store, &stubAccounts{})

	_, err := service.Redeem(context.Background(), 9, "AB12CD34")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("used token must report not found, got %v", err)
	}
}

func TestRedeemExpiredToken(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.seed(Token{Code: "AB12CD34", CreditAmount: 100_00, ExpiresUnixUTC: testNow - 1})
	service := mustService(t, store, &stubAccounts{})

	_, err := service.Redeem(context.Background(), 9, "AB12CD34")
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRedeemAtMostOnceUnderContention(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.seed(Token{Code: "AB12CD34", CreditAmount: 100_00, ExpiresUnixUTC: testNow + 3600})
	accounts := &stubAccounts{}
	service := mustService(t, store, accounts)

	const redeemers = 10
	var group sync.WaitGroup
	wins := make(chan struct{}, redeemers)
	for i := 0; i < redeemers; i++ {
		group.Add(1)
		go func(accountID int64) {
			defer group.Done()
			if _, err := service.Redeem(context.Background(), accountID, "AB12CD34"); err == nil {
				wins <- struct{}{}
			} else if !errors.Is(err, ErrTokenNotFound) {
				t.Errorf("unexpected redeem error: %v", err)
			}
		}(int64(i + 1))
	}
	group.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("exactly one redeemer may win, got %d", won)
	}
	if len(accounts.credits) != 1 {
		t.Fatalf("exactly one credit may land, got %v", accounts.credits)
	}
}

func TestRedeemReturnsCodeWhenCreditFails(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seeded := store.seed(Token{Code: "AB12CD34", CreditAmount: 100_00, ExpiresUnixUTC: testNow + 3600})
	accounts := &stubAccounts{deltaErr: errors.New("ledger unavailable")}
	service := mustService(t, store, accounts)

	if _, err := service.Redeem(context.Background(), 9, "AB12CD34"); err == nil {
		t.Fatalf("credit failure must fail the redemption")
	}
	restored, _ := store.FindByCode(context.Background(), "AB12CD34")
	if restored.ID != seeded.ID || restored.UsedUnixUTC != nil {
		t.Fatalf("token must be returned unused for retry, got %+v", restored)
	}
}

func TestRedeemReportsLimitBonusFailure(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.seed(Token{Code: "AB12CD34", CreditAmount: 100_00, LimitBonus: 50_00, ExpiresUnixUTC: testNow + 3600})
	accounts := &stubAccounts{raiseErr: errors.New("ledger unavailable")}
	service := mustService(t, store, accounts)

	redemption, err := service.Redeem(context.Background(), 9, "AB12CD34")
	if err == nil {
		t.Fatalf("limit bonus failure must surface")
	}
	// The credit half is committed and reported even though the call failed.
	if redemption.CreditGranted != 100_00 {
		t.Fatalf("committed credit must be reported, got %+v", redemption)
	}
	token, _ := store.FindByCode(context.Background(), "AB12CD34")
	if token.UsedUnixUTC == nil {
		t.Fatalf("token with a committed credit must stay used")
	}
}

func TestGenerateValidatesGrants(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustService(t, store, &stubAccounts{})
	ctx := context.Background()

	if _, err := service.Generate(ctx, 1, 0, 0, time.Hour); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("zero grants must fail, got %v", err)
	}
	if _, err := service.Generate(ctx, 1, -1, 0, time.Hour); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("negative credit must fail, got %v", err)
	}
	if _, err := service.Generate(ctx, 1, 100_00, 0, 0); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("non-positive ttl must fail, got %v", err)
	}

	issued, err := service.Generate(ctx, 1, 100_00, 50_00, 24*time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(issued.Code) != 8 {
		t.Fatalf("expected an 8-char code, got %q", issued.Code)
	}
	if issued.ExpiresUnixUTC != testNow+86400 {
		t.Fatalf("unexpected expiry %d", issued.ExpiresUnixUTC)
	}
	if _, err := service.Redeem(ctx, 9, issued.Code); err != nil {
		t.Fatalf("generated code must redeem: %v", err)
	}
}
