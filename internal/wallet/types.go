package wallet

import "context"

// Satang is an integer currency amount in minor units (1/100 baht).
type Satang int64

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryPurchase   EntryType = "purchase"
	EntryTopup      EntryType = "topup"
	EntryAdjustment EntryType = "adjustment"
	EntryRefund     EntryType = "refund"
)

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(raw) {
	case EntryPurchase, EntryTopup, EntryAdjustment, EntryRefund:
		return EntryType(raw), nil
	}
	return "", ErrInvalidEntryType
}

// Account is a user's credit-wallet record. Balance may go as low as
// -CreditLimit; LifetimeSpend never decreases.
type Account struct {
	ID            int64
	ExternalID    string
	DisplayName   string
	Balance       Satang
	CreditLimit   Satang
	LifetimeSpend Satang
	IsAdmin       bool
}

// AvailableCredit is how much the account can still spend before hitting the
// credit floor.
func (account Account) AvailableCredit() Satang {
	return account.Balance + account.CreditLimit
}

// Entry is a single immutable line in the ledger. Amount is the signed delta
// and BalanceAfter = BalanceBefore + Amount always holds.
type Entry struct {
	ID             int64
	AccountID      int64
	Type           EntryType
	Amount         Satang
	BalanceBefore  Satang
	BalanceAfter   Satang
	ProductID      *int64
	StockUnitID    *int64
	Description    string
	CreatedUnixUTC int64
}

// EntryInput carries a ledger entry to the store.
type EntryInput struct {
	AccountID      int64
	Type           EntryType
	Amount         Satang
	BalanceBefore  Satang
	BalanceAfter   Satang
	ProductID      *int64
	StockUnitID    *int64
	Description    string
	CreatedUnixUTC int64
}

// Tier grants a credit limit once lifetime spend reaches MinSpend.
type Tier struct {
	MinSpend         Satang
	CreditLimitGrant Satang
}

// SpendResult reports the outcome of RecordSpend.
type SpendResult struct {
	LifetimeSpend Satang
	CreditLimit   Satang
	LimitRaised   bool
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx atomic and LockAccount exclusive for the duration of the
// transaction (row lock or equivalent).
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, accountID int64) (Account, error)
	FindAccountByExternalID(ctx context.Context, externalID string) (Account, error)
	CreateAccount(ctx context.Context, externalID string, displayName string) (Account, error)
	LockAccount(ctx context.Context, accountID int64) (Account, error)
	SaveBalances(ctx context.Context, accountID int64, balance Satang, creditLimit Satang, lifetimeSpend Satang) error
	InsertEntry(ctx context.Context, input EntryInput) (Entry, error)
	ListEntries(ctx context.Context, accountID int64, limit int) ([]Entry, error)
	SpendTiers(ctx context.Context) ([]Tier, error)
}
