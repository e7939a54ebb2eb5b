package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service contains the credit-account domain logic over a Store. All balance
// mutations go through here; callers never touch account rows directly.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetOrCreate returns the account mapped to externalID, creating it with zero
// balances on first contact. Safe to call concurrently for the same id.
func (service *Service) GetOrCreate(ctx context.Context, externalID string, displayName string) (Account, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidExternalID)
	}
	account, err := service.store.FindAccountByExternalID(ctx, trimmed)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}
	account, err = service.store.CreateAccount(ctx, trimmed, displayName)
	if errors.Is(err, ErrAccountExists) {
		// Lost the creation race; the winner's row is the account.
		return service.store.FindAccountByExternalID(ctx, trimmed)
	}
	if err != nil {
		return Account{}, err
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationGetOrCreate,
		AccountID:  account.ID,
		ExternalID: trimmed,
	})
	return account, nil
}

// GetAccount returns the account by internal id.
func (service *Service) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// DeltaOption adjusts how ApplyDelta treats a single mutation.
type DeltaOption func(*deltaConfig)

type deltaConfig struct {
	productID      *int64
	stockUnitID    *int64
	allowOverdraft bool
}

// WithProduct attaches a product reference to the ledger entry.
func WithProduct(productID int64) DeltaOption {
	return func(cfg *deltaConfig) {
		cfg.productID = &productID
	}
}

// WithStockUnit attaches a stock unit reference to the ledger entry.
func WithStockUnit(stockUnitID int64) DeltaOption {
	return func(cfg *deltaConfig) {
		cfg.stockUnitID = &stockUnitID
	}
}

// AllowOverdraft skips the credit-floor check. Admin-gift purchases use this
// deliberately; every other debit must respect the floor.
func AllowOverdraft() DeltaOption {
	return func(cfg *deltaConfig) {
		cfg.allowOverdraft = true
	}
}

// ApplyDelta mutates the account balance by the signed amount and appends the
// matching ledger entry in the same transaction. A debit that would push the
// balance below -CreditLimit fails with ErrInsufficientCredit and mutates
// nothing.
func (service *Service) ApplyDelta(ctx context.Context, accountID int64, amount Satang, entryType EntryType, description string, options ...DeltaOption) (Entry, error) {
	var cfg deltaConfig
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}
	if err := validateEntryAmount(entryType, amount); err != nil {
		return Entry{}, err
	}
	var entry Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		newBalance := account.Balance + amount
		if amount < 0 && !cfg.allowOverdraft && newBalance < -account.CreditLimit {
			return ErrInsufficientCredit
		}
		if err := txStore.SaveBalances(ctx, accountID, newBalance, account.CreditLimit, account.LifetimeSpend); err != nil {
			return err
		}
		entry, err = txStore.InsertEntry(ctx, EntryInput{
			AccountID:      accountID,
			Type:           entryType,
			Amount:         amount,
			BalanceBefore:  account.Balance,
			BalanceAfter:   newBalance,
			ProductID:      cfg.productID,
			StockUnitID:    cfg.stockUnitID,
			Description:    description,
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationApplyDelta,
		AccountID:   accountID,
		Amount:      amount,
		EntryType:   entryType,
		Description: description,
		Error:       operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// RaiseCreditLimit increases the account's credit limit by delta. The balance
// is untouched; a zero-amount adjustment entry records the change for audit.
func (service *Service) RaiseCreditLimit(ctx context.Context, accountID int64, delta Satang) (Satang, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("%w: limit delta must be positive", ErrInvalidAmount)
	}
	var newLimit Satang
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		newLimit = account.CreditLimit + delta
		if err := txStore.SaveBalances(ctx, accountID, account.Balance, newLimit, account.LifetimeSpend); err != nil {
			return err
		}
		_, err = txStore.InsertEntry(ctx, EntryInput{
			AccountID:      accountID,
			Type:           EntryAdjustment,
			Amount:         0,
			BalanceBefore:  account.Balance,
			BalanceAfter:   account.Balance,
			Description:    fmt.Sprintf("credit limit raised by %s to %s", FormatBaht(delta), FormatBaht(newLimit)),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRaiseCreditLimit,
		AccountID: accountID,
		Amount:    delta,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return newLimit, nil
}

// RecordSpend increments lifetime spend and raises the credit limit to the
// highest spend-tier grant the new total reaches. The limit only ever moves
// up; spend only ever grows.
func (service *Service) RecordSpend(ctx context.Context, accountID int64, amount Satang) (SpendResult, error) {
	if amount <= 0 {
		return SpendResult{}, fmt.Errorf("%w: spend must be positive", ErrInvalidAmount)
	}
	var result SpendResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		tiers, err := txStore.SpendTiers(ctx)
		if err != nil {
			return err
		}
		newSpend := account.LifetimeSpend + amount
		newLimit := account.CreditLimit
		grant := highestGrant(tiers, newSpend)
		raised := false
		if grant > newLimit {
			newLimit = grant
			raised = true
		}
		if err := txStore.SaveBalances(ctx, accountID, account.Balance, newLimit, newSpend); err != nil {
			return err
		}
		if raised {
			_, err = txStore.InsertEntry(ctx, EntryInput{
				AccountID:      accountID,
				Type:           EntryAdjustment,
				Amount:         0,
				BalanceBefore:  account.Balance,
				BalanceAfter:   account.Balance,
				Description:    fmt.Sprintf("credit limit raised to %s at lifetime spend %s", FormatBaht(newLimit), FormatBaht(newSpend)),
				CreatedUnixUTC: service.nowFn(),
			})
			if err != nil {
				return err
			}
		}
		result = SpendResult{LifetimeSpend: newSpend, CreditLimit: newLimit, LimitRaised: raised}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordSpend,
		AccountID: accountID,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return SpendResult{}, operationError
	}
	return result, nil
}

// ListEntries returns the most recent ledger entries for an account.
func (service *Service) ListEntries(ctx context.Context, accountID int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, accountID, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateEntryAmount(entryType EntryType, amount Satang) error {
	switch entryType {
	case EntryPurchase:
		// Zero is a free product; the entry still records the sale.
		if amount > 0 {
			return fmt.Errorf("%w: purchase amount cannot be positive", ErrInvalidAmount)
		}
	case EntryTopup, EntryRefund:
		if amount <= 0 {
			return fmt.Errorf("%w: %s amount must be positive", ErrInvalidAmount, entryType)
		}
	case EntryAdjustment:
		// Adjustments carry whatever sign the admin supplied, including zero
		// for audit-only entries.
	default:
		return ErrInvalidEntryType
	}
	return nil
}

func highestGrant(tiers []Tier, spend Satang) Satang {
	var grant Satang
	var best Satang = -1
	for _, tier := range tiers {
		if spend >= tier.MinSpend && tier.MinSpend > best {
			best = tier.MinSpend
			grant = tier.CreditLimitGrant
		}
	}
	return grant
}
