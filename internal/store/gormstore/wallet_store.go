package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pranakorn/creditbot/internal/wallet"
)

const (
	errorOperationStore = "store"

	errorSubjectAccount = "account"
	errorSubjectEntry   = "entry"
	errorSubjectTier    = "tier"

	errorCodeCreate    = "create"
	errorCodeDuplicate = "duplicate"
	errorCodeGet       = "get"
	errorCodeInsert    = "insert"
	errorCodeList      = "list"
	errorCodeLock      = "lock"
	errorCodeUpdate    = "update"
)

// WalletStore implements wallet.Store using GORM.
type WalletStore struct {
	db *gorm.DB
}

// NewWalletStore returns a WalletStore backed by gorm.DB.
func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *WalletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &WalletStore{db: transaction})
	})
}

func (store *WalletStore) GetAccount(ctx context.Context, accountID int64) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Take(&model, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
	}
	if err != nil {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

func (store *WalletStore) FindAccountByExternalID(ctx context.Context, externalID string) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
	}
	if err != nil {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

func (store *WalletStore) CreateAccount(ctx context.Context, externalID string, displayName string) (wallet.Account, error) {
	model := Account{ExternalID: externalID, DisplayName: displayName}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeDuplicate, wallet.ErrAccountExists)
	}
	if err != nil {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(model), nil
}

func (store *WalletStore) LockAccount(ctx context.Context, accountID int64) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&model, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeLock, wallet.ErrAccountNotFound)
	}
	if err != nil {
		return wallet.Account{}, wrapWalletError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccount(model), nil
}

func (store *WalletStore) SaveBalances(ctx context.Context, accountID int64, balance wallet.Satang, creditLimit wallet.Satang, lifetimeSpend wallet.Satang) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":        int64(balance),
			"credit_limit":   int64(creditLimit),
			"lifetime_spend": int64(lifetimeSpend),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapWalletError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapWalletError(errorSubjectAccount, errorCodeUpdate, wallet.ErrAccountNotFound)
	}
	return nil
}

func (store *WalletStore) InsertEntry(ctx context.Context, input wallet.EntryInput) (wallet.Entry, error) {
	model := LedgerEntry{
		AccountID:     input.AccountID,
		Type:          input.Type.String(),
		Amount:        int64(input.Amount),
		BalanceBefore: int64(input.BalanceBefore),
		BalanceAfter:  int64(input.BalanceAfter),
		ProductID:     input.ProductID,
		StockUnitID:   input.StockUnitID,
		Description:   input.Description,
		CreatedAt:     time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if input.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wallet.Entry{}, wrapWalletError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapLedgerEntry(model)
}

func (store *WalletStore) ListEntries(ctx context.Context, accountID int64, limit int) ([]wallet.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapWalletError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *WalletStore) SpendTiers(ctx context.Context) ([]wallet.Tier, error) {
	var rows []CreditTier
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("min_spend ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapWalletError(errorSubjectTier, errorCodeList, err)
	}
	tiers := make([]wallet.Tier, 0, len(rows))
	for _, row := range rows {
		tiers = append(tiers, wallet.Tier{
			MinSpend:         wallet.Satang(row.MinSpend),
			CreditLimitGrant: wallet.Satang(row.CreditGrant),
		})
	}
	return tiers, nil
}

func mapAccount(model Account) wallet.Account {
	return wallet.Account{
		ID:            model.ID,
		ExternalID:    model.ExternalID,
		DisplayName:   model.DisplayName,
		Balance:       wallet.Satang(model.Balance),
		CreditLimit:   wallet.Satang(model.CreditLimit),
		LifetimeSpend: wallet.Satang(model.LifetimeSpend),
		IsAdmin:       model.IsAdmin,
	}
}

func mapLedgerEntry(model LedgerEntry) (wallet.Entry, error) {
	entryType, err := wallet.ParseEntryType(model.Type)
	if err != nil {
		return wallet.Entry{}, wrapWalletError(errorSubjectEntry, errorCodeGet, err)
	}
	return wallet.Entry{
		ID:             model.ID,
		AccountID:      model.AccountID,
		Type:           entryType,
		Amount:         wallet.Satang(model.Amount),
		BalanceBefore:  wallet.Satang(model.BalanceBefore),
		BalanceAfter:   wallet.Satang(model.BalanceAfter),
		ProductID:      model.ProductID,
		StockUnitID:    model.StockUnitID,
		Description:    model.Description,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func wrapWalletError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}
