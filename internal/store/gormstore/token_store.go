package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// TokenStore implements token.Store using GORM.
type TokenStore struct {
	db *gorm.DB
}

// NewTokenStore returns a TokenStore backed by gorm.DB.
func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (store *TokenStore) FindByCode(ctx context.Context, code string) (token.Token, error) {
	var model CreditToken
	err := store.db.WithContext(ctx).Where("code = ?", code).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return token.Token{}, token.ErrTokenNotFound
	}
	if err != nil {
		return token.Token{}, fmt.Errorf("find token: %w", err)
	}
	return mapToken(model), nil
}

func (store *TokenStore) Insert(ctx context.Context, fresh token.Token) (token.Token, error) {
	model := CreditToken{
		Code:             fresh.Code,
		CreditAmount:     int64(fresh.CreditAmount),
		LimitBonus:       int64(fresh.LimitBonus),
		CreatedByAdminID: fresh.CreatedByAdmin,
		ExpiresAt:        time.Unix(fresh.ExpiresUnixUTC, 0).UTC(),
		CreatedAt:        time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return token.Token{}, fmt.Errorf("insert token: %w", err)
	}
	return mapToken(model), nil
}

// MarkUsed claims the token for an account. The used_at IS NULL guard lets at
// most one redeemer win.
func (store *TokenStore) MarkUsed(ctx context.Context, tokenID int64, accountID int64, usedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&CreditToken{}).
		Where("id = ? AND used_at IS NULL", tokenID).
		Updates(map[string]interface{}{
			"used_by_account_id": accountID,
			"used_at":            time.Unix(usedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("mark token used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return token.ErrTokenNotFound
	}
	return nil
}

func (store *TokenStore) UnmarkUsed(ctx context.Context, tokenID int64) error {
	result := store.db.WithContext(ctx).
		Model(&CreditToken{}).
		Where("id = ?", tokenID).
		Updates(map[string]interface{}{
			"used_by_account_id": nil,
			"used_at":            nil,
		})
	if result.Error != nil {
		return fmt.Errorf("unmark token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return token.ErrTokenNotFound
	}
	return nil
}

func mapToken(model CreditToken) token.Token {
	mapped := token.Token{
		ID:             model.ID,
		Code:           model.Code,
		CreditAmount:   wallet.Satang(model.CreditAmount),
		LimitBonus:     wallet.Satang(model.LimitBonus),
		CreatedByAdmin: model.CreatedByAdminID,
		ExpiresUnixUTC: model.ExpiresAt.Unix(),
	}
	if model.UsedByAccountID != nil {
		usedBy := *model.UsedByAccountID
		mapped.UsedByAccount = &usedBy
	}
	if model.UsedAt != nil {
		usedAt := model.UsedAt.Unix()
		mapped.UsedUnixUTC = &usedAt
	}
	return mapped
}
