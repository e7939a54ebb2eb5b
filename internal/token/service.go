// Package token implements one-time redeemable credit codes.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/wallet"
)

// Token is a one-time redemption code granting credit and/or a limit bonus.
type Token struct {
	ID             int64
	Code           string
	CreditAmount   wallet.Satang
	LimitBonus     wallet.Satang
	CreatedByAdmin int64
	UsedByAccount  *int64
	ExpiresUnixUTC int64
	UsedUnixUTC    *int64
}

// Domain-level error values.
var (
	ErrTokenNotFound     = errors.New("token not found or already used")
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidGrant      = errors.New("invalid token grant")
	ErrInvalidDependency = errors.New("invalid token service dependency")
)

// Store is the persistence contract used by Service. MarkUsed must be a
// guarded update on the unused row so concurrent redeemers cannot both win.
type Store interface {
	FindByCode(ctx context.Context, code string) (Token, error)
	Insert(ctx context.Context, token Token) (Token, error)
	MarkUsed(ctx context.Context, tokenID int64, accountID int64, usedUnixUTC int64) error
	UnmarkUsed(ctx context.Context, tokenID int64) error
}

// CreditAccounts is the slice of the wallet service redemption needs.
type CreditAccounts interface {
	ApplyDelta(ctx context.Context, accountID int64, amount wallet.Satang, entryType wallet.EntryType, description string, options ...wallet.DeltaOption) (wallet.Entry, error)
	RaiseCreditLimit(ctx context.Context, accountID int64, delta wallet.Satang) (wallet.Satang, error)
}

// Service redeems and issues credit tokens.
type Service struct {
	store    Store
	accounts CreditAccounts
	nowFn    func() int64
	logger   *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, accounts CreditAccounts, now func() int64, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidDependency)
	}
	if accounts == nil {
		return nil, fmt.Errorf("%w: accounts is nil", ErrInvalidDependency)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock is nil", ErrInvalidDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, accounts: accounts, nowFn: now, logger: logger}, nil
}

// Redemption reports what a redeemed token granted.
type Redemption struct {
	Token         Token
	CreditGranted wallet.Satang
	LimitGranted  wallet.Satang
	NewBalance    wallet.Satang
}

// Redeem marks the token used by this account and applies its grants. At most
// one redeemer wins a token; losers get ErrTokenNotFound, expired codes get
// ErrTokenExpired.
func (service *Service) Redeem(ctx context.Context, accountID int64, code string) (Redemption, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Redemption{}, ErrTokenNotFound
	}
	found, err := service.store.FindByCode(ctx, normalized)
	if err != nil {
		return Redemption{}, err
	}
	if found.UsedUnixUTC != nil {
		return Redemption{}, ErrTokenNotFound
	}
	now := service.nowFn()
	if now > found.ExpiresUnixUTC {
		return Redemption{}, ErrTokenExpired
	}
	if err := service.store.MarkUsed(ctx, found.ID, accountID, now); err != nil {
		return Redemption{}, err
	}

	redemption := Redemption{Token: found}
	if found.CreditAmount > 0 {
		entry, err := service.accounts.ApplyDelta(ctx, accountID, found.CreditAmount, wallet.EntryTopup,
			fmt.Sprintf("token redeemed: %s", normalized))
		if err != nil {
			// Give the code back so the user can retry once storage recovers.
			if unmarkErr := service.store.UnmarkUsed(ctx, found.ID); unmarkErr != nil {
				service.logger.Error("token compensation failed; token needs manual reconciliation",
					zap.Int64("token_id", found.ID),
					zap.Error(unmarkErr),
				)
			}
			return Redemption{}, err
		}
		redemption.CreditGranted = found.CreditAmount
		redemption.NewBalance = entry.BalanceAfter
	}
	if found.LimitBonus > 0 {
		if _, err := service.accounts.RaiseCreditLimit(ctx, accountID, found.LimitBonus); err != nil {
			// The credit grant is committed; the limit bonus is replayable.
			service.logger.Error("token limit bonus failed after credit grant",
				zap.Int64("token_id", found.ID),
				zap.Int64("account_id", accountID),
				zap.Error(err),
			)
			return redemption, err
		}
		redemption.LimitGranted = found.LimitBonus
	}
	return redemption, nil
}

// Generate issues a fresh random code valid for ttl.
func (service *Service) Generate(ctx context.Context, createdByAdmin int64, credit wallet.Satang, limitBonus wallet.Satang, ttl time.Duration) (Token, error) {
	if credit < 0 || limitBonus < 0 || (credit == 0 && limitBonus == 0) {
		return Token{}, ErrInvalidGrant
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidGrant)
	}
	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, err
	}
	code := strings.ToUpper(hex.EncodeToString(raw))
	return service.store.Insert(ctx, Token{
		Code:           code,
		CreditAmount:   credit,
		LimitBonus:     limitBonus,
		CreatedByAdmin: createdByAdmin,
		ExpiresUnixUTC: service.nowFn() + int64(ttl/time.Second),
	})
}
