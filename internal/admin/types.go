// Package admin covers dashboard operators, runtime settings, and the
// reporting queries the dashboard and chat admin commands share.
package admin

import (
	"context"
	"errors"

	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// Operator is a dashboard login.
type Operator struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
}

// ProductInput carries catalog fields for create and update.
type ProductInput struct {
	Name             string
	Price            wallet.Satang
	Description      string
	Active           bool
	MessageTemplate  string
	RetailMultiplier int
	Category         string
}

// Well-known setting keys.
const (
	SettingAdminGroupID   = "admin_group_id"
	SettingReceiverName   = "receiver_name"
	SettingTopupEnabled   = "topup_enabled"
	SettingWelcomeMessage = "welcome_message"
)

// Domain-level error values.
var (
	ErrOperatorNotFound  = errors.New("operator not found")
	ErrOperatorExists    = errors.New("operator already exists")
	ErrBadCredentials    = errors.New("bad credentials")
	ErrSettingNotFound   = errors.New("setting not found")
	ErrInvalidInput      = errors.New("invalid admin input")
	ErrInvalidDependency = errors.New("invalid admin service dependency")
)

// Store is the persistence contract used by Service.
type Store interface {
	FindOperatorByEmail(ctx context.Context, email string) (Operator, error)
	GetOperator(ctx context.Context, operatorID int64) (Operator, error)
	CreateOperator(ctx context.Context, email string, name string, passwordHash string) (Operator, error)
	UpdateOperatorPassword(ctx context.Context, operatorID int64, passwordHash string) error
	ListOperators(ctx context.Context) ([]Operator, error)
	DeleteOperator(ctx context.Context, operatorID int64) error

	CreateProduct(ctx context.Context, input ProductInput) (inventory.Product, error)
	UpdateProduct(ctx context.Context, productID int64, input ProductInput) (inventory.Product, error)
	DeactivateProduct(ctx context.Context, productID int64) error
	ListProducts(ctx context.Context, includeInactive bool) ([]inventory.Product, error)
	AddShortCode(ctx context.Context, productID int64, code string) error
	RemoveShortCode(ctx context.Context, code string) error
	ListShortCodes(ctx context.Context, productID int64) ([]string, error)
	ListStockUnits(ctx context.Context, productID int64) ([]inventory.StockUnit, error)
	DeleteAvailableUnit(ctx context.Context, unitID int64) error

	ListAccounts(ctx context.Context, limit int, offset int) ([]wallet.Account, error)
	SetAccountAdmin(ctx context.Context, accountID int64, isAdmin bool) error

	ListTransactions(ctx context.Context, limit int, offset int) ([]wallet.Entry, error)
	ListTopups(ctx context.Context, limit int, offset int) ([]slip.Record, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error

	SeedTiers(ctx context.Context, tiers []wallet.Tier) error
}
