package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents the accounts table. Money columns are int64 satang.
type Account struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ExternalID    string    `gorm:"not null;uniqueIndex"`
	DisplayName   string    `gorm:"not null"`
	Balance       int64     `gorm:"not null;default:0"`
	CreditLimit   int64     `gorm:"not null;default:0"`
	LifetimeSpend int64     `gorm:"not null;default:0"`
	IsAdmin       bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the append-only ledger_entries table.
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	AccountID     int64     `gorm:"not null;index:idx_ledger_account_created,priority:1"`
	Type          string    `gorm:"not null"`
	Amount        int64     `gorm:"not null"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	ProductID     *int64    `gorm:""`
	StockUnitID   *int64    `gorm:""`
	Description   string    `gorm:""`
	CreatedAt     time.Time `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Product represents the products table. Stock caches the count of available
// stock units and is refreshed transactionally on every allocation change.
type Product struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Name             string    `gorm:"not null"`
	Price            int64     `gorm:"not null"`
	Description      string    `gorm:""`
	Stock            int       `gorm:"not null;default:0"`
	Active           bool      `gorm:"not null;default:true"`
	MessageTemplate  string    `gorm:""`
	RetailMultiplier int       `gorm:"not null;default:1"`
	Category         string    `gorm:""`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// ProductShortCode maps a typed alias to a product.
type ProductShortCode struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	ProductID int64     `gorm:"not null;index"`
	Code      string    `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ProductShortCode) TableName() string { return "product_short_codes" }

// StockUnit represents the stock_units table.
type StockUnit struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	ProductID       int64          `gorm:"not null;index:idx_stock_product_status,priority:1"`
	Payload         datatypes.JSON `gorm:"not null"`
	Status          string         `gorm:"not null;default:available;index:idx_stock_product_status,priority:2"`
	SoldToAccountID *int64         `gorm:""`
	SoldAt          *time.Time     `gorm:""`
	CreatedAt       time.Time      `gorm:"not null"`
}

func (StockUnit) TableName() string { return "stock_units" }

// Slip represents the slips table; TransRef carries the bank's unique
// transaction reference and guards against double top-ups.
type Slip struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement"`
	AccountID            int64      `gorm:"not null;index"`
	TransRef             string     `gorm:"not null;uniqueIndex"`
	Amount               int64      `gorm:"not null"`
	SenderName           string     `gorm:""`
	ReceiverName         string     `gorm:""`
	SendingBank          string     `gorm:""`
	ReceivingBank        string     `gorm:""`
	TransAt              time.Time  `gorm:""`
	Status               string     `gorm:"not null;default:pending;index"`
	ImageURL             string     `gorm:""`
	VerificationResponse string     `gorm:""`
	RejectionReason      string     `gorm:""`
	ApprovedBy           *int64     `gorm:""`
	CreatedAt            time.Time  `gorm:"not null"`
	VerifiedAt           *time.Time `gorm:""`
}

func (Slip) TableName() string { return "slips" }

// CreditToken represents the credit_tokens table.
type CreditToken struct {
	ID               int64      `gorm:"primaryKey;autoIncrement"`
	Code             string     `gorm:"not null;uniqueIndex"`
	CreditAmount     int64      `gorm:"not null"`
	LimitBonus       int64      `gorm:"not null;default:0"`
	CreatedByAdminID int64      `gorm:"not null"`
	UsedByAccountID  *int64     `gorm:""`
	ExpiresAt        time.Time  `gorm:"not null"`
	UsedAt           *time.Time `gorm:""`
	CreatedAt        time.Time  `gorm:"not null"`
}

func (CreditToken) TableName() string { return "credit_tokens" }

// CreditTier grants a credit limit at a lifetime-spend threshold.
type CreditTier struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	MinSpend    int64     `gorm:"not null"`
	CreditGrant int64     `gorm:"not null"`
	Description string    `gorm:""`
	Active      bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (CreditTier) TableName() string { return "credit_tiers" }

// Admin represents dashboard operators.
type Admin struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"not null;uniqueIndex"`
	PasswordHash string    `gorm:"not null"`
	Name         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Admin) TableName() string { return "admins" }

// Setting is a key/value runtime setting (admin group id and the like).
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:""`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Setting) TableName() string { return "settings" }

// Models lists every table for automigration.
func Models() []any {
	return []any{
		&Account{},
		&LedgerEntry{},
		&Product{},
		&ProductShortCode{},
		&StockUnit{},
		&Slip{},
		&CreditToken{},
		&CreditTier{},
		&Admin{},
		&Setting{},
	}
}
