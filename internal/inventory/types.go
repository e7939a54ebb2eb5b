package inventory

import (
	"context"
	"strings"

	"github.com/pranakorn/creditbot/internal/wallet"
)

// UnitStatus defines the stock unit lifecycle.
type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitReserved  UnitStatus = "reserved"
	UnitSold      UnitStatus = "sold"
)

// String returns the stored representation.
func (status UnitStatus) String() string {
	return string(status)
}

// ParseUnitStatus validates a stored unit status.
func ParseUnitStatus(raw string) (UnitStatus, error) {
	switch UnitStatus(raw) {
	case UnitAvailable, UnitReserved, UnitSold:
		return UnitStatus(raw), nil
	}
	return "", ErrInvalidUnitStatus
}

// Payload is the opaque credential data disclosed to a buyer on sale.
type Payload map[string]string

// Product is a sellable catalog item. Stock is a cached count of available
// units and must match the unit rows; Recount repairs any drift.
type Product struct {
	ID               int64
	Name             string
	Price            wallet.Satang
	Description      string
	Stock            int
	Active           bool
	MessageTemplate  string
	RetailMultiplier int
	Category         string
}

// StockUnit is one sellable unit of inventory.
type StockUnit struct {
	ID            int64
	ProductID     int64
	Payload       Payload
	Status        UnitStatus
	SoldToAccount *int64
	SoldAtUnixUTC *int64
}

// Store is the persistence contract used by Service. ClaimAvailableUnit must
// be atomic: no two callers may receive the same unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetProduct(ctx context.Context, productID int64) (Product, error)
	FindProductByShortCode(ctx context.Context, code string) (Product, error)
	ClaimAvailableUnit(ctx context.Context, productID int64, buyerAccountID int64, soldAtUnixUTC int64) (StockUnit, error)
	ReleaseUnit(ctx context.Context, unitID int64, from UnitStatus) error
	CountAvailableUnits(ctx context.Context, productID int64) (int, error)
	SaveProductStock(ctx context.Context, productID int64, stock int) error
	InsertUnits(ctx context.Context, productID int64, payloads []Payload) ([]StockUnit, error)
}

// Placeholder keys recognized by message templates.
var templateKeys = []string{"user", "pass", "screen", "pin"}

const defaultDisclosure = "Here is your item. No message template is configured for this product."

// RenderTemplate substitutes {user}, {pass}, {screen}, and {pin} placeholders
// with payload fields. Missing fields render as empty strings.
func RenderTemplate(template string, payload Payload) string {
	if strings.TrimSpace(template) == "" {
		return defaultDisclosure
	}
	rendered := template
	for _, key := range templateKeys {
		rendered = strings.ReplaceAll(rendered, "{"+key+"}", payload[key])
	}
	return rendered
}
