// Package purchase composes the credit account and stock allocation services
// into a single all-or-nothing buy operation.
package purchase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// ErrInvalidDependency reports a missing collaborator at construction.
var ErrInvalidDependency = errors.New("invalid orchestrator dependency")

// CreditAccounts is the slice of the wallet service the orchestrator needs.
type CreditAccounts interface {
	GetAccount(ctx context.Context, accountID int64) (wallet.Account, error)
	ApplyDelta(ctx context.Context, accountID int64, amount wallet.Satang, entryType wallet.EntryType, description string, options ...wallet.DeltaOption) (wallet.Entry, error)
	RecordSpend(ctx context.Context, accountID int64, amount wallet.Satang) (wallet.SpendResult, error)
}

// StockAllocator is the slice of the inventory service the orchestrator needs.
type StockAllocator interface {
	Resolve(ctx context.Context, identifier string) (inventory.Product, error)
	ClaimOne(ctx context.Context, productID int64, buyerAccountID int64) (inventory.StockUnit, error)
	Release(ctx context.Context, unit inventory.StockUnit) error
}

// Receipt is the outcome of a completed purchase.
type Receipt struct {
	Product    inventory.Product
	Unit       inventory.StockUnit
	Entry      wallet.Entry
	NewBalance wallet.Satang
	Disclosure string
	Spend      wallet.SpendResult
}

// Orchestrator sequences claim, debit, and spend recording with a
// compensating release when the debit fails after the claim.
type Orchestrator struct {
	accounts CreditAccounts
	stock    StockAllocator
	logger   *zap.Logger
}

// New wires an Orchestrator.
func New(accounts CreditAccounts, stock StockAllocator, logger *zap.Logger) (*Orchestrator, error) {
	if accounts == nil {
		return nil, fmt.Errorf("%w: accounts is nil", ErrInvalidDependency)
	}
	if stock == nil {
		return nil, fmt.Errorf("%w: stock is nil", ErrInvalidDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{accounts: accounts, stock: stock, logger: logger}, nil
}

// Buy sells one unit of the identified product to the account, debiting the
// price against available credit. On wallet.ErrInsufficientCredit the claimed
// unit is released back to available before the failure is returned.
func (orchestrator *Orchestrator) Buy(ctx context.Context, accountID int64, identifier string) (Receipt, error) {
	return orchestrator.execute(ctx, accountID, identifier, false, "")
}

// Gift is the admin-forced variant: the credit floor is bypassed (the balance
// may go below -creditLimit) but stock must still be available and a normal
// purchase entry is still recorded.
func (orchestrator *Orchestrator) Gift(ctx context.Context, accountID int64, identifier string, note string) (Receipt, error) {
	return orchestrator.execute(ctx, accountID, identifier, true, note)
}

func (orchestrator *Orchestrator) execute(ctx context.Context, accountID int64, identifier string, overdraft bool, note string) (Receipt, error) {
	product, err := orchestrator.stock.Resolve(ctx, identifier)
	if err != nil {
		return Receipt{}, err
	}

	unit, err := orchestrator.stock.ClaimOne(ctx, product.ID, accountID)
	if err != nil {
		return Receipt{}, err
	}

	description := fmt.Sprintf("purchase: %s", product.Name)
	if note != "" {
		description = fmt.Sprintf("purchase: %s (%s)", product.Name, note)
	}
	deltaOptions := []wallet.DeltaOption{wallet.WithProduct(product.ID), wallet.WithStockUnit(unit.ID)}
	if overdraft {
		deltaOptions = append(deltaOptions, wallet.AllowOverdraft())
	}
	entry, err := orchestrator.accounts.ApplyDelta(ctx, accountID, -product.Price, wallet.EntryPurchase, description, deltaOptions...)
	if err != nil {
		// The claim happened before the debit; the unit must not stay sold.
		if releaseErr := orchestrator.stock.Release(ctx, unit); releaseErr != nil {
			orchestrator.logger.Error("purchase compensation failed; stock unit needs manual reconciliation",
				zap.Int64("stock_unit_id", unit.ID),
				zap.Int64("product_id", product.ID),
				zap.Int64("account_id", accountID),
				zap.Error(releaseErr),
			)
		}
		return Receipt{}, err
	}

	var spend wallet.SpendResult
	if product.Price > 0 {
		spend, err = orchestrator.accounts.RecordSpend(ctx, accountID, product.Price)
		if err != nil {
			// The sale itself is committed; tier bookkeeping can be replayed from
			// the ledger, so the purchase is not unwound here.
			orchestrator.logger.Error("spend recording failed after committed purchase",
				zap.Int64("account_id", accountID),
				zap.Int64("entry_id", entry.ID),
				zap.Error(err),
			)
			spend = wallet.SpendResult{}
		}
	}

	return Receipt{
		Product:    product,
		Unit:       unit,
		Entry:      entry,
		NewBalance: entry.BalanceAfter,
		Disclosure: inventory.RenderTemplate(product.MessageTemplate, unit.Payload),
		Spend:      spend,
	}, nil
}
