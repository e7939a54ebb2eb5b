package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Service contains the stock allocation logic over a Store. It is the only
// component that transitions stock units between statuses.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidStoreDep)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock is nil", ErrInvalidStoreDep)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Resolve finds an active product by numeric id or short code.
// Inactive and unknown products both report ErrProductNotFound.
func (service *Service) Resolve(ctx context.Context, identifier string) (Product, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return Product{}, ErrProductNotFound
	}
	var product Product
	var err error
	if numericID, parseErr := strconv.ParseInt(trimmed, 10, 64); parseErr == nil {
		product, err = service.store.GetProduct(ctx, numericID)
	} else {
		err = ErrProductNotFound
	}
	if errors.Is(err, ErrProductNotFound) {
		product, err = service.store.FindProductByShortCode(ctx, strings.ToLower(trimmed))
	}
	if err != nil {
		return Product{}, err
	}
	if !product.Active {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// GetProduct returns a product by id regardless of its active flag.
func (service *Service) GetProduct(ctx context.Context, productID int64) (Product, error) {
	return service.store.GetProduct(ctx, productID)
}

// ClaimOne atomically takes one available unit of the product and marks it
// sold to the buyer. At most one caller wins any given unit; once units run
// out callers get ErrStockExhausted. The cached product stock count is kept
// consistent in the same transaction.
func (service *Service) ClaimOne(ctx context.Context, productID int64, buyerAccountID int64) (StockUnit, error) {
	var unit StockUnit
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		claimed, err := txStore.ClaimAvailableUnit(ctx, productID, buyerAccountID, service.nowFn())
		if err != nil {
			return err
		}
		unit = claimed
		return recount(ctx, txStore, productID)
	})
	if err != nil {
		return StockUnit{}, err
	}
	return unit, nil
}

// Release reverts a claimed unit back to available, for compensation when a
// purchase fails after the claim. Callers must not release a unit whose
// payload was already disclosed to the buyer; disclosure is one-way.
func (service *Service) Release(ctx context.Context, unit StockUnit) error {
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.ReleaseUnit(ctx, unit.ID, UnitSold); err != nil {
			return err
		}
		return recount(ctx, txStore, unit.ProductID)
	})
}

// Recount recomputes the product's cached available count from the unit rows
// and persists it, returning the fresh count.
func (service *Service) Recount(ctx context.Context, productID int64) (int, error) {
	var count int
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		available, err := txStore.CountAvailableUnits(ctx, productID)
		if err != nil {
			return err
		}
		count = available
		return txStore.SaveProductStock(ctx, productID, available)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// BulkLoad creates duplicateFactor units per input record, all sharing the
// record's payload. Purely additive; the cached stock count is refreshed in
// the same transaction.
func (service *Service) BulkLoad(ctx context.Context, productID int64, records []Payload, duplicateFactor int) ([]StockUnit, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrInvalidPayload)
	}
	if duplicateFactor < 1 {
		duplicateFactor = 1
	}
	expanded := make([]Payload, 0, len(records)*duplicateFactor)
	for _, record := range records {
		if record == nil {
			return nil, fmt.Errorf("%w: nil record", ErrInvalidPayload)
		}
		for i := 0; i < duplicateFactor; i++ {
			expanded = append(expanded, record)
		}
	}
	var units []StockUnit
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		inserted, err := txStore.InsertUnits(ctx, productID, expanded)
		if err != nil {
			return err
		}
		units = inserted
		return recount(ctx, txStore, productID)
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// AvailableCount reads the authoritative available-unit count.
func (service *Service) AvailableCount(ctx context.Context, productID int64) (int, error) {
	return service.store.CountAvailableUnits(ctx, productID)
}

func recount(ctx context.Context, txStore Store, productID int64) error {
	available, err := txStore.CountAvailableUnits(ctx, productID)
	if err != nil {
		return err
	}
	return txStore.SaveProductStock(ctx, productID, available)
}
