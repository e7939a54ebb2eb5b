package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// InventoryStore implements inventory.Store using GORM.
type InventoryStore struct {
	db *gorm.DB
}

// NewInventoryStore returns an InventoryStore backed by gorm.DB.
func NewInventoryStore(db *gorm.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *InventoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore inventory.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &InventoryStore{db: transaction})
	})
}

func (store *InventoryStore) GetProduct(ctx context.Context, productID int64) (inventory.Product, error) {
	var model Product
	err := store.db.WithContext(ctx).Take(&model, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("get product: %w", err)
	}
	return mapProduct(model), nil
}

func (store *InventoryStore) FindProductByShortCode(ctx context.Context, code string) (inventory.Product, error) {
	var shortCode ProductShortCode
	err := store.db.WithContext(ctx).Where("code = ?", code).Take(&shortCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("find short code: %w", err)
	}
	return store.GetProduct(ctx, shortCode.ProductID)
}

// ClaimAvailableUnit locks one available unit and flips it to sold. The row
// lock plus the status guard in the update keep concurrent claimers off the
// same unit.
func (store *InventoryStore) ClaimAvailableUnit(ctx context.Context, productID int64, buyerAccountID int64, soldAtUnixUTC int64) (inventory.StockUnit, error) {
	var model StockUnit
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND status = ?", productID, inventory.UnitAvailable.String()).
		Order("id ASC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inventory.StockUnit{}, inventory.ErrStockExhausted
	}
	if err != nil {
		return inventory.StockUnit{}, fmt.Errorf("claim unit: %w", err)
	}

	soldAt := time.Unix(soldAtUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&StockUnit{}).
		Where("id = ? AND status = ?", model.ID, inventory.UnitAvailable.String()).
		Updates(map[string]interface{}{
			"status":             inventory.UnitSold.String(),
			"sold_to_account_id": buyerAccountID,
			"sold_at":            soldAt,
		})
	if result.Error != nil {
		return inventory.StockUnit{}, fmt.Errorf("claim unit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return inventory.StockUnit{}, inventory.ErrStockExhausted
	}

	model.Status = inventory.UnitSold.String()
	model.SoldToAccountID = &buyerAccountID
	model.SoldAt = &soldAt
	return mapStockUnit(model)
}

// ReleaseUnit returns a unit in status from back to available. The guarded
// update makes release idempotent: a second release affects zero rows.
func (store *InventoryStore) ReleaseUnit(ctx context.Context, unitID int64, from inventory.UnitStatus) error {
	result := store.db.WithContext(ctx).
		Model(&StockUnit{}).
		Where("id = ? AND status = ?", unitID, from.String()).
		Updates(map[string]interface{}{
			"status":             inventory.UnitAvailable.String(),
			"sold_to_account_id": nil,
			"sold_at":            nil,
		})
	if result.Error != nil {
		return fmt.Errorf("release unit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var model StockUnit
		err := store.db.WithContext(ctx).Take(&model, unitID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return inventory.ErrUnitNotFound
		}
		if err != nil {
			return fmt.Errorf("release unit: %w", err)
		}
		return inventory.ErrUnitNotReleasable
	}
	return nil
}

func (store *InventoryStore) CountAvailableUnits(ctx context.Context, productID int64) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&StockUnit{}).
		Where("product_id = ? AND status = ?", productID, inventory.UnitAvailable.String()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count units: %w", err)
	}
	return int(count), nil
}

func (store *InventoryStore) SaveProductStock(ctx context.Context, productID int64, stock int) error {
	result := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"stock":      stock,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("save stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (store *InventoryStore) InsertUnits(ctx context.Context, productID int64, payloads []inventory.Payload) ([]inventory.StockUnit, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	models := make([]StockUnit, 0, len(payloads))
	for _, payload := range payloads {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", inventory.ErrInvalidPayload, err)
		}
		models = append(models, StockUnit{
			ProductID: productID,
			Payload:   datatypes.JSON(encoded),
			Status:    inventory.UnitAvailable.String(),
			CreatedAt: now,
		})
	}
	if err := store.db.WithContext(ctx).Create(&models).Error; err != nil {
		return nil, fmt.Errorf("insert units: %w", err)
	}
	units := make([]inventory.StockUnit, 0, len(models))
	for _, model := range models {
		unit, err := mapStockUnit(model)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func mapProduct(model Product) inventory.Product {
	return inventory.Product{
		ID:               model.ID,
		Name:             model.Name,
		Price:            wallet.Satang(model.Price),
		Description:      model.Description,
		Stock:            model.Stock,
		Active:           model.Active,
		MessageTemplate:  model.MessageTemplate,
		RetailMultiplier: model.RetailMultiplier,
		Category:         model.Category,
	}
}

func mapStockUnit(model StockUnit) (inventory.StockUnit, error) {
	status, err := inventory.ParseUnitStatus(model.Status)
	if err != nil {
		return inventory.StockUnit{}, err
	}
	var payload inventory.Payload
	if len(model.Payload) > 0 {
		if err := json.Unmarshal(model.Payload, &payload); err != nil {
			return inventory.StockUnit{}, fmt.Errorf("%w: %v", inventory.ErrInvalidPayload, err)
		}
	}
	unit := inventory.StockUnit{
		ID:        model.ID,
		ProductID: model.ProductID,
		Payload:   payload,
		Status:    status,
	}
	if model.SoldToAccountID != nil {
		soldTo := *model.SoldToAccountID
		unit.SoldToAccount = &soldTo
	}
	if model.SoldAt != nil {
		soldAt := model.SoldAt.Unix()
		unit.SoldAtUnixUTC = &soldAt
	}
	return unit, nil
}
