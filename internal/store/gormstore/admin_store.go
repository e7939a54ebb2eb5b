package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// AdminStore implements admin.Store using GORM.
type AdminStore struct {
	db *gorm.DB
}

// NewAdminStore returns an AdminStore backed by gorm.DB.
func NewAdminStore(db *gorm.DB) *AdminStore {
	return &AdminStore{db: db}
}

func (store *AdminStore) FindOperatorByEmail(ctx context.Context, email string) (admin.Operator, error) {
	var model Admin
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return admin.Operator{}, admin.ErrOperatorNotFound
	}
	if err != nil {
		return admin.Operator{}, fmt.Errorf("find operator: %w", err)
	}
	return mapOperator(model), nil
}

func (store *AdminStore) GetOperator(ctx context.Context, operatorID int64) (admin.Operator, error) {
	var model Admin
	err := store.db.WithContext(ctx).Take(&model, operatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return admin.Operator{}, admin.ErrOperatorNotFound
	}
	if err != nil {
		return admin.Operator{}, fmt.Errorf("get operator: %w", err)
	}
	return mapOperator(model), nil
}

func (store *AdminStore) CreateOperator(ctx context.Context, email string, name string, passwordHash string) (admin.Operator, error) {
	model := Admin{
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return admin.Operator{}, admin.ErrOperatorExists
	}
	if err != nil {
		return admin.Operator{}, fmt.Errorf("create operator: %w", err)
	}
	return mapOperator(model), nil
}

func (store *AdminStore) UpdateOperatorPassword(ctx context.Context, operatorID int64, passwordHash string) error {
	result := store.db.WithContext(ctx).
		Model(&Admin{}).
		Where("id = ?", operatorID).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return fmt.Errorf("update operator password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return admin.ErrOperatorNotFound
	}
	return nil
}

func (store *AdminStore) ListOperators(ctx context.Context) ([]admin.Operator, error) {
	var rows []Admin
	if err := store.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	operators := make([]admin.Operator, 0, len(rows))
	for _, row := range rows {
		operators = append(operators, mapOperator(row))
	}
	return operators, nil
}

func (store *AdminStore) DeleteOperator(ctx context.Context, operatorID int64) error {
	result := store.db.WithContext(ctx).Delete(&Admin{}, operatorID)
	if result.Error != nil {
		return fmt.Errorf("delete operator: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return admin.ErrOperatorNotFound
	}
	return nil
}

func (store *AdminStore) CreateProduct(ctx context.Context, input admin.ProductInput) (inventory.Product, error) {
	now := time.Now().UTC()
	model := Product{
		Name:             input.Name,
		Price:            int64(input.Price),
		Description:      input.Description,
		Active:           input.Active,
		MessageTemplate:  input.MessageTemplate,
		RetailMultiplier: input.RetailMultiplier,
		Category:         input.Category,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return inventory.Product{}, fmt.Errorf("create product: %w", err)
	}
	return mapProduct(model), nil
}

func (store *AdminStore) UpdateProduct(ctx context.Context, productID int64, input admin.ProductInput) (inventory.Product, error) {
	result := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"name":              input.Name,
			"price":             int64(input.Price),
			"description":       input.Description,
			"active":            input.Active,
			"message_template":  input.MessageTemplate,
			"retail_multiplier": input.RetailMultiplier,
			"category":          input.Category,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return inventory.Product{}, fmt.Errorf("update product: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	var model Product
	if err := store.db.WithContext(ctx).Take(&model, productID).Error; err != nil {
		return inventory.Product{}, fmt.Errorf("update product: %w", err)
	}
	return mapProduct(model), nil
}

func (store *AdminStore) DeactivateProduct(ctx context.Context, productID int64) error {
	result := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("deactivate product: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (store *AdminStore) ListProducts(ctx context.Context, includeInactive bool) ([]inventory.Product, error) {
	query := store.db.WithContext(ctx).Order("id ASC")
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	var rows []Product
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products := make([]inventory.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, mapProduct(row))
	}
	return products, nil
}

func (store *AdminStore) AddShortCode(ctx context.Context, productID int64, code string) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return fmt.Errorf("add short code: %w", err)
	}
	if count == 0 {
		return inventory.ErrProductNotFound
	}
	model := ProductShortCode{ProductID: productID, Code: code, CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: short code taken", admin.ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("add short code: %w", err)
	}
	return nil
}

func (store *AdminStore) RemoveShortCode(ctx context.Context, code string) error {
	result := store.db.WithContext(ctx).Where("code = ?", code).Delete(&ProductShortCode{})
	if result.Error != nil {
		return fmt.Errorf("remove short code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: unknown short code", admin.ErrInvalidInput)
	}
	return nil
}

func (store *AdminStore) ListShortCodes(ctx context.Context, productID int64) ([]string, error) {
	var rows []ProductShortCode
	err := store.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("code ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list short codes: %w", err)
	}
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row.Code)
	}
	return codes, nil
}

func (store *AdminStore) ListStockUnits(ctx context.Context, productID int64) ([]inventory.StockUnit, error) {
	var rows []StockUnit
	err := store.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list stock units: %w", err)
	}
	units := make([]inventory.StockUnit, 0, len(rows))
	for _, row := range rows {
		unit, err := mapStockUnit(row)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

// DeleteAvailableUnit removes an unsold unit. Sold units stay for the audit
// trail, so the status guard refuses them.
func (store *AdminStore) DeleteAvailableUnit(ctx context.Context, unitID int64) error {
	result := store.db.WithContext(ctx).
		Where("id = ? AND status = ?", unitID, inventory.UnitAvailable.String()).
		Delete(&StockUnit{})
	if result.Error != nil {
		return fmt.Errorf("delete unit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var model StockUnit
		err := store.db.WithContext(ctx).Take(&model, unitID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return inventory.ErrUnitNotFound
		}
		if err != nil {
			return fmt.Errorf("delete unit: %w", err)
		}
		return inventory.ErrUnitNotReleasable
	}
	return nil
}

func (store *AdminStore) ListAccounts(ctx context.Context, limit int, offset int) ([]wallet.Account, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]wallet.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, mapAccount(row))
	}
	return accounts, nil
}

func (store *AdminStore) SetAccountAdmin(ctx context.Context, accountID int64, isAdmin bool) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"is_admin":   isAdmin,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("set account admin: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return wallet.ErrAccountNotFound
	}
	return nil
}

func (store *AdminStore) ListTransactions(ctx context.Context, limit int, offset int) ([]wallet.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
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

func (store *AdminStore) ListTopups(ctx context.Context, limit int, offset int) ([]slip.Record, error) {
	var rows []Slip
	err := store.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list topups: %w", err)
	}
	records := make([]slip.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, mapSlip(row))
	}
	return records, nil
}

func (store *AdminStore) GetSetting(ctx context.Context, key string) (string, error) {
	var model Setting
	err := store.db.WithContext(ctx).Where("key = ?", key).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", admin.ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return model.Value, nil
}

func (store *AdminStore) SetSetting(ctx context.Context, key string, value string) error {
	model := Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).Save(&model).Error
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// SeedTiers installs the default spend tiers once; an already-populated table
// is left untouched.
func (store *AdminStore) SeedTiers(ctx context.Context, tiers []wallet.Tier) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(&CreditTier{}).Count(&count).Error; err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}
	if count > 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]CreditTier, 0, len(tiers))
	for _, tier := range tiers {
		rows = append(rows, CreditTier{
			MinSpend:    int64(tier.MinSpend),
			CreditGrant: int64(tier.CreditLimitGrant),
			Active:      true,
			CreatedAt:   now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := store.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}
	return nil
}

func mapOperator(model Admin) admin.Operator {
	return admin.Operator{
		ID:           model.ID,
		Email:        model.Email,
		Name:         model.Name,
		PasswordHash: model.PasswordHash,
	}
}
