package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// Service wraps the admin store with credential hashing and input checks.
type Service struct {
	store Store
}

// NewService wires a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidDependency)
	}
	return &Service{store: store}, nil
}

// Authenticate checks an operator's password. Both an unknown email and a
// wrong password return ErrBadCredentials so logins cannot probe for emails.
func (service *Service) Authenticate(ctx context.Context, email string, password string) (Operator, error) {
	operator, err := service.store.FindOperatorByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrOperatorNotFound) {
		return Operator{}, ErrBadCredentials
	}
	if err != nil {
		return Operator{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)) != nil {
		return Operator{}, ErrBadCredentials
	}
	operator.PasswordHash = ""
	return operator, nil
}

// CreateOperator registers a new dashboard login with a bcrypt-hashed password.
func (service *Service) CreateOperator(ctx context.Context, email string, name string, password string) (Operator, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Operator{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < 8 {
		return Operator{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Operator{}, err
	}
	operator, err := service.store.CreateOperator(ctx, email, name, string(hash))
	if err != nil {
		return Operator{}, err
	}
	operator.PasswordHash = ""
	return operator, nil
}

// ResetPassword replaces an operator's password.
func (service *Service) ResetPassword(ctx context.Context, email string, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	operator, err := service.store.FindOperatorByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return service.store.UpdateOperatorPassword(ctx, operator.ID, string(hash))
}

// Operator fetches one operator without its password hash.
func (service *Service) Operator(ctx context.Context, operatorID int64) (Operator, error) {
	operator, err := service.store.GetOperator(ctx, operatorID)
	if err != nil {
		return Operator{}, err
	}
	operator.PasswordHash = ""
	return operator, nil
}

// Operators lists dashboard logins without password hashes.
func (service *Service) Operators(ctx context.Context) ([]Operator, error) {
	operators, err := service.store.ListOperators(ctx)
	if err != nil {
		return nil, err
	}
	for index := range operators {
		operators[index].PasswordHash = ""
	}
	return operators, nil
}

// DeleteOperator removes a dashboard login.
func (service *Service) DeleteOperator(ctx context.Context, operatorID int64) error {
	return service.store.DeleteOperator(ctx, operatorID)
}

// CreateProduct validates and stores a new catalog item.
func (service *Service) CreateProduct(ctx context.Context, input ProductInput) (inventory.Product, error) {
	if err := validateProduct(input); err != nil {
		return inventory.Product{}, err
	}
	return service.store.CreateProduct(ctx, input)
}

// UpdateProduct validates and applies catalog changes.
func (service *Service) UpdateProduct(ctx context.Context, productID int64, input ProductInput) (inventory.Product, error) {
	if err := validateProduct(input); err != nil {
		return inventory.Product{}, err
	}
	return service.store.UpdateProduct(ctx, productID, input)
}

// DeactivateProduct hides a product from buyers. Sold ledger rows keep their
// product reference, so products are never hard-deleted.
func (service *Service) DeactivateProduct(ctx context.Context, productID int64) error {
	return service.store.DeactivateProduct(ctx, productID)
}

// Products lists the catalog.
func (service *Service) Products(ctx context.Context, includeInactive bool) ([]inventory.Product, error) {
	return service.store.ListProducts(ctx, includeInactive)
}

// AddShortCode registers a chat alias for a product. Codes are stored
// lowercase so chat lookups are case-insensitive.
func (service *Service) AddShortCode(ctx context.Context, productID int64, code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return fmt.Errorf("%w: empty short code", ErrInvalidInput)
	}
	return service.store.AddShortCode(ctx, productID, code)
}

// RemoveShortCode drops a chat alias.
func (service *Service) RemoveShortCode(ctx context.Context, code string) error {
	return service.store.RemoveShortCode(ctx, strings.ToLower(strings.TrimSpace(code)))
}

// ShortCodes lists the aliases of a product.
func (service *Service) ShortCodes(ctx context.Context, productID int64) ([]string, error) {
	return service.store.ListShortCodes(ctx, productID)
}

// StockUnits lists a product's units, payloads included, for the dashboard.
func (service *Service) StockUnits(ctx context.Context, productID int64) ([]inventory.StockUnit, error) {
	return service.store.ListStockUnits(ctx, productID)
}

// DeleteAvailableUnit removes an unsold unit.
func (service *Service) DeleteAvailableUnit(ctx context.Context, unitID int64) error {
	return service.store.DeleteAvailableUnit(ctx, unitID)
}

// Accounts pages over customer accounts.
func (service *Service) Accounts(ctx context.Context, limit int, offset int) ([]wallet.Account, error) {
	return service.store.ListAccounts(ctx, clampLimit(limit), offset)
}

// SetAccountAdmin flips the chat-admin flag on a customer account.
func (service *Service) SetAccountAdmin(ctx context.Context, accountID int64, isAdmin bool) error {
	return service.store.SetAccountAdmin(ctx, accountID, isAdmin)
}

// Transactions pages over ledger entries across all accounts.
func (service *Service) Transactions(ctx context.Context, limit int, offset int) ([]wallet.Entry, error) {
	return service.store.ListTransactions(ctx, clampLimit(limit), offset)
}

// Topups pages over slip records across all accounts.
func (service *Service) Topups(ctx context.Context, limit int, offset int) ([]slip.Record, error) {
	return service.store.ListTopups(ctx, clampLimit(limit), offset)
}

// Setting reads a runtime setting; missing keys return empty with no error.
func (service *Service) Setting(ctx context.Context, key string) (string, error) {
	value, err := service.store.GetSetting(ctx, key)
	if errors.Is(err, ErrSettingNotFound) {
		return "", nil
	}
	return value, err
}

// SetSetting writes a runtime setting.
func (service *Service) SetSetting(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty setting key", ErrInvalidInput)
	}
	return service.store.SetSetting(ctx, key, value)
}

// SeedTiers installs the default spend tiers when none exist yet.
func (service *Service) SeedTiers(ctx context.Context, tiers []wallet.Tier) error {
	return service.store.SeedTiers(ctx, tiers)
}

func validateProduct(input ProductInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: empty product name", ErrInvalidInput)
	}
	if input.Price < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidInput)
	}
	if input.RetailMultiplier < 1 {
		return fmt.Errorf("%w: retail multiplier must be at least 1", ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func clampLimit(limit int) int {
	const maxPageSize = 200
	if limit <= 0 {
		return 50
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
