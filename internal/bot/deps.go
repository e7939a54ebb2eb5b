// Package bot routes LINE webhook events to the domain services: chat
// commands, slip image top-ups, and admin group management.
package bot

import (
	"context"

	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/purchase"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// Messenger is the slice of the LINE client the router uses.
type Messenger interface {
	ReplyMessage(ctx context.Context, replyToken string, messages ...lineapi.Message) error
	PushMessage(ctx context.Context, to string, messages ...lineapi.Message) error
	GetProfile(ctx context.Context, userID string) (lineapi.Profile, error)
	GetMessageContent(ctx context.Context, messageID string) ([]byte, error)
	StartLoading(ctx context.Context, chatID string, seconds int) error
}

// CreditAccounts is the slice of the wallet service the router uses.
type CreditAccounts interface {
	GetOrCreate(ctx context.Context, externalID string, displayName string) (wallet.Account, error)
	ApplyDelta(ctx context.Context, accountID int64, amount wallet.Satang, entryType wallet.EntryType, description string, options ...wallet.DeltaOption) (wallet.Entry, error)
	ListEntries(ctx context.Context, accountID int64, limit int) ([]wallet.Entry, error)
}

// StockCatalog is the slice of the inventory service the router uses.
type StockCatalog interface {
	Resolve(ctx context.Context, reference string) (inventory.Product, error)
	AvailableCount(ctx context.Context, productID int64) (int, error)
}

// Purchaser executes buys and admin gifts.
type Purchaser interface {
	Buy(ctx context.Context, accountID int64, identifier string) (purchase.Receipt, error)
	Gift(ctx context.Context, accountID int64, identifier string, note string) (purchase.Receipt, error)
}

// SlipReconciler processes slip top-ups.
type SlipReconciler interface {
	Submit(ctx context.Context, accountID int64, image []byte, imageURL string) (slip.SubmitResult, error)
}

// TokenRedeemer redeems credit tokens.
type TokenRedeemer interface {
	Redeem(ctx context.Context, accountID int64, code string) (token.Redemption, error)
}

// CatalogReader lists products for chat output.
type CatalogReader interface {
	Products(ctx context.Context, includeInactive bool) ([]inventory.Product, error)
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
}

// ImageArchiver uploads slip images for the audit trail. Optional; a nil
// archiver skips archival.
type ImageArchiver interface {
	UploadSlip(ctx context.Context, image []byte, contentType string) (string, error)
}
