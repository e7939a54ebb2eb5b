// Package adminapi serves the dashboard REST API: operator sessions, catalog
// and stock management, users, slips, top-ups, and transactions.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// Operators is the slice of the admin service for sessions and management.
type Operators interface {
	Authenticate(ctx context.Context, email string, password string) (admin.Operator, error)
	CreateOperator(ctx context.Context, email string, name string, password string) (admin.Operator, error)
	Operators(ctx context.Context) ([]admin.Operator, error)
	DeleteOperator(ctx context.Context, operatorID int64) error

	CreateProduct(ctx context.Context, input admin.ProductInput) (inventory.Product, error)
	UpdateProduct(ctx context.Context, productID int64, input admin.ProductInput) (inventory.Product, error)
	DeactivateProduct(ctx context.Context, productID int64) error
	Products(ctx context.Context, includeInactive bool) ([]inventory.Product, error)
	AddShortCode(ctx context.Context, productID int64, code string) error
	RemoveShortCode(ctx context.Context, code string) error
	ShortCodes(ctx context.Context, productID int64) ([]string, error)
	StockUnits(ctx context.Context, productID int64) ([]inventory.StockUnit, error)
	DeleteAvailableUnit(ctx context.Context, unitID int64) error

	Accounts(ctx context.Context, limit int, offset int) ([]wallet.Account, error)
	SetAccountAdmin(ctx context.Context, accountID int64, isAdmin bool) error
	Transactions(ctx context.Context, limit int, offset int) ([]wallet.Entry, error)
	Topups(ctx context.Context, limit int, offset int) ([]slip.Record, error)
}

// CreditAccounts is the slice of the wallet service the dashboard needs.
type CreditAccounts interface {
	GetAccount(ctx context.Context, accountID int64) (wallet.Account, error)
	RaiseCreditLimit(ctx context.Context, accountID int64, delta wallet.Satang) (wallet.Satang, error)
}

// StockLoader loads inventory and repairs counts.
type StockLoader interface {
	BulkLoad(ctx context.Context, productID int64, records []inventory.Payload, duplicateFactor int) ([]inventory.StockUnit, error)
	Recount(ctx context.Context, productID int64) (int, error)
}

// SlipDecisions drives pending slip review.
type SlipDecisions interface {
	Pending(ctx context.Context, limit int) ([]slip.Record, error)
	Approve(ctx context.Context, slipID int64, adminID int64) (slip.Record, wallet.Entry, error)
	Reject(ctx context.Context, slipID int64, adminID int64, reason string) (slip.Record, error)
}

// TokenIssuer issues credit tokens from the dashboard.
type TokenIssuer interface {
	Generate(ctx context.Context, createdByAdmin int64, credit wallet.Satang, limitBonus wallet.Satang, ttl time.Duration) (token.Token, error)
}

// Notifier pushes LINE messages after dashboard decisions. Optional.
type Notifier interface {
	PushMessage(ctx context.Context, to string, messages ...lineapi.Message) error
}

// Config carries the server dependencies and settings.
type Config struct {
	Operators Operators
	Accounts  CreditAccounts
	Stock     StockLoader
	Slips     SlipDecisions
	Tokens    TokenIssuer
	Notifier  Notifier
	Logger    *zap.Logger

	AllowedOrigins    []string
	SessionSigningKey []byte
	SessionIssuer     string
	SessionCookieName string
	SessionLifetime   time.Duration
}

// Server is the dashboard HTTP API.
type Server struct {
	operators Operators
	accounts  CreditAccounts
	stock     StockLoader
	slips     SlipDecisions
	tokens    TokenIssuer
	notifier  Notifier
	sessions  *sessionManager
	logger    *zap.Logger
}

// NewServer wires a Server. Notifier may be nil.
func NewServer(config Config) (*Server, error) {
	if config.Operators == nil {
		return nil, errors.New("operators service is required")
	}
	if config.Accounts == nil {
		return nil, errors.New("accounts service is required")
	}
	if config.Stock == nil {
		return nil, errors.New("stock service is required")
	}
	if config.Slips == nil {
		return nil, errors.New("slips service is required")
	}
	if config.Tokens == nil {
		return nil, errors.New("tokens service is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	sessions, err := newSessionManager(config.SessionSigningKey, config.SessionIssuer, config.SessionCookieName, config.SessionLifetime)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}
	return &Server{
		operators: config.Operators,
		accounts:  config.Accounts,
		stock:     config.Stock,
		slips:     config.Slips,
		tokens:    config.Tokens,
		notifier:  config.Notifier,
		sessions:  sessions,
		logger:    config.Logger,
	}, nil
}

// Router builds the gin engine with all dashboard routes mounted.
func (server *Server) Router(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/healthz", func(ginContext *gin.Context) {
		ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST("/api/login", server.handleLogin)

	api := engine.Group("/api")
	api.Use(server.sessions.middleware())

	api.POST("/logout", server.handleLogout)
	api.GET("/session", server.handleSession)

	api.GET("/products", server.handleListProducts)
	api.POST("/products", server.handleCreateProduct)
	api.PUT("/products/:id", server.handleUpdateProduct)
	api.DELETE("/products/:id", server.handleDeactivateProduct)
	api.GET("/products/:id/shortcodes", server.handleListShortCodes)
	api.POST("/products/:id/shortcodes", server.handleAddShortCode)
	api.DELETE("/shortcodes/:code", server.handleRemoveShortCode)
	api.GET("/products/:id/stock", server.handleListStock)
	api.POST("/products/:id/stock", server.handleLoadStock)
	api.DELETE("/stock/:id", server.handleDeleteStockUnit)

	api.GET("/users", server.handleListUsers)
	api.POST("/users/:id/minimum-credit", server.handleMinimumCredit)
	api.POST("/users/:id/admin", server.handleSetUserAdmin)

	api.GET("/admins", server.handleListAdmins)
	api.POST("/admins", server.handleCreateAdmin)
	api.DELETE("/admins/:id", server.handleDeleteAdmin)

	api.GET("/slips/pending", server.handlePendingSlips)
	api.POST("/slips/:id/approve", server.handleApproveSlip)
	api.POST("/slips/:id/reject", server.handleRejectSlip)

	api.GET("/topups", server.handleListTopups)
	api.GET("/transactions", server.handleListTransactions)

	api.POST("/tokens", server.handleGenerateToken)

	return engine
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
