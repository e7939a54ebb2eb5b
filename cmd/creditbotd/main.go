package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/adminapi"
	"github.com/pranakorn/creditbot/internal/blobstore"
	"github.com/pranakorn/creditbot/internal/bot"
	"github.com/pranakorn/creditbot/internal/config"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/purchase"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/slipverify"
	"github.com/pranakorn/creditbot/internal/store/gormstore"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

const (
	flagListenAddr  = "listen-addr"
	flagDatabaseURL = "database-url"
)

// Default spend tiers: 100 baht lifetime spend grants a 50 baht limit,
// 200 baht grants 200 baht.
var defaultTiers = []wallet.Tier{
	{MinSpend: 100_00, CreditLimitGrant: 50_00},
	{MinSpend: 200_00, CreditLimitGrant: 200_00},
}

func main() {
	command := newRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditbotd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	command := &cobra.Command{
		Use:           "creditbotd",
		Short:         "LINE credit-commerce bot daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(command *cobra.Command, args []string) error {
			return loadConfig(command, cfg)
		},
		RunE: func(command *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	command.Flags().String(flagListenAddr, "", "HTTP listen address")
	command.Flags().String(flagDatabaseURL, "", "database connection string (postgres:// or sqlite path)")
	return command
}

func loadConfig(command *cobra.Command, cfg *config.Config) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		"listen_addr":          "LISTEN_ADDR",
		"database_url":         "DATABASE_URL",
		"line_channel_secret":  "LINE_CHANNEL_SECRET",
		"line_channel_token":   "LINE_CHANNEL_TOKEN",
		"slip_oracle_endpoint": "SLIP_ORACLE_ENDPOINT",
		"slip_oracle_api_key":  "SLIP_ORACLE_API_KEY",
		"blob_endpoint":        "BLOB_ENDPOINT",
		"blob_bucket":          "BLOB_BUCKET",
		"blob_region":          "BLOB_REGION",
		"blob_access_key":      "BLOB_ACCESS_KEY",
		"blob_secret_key":      "BLOB_SECRET_KEY",
		"blob_public_base":     "BLOB_PUBLIC_BASE",
		"allowed_origins":      "ALLOWED_ORIGINS",
		"session_signing_key":  "SESSION_SIGNING_KEY",
		"group_setup_token":    "GROUP_SETUP_TOKEN",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	if err := viper.BindPFlag("listen_addr", command.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag("database_url", command.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}

	cfg.ListenAddr = viper.GetString("listen_addr")
	cfg.DatabaseURL = viper.GetString("database_url")
	cfg.LineChannelSecret = viper.GetString("line_channel_secret")
	cfg.LineChannelToken = viper.GetString("line_channel_token")
	cfg.SlipOracleEndpoint = viper.GetString("slip_oracle_endpoint")
	cfg.SlipOracleAPIKey = viper.GetString("slip_oracle_api_key")
	cfg.BlobEndpoint = viper.GetString("blob_endpoint")
	cfg.BlobBucket = viper.GetString("blob_bucket")
	cfg.BlobRegion = viper.GetString("blob_region")
	cfg.BlobAccessKey = viper.GetString("blob_access_key")
	cfg.BlobSecretKey = viper.GetString("blob_secret_key")
	cfg.BlobPublicBase = viper.GetString("blob_public_base")
	cfg.AllowedOrigins = config.ParseAllowedOrigins(viper.GetString("allowed_origins"))
	cfg.SessionSigningKey = viper.GetString("session_signing_key")
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(db, driver); err != nil {
		return err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }

	walletService, err := wallet.NewService(gormstore.NewWalletStore(db), clock,
		wallet.WithOperationLogger(operationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}
	inventoryService, err := inventory.NewService(gormstore.NewInventoryStore(db), clock)
	if err != nil {
		return fmt.Errorf("inventory service init: %w", err)
	}
	purchaseOrchestrator, err := purchase.New(walletService, inventoryService, logger)
	if err != nil {
		return fmt.Errorf("purchase orchestrator init: %w", err)
	}
	verifier, err := slipverify.NewClient(cfg.SlipOracleEndpoint, cfg.SlipOracleAPIKey)
	if err != nil {
		return fmt.Errorf("slip verifier init: %w", err)
	}
	slipService, err := slip.NewService(gormstore.NewSlipStore(db), walletService, verifier, cfg.SlipStaleness, clock, logger)
	if err != nil {
		return fmt.Errorf("slip service init: %w", err)
	}
	tokenService, err := token.NewService(gormstore.NewTokenStore(db), walletService, clock, logger)
	if err != nil {
		return fmt.Errorf("token service init: %w", err)
	}
	adminService, err := admin.NewService(gormstore.NewAdminStore(db))
	if err != nil {
		return fmt.Errorf("admin service init: %w", err)
	}
	if err := adminService.SeedTiers(ctx, defaultTiers); err != nil {
		return fmt.Errorf("tier seeding: %w", err)
	}

	lineClient, err := lineapi.NewClient(cfg.LineChannelToken)
	if err != nil {
		return fmt.Errorf("line client init: %w", err)
	}

	var archiver bot.ImageArchiver
	if cfg.BlobConfigured() {
		uploader, err := blobstore.NewUploader(blobstore.Config{
			Endpoint:   cfg.BlobEndpoint,
			Bucket:     cfg.BlobBucket,
			Region:     cfg.BlobRegion,
			AccessKey:  cfg.BlobAccessKey,
			SecretKey:  cfg.BlobSecretKey,
			PublicBase: cfg.BlobPublicBase,
		})
		if err != nil {
			return fmt.Errorf("blob uploader init: %w", err)
		}
		archiver = uploader
	} else {
		logger.Info("blob storage not configured; slip images will not be archived")
	}

	setupToken := viper.GetString("group_setup_token")
	if setupToken == "" {
		setupToken = uuid.NewString()
		logger.Info("generated admin group setup token", zap.String("setup_token", setupToken))
	}

	router, err := bot.NewRouter(bot.RouterConfig{
		Messenger:    lineClient,
		Accounts:     walletService,
		Catalog:      inventoryService,
		Purchaser:    purchaseOrchestrator,
		Slips:        slipService,
		Tokens:       tokenService,
		Settings:     adminService,
		Archiver:     archiver,
		Logger:       logger,
		SetupToken:   setupToken,
		HistoryLimit: cfg.HistoryLimit,
	})
	if err != nil {
		return fmt.Errorf("bot router init: %w", err)
	}
	go router.RunSweepers(ctx)

	apiServer, err := adminapi.NewServer(adminapi.Config{
		Operators:         adminService,
		Accounts:          walletService,
		Stock:             inventoryService,
		Slips:             slipService,
		Tokens:            tokenService,
		Notifier:          lineClient,
		Logger:            logger,
		SessionSigningKey: []byte(cfg.SessionSigningKey),
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
		SessionLifetime:   cfg.SessionLifetime,
	})
	if err != nil {
		return fmt.Errorf("admin api init: %w", err)
	}

	engine := apiServer.Router(cfg.AllowedOrigins)
	webhook, err := bot.NewWebhook(router, cfg.LineChannelSecret, logger)
	if err != nil {
		return fmt.Errorf("webhook init: %w", err)
	}
	webhook.Register(engine)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("creditbotd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}
}

// operationLogger adapts zap to the wallet service's operation callback.
type operationLogger struct {
	logger *zap.Logger
}

func (adapter operationLogger) LogOperation(ctx context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("account_id", entry.AccountID),
		zap.Int64("amount_satang", int64(entry.Amount)),
		zap.String("status", entry.Status),
	}
	if entry.ExternalID != "" {
		fields = append(fields, zap.String("external_id", entry.ExternalID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	adapter.logger.Info("wallet operation", fields...)
}
