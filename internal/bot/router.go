package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/ephemeral"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// Router dispatches webhook events to the domain services.
type Router struct {
	messenger  Messenger
	accounts   CreditAccounts
	catalog    StockCatalog
	purchaser  Purchaser
	slips      SlipReconciler
	tokens     TokenRedeemer
	settings   CatalogReader
	archiver   ImageArchiver
	logger     *zap.Logger
	setupToken string
	history    int

	grants  *ephemeral.Store[pendingGrant]
	targets *ephemeral.Store[adminTarget]
}

// RouterConfig carries the router collaborators.
type RouterConfig struct {
	Messenger    Messenger
	Accounts     CreditAccounts
	Catalog      StockCatalog
	Purchaser    Purchaser
	Slips        SlipReconciler
	Tokens       TokenRedeemer
	Settings     CatalogReader
	Archiver     ImageArchiver
	Logger       *zap.Logger
	SetupToken   string
	HistoryLimit int
}

// ErrInvalidDependency reports a missing collaborator at construction.
var ErrInvalidDependency = errors.New("invalid bot dependency")

// NewRouter wires a Router. Archiver may be nil.
func NewRouter(config RouterConfig) (*Router, error) {
	if config.Messenger == nil {
		return nil, fmt.Errorf("%w: messenger is nil", ErrInvalidDependency)
	}
	if config.Accounts == nil {
		return nil, fmt.Errorf("%w: accounts is nil", ErrInvalidDependency)
	}
	if config.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog is nil", ErrInvalidDependency)
	}
	if config.Purchaser == nil {
		return nil, fmt.Errorf("%w: purchaser is nil", ErrInvalidDependency)
	}
	if config.Slips == nil {
		return nil, fmt.Errorf("%w: slips is nil", ErrInvalidDependency)
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("%w: tokens is nil", ErrInvalidDependency)
	}
	if config.Settings == nil {
		return nil, fmt.Errorf("%w: settings is nil", ErrInvalidDependency)
	}
	if config.SetupToken == "" {
		return nil, fmt.Errorf("%w: setup token is empty", ErrInvalidDependency)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 10
	}
	return &Router{
		messenger:  config.Messenger,
		accounts:   config.Accounts,
		catalog:    config.Catalog,
		purchaser:  config.Purchaser,
		slips:      config.Slips,
		tokens:     config.Tokens,
		settings:   config.Settings,
		archiver:   config.Archiver,
		logger:     config.Logger,
		setupToken: config.SetupToken,
		history:    config.HistoryLimit,
		grants:     ephemeral.NewStore[pendingGrant](pendingGrantTTL),
		targets:    ephemeral.NewStore[adminTarget](adminTargetTTL),
	}, nil
}

// RunSweepers expires stale conversational state until ctx is done.
func (router *Router) RunSweepers(ctx context.Context) {
	go router.grants.RunSweeper(ctx, sweepInterval)
	router.targets.RunSweeper(ctx, sweepInterval)
}

// HandleEvent processes one webhook event. Errors are replied to the user and
// logged; the webhook itself always succeeds so LINE does not redeliver.
func (router *Router) HandleEvent(ctx context.Context, event lineapi.Event) {
	switch event.Type {
	case lineapi.EventTypeMessage:
		router.handleMessage(ctx, event)
	case lineapi.EventTypeFollow:
		router.handleFollow(ctx, event)
	case lineapi.EventTypeJoin:
		router.reply(ctx, event.ReplyToken,
			"Hello! An admin can bind this group with: setup <token>")
	}
}

func (router *Router) handleMessage(ctx context.Context, event lineapi.Event) {
	if event.Message == nil || event.Source.UserID == "" {
		return
	}
	account, err := router.resolveAccount(ctx, event.Source.UserID)
	if err != nil {
		router.logger.Error("account resolution failed",
			zap.String("external_id", event.Source.UserID),
			zap.Error(err),
		)
		router.reply(ctx, event.ReplyToken, "Something went wrong. Please try again.")
		return
	}

	switch event.Message.Type {
	case lineapi.MessageTypeText:
		router.handleText(ctx, event, account)
	case lineapi.MessageTypeImage:
		if event.Source.Type != lineapi.SourceTypeUser {
			return
		}
		router.handleSlipImage(ctx, event, account)
	}
}

func (router *Router) handleText(ctx context.Context, event lineapi.Event, account wallet.Account) {
	text := strings.TrimSpace(event.Message.Text)
	if text == "" {
		return
	}
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	// Group chats only react to admin group management.
	if event.Source.Type != lineapi.SourceTypeUser {
		if command == "setup" && account.IsAdmin {
			router.handleGroupSetup(ctx, event, args)
		}
		return
	}

	switch command {
	case "balance":
		router.handleBalance(ctx, event, account)
	case "history":
		router.handleHistory(ctx, event, account)
	case "products":
		router.handleProducts(ctx, event)
	case "stock":
		router.handleStock(ctx, event, args)
	case "buy":
		router.handleBuy(ctx, event, account, args)
	case "load":
		router.handleLoad(ctx, event, account, args)
	case "request":
		router.handleCreditRequest(ctx, event, account)
	case "help":
		router.reply(ctx, event.ReplyToken, helpText(account.IsAdmin))
	default:
		if account.IsAdmin {
			if router.handleAdminText(ctx, event, account, command, args) {
				return
			}
		}
		router.reply(ctx, event.ReplyToken, "Unknown command. Send \"help\" for the command list.")
	}
}

func (router *Router) handleFollow(ctx context.Context, event lineapi.Event) {
	welcome, err := router.settings.Setting(ctx, admin.SettingWelcomeMessage)
	if err != nil || strings.TrimSpace(welcome) == "" {
		welcome = "Welcome! Send \"help\" to see what I can do."
	}
	router.reply(ctx, event.ReplyToken, welcome)
}

func (router *Router) handleBalance(ctx context.Context, event lineapi.Event, account wallet.Account) {
	router.reply(ctx, event.ReplyToken, fmt.Sprintf(
		"Balance: %s\nCredit limit: %s\nAvailable: %s",
		wallet.FormatBaht(account.Balance),
		wallet.FormatBaht(account.CreditLimit),
		wallet.FormatBaht(account.AvailableCredit()),
	))
}

func (router *Router) handleHistory(ctx context.Context, event lineapi.Event, account wallet.Account) {
	entries, err := router.accounts.ListEntries(ctx, account.ID, router.history)
	if err != nil {
		router.logger.Error("history listing failed", zap.Int64("account_id", account.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not load your history right now.")
		return
	}
	if len(entries) == 0 {
		router.reply(ctx, event.ReplyToken, "No transactions yet.")
		return
	}
	var builder strings.Builder
	builder.WriteString("Recent transactions:")
	for _, entry := range entries {
		builder.WriteString(fmt.Sprintf("\n%s %s (balance %s)",
			entry.Type.String(),
			wallet.FormatBaht(entry.Amount),
			wallet.FormatBaht(entry.BalanceAfter),
		))
	}
	router.reply(ctx, event.ReplyToken, builder.String())
}

func (router *Router) handleProducts(ctx context.Context, event lineapi.Event) {
	products, err := router.settings.Products(ctx, false)
	if err != nil {
		router.logger.Error("product listing failed", zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not load products right now.")
		return
	}
	if len(products) == 0 {
		router.reply(ctx, event.ReplyToken, "No products available right now.")
		return
	}
	var builder strings.Builder
	builder.WriteString("Products:")
	for _, product := range products {
		builder.WriteString(fmt.Sprintf("\n#%d %s — %s (%d in stock)",
			product.ID, product.Name, wallet.FormatBaht(product.Price), product.Stock))
	}
	builder.WriteString("\nBuy with: buy <id>")
	router.reply(ctx, event.ReplyToken, builder.String())
}

func (router *Router) handleStock(ctx context.Context, event lineapi.Event, args []string) {
	if len(args) == 0 {
		router.reply(ctx, event.ReplyToken, "Usage: stock <product id or code>")
		return
	}
	product, err := router.catalog.Resolve(ctx, args[0])
	if errors.Is(err, inventory.ErrProductNotFound) {
		router.reply(ctx, event.ReplyToken, "No such product.")
		return
	}
	if err != nil {
		router.logger.Error("stock lookup failed", zap.String("reference", args[0]), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not check stock right now.")
		return
	}
	count, err := router.catalog.AvailableCount(ctx, product.ID)
	if err != nil {
		router.logger.Error("stock count failed", zap.Int64("product_id", product.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not check stock right now.")
		return
	}
	router.reply(ctx, event.ReplyToken, fmt.Sprintf("%s: %d available at %s",
		product.Name, count, wallet.FormatBaht(product.Price)))
}

func (router *Router) handleBuy(ctx context.Context, event lineapi.Event, account wallet.Account, args []string) {
	if len(args) == 0 {
		router.reply(ctx, event.ReplyToken, "Usage: buy <product id or code>")
		return
	}
	_ = router.messenger.StartLoading(ctx, event.Source.ChatID(), 10)
	receipt, err := router.purchaser.Buy(ctx, account.ID, args[0])
	switch {
	case errors.Is(err, inventory.ErrProductNotFound):
		router.reply(ctx, event.ReplyToken, "No such product.")
		return
	case errors.Is(err, inventory.ErrStockExhausted):
		router.reply(ctx, event.ReplyToken, "Out of stock, sorry. Try again later.")
		return
	case errors.Is(err, wallet.ErrInsufficientCredit):
		router.reply(ctx, event.ReplyToken,
			"Not enough credit. Top up with a transfer slip, or send \"request\" to ask for a credit extension.")
		return
	case err != nil:
		router.logger.Error("purchase failed", zap.Int64("account_id", account.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Purchase failed. You were not charged.")
		return
	}
	messages := []lineapi.Message{
		lineapi.TextMessage(fmt.Sprintf("Purchased %s for %s. New balance: %s",
			receipt.Product.Name,
			wallet.FormatBaht(receipt.Product.Price),
			wallet.FormatBaht(receipt.NewBalance))),
		lineapi.TextMessage(receipt.Disclosure),
	}
	if receipt.Spend.LimitRaised {
		messages = append(messages, lineapi.TextMessage(fmt.Sprintf(
			"Your credit limit was raised to %s. Thanks for shopping!",
			wallet.FormatBaht(receipt.Spend.CreditLimit))))
	}
	if err := router.messenger.ReplyMessage(ctx, event.ReplyToken, messages...); err != nil {
		// The sale is committed; push so the buyer still gets the payload.
		router.logger.Error("purchase reply failed, pushing instead",
			zap.Int64("account_id", account.ID), zap.Error(err))
		_ = router.messenger.PushMessage(ctx, event.Source.UserID, messages...)
	}
}

func (router *Router) handleLoad(ctx context.Context, event lineapi.Event, account wallet.Account, args []string) {
	if len(args) == 0 {
		router.reply(ctx, event.ReplyToken, "Usage: load <token code>")
		return
	}
	redemption, err := router.tokens.Redeem(ctx, account.ID, args[0])
	switch {
	case errors.Is(err, token.ErrTokenNotFound):
		router.reply(ctx, event.ReplyToken, "That code is not valid or was already used.")
		return
	case errors.Is(err, token.ErrTokenExpired):
		router.reply(ctx, event.ReplyToken, "That code has expired.")
		return
	case err != nil:
		router.logger.Error("token redemption failed", zap.Int64("account_id", account.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not redeem the code right now. Please try again.")
		return
	}
	parts := []string{}
	if redemption.CreditGranted > 0 {
		parts = append(parts, fmt.Sprintf("credited %s (balance %s)",
			wallet.FormatBaht(redemption.CreditGranted),
			wallet.FormatBaht(redemption.NewBalance)))
	}
	if redemption.LimitGranted > 0 {
		parts = append(parts, fmt.Sprintf("credit limit +%s", wallet.FormatBaht(redemption.LimitGranted)))
	}
	router.reply(ctx, event.ReplyToken, "Code redeemed: "+strings.Join(parts, ", "))
}

func (router *Router) handleCreditRequest(ctx context.Context, event lineapi.Event, account wallet.Account) {
	groupID, err := router.settings.Setting(ctx, admin.SettingAdminGroupID)
	if err != nil || groupID == "" {
		router.reply(ctx, event.ReplyToken, "Credit requests are not available right now.")
		return
	}
	notice := fmt.Sprintf("Credit extension request from %s (id %s)\nBalance %s, limit %s.\nUse: target %s then grant <amount>",
		account.DisplayName, account.ExternalID,
		wallet.FormatBaht(account.Balance), wallet.FormatBaht(account.CreditLimit),
		account.ExternalID)
	if err := router.messenger.PushMessage(ctx, groupID, lineapi.TextMessage(notice)); err != nil {
		router.logger.Error("credit request push failed", zap.Int64("account_id", account.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not send your request right now. Please try again.")
		return
	}
	router.reply(ctx, event.ReplyToken, "Your credit request was sent to the team. You will hear back soon.")
}

func (router *Router) handleSlipImage(ctx context.Context, event lineapi.Event, account wallet.Account) {
	_ = router.messenger.StartLoading(ctx, event.Source.ChatID(), 30)
	image, err := router.messenger.GetMessageContent(ctx, event.Message.ID)
	if err != nil {
		router.logger.Error("slip image download failed", zap.String("message_id", event.Message.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not read your slip image. Please send it again.")
		return
	}

	imageURL := ""
	if router.archiver != nil {
		uploaded, uploadErr := router.archiver.UploadSlip(ctx, image, "image/jpeg")
		if uploadErr != nil {
			// Archival is best effort; verification proceeds without it.
			router.logger.Warn("slip image archival failed", zap.Error(uploadErr))
		} else {
			imageURL = uploaded
		}
	}

	result, err := router.slips.Submit(ctx, account.ID, image, imageURL)
	switch {
	case errors.Is(err, slip.ErrAlreadyProcessed):
		router.reply(ctx, event.ReplyToken, "This slip was already submitted.")
		return
	case errors.Is(err, slip.ErrVerificationFailed):
		router.reply(ctx, event.ReplyToken, "This slip could not be verified: "+rejectionReason(err))
		return
	case err != nil:
		router.logger.Error("slip submission failed", zap.Int64("account_id", account.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Slip processing failed. Please try again in a moment.")
		return
	}

	if !result.Credited {
		router.reply(ctx, event.ReplyToken,
			"Your slip was received and is waiting for review. You will be credited once approved.")
		return
	}
	router.reply(ctx, event.ReplyToken, fmt.Sprintf("Top-up received: %s. New balance: %s",
		wallet.FormatBaht(result.Record.Amount),
		wallet.FormatBaht(result.Entry.BalanceAfter)))
}

func (router *Router) resolveAccount(ctx context.Context, externalID string) (wallet.Account, error) {
	displayName := externalID
	if profile, err := router.messenger.GetProfile(ctx, externalID); err == nil && profile.DisplayName != "" {
		displayName = profile.DisplayName
	}
	return router.accounts.GetOrCreate(ctx, externalID, displayName)
}

func (router *Router) reply(ctx context.Context, replyToken string, text string) {
	if replyToken == "" {
		return
	}
	if err := router.messenger.ReplyMessage(ctx, replyToken, lineapi.TextMessage(text)); err != nil {
		router.logger.Warn("reply failed", zap.Error(err))
	}
}

func rejectionReason(err error) string {
	var rejection slip.VerificationError
	if errors.As(err, &rejection) && rejection.Reason != "" {
		return rejection.Reason
	}
	return "the bank could not confirm the transfer"
}

func helpText(isAdmin bool) string {
	lines := []string{
		"Commands:",
		"balance — your balance and credit",
		"history — recent transactions",
		"products — what is for sale",
		"stock <id> — check availability",
		"buy <id or code> — buy one item",
		"load <code> — redeem a credit code",
		"request — ask for a credit extension",
		"Send a transfer slip image to top up.",
	}
	if isAdmin {
		lines = append(lines,
			"",
			"Admin:",
			"give <user id> <product> — gift an item",
			"target <user id> — set working customer",
			"grant <amount> — propose credit for target",
			"confirm — apply the proposed grant",
			"ready — stock readiness report",
			"setup <token> — bind admin group (in group)",
		)
	}
	return strings.Join(lines, "\n")
}
