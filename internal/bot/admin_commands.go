package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// handleAdminText dispatches admin-only commands. Returns false when the
// command is not an admin command so the caller can report it as unknown.
func (router *Router) handleAdminText(ctx context.Context, event lineapi.Event, account wallet.Account, command string, args []string) bool {
	switch command {
	case "give":
		router.handleGive(ctx, event, account, args)
	case "target":
		router.handleTarget(ctx, event, account, args)
	case "grant":
		router.handleGrant(ctx, event, account, args)
	case "confirm":
		router.handleConfirm(ctx, event, account)
	case "ready":
		router.handleReady(ctx, event)
	default:
		return false
	}
	return true
}

// handleGive gifts a product: "give <user id> <product>" or, with a target
// set, "give <product>".
func (router *Router) handleGive(ctx context.Context, event lineapi.Event, adminAccount wallet.Account, args []string) {
	var targetID, reference string
	switch len(args) {
	case 1:
		target, ok := router.targets.Get(adminAccount.ExternalID)
		if !ok {
			router.reply(ctx, event.ReplyToken, "No target set. Usage: give <user id> <product>, or set one with target <user id>.")
			return
		}
		targetID, reference = target.ExternalID, args[0]
	case 2:
		targetID, reference = args[0], args[1]
	default:
		router.reply(ctx, event.ReplyToken, "Usage: give <user id> <product>")
		return
	}

	recipient, err := router.accounts.GetOrCreate(ctx, targetID, targetID)
	if err != nil {
		router.logger.Error("gift recipient lookup failed", zap.String("external_id", targetID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not look up that user.")
		return
	}
	receipt, err := router.purchaser.Gift(ctx, recipient.ID, reference,
		fmt.Sprintf("gift by admin %s", adminAccount.ExternalID))
	switch {
	case errors.Is(err, inventory.ErrProductNotFound):
		router.reply(ctx, event.ReplyToken, "No such product.")
		return
	case errors.Is(err, inventory.ErrStockExhausted):
		router.reply(ctx, event.ReplyToken, "Out of stock.")
		return
	case err != nil:
		router.logger.Error("gift failed", zap.Int64("recipient_id", recipient.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Gift failed.")
		return
	}

	// Best effort: deliver the payload straight to the recipient.
	if err := router.messenger.PushMessage(ctx, recipient.ExternalID,
		lineapi.TextMessage(fmt.Sprintf("You received %s!", receipt.Product.Name)),
		lineapi.TextMessage(receipt.Disclosure),
	); err != nil {
		router.logger.Warn("gift delivery push failed",
			zap.String("recipient", recipient.ExternalID), zap.Error(err))
	}
	router.reply(ctx, event.ReplyToken, fmt.Sprintf("Gave %s to %s. Their balance is now %s.",
		receipt.Product.Name, targetID, wallet.FormatBaht(receipt.NewBalance)))
}

func (router *Router) handleTarget(ctx context.Context, event lineapi.Event, adminAccount wallet.Account, args []string) {
	if len(args) != 1 {
		router.reply(ctx, event.ReplyToken, "Usage: target <user id>")
		return
	}
	router.targets.Put(adminAccount.ExternalID, adminTarget{ExternalID: args[0]})
	router.reply(ctx, event.ReplyToken, fmt.Sprintf("Target set to %s for the next hour.", args[0]))
}

// handleGrant proposes a top-up for the target; "confirm" within five minutes
// applies it.
func (router *Router) handleGrant(ctx context.Context, event lineapi.Event, adminAccount wallet.Account, args []string) {
	if len(args) != 1 {
		router.reply(ctx, event.ReplyToken, "Usage: grant <amount in baht>")
		return
	}
	amount, err := wallet.ParseBaht(args[0])
	if err != nil || amount <= 0 {
		router.reply(ctx, event.ReplyToken, "Amount must be a positive number of baht.")
		return
	}
	target, ok := router.targets.Get(adminAccount.ExternalID)
	if !ok {
		router.reply(ctx, event.ReplyToken, "No target set. Use: target <user id>")
		return
	}
	router.grants.Put(adminAccount.ExternalID, pendingGrant{
		TargetExternalID: target.ExternalID,
		Amount:           amount,
	})
	router.reply(ctx, event.ReplyToken, fmt.Sprintf(
		"Grant %s to %s? Send \"confirm\" within 5 minutes.",
		wallet.FormatBaht(amount), target.ExternalID))
}

func (router *Router) handleConfirm(ctx context.Context, event lineapi.Event, adminAccount wallet.Account) {
	grant, ok := router.grants.Take(adminAccount.ExternalID)
	if !ok {
		router.reply(ctx, event.ReplyToken, "Nothing to confirm; grants expire after 5 minutes.")
		return
	}
	recipient, err := router.accounts.GetOrCreate(ctx, grant.TargetExternalID, grant.TargetExternalID)
	if err != nil {
		router.logger.Error("grant recipient lookup failed", zap.String("external_id", grant.TargetExternalID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not look up that user.")
		return
	}
	entry, err := router.accounts.ApplyDelta(ctx, recipient.ID, grant.Amount, wallet.EntryAdjustment,
		fmt.Sprintf("manual grant by admin %s", adminAccount.ExternalID))
	if err != nil {
		router.logger.Error("grant apply failed", zap.Int64("recipient_id", recipient.ID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Grant failed; nothing was applied.")
		return
	}
	if err := router.messenger.PushMessage(ctx, recipient.ExternalID, lineapi.TextMessage(fmt.Sprintf(
		"You received a credit grant of %s. New balance: %s",
		wallet.FormatBaht(grant.Amount), wallet.FormatBaht(entry.BalanceAfter)))); err != nil {
		router.logger.Warn("grant notification push failed",
			zap.String("recipient", recipient.ExternalID), zap.Error(err))
	}
	router.reply(ctx, event.ReplyToken, fmt.Sprintf("Granted %s to %s.",
		wallet.FormatBaht(grant.Amount), grant.TargetExternalID))
}

// handleReady reports per-product available counts for restocking decisions.
func (router *Router) handleReady(ctx context.Context, event lineapi.Event) {
	products, err := router.settings.Products(ctx, true)
	if err != nil {
		router.logger.Error("readiness report failed", zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not build the report right now.")
		return
	}
	if len(products) == 0 {
		router.reply(ctx, event.ReplyToken, "No products configured.")
		return
	}
	report := "Stock readiness:"
	for _, product := range products {
		marker := ""
		if !product.Active {
			marker = " (inactive)"
		}
		report += fmt.Sprintf("\n#%d %s: %d%s", product.ID, product.Name, product.Stock, marker)
	}
	router.reply(ctx, event.ReplyToken, report)
}

// handleGroupSetup binds the current group as the admin group when the setup
// token matches.
func (router *Router) handleGroupSetup(ctx context.Context, event lineapi.Event, args []string) {
	if event.Source.Type != lineapi.SourceTypeGroup {
		return
	}
	if len(args) != 1 || args[0] != router.setupToken {
		router.reply(ctx, event.ReplyToken, "Setup token does not match.")
		return
	}
	if err := router.settings.SetSetting(ctx, admin.SettingAdminGroupID, event.Source.GroupID); err != nil {
		router.logger.Error("admin group binding failed", zap.String("group_id", event.Source.GroupID), zap.Error(err))
		router.reply(ctx, event.ReplyToken, "Could not bind this group. Try again.")
		return
	}
	router.reply(ctx, event.ReplyToken, "This group now receives admin notifications.")
}
