package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

type accountPayload struct {
	ID                  int64  `json:"id"`
	ExternalID          string `json:"external_id"`
	DisplayName         string `json:"display_name"`
	BalanceSatang       int64  `json:"balance_satang"`
	CreditLimitSatang   int64  `json:"credit_limit_satang"`
	LifetimeSpendSatang int64  `json:"lifetime_spend_satang"`
	IsAdmin             bool   `json:"is_admin"`
}

func (server *Server) handleListUsers(ginContext *gin.Context) {
	limit := queryInt(ginContext, "limit", 50)
	offset := queryInt(ginContext, "offset", 0)
	accounts, err := server.operators.Accounts(ginContext.Request.Context(), limit, offset)
	if err != nil {
		server.logger.Error("user listing failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	payloads := make([]accountPayload, 0, len(accounts))
	for _, account := range accounts {
		payloads = append(payloads, mapAccountPayload(account))
	}
	ginContext.JSON(http.StatusOK, gin.H{"users": payloads})
}

type minimumCreditRequest struct {
	CreditLimitSatang int64 `json:"credit_limit_satang"`
}

// handleMinimumCredit raises a user's credit limit to the requested value.
// The limit never moves down, so a target at or below the current limit is
// rejected.
func (server *Server) handleMinimumCredit(ginContext *gin.Context) {
	accountID, ok := pathID(ginContext)
	if !ok {
		return
	}
	var request minimumCreditRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	account, err := server.accounts.GetAccount(ginContext.Request.Context(), accountID)
	if errors.Is(err, wallet.ErrAccountNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such user"))
		return
	}
	if err != nil {
		server.logger.Error("account lookup failed", zap.Int64("account_id", accountID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "update failed"))
		return
	}
	target := wallet.Satang(request.CreditLimitSatang)
	if target <= account.CreditLimit {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input",
			fmt.Sprintf("credit limit can only be raised; current limit is %d satang", account.CreditLimit)))
		return
	}
	newLimit, err := server.accounts.RaiseCreditLimit(ginContext.Request.Context(), accountID, target-account.CreditLimit)
	if err != nil {
		server.logger.Error("credit limit raise failed", zap.Int64("account_id", accountID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "update failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"credit_limit_satang": int64(newLimit)})
}

type setUserAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

func (server *Server) handleSetUserAdmin(ginContext *gin.Context) {
	accountID, ok := pathID(ginContext)
	if !ok {
		return
	}
	var request setUserAdminRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	err := server.operators.SetAccountAdmin(ginContext.Request.Context(), accountID, request.IsAdmin)
	if errors.Is(err, wallet.ErrAccountNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such user"))
		return
	}
	if err != nil {
		server.logger.Error("user admin flag update failed", zap.Int64("account_id", accountID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "update failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type slipPayload struct {
	ID              int64  `json:"id"`
	AccountID       int64  `json:"account_id"`
	TransRef        string `json:"trans_ref"`
	AmountSatang    int64  `json:"amount_satang"`
	SenderName      string `json:"sender_name"`
	ReceiverName    string `json:"receiver_name"`
	SendingBank     string `json:"sending_bank"`
	ReceivingBank   string `json:"receiving_bank"`
	TransAtUnixUTC  int64  `json:"trans_at_unix_utc"`
	Status          string `json:"status"`
	ImageURL        string `json:"image_url"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
}

func (server *Server) handlePendingSlips(ginContext *gin.Context) {
	limit := queryInt(ginContext, "limit", 50)
	records, err := server.slips.Pending(ginContext.Request.Context(), limit)
	if err != nil {
		server.logger.Error("pending slip listing failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"slips": mapSlipPayloads(records)})
}

func (server *Server) handleApproveSlip(ginContext *gin.Context) {
	slipID, ok := pathID(ginContext)
	if !ok {
		return
	}
	claims := getClaims(ginContext)
	if claims == nil {
		ginContext.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	record, entry, err := server.slips.Approve(ginContext.Request.Context(), slipID, claims.OperatorID)
	if errors.Is(err, slip.ErrSlipNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such slip"))
		return
	}
	if errors.Is(err, slip.ErrAlreadyProcessed) {
		ginContext.JSON(http.StatusConflict, errorResponse("conflict", "slip already decided"))
		return
	}
	if errors.Is(err, slip.ErrNoAttestedAmount) {
		ginContext.JSON(http.StatusConflict, errorResponse("no_attested_amount", "slip carries no amount to credit"))
		return
	}
	if err != nil {
		server.logger.Error("slip approval failed", zap.Int64("slip_id", slipID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "approval failed"))
		return
	}
	server.notifyTopup(ginContext, record, entry)
	ginContext.JSON(http.StatusOK, gin.H{
		"slip":                 mapSlipPayload(record),
		"balance_after_satang": int64(entry.BalanceAfter),
	})
}

type rejectSlipRequest struct {
	Reason string `json:"reason"`
}

func (server *Server) handleRejectSlip(ginContext *gin.Context) {
	slipID, ok := pathID(ginContext)
	if !ok {
		return
	}
	claims := getClaims(ginContext)
	if claims == nil {
		ginContext.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request rejectSlipRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	record, err := server.slips.Reject(ginContext.Request.Context(), slipID, claims.OperatorID, request.Reason)
	if errors.Is(err, slip.ErrSlipNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such slip"))
		return
	}
	if errors.Is(err, slip.ErrAlreadyProcessed) {
		ginContext.JSON(http.StatusConflict, errorResponse("conflict", "slip already decided"))
		return
	}
	if err != nil {
		server.logger.Error("slip rejection failed", zap.Int64("slip_id", slipID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "rejection failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"slip": mapSlipPayload(record)})
}

// notifyTopup pushes a LINE message to the credited user. Best effort; the
// approval is already committed.
func (server *Server) notifyTopup(ginContext *gin.Context, record slip.Record, entry wallet.Entry) {
	if server.notifier == nil {
		return
	}
	account, err := server.accounts.GetAccount(ginContext.Request.Context(), record.AccountID)
	if err != nil {
		server.logger.Warn("topup notification skipped: account lookup failed",
			zap.Int64("account_id", record.AccountID), zap.Error(err))
		return
	}
	message := lineapi.TextMessage(fmt.Sprintf("Your top-up of %s was approved. New balance: %s",
		wallet.FormatBaht(record.Amount), wallet.FormatBaht(entry.BalanceAfter)))
	if err := server.notifier.PushMessage(ginContext.Request.Context(), account.ExternalID, message); err != nil {
		server.logger.Warn("topup notification push failed",
			zap.String("external_id", account.ExternalID), zap.Error(err))
	}
}

func (server *Server) handleListTopups(ginContext *gin.Context) {
	limit := queryInt(ginContext, "limit", 50)
	offset := queryInt(ginContext, "offset", 0)
	records, err := server.operators.Topups(ginContext.Request.Context(), limit, offset)
	if err != nil {
		server.logger.Error("topup listing failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"topups": mapSlipPayloads(records)})
}

type entryPayload struct {
	ID                 int64  `json:"id"`
	AccountID          int64  `json:"account_id"`
	Type               string `json:"type"`
	AmountSatang       int64  `json:"amount_satang"`
	BalanceAfterSatang int64  `json:"balance_after_satang"`
	ProductID          *int64 `json:"product_id,omitempty"`
	StockUnitID        *int64 `json:"stock_unit_id,omitempty"`
	Description        string `json:"description"`
	CreatedUnixUTC     int64  `json:"created_unix_utc"`
}

func (server *Server) handleListTransactions(ginContext *gin.Context) {
	limit := queryInt(ginContext, "limit", 50)
	offset := queryInt(ginContext, "offset", 0)
	entries, err := server.operators.Transactions(ginContext.Request.Context(), limit, offset)
	if err != nil {
		server.logger.Error("transaction listing failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, entryPayload{
			ID:                 entry.ID,
			AccountID:          entry.AccountID,
			Type:               entry.Type.String(),
			AmountSatang:       int64(entry.Amount),
			BalanceAfterSatang: int64(entry.BalanceAfter),
			ProductID:          entry.ProductID,
			StockUnitID:        entry.StockUnitID,
			Description:        entry.Description,
			CreatedUnixUTC:     entry.CreatedUnixUTC,
		})
	}
	ginContext.JSON(http.StatusOK, gin.H{"transactions": payloads})
}

type generateTokenRequest struct {
	CreditSatang     int64 `json:"credit_satang"`
	LimitBonusSatang int64 `json:"limit_bonus_satang"`
	ExpiryDays       int   `json:"expiry_days"`
}

func (server *Server) handleGenerateToken(ginContext *gin.Context) {
	claims := getClaims(ginContext)
	if claims == nil {
		ginContext.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request generateTokenRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.ExpiryDays <= 0 {
		request.ExpiryDays = 7
	}
	issued, err := server.tokens.Generate(ginContext.Request.Context(), claims.OperatorID,
		wallet.Satang(request.CreditSatang), wallet.Satang(request.LimitBonusSatang),
		time.Duration(request.ExpiryDays)*24*time.Hour)
	if errors.Is(err, token.ErrInvalidGrant) {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input", err.Error()))
		return
	}
	if err != nil {
		server.logger.Error("token generation failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "generation failed"))
		return
	}
	ginContext.JSON(http.StatusCreated, gin.H{"token": gin.H{
		"code":               issued.Code,
		"credit_satang":      int64(issued.CreditAmount),
		"limit_bonus_satang": int64(issued.LimitBonus),
		"expires_unix_utc":   issued.ExpiresUnixUTC,
	}})
}

func mapAccountPayload(account wallet.Account) accountPayload {
	return accountPayload{
		ID:                  account.ID,
		ExternalID:          account.ExternalID,
		DisplayName:         account.DisplayName,
		BalanceSatang:       int64(account.Balance),
		CreditLimitSatang:   int64(account.CreditLimit),
		LifetimeSpendSatang: int64(account.LifetimeSpend),
		IsAdmin:             account.IsAdmin,
	}
}

func mapSlipPayload(record slip.Record) slipPayload {
	return slipPayload{
		ID:              record.ID,
		AccountID:       record.AccountID,
		TransRef:        record.TransRef,
		AmountSatang:    int64(record.Amount),
		SenderName:      record.SenderName,
		ReceiverName:    record.ReceiverName,
		SendingBank:     record.SendingBank,
		ReceivingBank:   record.ReceivingBank,
		TransAtUnixUTC:  record.TransAtUnixUTC,
		Status:          record.Status.String(),
		ImageURL:        record.ImageURL,
		RejectionReason: record.RejectionReason,
		CreatedUnixUTC:  record.CreatedUnixUTC,
	}
}

func mapSlipPayloads(records []slip.Record) []slipPayload {
	payloads := make([]slipPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, mapSlipPayload(record))
	}
	return payloads
}
