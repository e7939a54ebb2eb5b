package slip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/wallet"
)

// DefaultStalenessWindow is how old a slip's bank timestamp may be before the
// top-up is parked for human review instead of auto-credited.
const DefaultStalenessWindow = 2 * time.Hour

// Service reconciles bank-slip top-ups against the credit ledger.
type Service struct {
	store     Store
	accounts  CreditAccounts
	verifier  Verifier
	staleness time.Duration
	nowFn     func() int64
	logger    *zap.Logger
}

// NewService wires a Service. staleness <= 0 selects DefaultStalenessWindow.
func NewService(store Store, accounts CreditAccounts, verifier Verifier, staleness time.Duration, now func() int64, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidDependency)
	}
	if accounts == nil {
		return nil, fmt.Errorf("%w: accounts is nil", ErrInvalidDependency)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier is nil", ErrInvalidDependency)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock is nil", ErrInvalidDependency)
	}
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		accounts:  accounts,
		verifier:  verifier,
		staleness: staleness,
		nowFn:     now,
		logger:    logger,
	}, nil
}

// SubmitResult reports what happened to a submitted slip image.
type SubmitResult struct {
	Record   Record
	Entry    wallet.Entry
	Credited bool
}

// Submit verifies a slip image with the oracle and reconciles it. A fresh,
// genuine slip is credited atomically; a stale one is stored pending for
// human review; a trans ref seen before is rejected with ErrAlreadyProcessed.
// Oracle rejections that still identify the transfer are parked pending so an
// admin can overrule; rejections without a trans ref surface as errors.
func (service *Service) Submit(ctx context.Context, accountID int64, image []byte, imageURL string) (SubmitResult, error) {
	verified, err := service.verifier.VerifyImage(ctx, image)
	if err != nil {
		var rejection VerificationError
		if errors.As(err, &rejection) && rejection.TransRef != "" {
			facts := rejection.Facts
			facts.TransRef = rejection.TransRef
			if facts.Raw == "" {
				facts.Raw = rejection.Reason
			}
			return service.parkPending(ctx, accountID, facts, imageURL,
				fmt.Sprintf("oracle rejection %s: %s", rejection.Code, rejection.Reason))
		}
		return SubmitResult{}, err
	}

	if _, err := service.store.FindByTransRef(ctx, verified.TransRef); err == nil {
		return SubmitResult{}, ErrAlreadyProcessed
	} else if !errors.Is(err, ErrSlipNotFound) {
		return SubmitResult{}, err
	}

	now := service.nowFn()
	if now-verified.TransAtUnixUTC > int64(service.staleness/time.Second) {
		return service.parkPending(ctx, accountID, verified, imageURL, "slip older than staleness window")
	}

	record, err := service.store.Insert(ctx, RecordInput{
		AccountID:            accountID,
		TransRef:             verified.TransRef,
		Amount:               verified.Amount,
		SenderName:           verified.SenderName,
		ReceiverName:         verified.ReceiverName,
		SendingBank:          verified.SendingBank,
		ReceivingBank:        verified.ReceivingBank,
		TransAtUnixUTC:       verified.TransAtUnixUTC,
		Status:               StatusApproved,
		ImageURL:             imageURL,
		VerificationResponse: verified.Raw,
		CreatedUnixUTC:       now,
		VerifiedUnixUTC:      &now,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	entry, err := service.accounts.ApplyDelta(ctx, accountID, verified.Amount, wallet.EntryTopup,
		fmt.Sprintf("topup via slip %s", verified.TransRef))
	if err != nil {
		// The approved record exists but no credit landed. Park it pending so
		// an admin re-drives the credit instead of the user resubmitting.
		service.compensateToPending(ctx, record.ID, "credit apply failed after verification")
		return SubmitResult{}, err
	}

	return SubmitResult{Record: record, Entry: entry, Credited: true}, nil
}

// Approve finalizes a pending slip: exactly one approval wins, and the top-up
// entry is applied with the approval. A record that carries no attested
// amount cannot be credited and fails with ErrNoAttestedAmount.
func (service *Service) Approve(ctx context.Context, slipID int64, adminID int64) (Record, wallet.Entry, error) {
	record, err := service.store.Get(ctx, slipID)
	if err != nil {
		return Record{}, wallet.Entry{}, err
	}
	if record.Status != StatusPending {
		return Record{}, wallet.Entry{}, ErrAlreadyProcessed
	}
	if record.Amount <= 0 {
		return Record{}, wallet.Entry{}, fmt.Errorf("%w: slip %s", ErrNoAttestedAmount, record.TransRef)
	}
	now := service.nowFn()
	if err := service.store.UpdateStatus(ctx, slipID, StatusPending, StatusApproved, &adminID, "", now); err != nil {
		return Record{}, wallet.Entry{}, err
	}
	entry, err := service.accounts.ApplyDelta(ctx, record.AccountID, record.Amount, wallet.EntryTopup,
		fmt.Sprintf("topup via slip %s (admin approved)", record.TransRef))
	if err != nil {
		service.compensateToPending(ctx, slipID, "credit apply failed after approval")
		return Record{}, wallet.Entry{}, err
	}
	record.Status = StatusApproved
	record.ApprovedBy = &adminID
	record.VerifiedUnixUTC = &now
	return record, entry, nil
}

// Reject closes a pending slip without crediting. Exactly one decision wins.
func (service *Service) Reject(ctx context.Context, slipID int64, adminID int64, reason string) (Record, error) {
	record, err := service.store.Get(ctx, slipID)
	if err != nil {
		return Record{}, err
	}
	if record.Status != StatusPending {
		return Record{}, ErrAlreadyProcessed
	}
	if err := service.store.UpdateStatus(ctx, slipID, StatusPending, StatusRejected, &adminID, reason, service.nowFn()); err != nil {
		return Record{}, err
	}
	record.Status = StatusRejected
	record.RejectionReason = reason
	return record, nil
}

// Pending lists slips awaiting a decision.
func (service *Service) Pending(ctx context.Context, limit int) ([]Record, error) {
	return service.store.ListByStatus(ctx, StatusPending, limit)
}

func (service *Service) parkPending(ctx context.Context, accountID int64, verified Verified, imageURL string, reason string) (SubmitResult, error) {
	if _, err := service.store.FindByTransRef(ctx, verified.TransRef); err == nil {
		return SubmitResult{}, ErrAlreadyProcessed
	} else if !errors.Is(err, ErrSlipNotFound) {
		return SubmitResult{}, err
	}
	record, err := service.store.Insert(ctx, RecordInput{
		AccountID:            accountID,
		TransRef:             verified.TransRef,
		Amount:               verified.Amount,
		SenderName:           verified.SenderName,
		ReceiverName:         verified.ReceiverName,
		SendingBank:          verified.SendingBank,
		ReceivingBank:        verified.ReceivingBank,
		TransAtUnixUTC:       verified.TransAtUnixUTC,
		Status:               StatusPending,
		ImageURL:             imageURL,
		VerificationResponse: verified.Raw,
		RejectionReason:      reason,
		CreatedUnixUTC:       service.nowFn(),
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Record: record, Credited: false}, nil
}

func (service *Service) compensateToPending(ctx context.Context, slipID int64, reason string) {
	if err := service.store.UpdateStatus(ctx, slipID, StatusApproved, StatusPending, nil, reason, service.nowFn()); err != nil {
		service.logger.Error("slip compensation failed; record needs manual reconciliation",
			zap.Int64("slip_id", slipID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}
