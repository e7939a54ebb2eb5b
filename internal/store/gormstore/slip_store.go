package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/wallet"
)

// SlipStore implements slip.Store using GORM.
type SlipStore struct {
	db *gorm.DB
}

// NewSlipStore returns a SlipStore backed by gorm.DB.
func NewSlipStore(db *gorm.DB) *SlipStore {
	return &SlipStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *SlipStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore slip.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &SlipStore{db: transaction})
	})
}

func (store *SlipStore) Get(ctx context.Context, slipID int64) (slip.Record, error) {
	var model Slip
	err := store.db.WithContext(ctx).Take(&model, slipID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return slip.Record{}, slip.ErrSlipNotFound
	}
	if err != nil {
		return slip.Record{}, fmt.Errorf("get slip: %w", err)
	}
	return mapSlip(model), nil
}

func (store *SlipStore) FindByTransRef(ctx context.Context, transRef string) (slip.Record, error) {
	var model Slip
	err := store.db.WithContext(ctx).Where("trans_ref = ?", transRef).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return slip.Record{}, slip.ErrSlipNotFound
	}
	if err != nil {
		return slip.Record{}, fmt.Errorf("find slip: %w", err)
	}
	return mapSlip(model), nil
}

// Insert stores a new slip record. The unique index on trans_ref turns a
// concurrent duplicate submit into ErrAlreadyProcessed.
func (store *SlipStore) Insert(ctx context.Context, input slip.RecordInput) (slip.Record, error) {
	model := Slip{
		AccountID:            input.AccountID,
		TransRef:             input.TransRef,
		Amount:               int64(input.Amount),
		SenderName:           input.SenderName,
		ReceiverName:         input.ReceiverName,
		SendingBank:          input.SendingBank,
		ReceivingBank:        input.ReceivingBank,
		TransAt:              time.Unix(input.TransAtUnixUTC, 0).UTC(),
		Status:               input.Status.String(),
		ImageURL:             input.ImageURL,
		VerificationResponse: input.VerificationResponse,
		RejectionReason:      input.RejectionReason,
		CreatedAt:            time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if input.VerifiedUnixUTC != nil {
		verifiedAt := time.Unix(*input.VerifiedUnixUTC, 0).UTC()
		model.VerifiedAt = &verifiedAt
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return slip.Record{}, slip.ErrAlreadyProcessed
	}
	if err != nil {
		return slip.Record{}, fmt.Errorf("insert slip: %w", err)
	}
	return mapSlip(model), nil
}

// UpdateStatus moves a slip from one status to another. The from guard in the
// WHERE clause lets exactly one decision win.
func (store *SlipStore) UpdateStatus(ctx context.Context, slipID int64, from slip.Status, to slip.Status, approvedBy *int64, reason string, verifiedUnixUTC int64) error {
	updates := map[string]interface{}{
		"status":      to.String(),
		"verified_at": time.Unix(verifiedUnixUTC, 0).UTC(),
	}
	if approvedBy != nil {
		updates["approved_by"] = *approvedBy
	}
	if reason != "" {
		updates["rejection_reason"] = reason
	}
	result := store.db.WithContext(ctx).
		Model(&Slip{}).
		Where("id = ? AND status = ?", slipID, from.String()).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update slip status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var model Slip
		err := store.db.WithContext(ctx).Take(&model, slipID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return slip.ErrSlipNotFound
		}
		if err != nil {
			return fmt.Errorf("update slip status: %w", err)
		}
		return slip.ErrAlreadyProcessed
	}
	return nil
}

func (store *SlipStore) ListByStatus(ctx context.Context, status slip.Status, limit int) ([]slip.Record, error) {
	var rows []Slip
	err := store.db.WithContext(ctx).
		Where("status = ?", status.String()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list slips: %w", err)
	}
	records := make([]slip.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, mapSlip(row))
	}
	return records, nil
}

func mapSlip(model Slip) slip.Record {
	record := slip.Record{
		ID:                   model.ID,
		AccountID:            model.AccountID,
		TransRef:             model.TransRef,
		Amount:               wallet.Satang(model.Amount),
		SenderName:           model.SenderName,
		ReceiverName:         model.ReceiverName,
		SendingBank:          model.SendingBank,
		ReceivingBank:        model.ReceivingBank,
		TransAtUnixUTC:       model.TransAt.Unix(),
		Status:               slip.Status(model.Status),
		ImageURL:             model.ImageURL,
		VerificationResponse: model.VerificationResponse,
		RejectionReason:      model.RejectionReason,
		CreatedUnixUTC:       model.CreatedAt.Unix(),
	}
	if model.ApprovedBy != nil {
		approvedBy := *model.ApprovedBy
		record.ApprovedBy = &approvedBy
	}
	if model.VerifiedAt != nil {
		verifiedAt := model.VerifiedAt.Unix()
		record.VerifiedUnixUTC = &verifiedAt
	}
	return record
}
