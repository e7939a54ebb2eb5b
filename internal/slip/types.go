package slip

import (
	"context"
	"errors"
	"fmt"

	"github.com/pranakorn/creditbot/internal/wallet"
)

// Status defines the slip decision lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// String returns the stored representation.
func (status Status) String() string {
	return string(status)
}

// Record is a claimed bank transfer keyed by the bank-assigned trans ref.
type Record struct {
	ID                   int64
	AccountID            int64
	TransRef             string
	Amount               wallet.Satang
	SenderName           string
	ReceiverName         string
	SendingBank          string
	ReceivingBank        string
	TransAtUnixUTC       int64
	Status               Status
	ImageURL             string
	VerificationResponse string
	RejectionReason      string
	ApprovedBy           *int64
	CreatedUnixUTC       int64
	VerifiedUnixUTC      *int64
}

// RecordInput carries a new slip record to the store.
type RecordInput struct {
	AccountID            int64
	TransRef             string
	Amount               wallet.Satang
	SenderName           string
	ReceiverName         string
	SendingBank          string
	ReceivingBank        string
	TransAtUnixUTC       int64
	Status               Status
	ImageURL             string
	VerificationResponse string
	RejectionReason      string
	CreatedUnixUTC       int64
	VerifiedUnixUTC      *int64
}

// Verified is the fact set the oracle attests for a genuine slip.
type Verified struct {
	TransRef       string
	Amount         wallet.Satang
	SenderName     string
	ReceiverName   string
	SendingBank    string
	ReceivingBank  string
	TransAtUnixUTC int64
	Raw            string
}

// Verifier is the external slip-verification oracle. Implementations must
// bound the call with the context deadline and return VerificationError for
// business rejections rather than transport failures.
type Verifier interface {
	VerifyImage(ctx context.Context, image []byte) (Verified, error)
}

// Domain-level error values.
var (
	ErrSlipNotFound       = errors.New("slip not found")
	ErrAlreadyProcessed   = errors.New("slip already processed")
	ErrVerificationFailed = errors.New("slip verification failed")
	ErrNoAttestedAmount   = errors.New("slip has no attested amount")
	ErrInvalidDependency  = errors.New("invalid slip service dependency")
)

// VerificationError is a typed business rejection from the oracle. TransRef
// is set when the oracle could still identify the transfer; Facts then holds
// whatever transfer details the rejection response still reported, so a
// parked record keeps the amount an admin would credit on overrule.
type VerificationError struct {
	Code     string
	Reason   string
	TransRef string
	Facts    Verified
}

// Error returns the formatted message.
func (verificationError VerificationError) Error() string {
	return fmt.Sprintf("%v: code %s: %s", ErrVerificationFailed, verificationError.Code, verificationError.Reason)
}

// Unwrap ties the typed rejection to ErrVerificationFailed.
func (verificationError VerificationError) Unwrap() error {
	return ErrVerificationFailed
}

// Store is the persistence contract used by Service. Insert must enforce
// trans-ref uniqueness and UpdateStatus must be a guarded transition.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Get(ctx context.Context, slipID int64) (Record, error)
	FindByTransRef(ctx context.Context, transRef string) (Record, error)
	Insert(ctx context.Context, input RecordInput) (Record, error)
	UpdateStatus(ctx context.Context, slipID int64, from Status, to Status, approvedBy *int64, reason string, verifiedUnixUTC int64) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error)
}

// CreditAccounts is the slice of the wallet service the reconciler needs.
type CreditAccounts interface {
	ApplyDelta(ctx context.Context, accountID int64, amount wallet.Satang, entryType wallet.EntryType, description string, options ...wallet.DeltaOption) (wallet.Entry, error)
}
