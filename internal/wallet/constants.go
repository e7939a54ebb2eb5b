package wallet

const (
	operationGetOrCreate      = "get_or_create"
	operationApplyDelta       = "apply_delta"
	operationRaiseCreditLimit = "raise_credit_limit"
	operationRecordSpend      = "record_spend"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
