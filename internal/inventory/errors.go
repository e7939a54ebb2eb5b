package inventory

import "errors"

// Domain-level error values returned by the stock allocation service.
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrStockExhausted    = errors.New("stock exhausted")
	ErrUnitNotFound      = errors.New("stock unit not found")
	ErrUnitNotReleasable = errors.New("stock unit not releasable")
	ErrInvalidUnitStatus = errors.New("invalid stock unit status")
	ErrInvalidPayload    = errors.New("invalid stock payload")
	ErrInvalidStoreDep   = errors.New("invalid store dependency")
)
