package bot

import (
	"time"

	"github.com/pranakorn/creditbot/internal/wallet"
)

// Conversational state lifetimes. Grants expire fast so a stray "confirm"
// cannot fire an old amount; targets live long enough for a support session.
const (
	pendingGrantTTL = 5 * time.Minute
	adminTargetTTL  = time.Hour
	sweepInterval   = time.Minute
)

// pendingGrant is a credit grant an admin proposed and must confirm.
type pendingGrant struct {
	TargetExternalID string
	Amount           wallet.Satang
}

// adminTarget is the customer an admin is currently operating on.
type adminTarget struct {
	ExternalID string
}
