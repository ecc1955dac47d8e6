package settlement

import (
	"context"
	"fmt"

	"bidrails/internal/events"
	"bidrails/internal/marketdb"
	"bidrails/internal/registry"
)

// FallbackSettler is the alternate no-vault settlement path taken when the
// vault contract reverts a settlement. The surrounding marketplace treats it
// as a buy-it-now equivalent; once an auction goes down this path the vault
// is never retried for it.
type FallbackSettler interface {
	Settle(ctx context.Context, auction marketdb.Auction, locks []registry.BidLock) error
}

// NoVaultFallback hands the auction off to the marketplace's off-vault flow
// by emitting an event; it holds no funds itself.
type NoVaultFallback struct {
	Emitter *events.Emitter
}

func (f *NoVaultFallback) Settle(_ context.Context, auction marketdb.Auction, locks []registry.BidLock) error {
	f.Emitter.Warn(fmt.Sprintf("auction %d routed to no-vault settlement (%d locks)", auction.ID, len(locks)))
	return nil
}
