// Package treasury is the value-transfer boundary of the escrow core. The
// Dispatcher moves real value over whatever rails the host wires in; the
// ledger records every crossing so custody totals stay auditable.
package treasury

import (
	"context"
	"log/slog"
)

// Dispatcher moves value across the trust boundary. Implementations must
// return an error when the transfer did not happen; callers roll the
// surrounding transaction back so no balance is lost.
type Dispatcher interface {
	// Collect pulls amount from the payer into custody.
	Collect(ctx context.Context, from string, amount int64) error
	// Payout pushes amount from custody to the recipient.
	Payout(ctx context.Context, to string, amount int64) error
}

// LogDispatcher acknowledges every transfer and logs it. It stands in for
// the settlement rails in deployments that reconcile against the transfer
// ledger out of band.
type LogDispatcher struct {
	log *slog.Logger
}

// NewLogDispatcher builds a dispatcher logging through log.
func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Collect(ctx context.Context, from string, amount int64) error {
	d.log.InfoContext(ctx, "treasury collect", "from", from, "amount", amount)
	return nil
}

func (d *LogDispatcher) Payout(ctx context.Context, to string, amount int64) error {
	d.log.InfoContext(ctx, "treasury payout", "to", to, "amount", amount)
	return nil
}
