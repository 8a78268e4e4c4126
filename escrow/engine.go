// Package escrow drives the offer state machine and moves value between
// escrow and the payable balance buckets. Each operation is one database
// transaction covering its precondition checks and every write, so no
// transition is observable half-applied.
package escrow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/custody"
	"escrowflow/identity"
	"escrowflow/offer"
	"escrowflow/treasury"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OfferStore is the ledger access the engine needs for transitions.
type OfferStore interface {
	Insert(ctx context.Context, tx pgx.Tx, provider, descriptionHash string, price int64) (offer.Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (offer.Record, error)
	SetAccepted(ctx context.Context, tx pgx.Tx, id int64, client string, escrowed int64) error
	SetCompleted(ctx context.Context, tx pgx.Tx, id int64) error
}

// BalanceStore moves value between the custody buckets.
type BalanceStore interface {
	CreditProvider(ctx context.Context, tx pgx.Tx, provider string, amount int64) error
	CreditPlatform(ctx context.Context, tx pgx.Tx, amount int64) error
	DebitProviderAll(ctx context.Context, tx pgx.Tx, provider string) (int64, error)
	DebitPlatformAll(ctx context.Context, tx pgx.Tx) (int64, error)
}

// TransferLedger records value crossing the trust boundary.
type TransferLedger interface {
	RecordInbound(ctx context.Context, tx pgx.Tx, from string, amount int64, offerID int64) (string, error)
	RecordOutbound(ctx context.Context, tx pgx.Tx, to string, amount int64) (string, error)
}

// RoleLookup resolves the registered role of an address.
type RoleLookup interface {
	RoleOf(ctx context.Context, address string) (identity.Role, error)
}

// EventSink appends timeline events and outbox messages in the engine's
// transaction.
type EventSink interface {
	AppendTimeline(ctx context.Context, tx pgx.Tx, offerID int64, eventType, actor string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Pool       TxBeginner
	Offers     OfferStore
	Balances   BalanceStore
	Transfers  TransferLedger
	Dispatcher treasury.Dispatcher
	Registry   RoleLookup
	Events     EventSink
	// Operator is the only address allowed to withdraw platform fees.
	Operator string
}

// Engine orchestrates the registry, the offer ledger, and custody
// accounting.
type Engine struct {
	pool       TxBeginner
	offers     OfferStore
	balances   BalanceStore
	transfers  TransferLedger
	dispatcher treasury.Dispatcher
	registry   RoleLookup
	events     EventSink
	operator   string
}

// NewEngine wires an engine from its collaborators.
func NewEngine(deps Deps) *Engine {
	events := deps.Events
	if events == nil {
		events = NewEvents()
	}
	return &Engine{
		pool:       deps.Pool,
		offers:     deps.Offers,
		balances:   deps.Balances,
		transfers:  deps.Transfers,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		events:     events,
		operator:   deps.Operator,
	}
}

// CreateOffer publishes a new open offer for the provider. The description
// is stored as its keccak hash only.
func (e *Engine) CreateOffer(ctx context.Context, provider, description string, price int64) (offer.Record, error) {
	role, err := e.registry.RoleOf(ctx, provider)
	if err != nil {
		return offer.Record{}, err
	}
	if role != identity.RoleProvider {
		return offer.Record{}, ErrNotAProvider
	}
	if price <= 0 {
		return offer.Record{}, ErrInvalidPrice
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return offer.Record{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.offers.Insert(ctx, tx, provider, offer.HashDescription(description), price)
	if err != nil {
		return offer.Record{}, err
	}

	payload := map[string]any{
		"offer_id":         rec.ID,
		"provider":         rec.Provider,
		"price":            rec.Price,
		"description_hash": rec.DescriptionHash,
	}
	if err := e.events.AppendTimeline(ctx, tx, rec.ID, EventOfferCreated, provider, payload); err != nil {
		return offer.Record{}, err
	}
	if err := e.events.EnqueueOutbox(ctx, tx, TopicOfferCreated, payload); err != nil {
		return offer.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return offer.Record{}, fmt.Errorf("escrow: commit create offer: %w", err)
	}

	return rec, nil
}

// AcceptOffer binds the client to an open offer and takes the exact
// payment (price plus fee) into custody. Because the offer row is locked
// and must still be open, only the first acceptance for an id succeeds.
func (e *Engine) AcceptOffer(ctx context.Context, offerID int64, client string, payment int64) (offer.Record, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return offer.Record{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.offers.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return offer.Record{}, err
	}
	if rec.Status != offer.StatusOpen {
		return offer.Record{}, ErrOfferNotOpen
	}
	if client == rec.Provider {
		return offer.Record{}, ErrSelfDealing
	}
	if payment != custody.TotalDue(rec.Price) {
		return offer.Record{}, ErrIncorrectPayment
	}

	if err := e.offers.SetAccepted(ctx, tx, offerID, client, payment); err != nil {
		return offer.Record{}, err
	}
	ref, err := e.transfers.RecordInbound(ctx, tx, client, payment, offerID)
	if err != nil {
		return offer.Record{}, err
	}

	payload := map[string]any{
		"offer_id": offerID,
		"client":   client,
		"payment":  payment,
		"transfer": ref,
	}
	if err := e.events.AppendTimeline(ctx, tx, offerID, EventOfferAccepted, client, payload); err != nil {
		return offer.Record{}, err
	}
	if err := e.events.EnqueueOutbox(ctx, tx, TopicOfferAccepted, payload); err != nil {
		return offer.Record{}, err
	}

	// Payment collection is the external step: a failure here aborts the
	// whole transition so the offer stays open.
	if err := e.dispatcher.Collect(ctx, client, payment); err != nil {
		return offer.Record{}, fmt.Errorf("%w: collect from %s: %s", ErrTransferFailed, client, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return offer.Record{}, fmt.Errorf("escrow: commit accept offer: %w", err)
	}

	rec.Status = offer.StatusAccepted
	rec.Client = &client
	rec.Escrowed = payment
	return rec, nil
}

// ConfirmDelivery completes an accepted offer and splits the escrowed
// payment: price to the provider's pending withdrawals, fee to the
// platform balance. Nothing stays tied to the offer afterwards.
func (e *Engine) ConfirmDelivery(ctx context.Context, offerID int64, caller string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.offers.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return err
	}
	if rec.Status != offer.StatusAccepted {
		return ErrOfferNotAccepted
	}
	if rec.Client == nil || *rec.Client != caller {
		return ErrNotTheClient
	}

	fee := rec.Escrowed - rec.Price
	if err := e.offers.SetCompleted(ctx, tx, offerID); err != nil {
		return err
	}
	if err := e.balances.CreditProvider(ctx, tx, rec.Provider, rec.Price); err != nil {
		return err
	}
	if err := e.balances.CreditPlatform(ctx, tx, fee); err != nil {
		return err
	}

	payload := map[string]any{
		"offer_id": offerID,
		"provider": rec.Provider,
		"price":    rec.Price,
		"fee":      fee,
	}
	if err := e.events.AppendTimeline(ctx, tx, offerID, EventDeliveryConfirmed, caller, payload); err != nil {
		return err
	}
	if err := e.events.EnqueueOutbox(ctx, tx, TopicOfferCompleted, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit confirm delivery: %w", err)
	}

	return nil
}

// WithdrawFunds pays out the caller's entire pending balance. The balance
// row is zeroed under lock before the payout is dispatched; a dispatch
// failure rolls the zeroing back, so the balance is never lost and never
// paid twice.
func (e *Engine) WithdrawFunds(ctx context.Context, caller string) (int64, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amount, err := e.balances.DebitProviderAll(ctx, tx, caller)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}

	ref, err := e.transfers.RecordOutbound(ctx, tx, caller, amount)
	if err != nil {
		return 0, err
	}
	if err := e.events.EnqueueOutbox(ctx, tx, TopicFundsWithdrawn, map[string]any{
		"address":  caller,
		"amount":   amount,
		"transfer": ref,
	}); err != nil {
		return 0, err
	}

	if err := e.dispatcher.Payout(ctx, caller, amount); err != nil {
		return 0, fmt.Errorf("%w: payout to %s: %s", ErrTransferFailed, caller, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("escrow: commit withdraw: %w", err)
	}

	return amount, nil
}

// WithdrawPlatformFees pays the accumulated fee balance out to the given
// address. Operator only.
func (e *Engine) WithdrawPlatformFees(ctx context.Context, caller, to string) (int64, error) {
	if caller != e.operator {
		return 0, ErrNotOperator
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amount, err := e.balances.DebitPlatformAll(ctx, tx)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}

	ref, err := e.transfers.RecordOutbound(ctx, tx, to, amount)
	if err != nil {
		return 0, err
	}
	if err := e.events.EnqueueOutbox(ctx, tx, TopicPlatformFeesWithdrawn, map[string]any{
		"to":       to,
		"amount":   amount,
		"transfer": ref,
	}); err != nil {
		return 0, err
	}

	if err := e.dispatcher.Payout(ctx, to, amount); err != nil {
		return 0, fmt.Errorf("%w: payout to %s: %s", ErrTransferFailed, to, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("escrow: commit fee withdraw: %w", err)
	}

	return amount, nil
}
