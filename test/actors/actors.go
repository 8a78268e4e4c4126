package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/custody"
	"escrowflow/escrow"
	"escrowflow/offer"
)

// Provider publishes offers at random prices. Offer ids come out of the
// ledger strictly sequentially no matter how many providers race.
func Provider(ctx context.Context, engine *escrow.Engine, address string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		price := int64(1 + rand.Intn(500))
		if _, err := engine.CreateOffer(ctx, address, "stress engagement", price); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Acceptor picks random open offers and races other acceptors for them.
// Most of the time it pays the exact amount due; occasionally it underpays
// or overpays to exercise the rejection path.
func Acceptor(ctx context.Context, engine *escrow.Engine, pool *pgxpool.Pool, client string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id, price int64
		err := pool.QueryRow(ctx, `SELECT id, price FROM offers WHERE status='open' ORDER BY random() LIMIT 1`).Scan(&id, &price)
		if err == nil {
			payment := custody.TotalDue(price)
			if rand.Intn(10) == 0 {
				payment += int64(rand.Intn(2)*2 - 1)
			}
			_, err = engine.AcceptOffer(ctx, id, client, payment)
			if err != nil && !expectedAcceptError(err) && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

func expectedAcceptError(err error) bool {
	return errors.Is(err, escrow.ErrOfferNotOpen) ||
		errors.Is(err, escrow.ErrSelfDealing) ||
		errors.Is(err, escrow.ErrIncorrectPayment) ||
		errors.Is(err, offer.ErrNotFound)
}

// Confirmer releases funds for offers the client has accepted. Races with
// other confirmers of the same client are expected and harmless.
func Confirmer(ctx context.Context, engine *escrow.Engine, pool *pgxpool.Pool, client string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id int64
		err := pool.QueryRow(ctx, `SELECT id FROM offers WHERE status='accepted' AND client=$1 ORDER BY random() LIMIT 1`, client).Scan(&id)
		if err == nil {
			err = engine.ConfirmDelivery(ctx, id, client)
			if err != nil && !errors.Is(err, escrow.ErrOfferNotAccepted) && !errors.Is(err, escrow.ErrNotTheClient) && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Withdrawer drains the provider's pending balance. Empty balances are the
// common case and not an error.
func Withdrawer(ctx context.Context, engine *escrow.Engine, provider string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := engine.WithdrawFunds(ctx, provider); err != nil && !errors.Is(err, escrow.ErrNothingToWithdraw) && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// FeeSweeper periodically sweeps accumulated platform fees to the operator.
func FeeSweeper(ctx context.Context, engine *escrow.Engine, operator string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := engine.WithdrawPlatformFees(ctx, operator, operator); err != nil && !errors.Is(err, escrow.ErrNothingToWithdraw) && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(200+rand.Intn(200)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, with a simulated random failure bumping attempts.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
