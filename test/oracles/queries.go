package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against a live ledger. Each query
// returns zero rows when the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			// Money entering custody equals money still held plus money
			// paid back out, at every committed snapshot.
			Name: "O1_fund_conservation",
			SQL: `WITH flows AS (
                      SELECT COALESCE(SUM(amount) FILTER (WHERE direction='in'), 0)
                           - COALESCE(SUM(amount) FILTER (WHERE direction='out'), 0) AS net
                      FROM transfers),
                  held AS (
                      SELECT (SELECT COALESCE(SUM(escrowed), 0) FROM offers)
                           + (SELECT COALESCE(SUM(amount), 0) FROM pending_withdrawals)
                           + (SELECT amount FROM platform_fees) AS total)
                  SELECT flows.net, held.total FROM flows, held
                  WHERE flows.net <> held.total`,
		},
		{
			Name: "O2_client_binding",
			SQL: `SELECT id, status, client FROM offers
                  WHERE (status IN ('accepted','completed','disputed') AND client IS NULL)
                     OR (status = 'open' AND client IS NOT NULL)`,
		},
		{
			Name: "O3_escrowed_matches_status",
			SQL: `SELECT id, status, price, escrowed FROM offers
                  WHERE (status = 'accepted' AND escrowed <> price + price * 2 / 100)
                     OR (status IN ('open','completed','cancelled') AND escrowed <> 0)`,
		},
		{
			Name: "O4_no_self_dealing",
			SQL:  `SELECT id FROM offers WHERE client = provider`,
		},
		{
			Name: "O5_no_negative_balances",
			SQL: `SELECT address::text AS detail FROM pending_withdrawals WHERE amount < 0
                  UNION ALL
                  SELECT 'platform_fees' FROM platform_fees WHERE amount < 0`,
		},
		{
			Name: "O6_accepted_offers_have_inbound_transfer",
			SQL: `SELECT o.id FROM offers o
                  WHERE o.status IN ('accepted','completed')
                    AND NOT EXISTS (
                        SELECT 1 FROM transfers t
                        WHERE t.offer_id = o.id AND t.direction = 'in' AND t.amount = o.price + o.price * 2 / 100)`,
		},
		{
			Name: "O7_timeline_coverage",
			SQL: `SELECT o.id FROM offers o
                  WHERE NOT EXISTS (
                      SELECT 1 FROM timeline_events e
                      WHERE e.offer_id = o.id AND e.type = 'OFFER_CREATED')`,
		},
		{
			Name: "O8_outbox_not_stale",
			SQL: `SELECT id::text FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
