package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/custody"
	"escrowflow/escrow"
	"escrowflow/identity"
	"escrowflow/offer"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
	"escrowflow/treasury"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors per kind")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestLedgerConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no Docker and no local Postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool, *flConcurrency)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := escrow.NewEngine(escrow.Deps{
		Pool:       pool,
		Offers:     offer.NewRepository(pool),
		Balances:   custody.NewLedger(pool),
		Transfers:  treasury.NewLedger(pool),
		Dispatcher: treasury.NewLogDispatcher(log),
		Registry:   identity.NewService(identity.NewRepository(pool), identity.NewTokenIssuer("stress", time.Hour)),
		Operator:   seedData.operator,
	})

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, provider := range seedData.providers {
		provider := provider
		g.Go(func() error { return actors.Provider(ctx2, engine, provider, stop) })
		g.Go(func() error { return actors.Withdrawer(ctx2, engine, provider, stop) })
	}
	for _, client := range seedData.clients {
		client := client
		g.Go(func() error { return actors.Acceptor(ctx2, engine, pool, client, stop) })
		g.Go(func() error { return actors.Confirmer(ctx2, engine, pool, client, stop) })
	}
	g.Go(func() error { return actors.FeeSweeper(ctx2, engine, seedData.operator, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	providers []string
	clients   []string
	operator  string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) seedIDs {
	t.Helper()
	registry := identity.NewRepository(pool)

	run := time.Now().UnixNano()
	s := seedIDs{operator: fmt.Sprintf("0xop%d", run)}

	for i := 0; i < n; i++ {
		provider := fmt.Sprintf("0xprov%d_%d", run, i)
		if _, err := registry.Create(ctx, provider, identity.RoleProvider); err != nil {
			t.Fatalf("seed provider: %v", err)
		}
		s.providers = append(s.providers, provider)

		client := fmt.Sprintf("0xcli%d_%d", run, i)
		if _, err := registry.Create(ctx, client, identity.RoleClient); err != nil {
			t.Fatalf("seed client: %v", err)
		}
		s.clients = append(s.clients, client)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"offers", `SELECT id, provider, client, price, status, escrowed FROM offers ORDER BY id DESC LIMIT 50`},
		{"transfers", `SELECT id, direction, counterparty, amount, offer_id FROM transfers ORDER BY created_at DESC LIMIT 50`},
		{"pending_withdrawals", `SELECT address, amount FROM pending_withdrawals ORDER BY amount DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
