package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"escrowflow/config"
	"escrowflow/custody"
	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/identity"
	"escrowflow/offer"
	"escrowflow/treasury"
)

func main() {
	configPath := flag.String("config", os.Getenv("ESCROWFLOW_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("bootstrap database pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	tokens := identity.NewTokenIssuer(cfg.Platform.JWTSecret, cfg.Platform.TokenTTL.Duration)
	registry := identity.NewService(identity.NewRepository(pool), tokens)
	offers := offer.NewRepository(pool)
	balances := custody.NewLedger(pool)

	engine := escrow.NewEngine(escrow.Deps{
		Pool:       pool,
		Offers:     offers,
		Balances:   balances,
		Transfers:  treasury.NewLedger(pool),
		Dispatcher: treasury.NewLogDispatcher(log),
		Registry:   registry,
		Operator:   cfg.Platform.OperatorAddress,
	})

	server := &Server{
		engine:   engine,
		registry: registry,
		offers:   offers,
		balances: balances,
		tokens:   tokens,
		operator: cfg.Platform.OperatorAddress,
		log:      log,
	}

	log.Info("escrowflow api listening", "addr", cfg.Server.Addr, "operator", cfg.Platform.OperatorAddress)
	if err := http.ListenAndServe(cfg.Server.Addr, server.Routes()); err != nil {
		log.Error("serve", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
