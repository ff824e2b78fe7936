package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/socialtag/rewards-reconciler/internal/algoapi"
	"github.com/socialtag/rewards-reconciler/internal/config"
	"github.com/socialtag/rewards-reconciler/internal/engine"
	"github.com/socialtag/rewards-reconciler/internal/notifier"
	"github.com/socialtag/rewards-reconciler/internal/pool"
	"github.com/socialtag/rewards-reconciler/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single reconciliation sweep and exit")
	flag.Parse()

	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize ledger client
	ledger, err := algoapi.NewClient(cfg, log)
	if err != nil {
		log.Error("init ledger client", "error", err)
		os.Exit(1)
	}
	log.Info("ledger client initialized",
		"algod", cfg.AlgodURL,
		"indexer", cfg.IndexerURL,
		"reward_wallet", ledger.SenderAddress(),
	)

	// Initialize run-report notifier
	notify, err := notifier.New(cfg.BotToken, cfg.AdminChatID, log)
	if err != nil {
		log.Error("init notifier", "error", err)
		os.Exit(1)
	}

	poolAcct := pool.New(store, cfg.RewardTokens, log)
	eng := engine.New(cfg, store, ledger, poolAcct, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	if *once {
		report, err := eng.Run(ctx)
		if err != nil {
			log.Error("reconciliation run aborted", "error", err)
			os.Exit(1)
		}
		notify.SendRunReport(ctx, report)

		// The report is the run's contract with callers: emit it whole.
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Error("encode report", "error", err)
			os.Exit(1)
		}
		return
	}

	eng.Start(ctx, cfg.Interval, func(report *engine.Report) {
		notify.SendRunReport(ctx, report)
	})
}
