package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bidrails/internal/chain"
	"bidrails/internal/config"
	"bidrails/internal/events"
	"bidrails/internal/marketdb"
	"bidrails/internal/reconcile"
	"bidrails/internal/recovery"
	"bidrails/internal/registry"
	"bidrails/internal/server"
	"bidrails/internal/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	emitter := events.NewEmitter(events.LogSink{})
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		vault     chain.Vault = chain.NewFakeVault()
		headBlock             = func(context.Context) (uint64, error) { return 0, nil }
	)
	if cfg.Chain.PrivateKey != "" {
		ethVault, err := chain.NewEthVault(rootCtx, chain.VaultConfig{
			RPCURL:            cfg.Chain.RPCURL,
			PrivateKeyHex:     cfg.Chain.PrivateKey,
			ContractBidVault:  cfg.Deployment.Contracts.BidVault,
			MaxSubmitAttempts: cfg.Service.MaxAttempts,
		}, emitter)
		if err != nil {
			log.Fatalf("vault client error: %v", err)
		}
		vault = ethVault
		headBlock = ethVault.HeadBlock
	} else {
		log.Printf("CHAIN_PRIVATE_KEY not set; running against the in-memory fake vault")
	}

	var (
		locks    registry.LockStore
		auctions marketdb.AuctionStore
		ledger   marketdb.LedgerStore
		dbHealth func(context.Context) error
	)
	if dsn := cfg.Service.PostgresDSN; dsn != "" {
		lockStore, err := registry.NewPostgresStore(rootCtx, dsn, cfg.Service.LockTTL)
		if err != nil {
			log.Fatalf("lock registry error: %v", err)
		}
		defer lockStore.Close()

		market, err := marketdb.NewPostgresStore(rootCtx, dsn)
		if err != nil {
			log.Fatalf("market store error: %v", err)
		}
		defer market.Close()

		locks = lockStore
		auctions = market
		ledger = market
		dbHealth = market.Ping
	} else {
		// Process-local fallback: no cross-restart durability, no TTL. The
		// orphan scanner is the safety net if this process dies mid-auction.
		log.Printf("POSTGRES_DSN not set; lock registry is process-local only")
		locks = registry.NewMemoryStore()
		auctions = marketdb.NewMemoryAuctionStore()
		ledger = marketdb.NewMemoryLedgerStore()
	}

	pending := settlement.NewPendingSet()
	orch := settlement.NewOrchestrator(vault, locks, pending, emitter)

	srv := server.NewServer(cfg, vault, dbHealth)
	rec := srv.Recorders()

	reconciler := reconcile.NewJob(ledger, vault, emitter, rec, reconcile.JobConfig{
		Interval: cfg.Service.ReconcileEvery,
		Disabled: cfg.Service.ReconcileOff,
	})
	scanner := recovery.NewScanner(vault, headBlock, emitter, rec, recovery.ScannerConfig{
		Interval:       cfg.Service.ScanInterval,
		LookbackBlocks: cfg.Service.LookbackBlocks,
	})
	srv.Attach(orch, reconciler, scanner)

	monitor := settlement.NewMonitor(auctions, locks, vault, ledger,
		&settlement.NoVaultFallback{Emitter: emitter},
		pending, emitter, rec, settlement.MonitorConfig{
			PollInterval: cfg.Service.PollInterval,
			RefundDelay:  cfg.Service.RefundDelay,
		})

	go monitor.Run(rootCtx)
	go scanner.Run(rootCtx)
	go reconciler.Start(rootCtx)
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("ops server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Printf("shutting down")
	cancel()

	// Best-effort refund sweep of locks still open in this process, capped
	// by the cleanup budget so shutdown never hangs.
	orch.CleanupWithBudget(context.Background(), cfg.Service.CleanupBudget)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
