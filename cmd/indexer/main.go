package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonscope/lambo-indexer/internal/api"
	"github.com/tonscope/lambo-indexer/internal/backfill"
	"github.com/tonscope/lambo-indexer/internal/classifier"
	"github.com/tonscope/lambo-indexer/internal/config"
	"github.com/tonscope/lambo-indexer/internal/db"
	"github.com/tonscope/lambo-indexer/internal/leaderboard"
	"github.com/tonscope/lambo-indexer/internal/livetail"
	"github.com/tonscope/lambo-indexer/internal/reconciler"
	"github.com/tonscope/lambo-indexer/internal/tonaddr"
	"github.com/tonscope/lambo-indexer/internal/tonapi"
	"github.com/tonscope/lambo-indexer/internal/tracker"
	"github.com/tonscope/lambo-indexer/internal/volume"
)

func main() {
	log.Println("Starting LAMBO swap indexer (tonscope/lambo-indexer)...")

	cfg := config.Load()
	log.Printf("Configuration: %s", cfg)

	store, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		log.Fatalf("FATAL: DB schema init failed: %v", err)
	}

	index, err := leaderboard.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to Redis: %v", err)
	}
	defer index.Close()

	client := tonapi.NewClient(cfg.TonAPIURL, cfg.TonAPIKey, cfg.RequestsPerSecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure the configured pool exists and is active before anything reads it.
	pool, err := store.EnsurePool(ctx, tonaddr.Normalize(cfg.PoolAddress), "LAMBO/TON", tonaddr.Normalize(cfg.JettonMaster))
	if err != nil {
		log.Fatalf("FATAL: Pool bootstrap failed: %v", err)
	}
	log.Printf("Tracking pool %s (id=%d, checkpoint lt=%d)", pool.Address, pool.ID, pool.LastProcessedLT)

	wsHub := api.NewHub()
	go wsHub.Run()

	backfiller := backfill.New(client, store, cfg.StartDate, cfg.RequestsPerSecond)

	pools, err := store.GetActivePools(ctx)
	if err != nil {
		log.Fatalf("FATAL: Failed to list active pools: %v", err)
	}
	go backfiller.Run(ctx, pools)

	tail := livetail.New(client, store)
	go tail.Run(ctx, pools)

	clf := classifier.New(store, client, index, cfg.WorkerBatchSize, cfg.PacingDelay())
	clf.SetAlertFunc(api.BroadcastSwapAlert(wsHub))

	agg := volume.New(store, index)
	rec := reconciler.New(store, index, cfg.WorkerBatchSize)

	trk := tracker.New(clf, rec, agg, index)
	go trk.Run(ctx)

	r := api.SetupRouter(store, index, wsHub, backfiller, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		log.Printf("Indexer API listening on :%s", cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Block until SIGINT/SIGTERM, then drain: cancel the pipeline first so
	// in-flight batches finish, then stop the HTTP listener.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutdown signal received, draining...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	log.Println("Indexer stopped")
}
