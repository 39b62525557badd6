package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"refurb-bridge/internal/api"
	"refurb-bridge/internal/config"
	"refurb-bridge/internal/db"
	"refurb-bridge/internal/engine"
	"refurb-bridge/internal/logger"
	"refurb-bridge/internal/market"
	"refurb-bridge/internal/scheduler"
	"refurb-bridge/internal/syncer"
	"refurb-bridge/internal/traffic"
)

var version = "dev"

func main() {
	port := flag.Int("port", 13380, "HTTP server port")
	flag.Parse()

	logger.Banner(version)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error("CONFIG", err.Error())
		os.Exit(1)
	}

	wd, _ := os.Getwd()
	dataDir := filepath.Join(wd, "data")
	os.MkdirAll(dataDir, 0755)

	database, err := db.Open(filepath.Join(dataDir, "refurb-bridge.db"))
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	// Admin-tuned limits persisted in the store win over the env defaults.
	cfg.RateLimits = database.LoadRateLimits(cfg.RateLimits)

	tc := traffic.NewController(cfg.RateLimits, http.DefaultClient)
	defer tc.Close()

	mkt := market.NewClient(cfg.APIBaseURL, cfg.APIToken, tc)
	eng := engine.New(database, mkt, cfg)
	sy := syncer.New(database, mkt)

	sched := scheduler.New()
	sched.Register("sync-orders", 15*time.Minute, func(ctx context.Context) error {
		_, err := sy.SyncOrders(ctx, false)
		return err
	})
	sched.Register("sync-listings", 60*time.Minute, func(ctx context.Context) error {
		_, err := sy.SyncListings(ctx)
		return err
	})
	sched.Register("reprice-fleet", 15*time.Minute, func(ctx context.Context) error {
		sum, err := eng.RepriceFleet(ctx)
		if sum != nil {
			logger.Info("REPRICE", fmt.Sprintf("fleet: %d listings, %d updated, %d skipped, %d failed",
				sum.Total, sum.Updated, sum.Skipped, sum.Failed))
		}
		return err
	})
	sched.Register("recompute-buyback", 60*time.Minute, func(ctx context.Context) error {
		n, err := eng.RecomputeBuyback(ctx)
		if err == nil {
			logger.Info("BUYBACK", fmt.Sprintf("%d offers refreshed", n))
		}
		return err
	})

	srv := api.NewServer(cfg, database, tc, mkt, eng, sy, sched)
	tc.LogSink = srv.DispatchSink

	sched.Start()
	defer sched.Stop()

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		logger.Server(addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server", fmt.Sprintf("Failed: %v", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Server", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
