package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"marsbank/config"
	"marsbank/crypto"
	"marsbank/native/oracle"
	"marsbank/observability/logging"
	"marsbank/services/marsd/server"
	"marsbank/storage/statestore"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("marsd", "", logging.Options{}).Error("load config", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup("marsd", cfg.Environment, logging.Options{File: cfg.LogFile})

	owner, err := crypto.DecodeAddress(cfg.OwnerAddress)
	if err != nil {
		logger.Error("parse owner address", "err", err)
		os.Exit(1)
	}
	rewards, err := crypto.DecodeAddress(cfg.RewardsCollector)
	if err != nil {
		logger.Error("parse rewards collector", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := statestore.OpenBolt(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		logger.Error("open state store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	prices := oracle.NewEngine()
	node := server.NewNode(db, prices, owner, rewards, logger)

	if strings.TrimSpace(cfg.GenesisFile) != "" {
		genesis, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			logger.Error("load genesis", "err", err)
			os.Exit(1)
		}
		if err := node.ApplyGenesis(genesis); err != nil {
			logger.Error("apply genesis", "err", err)
			os.Exit(1)
		}
	}

	limit := server.RateLimit{RequestsPerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst}
	faucetEnabled := cfg.Environment == "local"
	api := server.New(node, logger, limit, faucetEnabled)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
