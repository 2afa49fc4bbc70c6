package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/comigor/coinchat-go/internal/api"
	"github.com/comigor/coinchat-go/internal/chat"
	"github.com/comigor/coinchat-go/internal/config"
	"github.com/comigor/coinchat-go/internal/logger"
	"github.com/comigor/coinchat-go/internal/responder"
	"github.com/comigor/coinchat-go/internal/wallet"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.L.Info("no .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	assistant, err := responder.New(cfg.LLM)
	if err != nil {
		logger.L.Error("failed to build assistant responder", "error", err)
		os.Exit(1)
	}

	// opened last: nothing below exits without running the deferred Close
	ledger, err := wallet.Open(cfg.Wallet)
	if err != nil {
		logger.L.Error("failed to open wallet ledger", "driver", cfg.Wallet.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			logger.L.Error("failed to close wallet ledger", "error", closeErr)
		}
	}()

	sessions := chat.NewManager(ledger, assistant,
		chat.WithCostPerMessage(cfg.Chat.CostPerMessage),
		chat.WithGreeting(cfg.Chat.Greeting),
		chat.WithReplyTimeout(cfg.Chat.ReplyTimeout),
		chat.WithChargeHook(api.ChargeRecorder(ledger)),
	)
	handler := api.NewHandler(sessions, ledger, cfg.Chat.CostPerMessage)

	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:     api.NewRouter(handler),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// no WriteTimeout: the event stream is long-lived
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Sweep(ctx, cfg.Chat.SessionTTL, cfg.Chat.SweepInterval)

	go func() {
		logger.L.Info("starting server",
			"address", srv.Addr,
			"provider", cfg.LLM.Provider,
			"wallet_driver", cfg.Wallet.Driver,
			"cost_per_message", cfg.Chat.CostPerMessage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.L.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("server forced to shutdown", "error", err)
	}
}
