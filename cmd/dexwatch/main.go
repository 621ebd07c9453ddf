package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dexwatch/internal/chain"
	"dexwatch/internal/config"
	"dexwatch/internal/database"
	"dexwatch/internal/notify"
	"dexwatch/internal/watch"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		log.Fatalf("cannot connect to database: %v", err)
	}
	defer pool.Close()

	repo := database.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("cannot migrate schema: %v", err)
	}

	sink, err := notify.NewTelegramSink(logger, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		log.Fatalf("cannot start telegram sink: %v", err)
	}

	oracle := chain.NewRelayOracle(logger, cfg.Chain.RelayURL)
	go func() {
		if err := oracle.Run(ctx); err != nil {
			logger.Error("quote relay stopped", "error", err)
		}
	}()

	executor := chain.NewGatewayExecutor(logger, cfg.Chain.GatewayURL)

	registry := watch.NewRegistry(logger, oracle, executor, repo, sink, cfg.Monitor.MaxParallelTokens)
	if err := registry.Hydrate(ctx); err != nil {
		log.Fatalf("cannot load token watchers: %v", err)
	}

	registry.Start(ctx, time.Duration(cfg.Monitor.PollIntervalSeconds)*time.Second)
	logger.Info("dexwatch started", "tokens", registry.TokenCount())

	<-ctx.Done()
	registry.Stop()
	logger.Info("dexwatch stopped")
}
