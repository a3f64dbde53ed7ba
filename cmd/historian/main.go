// cmd/historian pops battle events from the Redis queue and persists them
// to Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/livehub/internal/cache"
	"github.com/jason-s-yu/livehub/internal/config"
	"github.com/jason-s-yu/livehub/internal/database"
	"github.com/jason-s-yu/livehub/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.ConnectDB(ctx, cfg.PostgresURL()); err != nil {
		logger.Fatalf("historian needs a database: %v", err)
	}
	defer database.Close()

	if err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB); err != nil {
		logger.Fatalf("historian needs redis: %v", err)
	}
	defer cache.Rdb.Close()

	svc := historian.New(cache.Rdb, database.InsertBattleEvents, historian.Config{
		Queue:      cfg.EventQueueName,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlush,
	}, logger)
	svc.Run(ctx)
}
