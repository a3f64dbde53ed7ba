// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/livehub/internal/auth"
	"github.com/jason-s-yu/livehub/internal/battle"
	"github.com/jason-s-yu/livehub/internal/cache"
	"github.com/jason-s-yu/livehub/internal/config"
	"github.com/jason-s-yu/livehub/internal/database"
	"github.com/jason-s-yu/livehub/internal/handlers"
	"github.com/jason-s-yu/livehub/internal/hub"
	"github.com/jason-s-yu/livehub/internal/live"
	"github.com/jason-s-yu/livehub/internal/middleware"
	"github.com/jason-s-yu/livehub/internal/router"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := cfg.Logger()

	if priv, pub := os.Getenv("JWT_PRIVATE_KEY_PATH"), os.Getenv("JWT_PUBLIC_KEY_PATH"); priv != "" && pub != "" {
		err = auth.InitFromPath(priv, pub, cfg.TokenExpireTime)
	} else {
		err = auth.Init(cfg.TokenExpireTime)
	}
	if err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres and Redis are optional: without them merges fall back to
	// room names and events are not recorded.
	var store battle.Store
	if err := database.ConnectDB(ctx, cfg.PostgresURL()); err != nil {
		logger.WithError(err).Warn("running without database")
	} else {
		defer database.Close()
		store = database.Store{}
	}

	var events battle.EventSink
	if err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB); err != nil {
		logger.WithError(err).Warn("running without redis")
	} else {
		defer cache.Rdb.Close()
		events = cache.NewEventQueue(cache.Rdb, cfg.EventQueueName)
		if store != nil {
			store = cache.NewOwnerCache(store, cache.Rdb, cfg.OwnerCacheTTL, logger)
		}
	}

	h := hub.New(logger)
	core := live.NewCore(h)
	battles := battle.NewCoordinator(core, store, h, events, logger, battle.Config{
		InviteTimeout: cfg.InviteTimeout,
		StoreTimeout:  cfg.StoreTimeout,
	})
	rt := router.New(h, core, battles, logger, cfg.PresenceSettleDelay)

	var records handlers.RecordLookup
	var users handlers.UserLookup
	if database.DB != nil {
		records = database.GetRoom
		users = database.GetUserByID
	}

	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(logger)
	mux.HandleFunc("GET /healthz", handlers.HealthHandler)
	mux.Handle("GET /rooms/{room}", logged(handlers.RoomHandler(logger, core, records, cfg.StoreTimeout)))
	mux.Handle("GET /ws", logged(handlers.LiveWSHandler(logger, rt, users, cfg.OutboundBuffer)))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
}
