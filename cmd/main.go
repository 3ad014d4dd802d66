package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billychen0894/spareTalk/internal/api"
	"github.com/billychen0894/spareTalk/internal/api/handler"
	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/billychen0894/spareTalk/internal/config"
	"github.com/billychen0894/spareTalk/internal/localization"
	"github.com/billychen0894/spareTalk/internal/logger"
	"github.com/billychen0894/spareTalk/internal/session"
	"github.com/billychen0894/spareTalk/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		zap.L().Fatal("failed to connect postgres", zap.Error(err))
	}

	// Without redis, tokens are trusted on their signature alone.
	if cfg.Redis.Addr == "" {
		zap.L().Warn("redis is not configured, session bindings are disabled")
		return db, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("redis is unreachable, session checks will fail open", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	return db, rdb
}

func main() {
	cfg, err := config.Load(os.Getenv("SPARETALK_CONFIG"))
	if err != nil {
		// the logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = zap.L().Sync() }()
	zap.L().Info("starting SpareTalk server", zap.String("addr", cfg.Server.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, rdb := setupDependencies(ctx, cfg)
	store := storage.NewStorageService(db, rdb)
	if err := store.Migrate(); err != nil {
		zap.L().Fatal("failed to run migrations", zap.Error(err))
	}

	notices, err := localization.NewLocalizer()
	if err != nil {
		zap.L().Fatal("failed to load notification texts", zap.Error(err))
	}

	jobs := chathub.NewWorkerPool(cfg.Chat.PersistWorkers, cfg.Chat.PersistBuffer, 5*time.Second)
	matcher := chathub.NewMatcherService(chathub.RoomConfig{
		InactivityTimeout: cfg.Chat.InactivityTimeout,
		ReconnectGrace:    cfg.Chat.ReconnectGrace,
		MaxBodyBytes:      cfg.Chat.MaxBodyBytes,
		RecycleRooms:      cfg.Chat.RecycleRooms,
	}, store, jobs, notices)
	hub := chathub.NewManagerService(chathub.HubConfig{
		SessionTTL:    cfg.Chat.SessionTTL,
		SweepInterval: cfg.Chat.SweepInterval,
	}, matcher, store, session.NewIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.Chat.SessionTTL))
	hub.RecoverActiveRooms(ctx)

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	gin.SetMode(cfg.Server.Mode)
	h := handler.NewHandler(hub, handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendRPS:        cfg.Chat.SendRPS,
		SendBurst:      cfg.Chat.SendBurst,
	})
	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        api.NewRouter(h, cfg.Server.AllowedOrigins),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("http shutdown", zap.Error(err))
	}
	<-hubDone
	jobs.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
