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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"streamchat/internal/api"
	"streamchat/internal/auth"
	"streamchat/internal/catalog"
	"streamchat/internal/config"
	"streamchat/internal/entitlement"
	"streamchat/internal/events"
	"streamchat/internal/logger"
	"streamchat/internal/orchestrator"
	"streamchat/internal/prompt"
	"streamchat/internal/provider"
	"streamchat/internal/redis"
	"streamchat/internal/resolver"
	"streamchat/internal/resumable"
	"streamchat/internal/service/chat"
	"streamchat/internal/storage"
	"streamchat/internal/tools"
	"streamchat/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("STREAMCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zlog := logger.New(cfg.Log)
	defer zlog.Sync()

	dbType := os.Getenv("STREAMCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	zlog.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		zlog.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		zlog.Fatal("migrate database", zap.Error(err))
	}

	// Redis backs the token and history caches when reachable.
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		if rdb, err = redis.NewRedisClient(cfg); err != nil {
			zlog.Warn("redis unavailable, caching disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	tokenTTL := time.Duration(cfg.BasicConfig.TokenTTL) * time.Hour
	authService := auth.NewService(db, rdb, tokenTTL).WithLogger(zlog)
	janitor, err := authService.StartJanitor(cfg.BasicConfig.TokenJanitorSpec)
	if err != nil {
		zlog.Fatal("start token janitor", zap.Error(err))
	}
	defer janitor.Stop()

	chatOpts := []chat.Option{chat.WithLogger(zlog)}
	if rdb != nil {
		chatOpts = append(chatOpts, chat.WithHistoryCache(rdb))
	}
	if key := os.Getenv("STREAMCHAT_PROVIDER_KEY"); key != "" {
		chatOpts = append(chatOpts, chat.WithKeyCipher(key))
	}
	chats := chat.NewService(db, chatOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := chats.ListProviders(ctx)
	if err != nil {
		zlog.Warn("list persisted providers", zap.Error(err))
	}
	registry := provider.Build(cfg.Providers, records, cfg.Models, zlog)
	zlog.Info("providers registered", zap.Strings("slugs", registry.Slugs()))
	modelResolver := resolver.New(registry, resolver.Options{
		DocumentProvider: cfg.Models.DocumentProvider,
		DocumentModel:    cfg.Models.DocumentModel,
		Store:            chats,
		Logger:           zlog,
	})

	publisher, err := events.New(cfg.AMQP, zlog)
	if err != nil {
		zlog.Warn("event publisher unavailable", zap.Error(err))
		publisher = events.Nop{}
	}
	defer publisher.Close()

	toolset := tools.New(ctx, tools.Config{
		Documents:            chats,
		GoogleAPIKey:         os.Getenv("GOOGLE_SEARCH_API_KEY"),
		GoogleSearchEngineID: os.Getenv("GOOGLE_SEARCH_ENGINE_ID"),
		Logger:               zlog,
	})
	orch := orchestrator.New(toolset, chats, zlog, orchestrator.WithNotifier(publisher))

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}, zlog)
	defer dispatcher.Stop()

	streamTimeout := time.Duration(cfg.BasicConfig.StreamTimeout) * time.Second
	streams := resumable.FromConfig(cfg.ResumableStream, zlog,
		resumable.WithExecutor(dispatcher),
		resumable.WithTimeout(streamTimeout),
	)

	title := registry.Lookup(ctx, cfg.Models.DefaultProvider, cfg.Models.TitleModel)

	handlers := api.NewHandler(api.Deps{
		Chats:         chats,
		Auth:          authService,
		Resolver:      modelResolver,
		Prompts:       prompt.NewBuilder(chats, zlog),
		Orchestrator:  orch,
		Streams:       streams,
		Catalog:       catalog.New(chats, zlog),
		Entitlements:  entitlement.FromConfig(cfg.Entitlements),
		Events:        publisher,
		Jobs:          dispatcher,
		TitleModel:    title.Model,
		StreamTimeout: streamTimeout,
		Logger:        zlog,
	})

	if cfg.Log.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.RequestIDMiddleware(), api.LogMiddleware(zlog), gin.Recovery())
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		zlog.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown", zap.Error(err))
	}
	if err := streams.Close(); err != nil {
		zlog.Warn("close stream store", zap.Error(err))
	}
}
