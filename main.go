package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"pickofgods/internal/api"
	"pickofgods/internal/audit"
	"pickofgods/internal/auth"
	"pickofgods/internal/capability"
	"pickofgods/internal/config"
	"pickofgods/internal/deploy"
	"pickofgods/internal/gateway"
	"pickofgods/internal/intent"
	"pickofgods/internal/kv"
	"pickofgods/internal/logger"
	"pickofgods/internal/objectstore"
	"pickofgods/internal/redis"
	"pickofgods/internal/service/ai"
	pingrelay "pickofgods/internal/signal"
	"pickofgods/internal/storage"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PICKOFGODS_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	l := logger.Init(logger.ZapConfig{
		Level:        cfg.Logger.Level,
		Mode:         cfg.Logger.Mode,
		Encoding:     cfg.Logger.Encoding,
		ColorEnabled: cfg.Logger.ColorEnabled,
	})
	defer l.Sync()
	ctx := context.Background()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	// audit gets its own bounded store; sessions and the registry never evict
	stores := kv.NewMemoryStores(kv.DefaultMemoryCapacity)
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			l.Errorf(ctx, "redis unavailable, using in-memory store: %v", err)
			rdb = nil
		} else {
			defer rdb.Close()
			stores = kv.Shared(kv.NewRedis(rdb))
		}
	}

	var db *sql.DB
	db, err = storage.Open(cfg.Database)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		l.Info(ctx, "no database configured, catalog search and user table disabled")
		db = nil
	case err != nil:
		log.Fatalf("open database: %v", err)
	default:
		defer db.Close()
		if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
	}

	bucket, err := objectstore.NewBucket(cfg.Storage.BucketDir, cfg.Storage.PublicBase)
	if err != nil {
		log.Fatalf("open bucket: %v", err)
	}
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	bucket.StartSweeper(sweepCtx, capability.ImageKeyPrefix, cfg.Storage.ImageTTL, cfg.Storage.SweepInterval, l)

	var (
		llm        *ai.Client
		classifier intent.Classifier
		streamer   gateway.Streamer
	)
	chatModel, err := ai.NewChatModel(ctx, cfg, cfg.AI.Provider, cfg.AI.Model)
	if err != nil {
		l.Warnf(ctx, "chat model disabled, /api/chat will answer 501: %v", err)
	} else {
		clientOpts := []ai.ClientOption{ai.WithTimeout(cfg.AI.Timeout)}
		if cfg.AI.WebSearch {
			clientOpts = append(clientOpts, ai.WithTools(ai.SearchTools(cfg.Search, l)))
		}
		llm = ai.NewClient(cfg.AI.Provider, chatModel, clientOpts...)
		streamer = llm
	}

	classifierLLM := llm
	if cfg.Classifier.Provider != "" || cfg.Classifier.Model != "" {
		provider := cfg.Classifier.Provider
		if provider == "" {
			provider = cfg.AI.Provider
		}
		if m, err := ai.NewChatModel(ctx, cfg, provider, cfg.Classifier.Model); err != nil {
			l.Warnf(ctx, "classifier model disabled: %v", err)
			classifierLLM = nil
		} else {
			classifierLLM = ai.NewClient(provider, m, ai.WithTimeout(cfg.AI.Timeout))
		}
	}
	if classifierLLM != nil {
		classifier = intent.New(classifierLLM, l, intent.WithRetry(cfg.Classifier.Retries, cfg.Classifier.Backoff))
	}

	callers := capability.Callers{
		Explorer: capability.NewBucketExplorer(bucket),
	}
	if llm != nil {
		callers.Chat = capability.NewLLMChat(llm)
		callers.Fallback = capability.NewLLMFallback(llm)
	}
	if imagen, err := ai.NewImagen(ctx, cfg); err != nil {
		l.Warnf(ctx, "image generation disabled: %v", err)
	} else {
		callers.Image = capability.NewImageCaller(imagen, bucket)
	}
	if db != nil {
		callers.Catalog = capability.NewCatalogCaller(storage.NewCatalog(db))
	}
	var publisher capability.Publisher
	if rdb != nil {
		publisher = rdb
	}
	var roomLLM capability.Generator
	if llm != nil {
		roomLLM = llm
	}
	rooms := capability.NewRoomService(stores.State, roomLLM, publisher, l)
	if llm != nil {
		callers.Room = rooms
	}

	auditLog := audit.New(stores.Audit, cfg.Audit.TTL, l)
	gw := gateway.New(gateway.Config{
		WithIntentRouting:   cfg.Gateway.WithIntentRouting,
		DefaultSystemPrompt: cfg.Gateway.DefaultSystemPrompt,
	}, classifier, capability.NewRouter(callers, l), auditLog, streamer, l)

	var users auth.UserResolver
	if db != nil {
		users = storage.NewUsers(db)
	}
	authService := auth.NewService(stores.State, users, cfg.Auth.SessionTTL)

	hostname, _ := os.Hostname()
	relay := pingrelay.New(cfg.Signal, hostname, l)
	defer relay.Close()

	deps := api.Deps{
		Gateway:   gw,
		Auth:      authService,
		Deploy:    deploy.NewPublisher(cfg.Deploy, stores.State, l),
		Signal:    relay,
		Objects:   bucket,
		Audit:     auditLog,
		Rooms:     rooms,
		StaticDir: cfg.Server.StaticDir,
		Logger:    l,
	}
	if rdb != nil {
		deps.RoomFeed = rdb
	}
	router := api.NewRouter(api.NewHandler(deps))

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		l.Infof(ctx, "listening on %s (intent routing: %t)", cfg.Server.Address, cfg.Gateway.WithIntentRouting)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-sigCtx.Done()
	l.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Errorf(ctx, "graceful shutdown failed: %v", err)
	}
	if err := relay.Drain(shutdownCtx); err != nil {
		l.Warnf(ctx, "pending signal forwards dropped: %v", err)
	}
}
