package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/combined"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform/keycrm"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform/rozetka"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/queue"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/server/handlers"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/server/routers"
	syncengine "github.com/VasulenkoIllia/rozetka-keycrm/internal/sync"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/config"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/errlog"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/infra/redis"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/config.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  Rozetka-KeyCRM Link Sync Starting...")
	log.Println("========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	errStore, err := errlog.New(cfg.ErrLog.Path, zapLogger)
	if err != nil {
		log.Fatalf("Failed to open error log store: %v", err)
	}
	defer errStore.Close()

	if cfg.Webhook.Secret == "" {
		const warning = "Webhook secret is not set. Webhook endpoint accepts requests without authentication."
		log.Printf("Warning: %s\n", warning)
		errStore.Warning(warning, "startup", nil)
	}

	marketplace, err := rozetka.NewClient(rozetka.Config{
		Token:   cfg.Rozetka.Token,
		BaseURL: cfg.Rozetka.BaseURL,
		Timeout: cfg.Rozetka.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create rozetka client: %v", err)
	}
	crm, err := keycrm.NewClient(keycrm.Config{
		APIKey:  cfg.Keycrm.APIKey,
		BaseURL: cfg.Keycrm.BaseURL,
		Timeout: cfg.Keycrm.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create keycrm client: %v", err)
	}

	fetcher := combined.NewFetcher(marketplace, crm, combined.FetchConfig{
		RozetkaLimit:   cfg.Rozetka.OrderLimit,
		RozetkaPage:    cfg.Rozetka.OrderPage,
		RozetkaExpand:  cfg.Rozetka.Expand,
		KeycrmLimit:    cfg.Keycrm.OrderLimit,
		KeycrmInclude:  cfg.Keycrm.Include,
		SkipTokenCheck: cfg.Rozetka.SkipTokenCheck,
	}, zapLogger)

	engine := syncengine.NewEngine(marketplace, crm, fetcher, syncengine.Config{
		LinkFieldUUID: cfg.Keycrm.LinkFieldUUID,
		KeycrmInclude: cfg.Keycrm.Include,
		Scan: syncengine.ScanConfig{
			PerPage:  cfg.Rozetka.SearchPerPage,
			MaxPages: cfg.Rozetka.SearchMaxPages,
			Expand:   cfg.Rozetka.Expand,
		},
		DirectMaxAttempts: cfg.Keycrm.SearchMaxAttempts,
	}, zapLogger)

	// Redis 未配置时跳过事件广播
	var events queue.EventPublisher
	if cfg.Redis.Addr != "" {
		publisher, err := redis.NewPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer publisher.Close()
		events = publisher
	}

	webhookQueue := queue.New(queue.Options{
		Concurrency:   cfg.Webhook.Queue.Concurrency,
		MaxRetries:    cfg.Webhook.Queue.MaxRetries,
		RetryDelay:    cfg.Webhook.Queue.RetryDelay,
		HistoryLimit:  cfg.Webhook.Queue.HistoryLimit,
		PreviewLength: cfg.Webhook.Queue.PayloadPreview,
	}, func(ctx context.Context, payload matching.OrderRecord, meta *queue.JobMeta) (*syncengine.Result, error) {
		result, err := engine.SyncForPayload(ctx, payload)
		if result != nil && result.EventType == "" {
			result.EventType = meta.EventType
		}
		return result, err
	}, zapLogger, errStore, events)

	handler := handlers.New(cfg, fetcher, engine, webhookQueue, errStore, zapLogger)
	router := routers.SetupRoutes(handler, cfg.Server.PublicDir, zapLogger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server start failed: %v", err)
		}
	}()

	log.Printf("Server started on port %s. Press Ctrl+C to shutdown.\n", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Server...")
	log.Println("========================================")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v\n", err)
	}
	if err := webhookQueue.Close(shutdownCtx); err != nil {
		log.Printf("Queue shutdown error: %v\n", err)
	}

	log.Println("========================================")
	log.Println("  Server exited gracefully")
	log.Println("========================================")
}
