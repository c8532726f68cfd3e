package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"tiered-cache/internal/cache"
	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/config"
	"tiered-cache/internal/database"
	"tiered-cache/internal/redis"
	"tiered-cache/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger(cfg.LogLevel)
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	if !cfg.Cache.Enabled {
		log.Fatal("Tiered cache is disabled (CACHE_TIERED_ENABLED=false), nothing to do")
	}

	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer client.Close()

	users, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer users.Close()

	publisher := cache.NewMessagePublisher(client)
	manager := cache.NewTieredCacheManager(client, publisher, cfg.Cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := cache.NewMessageListener(client, manager)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("Failed to start cache message listener: %v", err)
	}
	defer listener.Stop()

	// periodic cache stats so operators can watch hit rates without hitting
	// the metrics endpoint
	reporter := cron.New()
	_, err = reporter.AddFunc("@every 1m", func() {
		for _, tiered := range manager.AllTieredCaches() {
			stats := tiered.LocalStats()
			logger.Info("Cache stats",
				logging.Field{Key: "cache", Value: tiered.Name()},
				logging.Field{Key: "hits", Value: stats.Hits},
				logging.Field{Key: "misses", Value: stats.Misses},
				logging.Field{Key: "evictions", Value: stats.Evictions},
				logging.Field{Key: "size", Value: stats.Size})
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule stats reporter: %v", err)
	}
	reporter.Start()
	defer reporter.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.New(manager, users, client).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logging.Field{Key: "port", Value: cfg.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", err)
	}
}
