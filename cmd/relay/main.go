package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"collab-editing-be/internal/config"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/internal/server"
	"collab-editing-be/internal/tracer"
	"collab-editing-be/internal/websocket"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Logger
	appLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 3. Optional Redis bridge for multi-instance fan-out
	var rdb *redis.Client
	if cfg.Collab.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Collab.RedisURL)
		if err != nil {
			log.Printf("Warning: invalid REDIS_URL, running single-instance: %v", err)
		} else {
			rdb = redis.NewClient(opts)
			if err := rdb.Ping(context.Background()).Err(); err != nil {
				log.Printf("Warning: Redis unreachable, running single-instance: %v", err)
				rdb = nil
			}
		}
	}

	// 4. Start the Hub
	hub := websocket.NewHub(rdb, appLogger)
	go hub.Run()

	// 5. Initialize Server
	srv := server.New(cfg, hub)

	// 6. Run with graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down relay...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
