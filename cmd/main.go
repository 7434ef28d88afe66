/**
 * @description
 * This is the main entry point for the payout-service HTTP server. It loads the
 * configuration, optionally migrates the schema, wires the backing services and the
 * application layer, and serves the API until it receives a termination signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/bootstrap, internal/config, internal/store: Internal packages for the service.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/transfa/payout-service/internal/api"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/bootstrap"
	"github.com/transfa/payout-service/internal/config"
	"github.com/transfa/payout-service/internal/store"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payout-service\" port=%s", cfg.ServerPort)

	if cfg.AutoMigrate {
		if err := store.RunMigrations(cfg.DatabaseURL, store.MigrateUp); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
	}

	components, err := bootstrap.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"startup failed\" err=%v", err)
	}
	defer components.Close()

	handler := api.NewHandler(components.Service, components.Auth)
	if components.Redis != nil {
		policy := app.NewRateLimitPolicy(cfg.LoginLimitPerMinute, cfg.RateLimitPerMinute, cfg.SubmitLimitPerMinute)
		handler.SetRateLimiter(app.NewRedisRateLimiter(components.Redis, cfg.RedisKeyPrefix, policy))
	}
	router := api.NewRouter(handler, cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s gateway_mode=%s", serverAddr, components.Service.GatewayMode())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
