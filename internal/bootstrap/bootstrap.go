/**
 * @description
 * Shared start-up wiring for the payout-service binaries (HTTP server and payoutctl).
 * It opens the database pool, the optional Redis and RabbitMQ connections, selects
 * the Worldpay gateway mode and builds the application services.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pool.
 * - github.com/redis/go-redis/v9: Optional Redis client for locks and rate limits.
 * - pkg/rabbitmq, pkg/worldpay: External service clients.
 */

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/config"
	"github.com/transfa/payout-service/internal/store"
	"github.com/transfa/payout-service/pkg/rabbitmq"
	"github.com/transfa/payout-service/pkg/worldpay"
)

// Components are the long-lived objects shared by a process.
type Components struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Publisher  rabbitmq.Publisher
	Repository *store.PostgresRepository
	Service    *app.Service
	Auth       *app.AuthService

	closers []func()
}

// Open connects to the configured backing services and builds the application services.
// Redis and RabbitMQ are optional: when they are missing or unreachable the service
// degrades to in-process locks, no rate limiting and a no-op event publisher.
func Open(ctx context.Context, cfg config.Config) (*Components, error) {
	c := &Components{}

	pool, err := OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c.Pool = pool
	c.closers = append(c.closers, pool.Close)

	c.Redis = openRedis(ctx, cfg.RedisURL)
	if c.Redis != nil {
		client := c.Redis
		c.closers = append(c.closers, func() { _ = client.Close() })
	}

	c.Publisher = openPublisher(cfg.RabbitMQURL, cfg.PayoutEventsExchange)
	publisher := c.Publisher
	c.closers = append(c.closers, publisher.Close)

	gateway := worldpay.New(worldpay.Config{
		BaseURL:    cfg.WorldpayBaseURL,
		APIVersion: cfg.WorldpayAPIVersion,
		Credentials: worldpay.Credentials{
			Username:   cfg.WorldpayUsername,
			Password:   cfg.WorldpayPassword,
			ServiceKey: cfg.WorldpayServiceKey,
		},
		Timeout: cfg.WorldpayTimeout(),
	})
	log.Printf("level=info component=bootstrap msg=\"gateway configured\" mode=%s base_url=%s", gateway.Mode(), cfg.WorldpayBaseURL)

	c.Repository = store.NewPostgresRepository(pool)
	c.Service = app.NewService(
		c.Repository,
		gateway,
		worldpay.NewBuilder(worldpay.ParseIdempotencyMode(cfg.WorldpayIdempotencyMode)),
		worldpay.Merchant{Entity: cfg.WorldpayMerchantEntity},
		c.Publisher,
	)
	if c.Redis != nil {
		c.Service.SetPayoutLocker(app.NewRedisPayoutLocker(c.Redis, cfg.RedisKeyPrefix, cfg.RefreshLockTTL()))
	}
	c.Auth = app.NewAuthService(c.Repository, cfg.JWTSecret, cfg.JWTTTL())

	return c, nil
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// OpenPool establishes a connection pool to the PostgreSQL database.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL must be configured")
	}
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return pool, nil
}

func openRedis(ctx context.Context, redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled and refresh locks are process-local\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", err)
		_ = client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}

func openPublisher(amqpURL, exchange string) rabbitmq.Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; payout events disabled\" env=RABBITMQ_URL")
		return &rabbitmq.EventProducerFallback{}
	}
	producer, err := rabbitmq.NewEventProducer(amqpURL, exchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		return &rabbitmq.EventProducerFallback{}
	}
	log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	return producer
}
