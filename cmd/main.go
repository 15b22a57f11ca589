/**
 * @description
 * This is the main entry point for the tip-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the facilitator API client, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store, internal/x402: Internal packages.
 * - pkg/facilitator: Client for the x402 facilitator API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/piggybanks/tip-service/internal/api"
	"github.com/piggybanks/tip-service/internal/app"
	"github.com/piggybanks/tip-service/internal/config"
	"github.com/piggybanks/tip-service/internal/store"
	"github.com/piggybanks/tip-service/internal/x402"
	"github.com/piggybanks/tip-service/pkg/facilitator"
	"github.com/piggybanks/tip-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	// The service cannot operate without a facilitator: without verify and
	// settle there is no way to accept a payment. Fail fast on missing
	// credentials rather than failing the first tip.
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if strings.TrimSpace(cfg.FacilitatorBaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"facilitator base url must be configured\" env=FACILITATOR_BASE_URL")
	}
	if err := facilitator.ValidateBaseURL(cfg.FacilitatorBaseURL); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"facilitator base url invalid\" err=%v", err)
	}
	if strings.TrimSpace(cfg.FacilitatorAPIKeyID) == "" || strings.TrimSpace(cfg.FacilitatorAPIKeySecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"facilitator credentials must be configured\" env=FACILITATOR_API_KEY_ID,FACILITATOR_API_KEY_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting tip-service\" port=%s network=%s", cfg.ServerPort, cfg.PaymentNetwork)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish donation events. This
	// service only publishes, so a missing broker degrades to a fallback.
	var eventProducer rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rabbitmq.EventProducerFallback{}
	} else {
		defer producer.Close()
		eventProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the facilitator API client.
	facilitatorClient, err := facilitator.NewClient(
		cfg.FacilitatorBaseURL,
		cfg.FacilitatorAPIKeyID,
		cfg.FacilitatorAPIKeySecret,
		time.Duration(cfg.FacilitatorTimeoutSeconds)*time.Second,
	)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"facilitator client init failed\" err=%v", err)
	}

	var redisClient *redis.Client
	if cfg.TipRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; tip rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; tip rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; tip rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// The payment requirements builder carries the asset this deployment
	// accepts tips in.
	requirementsBuilder := x402.NewBuilder(x402.Asset{
		Network:  cfg.PaymentNetwork,
		Address:  cfg.PaymentAssetAddress,
		Symbol:   cfg.PaymentAssetSymbol,
		Decimals: cfg.PaymentAssetDecimals,
		Name:     cfg.PaymentAssetName,
		Version:  cfg.PaymentAssetVersion,
	}, cfg.PaymentTimeoutSeconds)

	var tipLimiter app.RateLimiter
	if redisClient != nil {
		tipLimiter = app.NewRedisTipRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the core application service with its dependencies.
	tipService := app.NewService(
		repository,
		facilitatorClient,
		eventProducer,
		requirementsBuilder,
		cfg.ChainID,
		tipLimiter,
		app.RateLimitConfig{Limit: cfg.TipRateLimitPerMinute, Window: time.Minute},
	)

	// Initialize the API handlers and router.
	tipHandlers := api.NewTipHandlers(tipService, cfg.PublicBaseURL+"/api/send-tip", cfg.WebhookSigningKey)
	router := api.TipRoutes(tipHandlers, cfg.Origins(), time.Duration(cfg.WalletAuthMaxAgeSecs)*time.Second)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
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
