package main

import (
	"context"
	"database/sql"
	"fmt"
	"ms-raffle/internal/auth"
	"ms-raffle/internal/config"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/raffle"
	raffledb "ms-raffle/internal/raffle/db"
	"ms-raffle/internal/raffle/raffle_api"
	raffleredis "ms-raffle/internal/raffle/redis"
	"ms-raffle/internal/randomness"
	"ms-raffle/internal/scheduler"
	"ms-raffle/internal/settlement"
	"ms-raffle/internal/treasury"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// subscribeDrawTimeouts watches Redis keyspace expiry events for draw
// deadline keys. When a Closed raffle's pending-draw key expires without a
// fulfillment, the raffle is cancelled and refunds open.
func subscribeDrawTimeouts(rdb *redis.Client, service *raffle.RaffleService, log *logger.Logger) {
	ctx := context.Background()

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else {
		log.Info("REDIS", fmt.Sprintf("Current keyspace notifications setting: %v", val))
		if len(val) < 2 || !strings.Contains(val[1].(string), "x") || !strings.Contains(val[1].(string), "E") {
			log.Warn("REDIS", "Keyspace notifications not properly configured for expiry events!")
		}
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", fmt.Sprintf("Subscribed to Redis keyevent expired notifications (DB %d)", rdb.Options().DB))

	go func() {
		for msg := range pubsub.Channel() {
			if !strings.HasPrefix(msg.Payload, raffleredis.DrawPendingPrefix) {
				continue
			}
			raw := strings.TrimPrefix(msg.Payload, raffleredis.DrawPendingPrefix)
			raffleID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Error("DRAW_TIMEOUT", fmt.Sprintf("Malformed draw pending key %q: %v", msg.Payload, err))
				continue
			}

			log.Warn("DRAW_TIMEOUT", fmt.Sprintf("Draw deadline expired for raffle %d", raffleID))
			if err := service.ExpireDraw(raffleID); err != nil {
				log.Error("DRAW_TIMEOUT", fmt.Sprintf("Failed to expire draw for raffle %d: %v", raffleID, err))
			}
		}
	}()
}

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	_, err = redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result()
	if err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Raffle Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	client := &http.Client{
		Timeout: time.Second * 10,
	}
	ctx := context.Background()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	migrationRunner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := migrationRunner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer migrationRunner.Close()

	var publisher raffle.Publisher
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer kafkaProducer.Close()
		log.Info("KAFKA", "Kafka producer initialized successfully")

		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		publisher = kafkaProducer
	} else {
		log.Warn("KAFKA", "Kafka disabled by configuration, events will not be published")
	}

	db := &raffledb.DB{Bun: bunDB}
	lock := raffleredis.NewRedis(redisClient, cfg.Protocol.MutationLockTTL)
	gateway := randomness.NewGateway(db, randomness.NewOracleClient(cfg.Oracle.BaseURL, cfg.Oracle.KeyHash, client))
	wallet := treasury.NewWalletClient(cfg.Treasury.WalletURL, client)

	engine, err := settlement.NewEngine(cfg.Protocol.FeeBps, cfg.Protocol.FeeRecipient, wallet)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid settlement configuration: %v", err))
	}

	raffleService := raffle.NewRaffleService(db, lock, publisher, gateway, engine, log, cfg.Oracle.DrawTimeout)
	handler := raffle_api.NewHandler(raffleService, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Route("/api/raffle", func(r chi.Router) {
		r.Get("/", handler.ListRaffles)
		r.Get("/count", handler.CountRaffles)
		r.Get("/{raffleId}", handler.GetRaffle)
		r.Get("/{raffleId}/participants", handler.GetParticipants)
		r.Get("/{raffleId}/entries/{participant}", handler.GetEntryCount)
		r.Get("/{raffleId}/prize", handler.GetEstimatedPrize)
	})
	log.Info("ROUTER", "Public raffle read endpoints registered under /api/raffle")

	// Oracle callback; correlated by request id rather than bearer identity.
	r.Post("/oracle/fulfill", handler.FulfillRandomness)
	log.Info("ROUTER", "Oracle fulfillment endpoint registered at /oracle/fulfill")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		log.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api/raffle", func(r chi.Router) {
			r.Post("/", handler.CreateRaffle)
			r.Post("/{raffleId}/entries", handler.BuyEntries)
			r.Post("/{raffleId}/close", handler.CloseRaffle)
			r.Post("/{raffleId}/cancel", handler.CancelRaffle)
			r.Post("/{raffleId}/refund", handler.ClaimRefund)
			r.Post("/{raffleId}/finalize", handler.FinalizeRaffle)
		})
		log.Info("ROUTER", "Raffle mutation routes registered under /api/raffle")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("REDIS", "Starting draw timeout subscription")
	subscribeDrawTimeouts(redisClient, raffleService, log)

	jobs := scheduler.New(raffleService, treasury.NewTreasury(bunDB), log)
	jobs.Start()
	defer jobs.Stop()

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Raffle Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Raffle Service shutdown complete")
	}
}
