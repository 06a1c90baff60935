package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Oracle   OracleConfig
	Protocol ProtocolConfig
	Treasury TreasuryConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type OracleConfig struct {
	// BaseURL of the randomness oracle service; requests go to
	// POST {BaseURL}/api/random and the oracle calls back on /oracle/fulfill.
	BaseURL string
	// KeyHash is the deterministic selection key forwarded with each request.
	KeyHash string
	// DrawTimeout is how long a Closed raffle waits for a fulfillment before
	// the fallback cancels it with refunds open.
	DrawTimeout time.Duration
}

type ProtocolConfig struct {
	// FeeBps is the protocol fee in basis points, fixed for the process
	// lifetime. Bounded to [0, 1000] (0-10%).
	FeeBps       int64
	FeeRecipient string
	// MutationLockTTL bounds how long a per-raffle mutation lock can be held.
	MutationLockTTL time.Duration
}

type TreasuryConfig struct {
	// WalletURL is the custody wallet service that executes outbound payouts.
	WalletURL string
}

func Load() (*Config, error) {
	feeBps := int64(getEnvInt("PROTOCOL_FEE_BPS", 250))
	if feeBps < 0 || feeBps > 1000 {
		return nil, fmt.Errorf("PROTOCOL_FEE_BPS must be between 0 and 1000, got %d", feeBps)
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Oracle: OracleConfig{
			BaseURL:     getEnv("ORACLE_SERVICE_URL", "http://localhost:8090"),
			KeyHash:     getEnv("ORACLE_KEY_HASH", ""),
			DrawTimeout: time.Duration(getEnvInt("DRAW_TIMEOUT_HOURS", 24)) * time.Hour,
		},
		Protocol: ProtocolConfig{
			FeeBps:          feeBps,
			FeeRecipient:    getEnv("PROTOCOL_FEE_RECIPIENT", ""),
			MutationLockTTL: time.Duration(getEnvInt("MUTATION_LOCK_TTL_SECONDS", 5)) * time.Second,
		},
		Treasury: TreasuryConfig{
			WalletURL: getEnv("WALLET_SERVICE_URL", "http://localhost:8091"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
