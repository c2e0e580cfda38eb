package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers    []string
	KafkaEventTopic string

	// Ledger
	LedgerRPCURL          string
	LedgerContractAddress string
	LedgerPrivateKey      string
	LedgerConfirmTimeout  time.Duration
	LedgerRetryAttempts   int
	LedgerRetryBaseDelay  time.Duration

	// Validation
	ValidationSchemaPath string
	MaxBatchRows         int

	// Code provisioning
	BatchCodeThreshold  int
	CodePrefix          string
	MaxCodeIDAttempts   int
	VerificationBaseURL string

	// Progress tracking
	ProgressBackend string // memory | redis
	ProgressTTL     time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 120*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 8*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "pharmatrust"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "pharmatrust123"),
		PostgresDB:       getEnv("POSTGRES_DB", "pharmatrust"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaEventTopic: getEnv("KAFKA_EVENT_TOPIC", "batch-events"),

		LedgerRPCURL:          getEnv("LEDGER_RPC_URL", ""),
		LedgerContractAddress: getEnv("LEDGER_CONTRACT_ADDRESS", ""),
		LedgerPrivateKey:      getEnv("LEDGER_PRIVATE_KEY", ""),
		LedgerConfirmTimeout:  getDuration("LEDGER_CONFIRM_TIMEOUT", 60*time.Second),
		LedgerRetryAttempts:   getIntEnv("LEDGER_RETRY_ATTEMPTS", 3),
		LedgerRetryBaseDelay:  getDuration("LEDGER_RETRY_BASE_DELAY", 200*time.Millisecond),

		ValidationSchemaPath: getEnv("VALIDATION_SCHEMA_PATH", ""),
		MaxBatchRows:         getIntEnv("MAX_BATCH_ROWS", 10000),

		BatchCodeThreshold:  getIntEnv("BATCH_CODE_THRESHOLD", 1000),
		CodePrefix:          getEnv("CODE_PREFIX", "PTC"),
		MaxCodeIDAttempts:   getIntEnv("MAX_CODE_ID_ATTEMPTS", 10),
		VerificationBaseURL: getEnv("VERIFICATION_BASE_URL", "https://verify.pharmatrust.io/v"),

		ProgressBackend: getEnv("PROGRESS_BACKEND", "memory"),
		ProgressTTL:     getDuration("PROGRESS_TTL", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
