package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	Environment   string
	StorageDriver string
	DatabaseURL   string
	RedisAddr     string
	GRPCAddr      string
	HTTPAddr      string

	MinTransferAmount    decimal.Decimal
	TransferMaxAttempts  int
	LockTimeout          time.Duration
	RecordFailedAttempts bool

	NotifierWorkers   int
	NotifierQueueSize int

	APIMaxBodyBytes          int64
	APIRateLimitCapacity     int
	APIRateLimitRefillPerSec float64
	APIIPAllowlist           []string

	GRPCTLSCertFile   string
	GRPCTLSKeyFile    string
	GRPCTLSCAFile     string
	GRPCTLSClientAuth bool

	// AuditLogPath receives the hash-chained audit trail as JSON lines, kept
	// apart from the application log. AuditLogDisabled keeps entries in memory only.
	AuditLogPath string
}

// AuditLogDisabled turns off the audit trail file.
const AuditLogDisabled = "none"

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv builds the configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Environment:   os.Getenv("APP_ENV"),
		StorageDriver: strings.ToLower(getenv("STORAGE_DRIVER", DriverPostgres)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		GRPCAddr:      getenv("GRPC_ADDR", ":50051"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),

		MinTransferAmount:    p.decimalVar("MIN_TRANSFER_AMOUNT", decimal.NewFromInt(10)),
		TransferMaxAttempts:  p.intVar("TRANSFER_MAX_ATTEMPTS", 3),
		LockTimeout:          p.durationVar("LOCK_TIMEOUT", 5*time.Second),
		RecordFailedAttempts: p.boolVar("RECORD_FAILED_ATTEMPTS", false),

		NotifierWorkers:   p.intVar("NOTIFIER_WORKERS", 2),
		NotifierQueueSize: p.intVar("NOTIFIER_QUEUE_SIZE", 256),

		APIMaxBodyBytes:          int64(p.intVar("API_MAX_BODY_BYTES", 1<<20)),
		APIRateLimitCapacity:     p.intVar("API_RATE_LIMIT_CAPACITY", 100),
		APIRateLimitRefillPerSec: p.floatVar("API_RATE_LIMIT_REFILL_PER_SEC", 10),
		APIIPAllowlist:           splitList(os.Getenv("API_IP_ALLOWLIST")),

		GRPCTLSCertFile:   os.Getenv("GRPC_TLS_CERT_FILE"),
		GRPCTLSKeyFile:    os.Getenv("GRPC_TLS_KEY_FILE"),
		GRPCTLSCAFile:     os.Getenv("GRPC_TLS_CA_FILE"),
		GRPCTLSClientAuth: p.boolVar("GRPC_TLS_CLIENT_AUTH", false),

		AuditLogPath: getenv("AUDIT_LOG_PATH", "audit.log"),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.StorageDriver != DriverPostgres && c.StorageDriver != DriverSQLite {
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StorageDriver)
	}
	if !c.MinTransferAmount.IsPositive() {
		return errors.New("MIN_TRANSFER_AMOUNT must be greater than zero")
	}
	if c.TransferMaxAttempts < 1 {
		return errors.New("TRANSFER_MAX_ATTEMPTS must be at least 1")
	}
	if c.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}

	// Production runs need shared storage and the event stream.
	if c.IsProduction() {
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
		if c.StorageDriver != DriverPostgres {
			return fmt.Errorf("STORAGE_DRIVER must be %q in %s", DriverPostgres, c.Environment)
		}
	}

	return nil
}

// IsProduction reports whether the environment is production or staging.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) fail(key, raw string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
}

func (p *parser) intVar(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) floatVar(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) boolVar(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) durationVar(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) decimalVar(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}
