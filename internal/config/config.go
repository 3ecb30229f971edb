package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emrgen/salesdb/internal/migration"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/validation"
	"github.com/go-playground/validator/v10"
	_ "github.com/joho/godotenv/autoload"
)

// Config is read from the environment. A .env file in the working directory
// is loaded first.
type Config struct {
	StoreDriver   string `validate:"oneof=memory sqlite postgres mongo"`
	DatabaseURL   string `validate:"required"`
	MongoURI      string `validate:"required"`
	MongoDatabase string `validate:"required"`
	Debug         bool

	RedisAddr     string `validate:"required,hostname_port"`
	RedisPassword string
	CacheDriver   string        `validate:"oneof=memory redis"`
	CacheCodec    string        `validate:"oneof=nop gzip brotli lz4"`
	CacheTTL      time.Duration `validate:"gt=0s"`
	LockDriver    string        `validate:"oneof=mutex redis none"`
	LockTTL       time.Duration `validate:"gt=0s"`

	HTTPPort  string        `validate:"required,numeric"`
	JWTSecret string        `validate:"required,min=16"`
	TokenTTL  time.Duration `validate:"gt=0s"`

	AuditDriver  string `validate:"oneof=log store kafka"`
	KafkaBrokers string `validate:"required_if=AuditDriver kafka"`
	AuditTopic   string `validate:"required_with=KafkaBrokers"`

	MigrationFailurePolicy string `validate:"oneof=continue abort"`
	ValidationSchedule     string
	BackupRetention        time.Duration `validate:"gte=0s"`
	RetentionSchedule      string
	CacheSweepSchedule     string
	PhoneRegion            string `validate:"len=2,uppercase"`

	LogFormat string `validate:"oneof=text json"`
	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`

	PerfPointRead     time.Duration `validate:"gt=0s"`
	PerfAggregateRead time.Duration `validate:"gt=0s"`
	PerfWrite         time.Duration `validate:"gt=0s"`
	PerfBatchWrite    time.Duration `validate:"gt=0s"`
	PerfBatchSize     int           `validate:"gte=1,lte=1000"`
}

// auditDriver keeps Kafka the default wherever brokers are configured.
func auditDriver() string {
	if os.Getenv("KAFKA_BROKERS") != "" {
		return "kafka"
	}

	return "log"
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	errs []string
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}

	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}

	return d
}

func (e *env) integer(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}

	return n
}

func (e *env) boolean(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

// LoadConfig reads and validates the configuration.
func LoadConfig() (*Config, error) {
	e := &env{}
	perf := validation.DefaultThresholds()

	cfg := &Config{
		StoreDriver:   e.str("STORE_DRIVER", store.DriverSqlite),
		DatabaseURL:   e.str("DATABASE_URL", "./.data/salesdb.db"),
		MongoURI:      e.str("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: e.str("MONGO_DATABASE", "salesdb"),
		Debug:         e.boolean("DEBUG"),

		RedisAddr:     e.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		CacheDriver:   e.str("CACHE_DRIVER", "memory"),
		CacheCodec:    e.str("CACHE_CODEC", "lz4"),
		CacheTTL:      e.duration("CACHE_TTL", 5*time.Minute),
		LockDriver:    e.str("LOCK_DRIVER", "mutex"),
		LockTTL:       e.duration("LOCK_TTL", 10*time.Second),

		HTTPPort:  e.str("HTTP_PORT", "4001"),
		JWTSecret: e.str("JWT_SECRET", "salesdb-development-secret"),
		TokenTTL:  e.duration("TOKEN_TTL", 24*time.Hour),

		AuditDriver:  strings.ToLower(e.str("AUDIT_DRIVER", auditDriver())),
		KafkaBrokers: e.str("KAFKA_BROKERS", ""),
		AuditTopic:   e.str("AUDIT_TOPIC", "sales.operations"),

		MigrationFailurePolicy: e.str("MIGRATION_FAILURE_POLICY", string(migration.PolicyContinue)),
		ValidationSchedule:     e.str("VALIDATION_SCHEDULE", ""),
		BackupRetention:        e.duration("BACKUP_RETENTION", 30*24*time.Hour),
		RetentionSchedule:      e.str("RETENTION_SCHEDULE", "@daily"),
		CacheSweepSchedule:     e.str("CACHE_SWEEP_SCHEDULE", "@every 1m"),
		PhoneRegion:            strings.ToUpper(e.str("PHONE_REGION", "GB")),

		LogFormat: strings.ToLower(e.str("LOG_FORMAT", "text")),
		LogLevel:  strings.ToLower(e.str("LOG_LEVEL", "info")),

		PerfPointRead:     e.duration("PERF_POINT_READ", perf.PointRead),
		PerfAggregateRead: e.duration("PERF_AGGREGATE_READ", perf.AggregateRead),
		PerfWrite:         e.duration("PERF_WRITE", perf.Write),
		PerfBatchWrite:    e.duration("PERF_BATCH_WRITE", perf.BatchWrite),
		PerfBatchSize:     e.integer("PERF_BATCH_SIZE", perf.BatchSize),
	}

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(e.errs, "; "))
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// StoreOptions selects the document store backend.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:        c.StoreDriver,
		DSN:           c.DatabaseURL,
		MongoURI:      c.MongoURI,
		MongoDatabase: c.MongoDatabase,
		Debug:         c.Debug,
	}
}

// Thresholds are the performance limits of the validation suite.
func (c *Config) Thresholds() validation.Thresholds {
	return validation.Thresholds{
		PointRead:     c.PerfPointRead,
		AggregateRead: c.PerfAggregateRead,
		Write:         c.PerfWrite,
		BatchWrite:    c.PerfBatchWrite,
		BatchSize:     c.PerfBatchSize,
	}
}

func (c *Config) FailurePolicy() migration.FailurePolicy {
	// validated above
	p, _ := migration.ParseFailurePolicy(c.MigrationFailurePolicy)
	return p
}
