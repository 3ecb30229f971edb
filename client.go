package salesdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/compress"
	"github.com/emrgen/salesdb/internal/config"
	"github.com/emrgen/salesdb/internal/jobs"
	"github.com/emrgen/salesdb/internal/lock"
	"github.com/emrgen/salesdb/internal/metrics"
	"github.com/emrgen/salesdb/internal/migration"
	"github.com/emrgen/salesdb/internal/module"
	"github.com/emrgen/salesdb/internal/queue"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Client wires the store, cache, locker and services from one Config.
type Client struct {
	Config   *config.Config
	Store    store.Store
	Cache    cache.Cache
	Registry *prometheus.Registry

	Relationships *service.RelationshipManager
	Duplicates    *service.DuplicateService
	Migrations    *migration.Manager
	Validation    *validation.Framework
	Tokens        *module.TokenService

	Jobs           *jobs.TaskExecutor
	ValidationTask *jobs.ValidationTask

	metrics *metrics.Metrics
	closers []func() error
}

// New connects the configured backends. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	c := &Client{Config: cfg, Registry: prometheus.NewRegistry()}

	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.Store = st
	c.closers = append(c.closers, st.Close)

	var rdb *redis.Client
	if cfg.CacheDriver == "redis" || cfg.LockDriver == "redis" {
		rdb = cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		c.closers = append(c.closers, rdb.Close)
	}

	var sweep jobs.Sweeper
	switch cfg.CacheDriver {
	case "redis":
		codec, err := compress.ByName(cfg.CacheCodec)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Cache = cache.NewRedisCache(rdb, codec, cfg.CacheTTL, time.Now)
	default:
		mc := cache.NewMemoryCache(cfg.CacheTTL, time.Now)
		c.Cache, sweep = mc, mc
	}

	var locker lock.Locker
	switch cfg.LockDriver {
	case "redis":
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
	case "none":
		logrus.Warn("sale writes are not serialized, concurrent child additions can be lost")
		locker = lock.NewNop()
	default:
		locker = lock.NewKeyedMutex()
	}

	var audit queue.Publisher
	switch cfg.AuditDriver {
	case "kafka":
		kp, err := queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		audit = kp
	case "store":
		audit = queue.NewStorePublisher(st)
	default:
		audit = queue.NewLogPublisher()
	}
	c.closers = append(c.closers, audit.Close)

	m := metrics.New(c.Registry)
	c.metrics = m

	c.Relationships = service.NewRelationshipManager(st, c.Cache, locker,
		service.WithMetrics(m),
		service.WithAudit(audit),
		service.WithFieldValidator(service.NewFieldValidator(cfg.PhoneRegion)),
	)
	c.Duplicates = service.NewDuplicateService(st,
		service.WithPhoneRegion(cfg.PhoneRegion),
		service.WithDuplicateMetrics(m),
	)
	c.Migrations = c.MigrationsWith()
	c.Validation = validation.NewFramework(st, c.Relationships,
		validation.WithThresholds(cfg.Thresholds()),
		validation.WithMetrics(m),
	)
	c.Tokens = module.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	c.ValidationTask = jobs.NewValidationTask(cfg.ValidationSchedule, c.Validation)
	tasks := []jobs.CronJob{
		c.ValidationTask,
		jobs.NewBackupRetentionTask(cfg.RetentionSchedule, cfg.BackupRetention, c.Migrations),
	}
	if sweep != nil {
		tasks = append(tasks, jobs.NewCacheSweepTask(cfg.CacheSweepSchedule, sweep))
	}
	c.Jobs = jobs.NewTaskExecutor(tasks...)

	return c, nil
}

// MigrationsWith builds a migration manager from the configuration with
// opts applied on top.
func (c *Client) MigrationsWith(opts ...migration.Option) *migration.Manager {
	base := []migration.Option{
		migration.WithPolicy(c.Config.FailurePolicy()),
		migration.WithMetrics(c.metrics),
		migration.WithCache(c.Cache),
	}

	return migration.NewManager(c.Store, append(base, opts...)...)
}

// Close releases the backends in reverse order of opening.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil

	return errors.Join(errs...)
}
