package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	DSN           string
	MongoURI      string
	MongoDatabase string
	Debug         bool
}

// Open connects the configured backend. Relational backends are migrated
// before they are returned.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSqlite, DriverPostgres:
		db, err := OpenGorm(opts)
		if err != nil {
			return nil, err
		}
		gs := NewGormStore(db)
		if err := gs.Migrate(); err != nil {
			return nil, err
		}
		return gs, nil
	case DriverMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase)
	}

	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}

// OpenGorm opens the relational database behind a GormStore.
func OpenGorm(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if opts.Debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSqlite:
		if dir := filepath.Dir(opts.DSN); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("driver %q is not relational", opts.Driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		logrus.Warnf("store: failed to install otelgorm plugin: %v", err)
	}

	return db, nil
}
