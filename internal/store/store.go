// Package store persists optimizations and their collaborator records with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Store wraps a gorm handle. Inside Transaction the handle is the transaction.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			cfg.Charset,
		)
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite has a single writer; one connection keeps transactions serialized
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Debug("Database connected", "driver", cfg.Driver)
	return &Store{db: db, logger: logger}, nil
}

// Migrate creates or updates every table
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&models.Optimization{},
		&models.Dataset{},
		&models.DatasetRow{},
		&models.Trace{},
		&models.Issue{},
		&models.Commit{},
		&models.Document{},
		&models.Evaluation{},
		&models.Experiment{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn in a database transaction. The Store passed to fn must
// be used for every read and write that belongs to the transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

// Create inserts any model value
func (s *Store) Create(ctx context.Context, value any) error {
	if err := s.db.WithContext(ctx).Create(value).Error; err != nil {
		return fmt.Errorf("failed to create %T: %w", value, err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
