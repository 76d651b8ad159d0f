// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

// Config описывает подключение к PostgreSQL.
type Config struct {
	DSN           string        `mapstructure:"dsn"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
	ConnTimeout   time.Duration `mapstructure:"conn_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = 5 * time.Second
	}
}

func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: DSN is required")
	}
	return nil
}

// ApplyMigrations накатывает миграции из MigrationsDir (no-op, если он пуст).
func ApplyMigrations(cfg Config, log *logger.Logger) error {
	if cfg.MigrationsDir == "" {
		return nil
	}
	m, err := migrate.New("file://"+cfg.MigrationsDir, cfg.DSN)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	log.Info("postgres: migrations applied", zap.String("dir", cfg.MigrationsDir))
	return nil
}

// Connect создаёт пул соединений и проверяет его.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*pgxpool.Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgx parse config: %w", err)
	}

	db, err := pgxpool.NewWithConfig(connCtx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool init: %w", err)
	}

	if err := db.Ping(connCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}

	log.Info("postgres connected")
	return db, nil
}
