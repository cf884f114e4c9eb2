package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Database bundles the gorm handle with the resources that back it.
type Database struct {
	Gorm    *gorm.DB
	Dialect string
	pool    *pgxpool.Pool
}

// Close releases the underlying connections.
func (d *Database) Close() error {
	if d == nil || d.Gorm == nil {
		return nil
	}
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// ParseDatabaseURL splits DATABASE_URL into a dialect and a driver DSN.
// sqlite://<path> selects the embedded store; postgres:// and postgresql://
// are handed to pgx unchanged.
func ParseDatabaseURL(raw string) (string, string, error) {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("DATABASE_URL: sqlite path is empty")
		}
		return DialectSQLite, path, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, raw, nil
	}
	return "", "", fmt.Errorf("DATABASE_URL: unsupported scheme in %q", raw)
}

// NewDBPool initializes a new pgx connection pool using the provided configuration.
func NewDBPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return pool, nil
}

// OpenDatabase opens the store selected by cfg.DatabaseURL. Postgres goes
// through the pgx pool; SQLite is limited to a single connection with
// foreign keys enforced.
func OpenDatabase(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Database, error) {
	dialect, dsn, err := ParseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         NewGormLogger(logger),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	switch dialect {
	case DialectPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormCfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Database{Gorm: db, Dialect: dialect, pool: pool}, nil
	default:
		db, err := OpenSQLite(dsn, gormCfg)
		if err != nil {
			return nil, err
		}
		return &Database{Gorm: db, Dialect: dialect}, nil
	}
}

// OpenSQLite opens a SQLite database with foreign keys on and one connection.
func OpenSQLite(dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if gormCfg == nil {
		gormCfg = &gorm.Config{TranslateError: true}
	}
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(dsn)), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// SQLiteDSN appends the connection parameters the repository relies on.
func SQLiteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var params []string
	if !strings.Contains(dsn, "_foreign_keys=") {
		params = append(params, "_foreign_keys=1")
	}
	if !strings.Contains(dsn, "_busy_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	return dsn + sep + strings.Join(params, "&")
}
