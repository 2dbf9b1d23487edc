package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/agentgraph/agentgraph-open/pkg/config"
)

// PostgreSQL represents a PostgreSQL database connection
type PostgreSQL struct {
	pool *pgxpool.Pool
	db   *DB
}

type PostgreSQLConfig struct {
	User              string
	Password          string
	Host              string
	Port              int
	Database          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// NewPostgreSQL creates a pooled PostgreSQL connection and verifies it with a ping.
func NewPostgreSQL(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required - set database.name or AGENTGRAPH_DATABASE_NAME")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	// Set connection parameters individually to avoid URL parsing issues
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	if cfg.SSLMode == "disable" {
		poolConfig.ConnConfig.TLSConfig = nil
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{
		pool: pool,
		db:   &DB{sql: stdlib.OpenDBFromPool(pool), driver: DriverPostgres},
	}, nil
}

// PostgresFromConfig builds a PostgreSQLConfig from the service configuration.
// When database.password_from_keyring is set the password is looked up in
// the system keyring instead of the config file.
func PostgresFromConfig(cfg *config.Config) (PostgreSQLConfig, error) {
	pgCfg := PostgreSQLConfig{
		User:              cfg.GetString("database.user", "agentgraph"),
		Password:          cfg.Get("database.password"),
		Host:              cfg.GetString("database.host", "localhost"),
		Port:              cfg.GetInt("database.port", 5432),
		Database:          cfg.GetString("database.name", "agentgraph"),
		SSLMode:           cfg.GetString("database.sslmode", "disable"),
		MaxConnections:    int32(cfg.GetInt("database.max_connections", 20)),
		ConnectionTimeout: cfg.GetDuration("database.connection_timeout", 5*time.Second),
	}

	if cfg.GetBool("database.password_from_keyring", false) {
		password, err := GetDatabasePassword(pgCfg.Database)
		if err != nil {
			return PostgreSQLConfig{}, err
		}
		pgCfg.Password = password
	}
	return pgCfg, nil
}

// DB returns the database/sql handle backed by the pool.
func (db *PostgreSQL) DB() *DB {
	return db.db
}

// Close closes the database connection
func (db *PostgreSQL) Close() {
	if db.db != nil {
		_ = db.db.sql.Close()
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateDatabase creates cfg.Database by connecting to the maintenance
// "postgres" database with the same credentials.
func CreateDatabase(ctx context.Context, cfg PostgreSQLConfig) error {
	if cfg.Database == "" {
		return fmt.Errorf("database name is required")
	}

	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return fmt.Errorf("failed to create connection config: %w", err)
	}
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = "postgres"
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = 30 * time.Second
	if cfg.SSLMode == "disable" {
		poolConfig.ConnConfig.TLSConfig = nil
	}

	defaultPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to default database: %w", err)
	}
	defer defaultPool.Close()

	var exists bool
	err = defaultPool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Database).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := defaultPool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}
