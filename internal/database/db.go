package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/yangchao228/ScoutX/internal/database/migrations"
	"github.com/yangchao228/ScoutX/internal/fault"
)

// DB is the ledger connection. ReadOnly handles refuse Migrate.
type DB struct {
	*sqlx.DB
	Path     string
	ReadOnly bool
}

// NewDB opens the ledger database with the configured pool and pragmas.
// Schema creation is left to Migrate so callers can defer it to first use.
// Failures are Persistence faults; a missing path is a Config fault.
func NewDB(cfg *Config) (*DB, error) {
	const op = "database.NewDB"

	if cfg.DBPath == "" {
		return nil, fault.Errorf(fault.Config, op, "database path is required")
	}

	dir := filepath.Dir(cfg.DBPath)
	if dir != "." && !cfg.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fault.Errorf(fault.Persistence, op, "create directory for database: %w", err)
		}
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	// WAL mode allows the read-only viewer to query while a run writes
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		cfg.DBPath, cfg.BusyTimeoutMS)

	if cfg.ReadOnly {
		dsn += "&mode=ro"
		log.Info().Str("path", cfg.DBPath).Msg("Opening database in Read-Only mode")
	} else {
		log.Info().Str("path", cfg.DBPath).Msg("Opening database in Read-Write mode")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fault.Errorf(fault.Persistence, op, "open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	var pragmas []string
	if cfg.ReadOnly {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
			"PRAGMA query_only = ON;",
		}
	} else {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
		}
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fault.Errorf(fault.Persistence, op, "ping db (%s): %w", modeStr(cfg.ReadOnly), err)
	}

	log.Info().Str("mode", modeStr(cfg.ReadOnly)).Msg("Database connection successful")
	return &DB{DB: db, Path: cfg.DBPath, ReadOnly: cfg.ReadOnly}, nil
}

// Migrate applies pending versioned migrations and additive columns.
// It is safe to call repeatedly.
func (db *DB) Migrate() error {
	const op = "database.Migrate"

	if db.ReadOnly {
		return fault.Errorf(fault.Config, op, "cannot migrate read-only database %s", db.Path)
	}

	migrationFiles, err := migrations.Embedded()
	if err != nil {
		return fault.Errorf(fault.Persistence, op, "load migrations: %w", err)
	}
	if err := migrations.RunMigrations(db.DB.DB, migrationFiles); err != nil {
		return fault.Errorf(fault.Persistence, op, "run migrations: %w", err)
	}
	if err := migrations.EnsureColumns(db.DB.DB, migrations.AdditiveColumns); err != nil {
		return fault.New(fault.Persistence, op, err)
	}
	return nil
}

// Helper for logging
func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}
