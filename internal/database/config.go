package database

import "time"

const (
	defaultMaxIdleConns    = 4
	defaultMaxOpenConns    = 4
	defaultConnMaxLifetime = time.Hour
)

// Config holds the ledger connection settings.
type Config struct {
	DBPath string

	// Zero values fall back to the package defaults.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
	ReadOnly        bool
}

// NewConfig returns a read-write configuration for dbPath.
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     -16000, // 16MB
		BusyTimeoutMS:   5000,
	}
}

// NewReadOnlyConfig returns a configuration for viewers that must never write.
func NewReadOnlyConfig(dbPath string) *Config {
	cfg := NewConfig(dbPath)
	cfg.ReadOnly = true
	return cfg
}
