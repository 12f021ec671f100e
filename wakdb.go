// Package wakdb is the top-level facade over the storage engine.
package wakdb

import (
	"wakdb/internal/config"
	"wakdb/internal/engine"
)

type (
	Engine   = engine.Engine
	Database = engine.Database
	Txn      = engine.Txn
	RecordID = engine.RecordID
	Config   = config.Config
)

var (
	ErrUnknownDatabase = engine.ErrUnknownDatabase
	ErrDatabaseExists  = engine.ErrDatabaseExists
	ErrBadDatabaseName = engine.ErrBadDatabaseName
)

// Open starts an engine over cfg's data directory, running recovery
// and catalog bootstrap. A nil cfg uses defaults.
func Open(cfg *Config) (*Engine, error) {
	return engine.Open(cfg)
}

// LoadConfig reads configuration from an optional yaml file plus
// WAKDB_-prefixed environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}
