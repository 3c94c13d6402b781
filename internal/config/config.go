// Package config provides functionality for managing configuration options
// for the application using command-line flags, an optional JSON config
// file and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/atinyakov/stripekeeper/internal/entry"
)

// Backend names accepted in Options.Backend.
const (
	BackendKeyring  = "keyring"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendFile     = "file"
	BackendMemory   = "memory"
)

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `json:"addr" env:"SERVER_ADDRESS"`

	// Backend selects the credential store.
	Backend string `json:"backend" env:"STRIPEKEEPER_BACKEND"`

	// DatabaseDSN holds the PostgreSQL connection string.
	DatabaseDSN string `json:"database_dsn" env:"DATABASE_DSN"`

	// StoragePath is the SQLite database or JSON file for local backends.
	StoragePath string `json:"storage_path" env:"STRIPEKEEPER_STORAGE_PATH"`

	// LogLevel is passed to logger.Init.
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert" env:"TLS_CERT"`
	TLSKey  string `json:"tls_key" env:"TLS_KEY"`

	// MaxEntryBytes caps one encoded store entry.
	MaxEntryBytes int `json:"max_entry_bytes" env:"STRIPEKEEPER_MAX_ENTRY_BYTES"`
	// MaxChunkCount caps entries per secret.
	MaxChunkCount int `json:"max_chunk_count" env:"STRIPEKEEPER_MAX_CHUNK_COUNT"`
	// NotFoundConfirmationCount ends delete probes after this many misses.
	NotFoundConfirmationCount int `json:"not_found_confirmation_count" env:"STRIPEKEEPER_NOT_FOUND_CONFIRMATION_COUNT"`

	// PurgeInterval and PurgeRetention drive the soft-delete cleaner of the
	// SQL backends.
	PurgeInterval  time.Duration `json:"purge_interval" env:"STRIPEKEEPER_PURGE_INTERVAL"`
	PurgeRetention time.Duration `json:"purge_retention" env:"STRIPEKEEPER_PURGE_RETENTION"`

	// Config is the path to the Config file.
	Config string `json:"-" env:"CONFIG"`
}

// Default returns options with platform defaults.
func Default() *Options {
	limits := entry.DefaultLimits()
	return &Options{
		Addr:                      "localhost:8080",
		Backend:                   BackendKeyring,
		LogLevel:                  "info",
		MaxEntryBytes:             limits.MaxEntryBytes,
		MaxChunkCount:             limits.MaxChunkCount,
		NotFoundConfirmationCount: limits.NotFoundConfirmationCount,
		PurgeInterval:             time.Hour,
		PurgeRetention:            30 * 24 * time.Hour,
		Config:                    "config.json",
	}
}

// RegisterFlags binds the options to fs.
func (o *Options) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.Addr, "a", o.Addr, "run on ip:port server")
	fs.StringVar(&o.Backend, "backend", o.Backend, "credential store: keyring | sqlite | postgres | file | memory")
	fs.StringVar(&o.DatabaseDSN, "d", o.DatabaseDSN, "postgres address")
	fs.StringVar(&o.StoragePath, "storage", o.StoragePath, "sqlite database or JSON file path")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.StringVar(&o.TLSCert, "tls-cert", o.TLSCert, "server certificate PEM; enables HTTPS with -tls-key")
	fs.StringVar(&o.TLSKey, "tls-key", o.TLSKey, "server private key PEM")
	fs.IntVar(&o.MaxEntryBytes, "max-entry-bytes", o.MaxEntryBytes, "maximum bytes per store entry, header included")
	fs.IntVar(&o.MaxChunkCount, "max-chunks", o.MaxChunkCount, "maximum entries per secret")
	fs.IntVar(&o.NotFoundConfirmationCount, "not-found-confirmations", o.NotFoundConfirmationCount, "consecutive misses that end a chunk sweep")
	fs.StringVar(&o.Config, "config", o.Config, "path to config file")
	fs.StringVar(&o.Config, "c", o.Config, "path to config file (shorthand)")
}

// Resolve applies the config file and then environment variables on top of
// the current values, and validates the result.
func (o *Options) Resolve() error {
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}
	if err := o.loadFile(); err != nil {
		return err
	}
	if err := env.Parse(o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return o.Validate()
}

// loadFile reads o.Config if it exists; a missing file is not an error.
func (o *Options) loadFile() error {
	if o.Config == "" {
		return nil
	}
	data, err := os.ReadFile(o.Config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

// Validate checks option combinations.
func (o *Options) Validate() error {
	switch o.Backend {
	case BackendKeyring, BackendMemory:
	case BackendPostgres:
		if o.DatabaseDSN == "" {
			return errors.New("postgres backend requires a database DSN")
		}
	case BackendSQLite, BackendFile:
		if o.StoragePath == "" {
			return fmt.Errorf("%s backend requires a storage path", o.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", o.Backend)
	}
	if (o.TLSCert == "") != (o.TLSKey == "") {
		return errors.New("tls cert and key must be set together")
	}
	if o.MaxEntryBytes < 0 || (o.MaxEntryBytes > 0 && o.MaxEntryBytes < 5) {
		return fmt.Errorf("max entry bytes %d cannot hold a chunk header", o.MaxEntryBytes)
	}
	if o.MaxChunkCount < 0 {
		return fmt.Errorf("max chunk count %d is negative", o.MaxChunkCount)
	}
	if o.NotFoundConfirmationCount < 0 {
		return fmt.Errorf("not found confirmation count %d is negative", o.NotFoundConfirmationCount)
	}
	return nil
}

// Limits converts the striping options for entry.New.
func (o *Options) Limits() entry.Limits {
	return entry.Limits{
		MaxEntryBytes:             o.MaxEntryBytes,
		MaxChunkCount:             o.MaxChunkCount,
		NotFoundConfirmationCount: o.NotFoundConfirmationCount,
	}
}

// Parse parses the command-line flags, config file and environment
// variables. It exits the process on invalid configuration.
func Parse() *Options {
	options := Default()
	options.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if err := options.Resolve(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return options
}
