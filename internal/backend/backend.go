// Package backend opens the credential store selected in the configuration.
package backend

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/config"
	"github.com/atinyakov/stripekeeper/internal/db"
	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/keychain"
	"github.com/atinyakov/stripekeeper/internal/repository"
	"github.com/atinyakov/stripekeeper/internal/storage"
)

// Backend is an opened credential store and the resources behind it.
type Backend struct {
	Store entry.Store

	sqlDB  *sql.DB
	cancel context.CancelFunc
}

// Open builds the store named by opts.Backend. SQL backends also start the
// soft-delete cleaner, which runs until Close.
func Open(ctx context.Context, opts *config.Options, log *zap.Logger) (*Backend, error) {
	switch opts.Backend {
	case config.BackendKeyring:
		fitEntrySize(opts, keychain.MaxEntryBytes(), log)
		return &Backend{Store: keychain.New()}, nil
	case config.BackendMemory:
		return &Backend{Store: &storage.LocalStorage{MaxEntryBytes: opts.MaxEntryBytes}}, nil
	case config.BackendFile:
		ls, err := storage.NewLocalStorage(opts.StoragePath, opts.MaxEntryBytes)
		if err != nil {
			return nil, fmt.Errorf("open file backend: %w", err)
		}
		return &Backend{Store: ls}, nil
	case config.BackendSQLite:
		sqlDB, err := db.InitSQLite(opts.StoragePath)
		if err != nil {
			return nil, err
		}
		return newSQLBackend(ctx, sqlDB, opts, log), nil
	case config.BackendPostgres:
		sqlDB, err := db.InitPostgres(opts.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return newSQLBackend(ctx, sqlDB, opts, log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
}

// fitEntrySize lowers opts.MaxEntryBytes to the store's cap so striping
// produces entries the store accepts. A zero cap means no limit.
func fitEntrySize(opts *config.Options, limit int, log *zap.Logger) {
	if limit <= 0 || (opts.MaxEntryBytes > 0 && opts.MaxEntryBytes <= limit) {
		return
	}
	if opts.MaxEntryBytes > 0 {
		log.Warn("max entry bytes lowered to the credential store limit",
			zap.Int("configured", opts.MaxEntryBytes),
			zap.Int("limit", limit),
		)
	}
	opts.MaxEntryBytes = limit
}

func newSQLBackend(ctx context.Context, sqlDB *sql.DB, opts *config.Options, log *zap.Logger) *Backend {
	ctx, cancel := context.WithCancel(ctx)
	if opts.PurgeInterval > 0 {
		db.StartSoftDeleteCleaner(ctx, sqlDB, opts.PurgeInterval, opts.PurgeRetention, log)
	}
	return &Backend{
		Store:  repository.NewSQLCredentialRepository(sqlDB, opts.MaxEntryBytes),
		sqlDB:  sqlDB,
		cancel: cancel,
	}
}

// Close stops background work and releases the database handle.
func (b *Backend) Close() error {
	var err error
	if b.cancel != nil {
		b.cancel()
	}
	if ls, ok := b.Store.(*storage.LocalStorage); ok {
		err = multierr.Append(err, ls.Save())
	}
	if b.sqlDB != nil {
		err = multierr.Append(err, b.sqlDB.Close())
	}
	return err
}
