// Package repository provides a credential store persisted in a SQL
// database (PostgreSQL or SQLite) behind database/sql.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/stripekeeper/internal/models"
)

// ErrEntryTooLarge is returned by Set when data exceeds MaxEntryBytes.
var ErrEntryTooLarge = errors.New("entry exceeds repository size limit")

// SQLCredentialRepository stores one row per credential entry. Deletes are
// soft: rows are flagged and later purged by db.StartSoftDeleteCleaner.
type SQLCredentialRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
	// MaxEntryBytes rejects entries larger than a platform store would
	// accept. Zero disables the check.
	MaxEntryBytes int

	now func() time.Time
}

// NewSQLCredentialRepository creates a repository on db, which must already
// hold the credentials table (see db.InitPostgres and db.InitSQLite).
func NewSQLCredentialRepository(db *sql.DB, maxEntryBytes int) *SQLCredentialRepository {
	return &SQLCredentialRepository{DB: db, MaxEntryBytes: maxEntryBytes, now: time.Now}
}

// Set inserts or replaces the entry for (service, user), reviving it if it
// was soft-deleted.
func (r *SQLCredentialRepository) Set(ctx context.Context, service, user string, data []byte) error {
	if r.MaxEntryBytes > 0 && len(data) > r.MaxEntryBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, len(data), r.MaxEntryBytes)
	}
	if data == nil {
		data = []byte{}
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO credentials (service, account, data, updated_at, deleted)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (service, account) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			deleted = false
	`, service, user, data, r.now().Unix())
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Get returns the live entry for (service, user) or models.ErrEntryNotFound.
func (r *SQLCredentialRepository) Get(ctx context.Context, service, user string) ([]byte, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT data FROM credentials
		WHERE service = $1 AND account = $2 AND deleted = false
	`, service, user).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrEntryNotFound
		}
		return nil, fmt.Errorf("select credential: %w", err)
	}
	return data, nil
}

// Delete soft-deletes the entry. It returns models.ErrEntryNotFound when
// there was no live row.
func (r *SQLCredentialRepository) Delete(ctx context.Context, service, user string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE credentials SET deleted = true, updated_at = $3
		WHERE service = $1 AND account = $2 AND deleted = false
	`, service, user, r.now().Unix())
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n == 0 {
		return models.ErrEntryNotFound
	}
	return nil
}
