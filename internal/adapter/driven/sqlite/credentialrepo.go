package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Secret fields are stored exactly as handed in, already sealed with the
// locker's master key by the application layer.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `id, locker_id, title, category, website, account_identifier, notes,
	encrypted_username, encrypted_password, encrypted_additional_data, priority, is_active,
	created_at, updated_at`

// Add inserts a credential entry and returns it with its assigned ID.
func (r *CredentialRepo) Add(ctx context.Context, entry model.CredentialEntry) (model.CredentialEntry, error) {
	const query = `
		INSERT INTO credential_entries (
			locker_id, title, category, website, account_identifier, notes,
			encrypted_username, encrypted_password, encrypted_additional_data,
			priority, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	result, err := r.db.Writer.ExecContext(ctx, query,
		entry.LockerID, entry.Title, string(entry.Category), entry.Website, entry.AccountIdentifier, entry.Notes,
		entry.EncryptedUsername, entry.EncryptedPassword, entry.EncryptedAdditionalData,
		entry.Priority, entry.IsActive, formatTime(now), formatTime(now),
	)
	if err != nil {
		return model.CredentialEntry{}, fmt.Errorf("add credential %q: %w", entry.Title, err)
	}

	entry.ID, err = result.LastInsertId()
	if err != nil {
		return model.CredentialEntry{}, fmt.Errorf("get credential id: %w", err)
	}

	return entry, nil
}

// Update replaces every mutable field of the entry.
func (r *CredentialRepo) Update(ctx context.Context, entry model.CredentialEntry) error {
	const query = `
		UPDATE credential_entries
		SET title = ?, category = ?, website = ?, account_identifier = ?, notes = ?,
		    encrypted_username = ?, encrypted_password = ?, encrypted_additional_data = ?,
		    priority = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND locker_id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		entry.Title, string(entry.Category), entry.Website, entry.AccountIdentifier, entry.Notes,
		entry.EncryptedUsername, entry.EncryptedPassword, entry.EncryptedAdditionalData,
		entry.Priority, entry.IsActive, formatTime(time.Now()),
		entry.ID, entry.LockerID,
	)
	if err != nil {
		return fmt.Errorf("update credential %d: %w", entry.ID, err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update credential %d: %w", entry.ID, driven.ErrCredentialNotFound)
	}
	return nil
}

// Delete removes the credential entry.
func (r *CredentialRepo) Delete(ctx context.Context, lockerID, id int64) error {
	const query = `DELETE FROM credential_entries WHERE id = ? AND locker_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id, lockerID)
	if err != nil {
		return fmt.Errorf("delete credential %d: %w", id, err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete credential %d: %w", id, driven.ErrCredentialNotFound)
	}
	return nil
}

// Get returns one entry of the locker or driven.ErrCredentialNotFound.
func (r *CredentialRepo) Get(ctx context.Context, lockerID, id int64) (*model.CredentialEntry, error) {
	query := `SELECT ` + credentialColumns + ` FROM credential_entries WHERE id = ? AND locker_id = ?`

	entry, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id, lockerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get credential %d: %w", id, driven.ErrCredentialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}

	return entry, nil
}

// List returns the locker's entries ordered by priority, then title.
func (r *CredentialRepo) List(ctx context.Context, lockerID int64, activeOnly bool) ([]model.CredentialEntry, error) {
	query := `SELECT ` + credentialColumns + ` FROM credential_entries WHERE locker_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority ASC, title ASC`

	rows, err := r.db.Reader.QueryContext(ctx, query, lockerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials for locker %d: %w", lockerID, err)
	}
	defer rows.Close()

	var entries []model.CredentialEntry
	for rows.Next() {
		entry, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return entries, nil
}

func scanCredential(s scanner) (*model.CredentialEntry, error) {
	var e model.CredentialEntry
	var category, createdAt, updatedAt string

	err := s.Scan(
		&e.ID, &e.LockerID, &e.Title, &category, &e.Website, &e.AccountIdentifier, &e.Notes,
		&e.EncryptedUsername, &e.EncryptedPassword, &e.EncryptedAdditionalData, &e.Priority, &e.IsActive,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Category = model.CredentialCategory(category)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &e, nil
}
