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
var _ driven.LockerStore = (*LockerRepo)(nil)

// LockerRepo is the SQLite implementation of the LockerStore port interface.
type LockerRepo struct {
	db *DB
}

// NewLockerRepo creates a new LockerRepo backed by the given DB.
func NewLockerRepo(db *DB) *LockerRepo {
	return &LockerRepo{db: db}
}

const lockerColumns = `id, user_id, inheritor_name, inheritor_email, inheritor_phone, wrapped_key,
	otp_valid_hours, access_attempts_limit, auto_delete_after_access, auto_delete_days, status,
	triggered_at, accessed_at, expires_at, created_at, updated_at`

// Create inserts a locker. Returns driven.ErrLockerExists if the user already has one.
func (r *LockerRepo) Create(ctx context.Context, locker model.DigitalLocker) (model.DigitalLocker, error) {
	const query = `
		INSERT INTO lockers (
			user_id, inheritor_name, inheritor_email, inheritor_phone, wrapped_key,
			otp_valid_hours, access_attempts_limit, auto_delete_after_access, auto_delete_days,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if locker.CreatedAt.IsZero() {
		locker.CreatedAt = now
	}
	locker.UpdatedAt = locker.CreatedAt
	if locker.Status == "" {
		locker.Status = model.LockerStatusActive
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		locker.UserID, locker.InheritorName, locker.InheritorEmail, locker.InheritorPhone, locker.WrappedKey,
		locker.OTPValidHours, locker.AccessAttemptsLimit, locker.AutoDeleteAfterAccess, locker.AutoDeleteDays,
		string(locker.Status), formatTime(locker.CreatedAt), formatTime(locker.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.DigitalLocker{}, fmt.Errorf("create locker for user %d: %w", locker.UserID, driven.ErrLockerExists)
		}
		return model.DigitalLocker{}, fmt.Errorf("create locker for user %d: %w", locker.UserID, err)
	}

	locker.ID, err = result.LastInsertId()
	if err != nil {
		return model.DigitalLocker{}, fmt.Errorf("get locker id: %w", err)
	}

	return locker, nil
}

// GetByID returns the locker or driven.ErrLockerNotFound.
func (r *LockerRepo) GetByID(ctx context.Context, id int64) (*model.DigitalLocker, error) {
	query := `SELECT ` + lockerColumns + ` FROM lockers WHERE id = ?`
	return r.getOne(ctx, fmt.Sprintf("get locker %d", id), query, id)
}

// GetByUser returns the user's locker or driven.ErrLockerNotFound.
func (r *LockerRepo) GetByUser(ctx context.Context, userID int64) (*model.DigitalLocker, error) {
	query := `SELECT ` + lockerColumns + ` FROM lockers WHERE user_id = ?`
	return r.getOne(ctx, fmt.Sprintf("get locker for user %d", userID), query, userID)
}

// UpdateSettings replaces the owner-editable fields of an active locker.
// It returns false when the locker is missing or no longer active.
func (r *LockerRepo) UpdateSettings(ctx context.Context, id int64, s model.LockerSettings) (bool, error) {
	const query = `
		UPDATE lockers
		SET inheritor_name = ?, inheritor_email = ?, inheritor_phone = ?,
		    otp_valid_hours = ?, access_attempts_limit = ?, auto_delete_after_access = ?,
		    auto_delete_days = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`

	return r.execCAS(ctx, fmt.Sprintf("update locker %d", id), query,
		s.InheritorName, s.InheritorEmail, s.InheritorPhone,
		s.OTPValidHours, s.AccessAttemptsLimit, s.AutoDeleteAfterAccess, s.AutoDeleteDays,
		formatTime(time.Now()), id,
	)
}

// MarkTriggered moves an active locker to triggered and stores its access
// token in the same transaction. It returns false, with nothing written,
// when the locker was not active. A code collision returns
// driven.ErrDuplicateToken and leaves the locker active.
func (r *LockerRepo) MarkTriggered(ctx context.Context, id int64, at, expiresAt time.Time,
	token model.LockerAccessToken,
) (model.LockerAccessToken, bool, error) {
	const query = `
		UPDATE lockers SET status = 'triggered', triggered_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`

	ts := formatTime(at)
	token.LockerID = id
	if token.CreatedAt.IsZero() {
		token.CreatedAt = at
	}

	var issued model.LockerAccessToken
	var applied bool
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, ts, formatTime(expiresAt), ts, id)
		if err != nil {
			return fmt.Errorf("trigger locker %d: %w", id, err)
		}
		applied, err = affectedOne(result)
		if err != nil || !applied {
			return err
		}

		issued, err = insertToken(ctx, tx, token)
		return err
	})
	if err != nil {
		return model.LockerAccessToken{}, false, err
	}

	return issued, applied, nil
}

// MarkExpired moves a triggered locker to expired.
func (r *LockerRepo) MarkExpired(ctx context.Context, id int64) (bool, error) {
	const query = `UPDATE lockers SET status = 'expired', updated_at = ? WHERE id = ? AND status = 'triggered'`
	return r.execCAS(ctx, fmt.Sprintf("expire locker %d", id), query, formatTime(time.Now()), id)
}

// MarkDeleted moves an accessed or expired locker to deleted and purges its
// credentials and outstanding tokens.
func (r *LockerRepo) MarkDeleted(ctx context.Context, id int64) (bool, error) {
	var applied bool

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		const mark = `
			UPDATE lockers SET status = 'deleted', wrapped_key = '', updated_at = ?
			WHERE id = ? AND status IN ('accessed', 'expired')
		`
		result, err := tx.ExecContext(ctx, mark, formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("delete locker %d: %w", id, err)
		}
		applied, err = affectedOne(result)
		if err != nil || !applied {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM credential_entries WHERE locker_id = ?`, id); err != nil {
			return fmt.Errorf("purge credentials for locker %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM locker_access_tokens WHERE locker_id = ?`, id); err != nil {
			return fmt.Errorf("purge tokens for locker %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// ListExpired returns triggered lockers whose access window closed before now.
func (r *LockerRepo) ListExpired(ctx context.Context, now time.Time) ([]model.DigitalLocker, error) {
	query := `SELECT ` + lockerColumns + ` FROM lockers WHERE status = 'triggered' AND expires_at < ? ORDER BY id`
	return r.queryLockers(ctx, "list expired lockers", query, formatTime(now))
}

// ListAutoDeletable returns accessed lockers flagged for deletion after access.
func (r *LockerRepo) ListAutoDeletable(ctx context.Context) ([]model.DigitalLocker, error) {
	query := `SELECT ` + lockerColumns + ` FROM lockers WHERE status = 'accessed' AND auto_delete_after_access = 1 ORDER BY id`
	return r.queryLockers(ctx, "list auto-deletable lockers", query)
}

func (r *LockerRepo) getOne(ctx context.Context, op, query string, args ...any) (*model.DigitalLocker, error) {
	locker, err := scanLocker(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, driven.ErrLockerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return locker, nil
}

func (r *LockerRepo) queryLockers(ctx context.Context, op, query string, args ...any) ([]model.DigitalLocker, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var lockers []model.DigitalLocker
	for rows.Next() {
		locker, err := scanLocker(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan locker: %w", op, err)
		}
		lockers = append(lockers, *locker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate lockers: %w", op, err)
	}

	return lockers, nil
}

func (r *LockerRepo) execCAS(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(result)
}

func scanLocker(s scanner) (*model.DigitalLocker, error) {
	var l model.DigitalLocker
	var status, createdAt, updatedAt string
	var triggeredAt, accessedAt, expiresAt sql.NullString

	err := s.Scan(
		&l.ID, &l.UserID, &l.InheritorName, &l.InheritorEmail, &l.InheritorPhone, &l.WrappedKey,
		&l.OTPValidHours, &l.AccessAttemptsLimit, &l.AutoDeleteAfterAccess, &l.AutoDeleteDays, &status,
		&triggeredAt, &accessedAt, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = model.LockerStatus(status)
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if l.TriggeredAt, err = parseNullTime(triggeredAt); err != nil {
		return nil, fmt.Errorf("parse triggered_at: %w", err)
	}
	if l.AccessedAt, err = parseNullTime(accessedAt); err != nil {
		return nil, fmt.Errorf("parse accessed_at: %w", err)
	}
	if l.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &l, nil
}
