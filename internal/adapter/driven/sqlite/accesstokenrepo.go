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
var _ driven.AccessTokenStore = (*AccessTokenRepo)(nil)

// AccessTokenRepo is the SQLite implementation of the AccessTokenStore port interface.
type AccessTokenRepo struct {
	db *DB
}

// NewAccessTokenRepo creates a new AccessTokenRepo backed by the given DB.
func NewAccessTokenRepo(db *DB) *AccessTokenRepo {
	return &AccessTokenRepo{db: db}
}

const tokenColumns = `id, locker_id, token, attempts_used, is_used, expires_at, accessed_at, created_at`

// Create inserts a new OTP. Returns driven.ErrDuplicateToken on a code collision.
func (r *AccessTokenRepo) Create(ctx context.Context, token model.LockerAccessToken) (model.LockerAccessToken, error) {
	return insertToken(ctx, r.db.Writer, token)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, token model.LockerAccessToken) (model.LockerAccessToken, error) {
	const query = `
		INSERT INTO locker_access_tokens (locker_id, token, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	result, err := db.ExecContext(ctx, query,
		token.LockerID, token.Token, formatTime(token.ExpiresAt), formatTime(token.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return model.LockerAccessToken{}, fmt.Errorf("create access token: %w", driven.ErrDuplicateToken)
		}
		return model.LockerAccessToken{}, fmt.Errorf("create access token: %w", err)
	}

	token.ID, err = result.LastInsertId()
	if err != nil {
		return model.LockerAccessToken{}, fmt.Errorf("get access token id: %w", err)
	}

	return token, nil
}

// FindByCode returns the locker's token with the given code.
func (r *AccessTokenRepo) FindByCode(ctx context.Context, lockerID int64, code string) (*model.LockerAccessToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM locker_access_tokens WHERE locker_id = ? AND token = ?`
	return r.getOne(ctx, query, lockerID, code)
}

// LatestOpen returns the newest unused token of the locker.
func (r *AccessTokenRepo) LatestOpen(ctx context.Context, lockerID int64) (*model.LockerAccessToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM locker_access_tokens
		WHERE locker_id = ? AND is_used = 0
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return r.getOne(ctx, query, lockerID)
}

// IncrementAttempts bumps attempts_used and returns the new count.
func (r *AccessTokenRepo) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	const query = `UPDATE locker_access_tokens SET attempts_used = attempts_used + 1 WHERE id = ? RETURNING attempts_used`

	var attempts int
	err := r.db.Writer.QueryRowContext(ctx, query, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment attempts for token %d: %w", id, driven.ErrTokenNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempts for token %d: %w", id, err)
	}

	return attempts, nil
}

// Redeem consumes the token and moves its locker to accessed atomically.
// The token must still be unused, unexpired at at, and below attemptsLimit.
func (r *AccessTokenRepo) Redeem(ctx context.Context, id, lockerID int64, attemptsLimit int, at time.Time) (bool, error) {
	const useToken = `
		UPDATE locker_access_tokens SET is_used = 1, accessed_at = ?
		WHERE id = ? AND locker_id = ? AND is_used = 0
		  AND attempts_used < ? AND expires_at > ?
	`
	const openLocker = `
		UPDATE lockers SET status = 'accessed', accessed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'triggered'
	`

	errNotRedeemable := errors.New("token or locker already consumed")
	ts := formatTime(at)

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, useToken, ts, id, lockerID, attemptsLimit, ts)
		if err != nil {
			return fmt.Errorf("use token %d: %w", id, err)
		}
		if ok, err := affectedOne(result); err != nil || !ok {
			if err != nil {
				return err
			}
			return errNotRedeemable
		}

		result, err = tx.ExecContext(ctx, openLocker, ts, ts, lockerID)
		if err != nil {
			return fmt.Errorf("open locker %d: %w", lockerID, err)
		}
		if ok, err := affectedOne(result); err != nil || !ok {
			if err != nil {
				return err
			}
			return errNotRedeemable
		}
		return nil
	})
	if errors.Is(err, errNotRedeemable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *AccessTokenRepo) getOne(ctx context.Context, query string, args ...any) (*model.LockerAccessToken, error) {
	token, err := scanAccessToken(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	return token, nil
}

func scanAccessToken(s scanner) (*model.LockerAccessToken, error) {
	var t model.LockerAccessToken
	var expiresAt, createdAt string
	var accessedAt sql.NullString

	err := s.Scan(&t.ID, &t.LockerID, &t.Token, &t.AttemptsUsed, &t.IsUsed, &expiresAt, &accessedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.AccessedAt, err = parseNullTime(accessedAt); err != nil {
		return nil, fmt.Errorf("parse accessed_at: %w", err)
	}

	return &t, nil
}
