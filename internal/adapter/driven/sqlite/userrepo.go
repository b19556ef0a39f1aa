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
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port interface.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo backed by the given DB.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, email, name, last_check_in, check_in_interval, grace_period_days,
	notification_sent_at, triggered_at, created_at`

// Create inserts a new user and returns it with its assigned ID.
func (r *UserRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	const query = `
		INSERT INTO users (email, name, last_check_in, check_in_interval, grace_period_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.LastCheckIn.IsZero() {
		user.LastCheckIn = user.CreatedAt
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		user.Email, user.Name, formatTime(user.LastCheckIn),
		user.CheckInIntervalMonth, user.GracePeriodDays, formatTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("create user %s: %w", user.Email, driven.ErrUserAlreadyExists)
		}
		return model.User{}, fmt.Errorf("create user %s: %w", user.Email, err)
	}

	user.ID, err = result.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("get user id: %w", err)
	}
	user.LastCheckIn = user.LastCheckIn.UTC()
	user.CreatedAt = user.CreatedAt.UTC()

	return user, nil
}

// GetByID returns the user or driven.ErrUserNotFound.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user %d: %w", id, driven.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	return user, nil
}

// ListIDs returns every user ID in ascending order.
func (r *UserRepo) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Reader.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}

	return ids, nil
}

// CheckIn resets the inactivity clock and ends any escalation cycle.
func (r *UserRepo) CheckIn(ctx context.Context, id int64, at time.Time) error {
	const query = `
		UPDATE users
		SET last_check_in = ?, notification_sent_at = NULL, triggered_at = NULL
		WHERE id = ?
	`

	return r.execOne(ctx, fmt.Sprintf("check in user %d", id), query, formatTime(at), id)
}

// UpdateSettings changes the check-in interval and grace period.
func (r *UserRepo) UpdateSettings(ctx context.Context, id int64, intervalMonths, graceDays int) error {
	const query = `UPDATE users SET check_in_interval = ?, grace_period_days = ? WHERE id = ?`

	return r.execOne(ctx, fmt.Sprintf("update settings for user %d", id), query, intervalMonths, graceDays, id)
}

// ClaimNotification sets notification_sent_at if no other writer has and the
// user has not checked in since lastCheckIn.
func (r *UserRepo) ClaimNotification(ctx context.Context, id int64, lastCheckIn, at time.Time) (bool, error) {
	const query = `
		UPDATE users
		SET notification_sent_at = ?
		WHERE id = ?
		  AND notification_sent_at IS NULL
		  AND triggered_at IS NULL
		  AND last_check_in = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(at), id, formatTime(lastCheckIn))
	if err != nil {
		return false, fmt.Errorf("claim notification for user %d: %w", id, err)
	}

	return affectedOne(result)
}

// ReleaseNotification undoes ClaimNotification when the reminder could not be sent.
func (r *UserRepo) ReleaseNotification(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE users SET notification_sent_at = NULL WHERE id = ? AND notification_sent_at = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, id, formatTime(at)); err != nil {
		return fmt.Errorf("release notification for user %d: %w", id, err)
	}
	return nil
}

// TriggerDelivery marks the user triggered and releases their scheduled
// messages in a single transaction.
func (r *UserRepo) TriggerDelivery(ctx context.Context, id int64, lastCheckIn, notifiedAt, at time.Time) (int, bool, error) {
	const markUser = `
		UPDATE users
		SET notification_sent_at = NULL, triggered_at = ?
		WHERE id = ?
		  AND triggered_at IS NULL
		  AND last_check_in = ?
		  AND notification_sent_at = ?
	`
	const releaseMessages = `
		UPDATE messages
		SET status = 'pending', lease_until = NULL
		WHERE user_id = ? AND status = 'scheduled'
	`

	var released int
	var applied bool

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, markUser, formatTime(at), id, formatTime(lastCheckIn), formatTime(notifiedAt))
		if err != nil {
			return fmt.Errorf("mark user %d triggered: %w", id, err)
		}
		applied, err = affectedOne(result)
		if err != nil || !applied {
			return err
		}

		result, err = tx.ExecContext(ctx, releaseMessages, id)
		if err != nil {
			return fmt.Errorf("release messages for user %d: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		released = int(n)
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return released, applied, nil
}

func (r *UserRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, driven.ErrUserNotFound)
	}
	return nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

func scanUser(s scanner) (*model.User, error) {
	var user model.User
	var lastCheckIn, createdAt string
	var notifiedAt, triggeredAt sql.NullString

	err := s.Scan(
		&user.ID, &user.Email, &user.Name, &lastCheckIn,
		&user.CheckInIntervalMonth, &user.GracePeriodDays,
		&notifiedAt, &triggeredAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if user.LastCheckIn, err = parseTime(lastCheckIn); err != nil {
		return nil, fmt.Errorf("parse last_check_in: %w", err)
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.NotificationSentAt, err = parseNullTime(notifiedAt); err != nil {
		return nil, fmt.Errorf("parse notification_sent_at: %w", err)
	}
	if user.TriggeredAt, err = parseNullTime(triggeredAt); err != nil {
		return nil, fmt.Errorf("parse triggered_at: %w", err)
	}

	return &user, nil
}
