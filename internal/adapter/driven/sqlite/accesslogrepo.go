package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccessLogStore = (*AccessLogRepo)(nil)

// AccessLogRepo is the SQLite implementation of the AccessLogStore port interface.
// Rows are only ever inserted.
type AccessLogRepo struct {
	db *DB
}

// NewAccessLogRepo creates a new AccessLogRepo backed by the given DB.
func NewAccessLogRepo(db *DB) *AccessLogRepo {
	return &AccessLogRepo{db: db}
}

// Append records an audit event.
func (r *AccessLogRepo) Append(ctx context.Context, entry model.AccessLog) error {
	const query = `
		INSERT INTO locker_access_logs (locker_id, action, ip_address, user_agent, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		entry.LockerID, string(entry.Action), entry.IPAddress, entry.UserAgent, entry.Details,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append %s log for locker %d: %w", entry.Action, entry.LockerID, err)
	}
	return nil
}

// List returns the locker's newest events first, at most limit of them.
func (r *AccessLogRepo) List(ctx context.Context, lockerID int64, limit int) ([]model.AccessLog, error) {
	const query = `
		SELECT id, locker_id, action, ip_address, user_agent, details, created_at
		FROM locker_access_logs
		WHERE locker_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, lockerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs for locker %d: %w", lockerID, err)
	}
	defer rows.Close()

	var logs []model.AccessLog
	for rows.Next() {
		var entry model.AccessLog
		var action, createdAt string
		if err := rows.Scan(&entry.ID, &entry.LockerID, &action, &entry.IPAddress, &entry.UserAgent,
			&entry.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		entry.Action = model.AccessAction(action)
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access logs: %w", err)
	}

	return logs, nil
}
