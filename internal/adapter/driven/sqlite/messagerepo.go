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
var _ driven.MessageStore = (*MessageRepo)(nil)

// MessageRepo is the SQLite implementation of the MessageStore port interface.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new MessageRepo backed by the given DB.
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, user_id, title, content, recipient_email, delivery_date, status,
	created_at, sent_at, job_id, chain_id, generation, COALESCE(parent_id, ''), sender_name,
	recipient_access_token, lease_until`

const insertMessage = `
	INSERT INTO messages (
		id, user_id, title, content, recipient_email, delivery_date, status, created_at,
		job_id, chain_id, generation, parent_id, sender_name, recipient_access_token
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Create inserts a new message as given. Returns driven.ErrDuplicateToken when
// the access token is already taken.
func (r *MessageRepo) Create(ctx context.Context, msg model.Message) (model.Message, error) {
	msg = withMessageDefaults(msg)

	if _, err := r.db.Writer.ExecContext(ctx, insertMessage, messageInsertArgs(msg)...); err != nil {
		return model.Message{}, wrapMessageInsertErr(msg.ID, err)
	}

	return msg, nil
}

// AppendToChain inserts msg as the next generation of its chain. The writer
// connection serializes concurrent appends, and the (chain_id, generation)
// unique index rejects any duplicate that slips through.
func (r *MessageRepo) AppendToChain(ctx context.Context, msg model.Message) (model.Message, error) {
	msg = withMessageDefaults(msg)

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		const next = `SELECT COALESCE(MAX(generation), 0) + 1 FROM messages WHERE chain_id = ?`
		if err := tx.QueryRowContext(ctx, next, msg.ChainID).Scan(&msg.Generation); err != nil {
			return fmt.Errorf("next generation for chain %s: %w", msg.ChainID, err)
		}

		if _, err := tx.ExecContext(ctx, insertMessage, messageInsertArgs(msg)...); err != nil {
			return wrapMessageInsertErr(msg.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}

	return msg, nil
}

// GetByID returns the message or driven.ErrMessageNotFound.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	return r.getOne(ctx, fmt.Sprintf("get message %s", id), query, id)
}

// GetByAccessToken returns the message owning the recipient token or driven.ErrMessageNotFound.
func (r *MessageRepo) GetByAccessToken(ctx context.Context, token string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE recipient_access_token = ?`
	return r.getOne(ctx, "get message by token", query, token)
}

// ListByUser returns a user's messages, newest first.
func (r *MessageRepo) ListByUser(ctx context.Context, userID int64) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE user_id = ? ORDER BY created_at DESC, id`
	return r.queryMessages(ctx, "list messages for user", query, userID)
}

// ListChain returns every generation of a chain in order.
func (r *MessageRepo) ListChain(ctx context.Context, chainID string) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chain_id = ? ORDER BY generation ASC, created_at ASC`
	return r.queryMessages(ctx, "list chain", query, chainID)
}

// MarkScheduled moves a created message to scheduled.
func (r *MessageRepo) MarkScheduled(ctx context.Context, id, jobID string) (bool, error) {
	const query = `UPDATE messages SET status = 'scheduled', job_id = ? WHERE id = ? AND status = 'created'`
	return r.execCAS(ctx, fmt.Sprintf("mark message %s scheduled", id), query, jobID, id)
}

// SetJobID records the scheduler handle without changing the status.
func (r *MessageRepo) SetJobID(ctx context.Context, id, jobID string) error {
	const query = `UPDATE messages SET job_id = ? WHERE id = ?`

	ok, err := r.execCAS(ctx, fmt.Sprintf("set job id for message %s", id), query, jobID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set job id for message %s: %w", id, driven.ErrMessageNotFound)
	}
	return nil
}

// Claim flips the message to pending under a delivery lease. Created and
// scheduled messages are only claimable once their delivery date has passed.
func (r *MessageRepo) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	const query = `
		UPDATE messages
		SET status = 'pending', lease_until = ?
		WHERE id = ?
		  AND (
		    (status IN ('created', 'scheduled') AND delivery_date <= ?)
		    OR (status = 'pending' AND (lease_until IS NULL OR lease_until <= ?))
		  )
	`
	return r.execCAS(ctx, fmt.Sprintf("claim message %s", id), query, formatTime(leaseUntil), id, formatTime(now), formatTime(now))
}

// MarkSent records a successful delivery of a claimed message.
func (r *MessageRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE messages SET status = 'sent', sent_at = ?, lease_until = NULL
		WHERE id = ? AND status = 'pending'
	`

	ok, err := r.execCAS(ctx, fmt.Sprintf("mark message %s sent", id), query, formatTime(at), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark message %s sent: message is not pending", id)
	}
	return nil
}

// MarkFailed records a failed delivery of a claimed message.
func (r *MessageRepo) MarkFailed(ctx context.Context, id string) error {
	const query = `UPDATE messages SET status = 'failed', lease_until = NULL WHERE id = ? AND status = 'pending'`

	ok, err := r.execCAS(ctx, fmt.Sprintf("mark message %s failed", id), query, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark message %s failed: message is not pending", id)
	}
	return nil
}

// RequeueFailed moves a failed message back to scheduled for another attempt.
func (r *MessageRepo) RequeueFailed(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE messages SET status = 'scheduled' WHERE id = ? AND status = 'failed'`
	return r.execCAS(ctx, fmt.Sprintf("requeue message %s", id), query, id)
}

// ListDue returns messages ready for delivery at now, oldest delivery date first.
func (r *MessageRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `
		SELECT id FROM messages
		WHERE (status = 'scheduled' AND delivery_date <= ?)
		   OR (status = 'pending' AND (lease_until IS NULL OR lease_until <= ?))
		ORDER BY delivery_date ASC, id
		LIMIT ?
	`
	ts := formatTime(now)
	return r.queryIDs(ctx, "list due messages", query, ts, ts, limit)
}

// ListRetryable returns failed messages whose delivery date is inside the retry window.
func (r *MessageRepo) ListRetryable(ctx context.Context, since time.Time, limit int) ([]string, error) {
	const query = `
		SELECT id FROM messages
		WHERE status = 'failed' AND delivery_date >= ?
		ORDER BY delivery_date ASC, id
		LIMIT ?
	`
	return r.queryIDs(ctx, "list retryable messages", query, formatTime(since), limit)
}

// ListUnscheduled returns messages still in the created state.
func (r *MessageRepo) ListUnscheduled(ctx context.Context, limit int) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE status = 'created'
		ORDER BY delivery_date ASC, id
		LIMIT ?`
	return r.queryMessages(ctx, "list unscheduled messages", query, limit)
}

// Stats counts messages by status for one user, or for everyone when userID is nil.
func (r *MessageRepo) Stats(ctx context.Context, userID *int64, retrySince, archiveBefore time.Time) (model.DeliveryStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'created'), 0),
			COALESCE(SUM(status = 'scheduled'), 0),
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'sent'), 0),
			COALESCE(SUM(status = 'failed'), 0),
			COALESCE(SUM(status = 'failed' AND delivery_date >= ?), 0),
			COALESCE(SUM(status = 'sent' AND sent_at < ?), 0)
		FROM messages
	`
	args := []any{formatTime(retrySince), formatTime(archiveBefore)}
	if userID != nil {
		query += ` WHERE user_id = ?`
		args = append(args, *userID)
	}

	var stats model.DeliveryStats
	err := r.db.Reader.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Created, &stats.Scheduled, &stats.Pending,
		&stats.Sent, &stats.Failed, &stats.FailedRetryable, &stats.Archivable,
	)
	if err != nil {
		return model.DeliveryStats{}, fmt.Errorf("message stats: %w", err)
	}

	stats.FailedTerminal = stats.Failed - stats.FailedRetryable
	if stats.Total > 0 {
		stats.DeliveryRate = float64(stats.Sent) / float64(stats.Total) * 100
	}

	return stats, nil
}

func (r *MessageRepo) getOne(ctx context.Context, op, query string, args ...any) (*model.Message, error) {
	msg, err := scanMessage(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, driven.ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}

func (r *MessageRepo) queryMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan message: %w", op, err)
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate messages: %w", op, err)
	}

	return msgs, nil
}

func (r *MessageRepo) queryIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan id: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate ids: %w", op, err)
	}

	return ids, nil
}

func (r *MessageRepo) execCAS(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(result)
}

func withMessageDefaults(msg model.Message) model.Message {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = model.MessageStatusCreated
	}
	if msg.Generation == 0 {
		msg.Generation = 1
	}
	if msg.ChainID == "" {
		msg.ChainID = msg.ID
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.DeliveryDate = msg.DeliveryDate.UTC()
	return msg
}

func messageInsertArgs(msg model.Message) []any {
	var userID sql.NullInt64
	if msg.UserID != nil {
		userID = sql.NullInt64{Int64: *msg.UserID, Valid: true}
	}
	var parentID sql.NullString
	if msg.ParentID != "" {
		parentID = sql.NullString{String: msg.ParentID, Valid: true}
	}

	return []any{
		msg.ID, userID, msg.Title, msg.Content, msg.RecipientEmail,
		formatTime(msg.DeliveryDate), string(msg.Status), formatTime(msg.CreatedAt),
		msg.JobID, msg.ChainID, msg.Generation, parentID, msg.SenderName, msg.RecipientAccessToken,
	}
}

func wrapMessageInsertErr(id string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("insert message %s: %w", id, driven.ErrDuplicateToken)
	}
	return fmt.Errorf("insert message %s: %w", id, err)
}

func scanMessage(s scanner) (*model.Message, error) {
	var msg model.Message
	var userID sql.NullInt64
	var status, deliveryDate, createdAt string
	var sentAt, leaseUntil sql.NullString

	err := s.Scan(
		&msg.ID, &userID, &msg.Title, &msg.Content, &msg.RecipientEmail, &deliveryDate, &status,
		&createdAt, &sentAt, &msg.JobID, &msg.ChainID, &msg.Generation, &msg.ParentID, &msg.SenderName,
		&msg.RecipientAccessToken, &leaseUntil,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		id := userID.Int64
		msg.UserID = &id
	}
	msg.Status = model.MessageStatus(status)

	if msg.DeliveryDate, err = parseTime(deliveryDate); err != nil {
		return nil, fmt.Errorf("parse delivery_date: %w", err)
	}
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if msg.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, fmt.Errorf("parse sent_at: %w", err)
	}
	if msg.LeaseUntil, err = parseNullTime(leaseUntil); err != nil {
		return nil, fmt.Errorf("parse lease_until: %w", err)
	}

	return &msg, nil
}
