package sqlite

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

func setupMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &DB{Writer: conn, Reader: conn}, mock
}

func TestUserRepo_TriggerDeliveryRollsBackOnReleaseError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepo(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages")).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	released, ok, err := repo.TriggerDelivery(context.Background(), 1, now, now, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release messages for user 1")
	assert.False(t, ok)
	assert.Zero(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_TriggerDeliveryLostRaceSkipsRelease(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepo(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	released, ok, err := repo.TriggerDelivery(context.Background(), 1, now, now, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_TriggerDeliveryCommitError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepo(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, _, err := repo.TriggerDelivery(context.Background(), 1, now, now, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessTokenRepo_RedeemRollsBackWhenLockerNotTriggered(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAccessTokenRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locker_access_tokens")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lockers")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.Redeem(context.Background(), 7, 3, 3, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerRepo_MarkTriggeredRollsBackOnTokenError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewLockerRepo(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lockers")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO locker_access_tokens")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, ok, err := repo.MarkTriggered(context.Background(), 1, now, now.AddDate(0, 0, 30),
		model.LockerAccessToken{Token: "12345678", ExpiresAt: now.Add(time.Hour)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_AppendToChainRollsBackOnInsertError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(generation), 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	_, err := repo.AppendToChain(context.Background(), appendFixture())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func appendFixture() model.Message {
	return model.Message{
		ID:                   "reply",
		Title:                "Re: hello",
		Content:              "reply",
		RecipientEmail:       "next@example.com",
		DeliveryDate:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ChainID:              "root",
		ParentID:             "root",
		RecipientAccessToken: "reply-token",
	}
}
