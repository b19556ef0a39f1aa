package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// setupLocker registers an owner whose locker names an inheritor and holds an
// active and an inactive credential.
func setupLocker(t *testing.T, h *harness) (model.User, model.DigitalLocker) {
	t.Helper()
	ctx := context.Background()
	user := h.register(t, "owner@example.com", 1, 10)

	settings := model.DefaultLockerSettings()
	settings.InheritorName = "Heir"
	settings.InheritorEmail = "heir@example.com"
	locker, err := h.locker.UpdateSettings(ctx, user.ID, settings)
	require.NoError(t, err)

	_, err = h.locker.AddCredential(ctx, user.ID, CredentialInput{
		Title:    "Bank",
		Category: model.CategoryBanking,
		Username: "owner",
		Password: "hunter2",
		Priority: model.PriorityCritical,
	})
	require.NoError(t, err)

	inactive := false
	_, err = h.locker.AddCredential(ctx, user.ID, CredentialInput{
		Title:    "Old forum",
		Password: "retired",
		IsActive: &inactive,
	})
	require.NoError(t, err)

	return user, locker
}

func triggerLocker(t *testing.T, h *harness, userID int64) (model.DigitalLocker, string) {
	t.Helper()
	result, err := h.locker.TriggerInheritance(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, result.OTPSent)

	token, err := h.tokens.LatestOpen(context.Background(), result.Locker.ID)
	require.NoError(t, err)
	return result.Locker, token.Token
}

func wrongCode(code string) string {
	if code == "00000000" {
		return "11111111"
	}
	return "00000000"
}

func logActions(t *testing.T, h *harness, lockerID int64) []model.AccessAction {
	t.Helper()
	logs, err := h.logs.List(context.Background(), lockerID, 100)
	require.NoError(t, err)
	actions := make([]model.AccessAction, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		actions = append(actions, logs[i].Action)
	}
	return actions
}

func TestLocker_GetOrCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com", 1, 10)

	first, err := h.locker.GetOrCreate(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusActive, first.Status)
	assert.Equal(t, model.DefaultOTPValidHours, first.OTPValidHours)
	assert.Equal(t, model.DefaultAccessAttemptsLimit, first.AccessAttemptsLimit)
	assert.Equal(t, model.DefaultAutoDeleteDays, first.AutoDeleteDays)
	assert.NotEmpty(t, first.WrappedKey)

	second, err := h.locker.GetOrCreate(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []model.AccessAction{model.ActionCreated}, logActions(t, h, first.ID))

	_, err = h.locker.GetOrCreate(ctx, 9999)
	require.ErrorIs(t, err, driven.ErrUserNotFound)
}

func TestLocker_CredentialsAreSealedAndRedacted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, locker := setupLocker(t, h)

	stored, err := h.db.Reader.QueryContext(ctx,
		`SELECT encrypted_password FROM credential_entries WHERE locker_id = ?`, locker.ID)
	require.NoError(t, err)
	defer stored.Close()
	for stored.Next() {
		var sealed string
		require.NoError(t, stored.Scan(&sealed))
		assert.NotContains(t, sealed, "hunter2")
		assert.NotEmpty(t, sealed)
	}
	require.NoError(t, stored.Err())

	list, err := h.locker.ListCredentials(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bank", list[0].Title)
	assert.Equal(t, model.CategoryOther, list[1].Category)
	assert.Equal(t, model.PriorityImportant, list[1].Priority)
	for _, entry := range list {
		assert.Empty(t, entry.EncryptedPassword)
		assert.Empty(t, entry.EncryptedUsername)
	}
}

func TestLocker_UpdateAndDeleteCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)

	list, err := h.locker.ListCredentials(ctx, user.ID)
	require.NoError(t, err)
	bank := list[0]

	updated, err := h.locker.UpdateCredential(ctx, user.ID, bank.ID, CredentialInput{
		Title:    "Bank (joint)",
		Category: model.CategoryBanking,
		Password: "correct horse",
		Priority: model.PriorityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bank (joint)", updated.Title)

	require.NoError(t, h.locker.DeleteCredential(ctx, user.ID, list[1].ID))
	err = h.locker.DeleteCredential(ctx, user.ID, list[1].ID)
	require.ErrorIs(t, err, driven.ErrCredentialNotFound)

	list, err = h.locker.ListCredentials(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestLocker_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com", 1, 10)

	tests := []struct {
		name string
		run  func() error
	}{
		{"blank title", func() error {
			_, err := h.locker.AddCredential(ctx, user.ID, CredentialInput{Title: " "})
			return err
		}},
		{"unknown category", func() error {
			_, err := h.locker.AddCredential(ctx, user.ID, CredentialInput{Title: "x", Category: "lottery"})
			return err
		}},
		{"priority out of range", func() error {
			_, err := h.locker.AddCredential(ctx, user.ID, CredentialInput{Title: "x", Priority: 4})
			return err
		}},
		{"bad inheritor email", func() error {
			s := model.DefaultLockerSettings()
			s.InheritorEmail = "heir at example"
			_, err := h.locker.UpdateSettings(ctx, user.ID, s)
			return err
		}},
		{"otp hours out of range", func() error {
			s := model.DefaultLockerSettings()
			s.OTPValidHours = 169
			_, err := h.locker.UpdateSettings(ctx, user.ID, s)
			return err
		}},
		{"attempts out of range", func() error {
			s := model.DefaultLockerSettings()
			s.AccessAttemptsLimit = 0
			_, err := h.locker.UpdateSettings(ctx, user.ID, s)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.run(), ErrValidation)
		})
	}
}

func TestLocker_TriggerRequiresInheritor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com", 1, 10)
	_, err := h.locker.GetOrCreate(ctx, user.ID)
	require.NoError(t, err)

	_, err = h.locker.TriggerInheritance(ctx, user.ID)
	require.ErrorIs(t, err, ErrInheritorMissing)

	require.NoError(t, h.locker.TriggerForUser(ctx, user.ID), "escalation skips lockers without an inheritor")
	require.NoError(t, h.locker.TriggerForUser(ctx, 9999), "escalation skips users without a locker")
}

func TestLocker_TriggerIssuesCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)

	locker, code := triggerLocker(t, h, user.ID)
	assert.Equal(t, model.LockerStatusTriggered, locker.Status)
	require.NotNil(t, locker.ExpiresAt)
	assert.Equal(t, t0.AddDate(0, 0, model.DefaultAutoDeleteDays), *locker.ExpiresAt)
	assert.Len(t, code, OTPDigits)

	mails := h.mailer.SentTo("heir@example.com")
	require.Len(t, mails, 1)
	assert.Contains(t, mails[0].Text, code)
	assert.Contains(t, mails[0].Text, "Owner owner@example.com named you")

	token, err := h.tokens.FindByCode(ctx, locker.ID, code)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(model.DefaultOTPValidHours*time.Hour), token.ExpiresAt)

	_, err = h.locker.TriggerInheritance(ctx, user.ID)
	require.ErrorIs(t, err, ErrLockerNotActive)

	assert.Equal(t, []model.AccessAction{
		model.ActionCreated, model.ActionUpdated, model.ActionUpdated, model.ActionUpdated,
		model.ActionTriggered, model.ActionOTPSent,
	}, logActions(t, h, locker.ID))
}

func TestLocker_TriggerWithFailedEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	h.mailer.Fail(errSMTPDown)

	result, err := h.locker.TriggerInheritance(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, result.OTPSent)
	assert.Equal(t, model.LockerStatusTriggered, result.Locker.Status)

	logs, err := h.logs.List(ctx, result.Locker.ID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionTriggered, logs[0].Action)
	assert.Contains(t, logs[0].Details, "access code email failed")
}

func TestLocker_CredentialsFrozenAfterTrigger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	triggerLocker(t, h, user.ID)

	_, err := h.locker.AddCredential(ctx, user.ID, CredentialInput{Title: "Late addition"})
	require.ErrorIs(t, err, ErrLockerNotActive)

	err = h.locker.DeleteCredential(ctx, user.ID, 1)
	require.ErrorIs(t, err, ErrLockerNotActive)

	_, err = h.locker.UpdateSettings(ctx, user.ID, model.DefaultLockerSettings())
	require.ErrorIs(t, err, ErrLockerNotActive)
}

func TestLocker_OTPIsOneShot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	locker, code := triggerLocker(t, h, user.ID)

	h.clock.Advance(time.Hour)
	grant, err := h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code, IPAddress: "203.0.113.7", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusAccessed, grant.Locker.Status)
	require.Len(t, grant.Credentials, 1, "inactive credentials are withheld")
	assert.Equal(t, "Bank", grant.Credentials[0].Entry.Title)
	assert.Equal(t, "owner", grant.Credentials[0].Secrets.Username)
	assert.Equal(t, "hunter2", grant.Credentials[0].Secrets.Password)
	assert.Empty(t, grant.Credentials[0].Entry.EncryptedPassword)

	stored, err := h.lockers.GetByID(ctx, locker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusAccessed, stored.Status)
	require.NotNil(t, stored.AccessedAt)

	_, err = h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.ErrorIs(t, err, ErrOTPAlreadyUsed)

	confirmations := h.mailer.SentTo("heir@example.com")
	require.Len(t, confirmations, 2)
	assert.Equal(t, "AfterYou: digital locker accessed", confirmations[1].Subject)

	logs, err := h.logs.List(ctx, locker.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.ActionViewedCredentials, logs[0].Action)
	assert.Equal(t, model.ActionAccessGranted, logs[1].Action)
	assert.Equal(t, "203.0.113.7", logs[1].IPAddress)
}

// racingTokens charges extra wrong guesses right after the next code lookup,
// as concurrent attempts would.
type racingTokens struct {
	driven.AccessTokenStore
	extra int
}

func (r *racingTokens) FindByCode(ctx context.Context, lockerID int64, code string) (*model.LockerAccessToken, error) {
	token, err := r.AccessTokenStore.FindByCode(ctx, lockerID, code)
	if err != nil {
		return nil, err
	}
	for range r.extra {
		if _, err := r.AccessTokenStore.IncrementAttempts(ctx, token.ID); err != nil {
			return nil, err
		}
	}
	r.extra = 0
	return token, nil
}

func TestLocker_RedeemRechecksAttemptsAfterMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	locker, code := triggerLocker(t, h, user.ID)
	h.locker.stores.Tokens = &racingTokens{AccessTokenStore: h.tokens, extra: model.DefaultAccessAttemptsLimit}

	_, err := h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.ErrorIs(t, err, ErrAttemptsExceeded)

	var attemptErr *AttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Zero(t, attemptErr.AttemptsRemaining)

	stored, err := h.lockers.GetByID(ctx, locker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusTriggered, stored.Status)

	token, err := h.tokens.FindByCode(ctx, locker.ID, code)
	require.NoError(t, err)
	assert.False(t, token.IsUsed)
	assert.Equal(t, model.DefaultAccessAttemptsLimit, token.AttemptsUsed, "a correct code is not charged")
}

func TestLocker_UnreadableCredentialKeepsCodeUsable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	locker, code := triggerLocker(t, h, user.ID)

	const selectBank = `SELECT encrypted_password FROM credential_entries WHERE locker_id = ? AND title = 'Bank'`
	const setBank = `UPDATE credential_entries SET encrypted_password = ? WHERE locker_id = ? AND title = 'Bank'`
	var sealed string
	require.NoError(t, h.db.Reader.QueryRowContext(ctx, selectBank, locker.ID).Scan(&sealed))
	_, err := h.db.Writer.ExecContext(ctx, setBank, "not-a-ciphertext", locker.ID)
	require.NoError(t, err)

	_, err = h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.Error(t, err)
	var attemptErr *AttemptError
	assert.False(t, errors.As(err, &attemptErr), "decryption failures are not charged to the inheritor")

	stored, err := h.lockers.GetByID(ctx, locker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusTriggered, stored.Status)
	token, err := h.tokens.FindByCode(ctx, locker.ID, code)
	require.NoError(t, err)
	assert.False(t, token.IsUsed)
	assert.Zero(t, token.AttemptsUsed)

	_, err = h.db.Writer.ExecContext(ctx, setBank, sealed, locker.ID)
	require.NoError(t, err)

	grant, err := h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.NoError(t, err)
	require.Len(t, grant.Credentials, 1)
	assert.Equal(t, "hunter2", grant.Credentials[0].Secrets.Password)
}

func TestLocker_TriggerRecoversFromTokenFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, locker := setupLocker(t, h)

	_, err := h.db.Writer.ExecContext(ctx, `CREATE TRIGGER reject_tokens BEFORE INSERT ON locker_access_tokens
		BEGIN SELECT RAISE(ABORT, 'token storage unavailable'); END`)
	require.NoError(t, err)

	_, err = h.locker.TriggerInheritance(ctx, user.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token storage unavailable")
	assert.Empty(t, h.mailer.SentTo("heir@example.com"))

	stored, err := h.lockers.GetByID(ctx, locker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusActive, stored.Status)
	assert.Nil(t, stored.TriggeredAt)

	_, err = h.db.Writer.ExecContext(ctx, `DROP TRIGGER reject_tokens`)
	require.NoError(t, err)

	triggered, code := triggerLocker(t, h, user.ID)
	assert.Equal(t, model.LockerStatusTriggered, triggered.Status)
	_, err = h.locker.Attempt(ctx, triggered.ID, AccessRequest{Code: code})
	require.NoError(t, err)
}

// staleLockers serves a snapshot of the locker taken before it was triggered.
type staleLockers struct {
	driven.LockerStore
	snapshot model.DigitalLocker
}

func (s *staleLockers) GetByUser(context.Context, int64) (*model.DigitalLocker, error) {
	locker := s.snapshot
	return &locker, nil
}

func TestLocker_UpdateSettingsLosesToTrigger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, before := setupLocker(t, h)
	triggerLocker(t, h, user.ID)
	h.locker.stores.Lockers = &staleLockers{LockerStore: h.lockers, snapshot: before}

	settings := model.DefaultLockerSettings()
	settings.InheritorEmail = "late@example.com"
	_, err := h.locker.UpdateSettings(ctx, user.ID, settings)
	require.ErrorIs(t, err, ErrLockerNotActive)

	stored, err := h.lockers.GetByID(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, "heir@example.com", stored.InheritorEmail)
	assert.Equal(t, model.LockerStatusTriggered, stored.Status)
}

func TestLocker_WrongCodesExhaustAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	locker, code := triggerLocker(t, h, user.ID)

	for want := 2; want >= 0; want-- {
		_, err := h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: wrongCode(code)})
		require.ErrorIs(t, err, ErrOTPInvalid)

		var attemptErr *AttemptError
		require.ErrorAs(t, err, &attemptErr)
		assert.Equal(t, want, attemptErr.AttemptsRemaining)
	}

	token, err := h.tokens.FindByCode(ctx, locker.ID, code)
	require.NoError(t, err)
	assert.Equal(t, 3, token.AttemptsUsed, "unknown codes are charged to the outstanding token")

	_, err = h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.ErrorIs(t, err, ErrAttemptsExceeded)

	stored, err := h.lockers.GetByID(ctx, locker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusTriggered, stored.Status)

	failures := 0
	for _, action := range logActions(t, h, locker.ID) {
		if action == model.ActionFailedAttempt {
			failures++
		}
	}
	assert.Equal(t, 4, failures)
}

func TestLocker_ExpiredCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	locker, code := triggerLocker(t, h, user.ID)

	h.clock.Advance(model.DefaultOTPValidHours * time.Hour)
	_, err := h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.ErrorIs(t, err, ErrOTPExpired)

	var attemptErr *AttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Equal(t, 2, attemptErr.AttemptsRemaining)
}

func TestLocker_LazyExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, _ := setupLocker(t, h)
	locker, code := triggerLocker(t, h, user.ID)

	h.clock.Set(t0.AddDate(0, 0, model.DefaultAutoDeleteDays).Add(time.Second))
	_, err := h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.ErrorIs(t, err, ErrLockerExpired)

	stored, err := h.lockers.GetByID(ctx, locker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusExpired, stored.Status)

	_, err = h.locker.Attempt(ctx, locker.ID, AccessRequest{Code: code})
	require.ErrorIs(t, err, ErrLockerExpired)
}

func TestLocker_AttemptOnActiveLocker(t *testing.T) {
	h := newHarness(t)
	_, locker := setupLocker(t, h)

	_, err := h.locker.Attempt(context.Background(), locker.ID, AccessRequest{Code: "12345678"})
	require.ErrorIs(t, err, ErrLockerNotTriggered)

	_, err = h.locker.Attempt(context.Background(), 9999, AccessRequest{Code: "12345678"})
	require.ErrorIs(t, err, driven.ErrLockerNotFound)
}

func TestLocker_ExpireSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One locker left untouched past its window, one opened with auto delete.
	idle, _ := setupLocker(t, h)
	idleLocker, _ := triggerLocker(t, h, idle.ID)

	opened := h.register(t, "second@example.com", 1, 10)
	settings := model.DefaultLockerSettings()
	settings.InheritorEmail = "heir2@example.com"
	settings.AutoDeleteAfterAccess = true
	_, err := h.locker.UpdateSettings(ctx, opened.ID, settings)
	require.NoError(t, err)
	_, err = h.locker.AddCredential(ctx, opened.ID, CredentialInput{Title: "Mail", Password: "pw"})
	require.NoError(t, err)
	openedLocker, code := triggerLocker(t, h, opened.ID)
	_, err = h.locker.Attempt(ctx, openedLocker.ID, AccessRequest{Code: code})
	require.NoError(t, err)

	report, err := h.locker.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, LockerSweepReport{Deleted: 1}, report)

	h.clock.Set(t0.AddDate(0, 1, 0))
	report, err = h.locker.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, LockerSweepReport{Expired: 1}, report)

	stored, err := h.lockers.GetByID(ctx, idleLocker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusExpired, stored.Status)

	deleted, err := h.lockers.GetByID(ctx, openedLocker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockerStatusDeleted, deleted.Status)

	remaining, err := h.locker.stores.Credentials.List(ctx, openedLocker.ID, false)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	actions := logActions(t, h, openedLocker.ID)
	assert.Equal(t, model.ActionAutoDeleted, actions[len(actions)-1])
}

func TestLocker_Logs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user, locker := setupLocker(t, h)

	logs, err := h.locker.Logs(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, locker.ID, logs[0].LockerID)

	logs, err = h.locker.Logs(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 4)
}
