package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
	"github.com/ericfisherdev/afteryou/internal/mailtemplate"
	"github.com/ericfisherdev/afteryou/internal/secretbox"
)

// Compile-time interface satisfaction check.
var _ InheritanceTrigger = (*LockerService)(nil)

// OTPDigits is the length of a locker access code.
const OTPDigits = 8

// LockerStores groups the persistence ports the locker service needs.
type LockerStores struct {
	Users       driven.UserStore
	Lockers     driven.LockerStore
	Credentials driven.CredentialStore
	Tokens      driven.AccessTokenStore
	Logs        driven.AccessLogStore
}

// CredentialInput is the owner's plaintext input for a credential entry.
type CredentialInput struct {
	Title             string
	Category          model.CredentialCategory
	Website           string
	AccountIdentifier string
	Notes             string
	Username          string
	Password          string
	AdditionalData    string
	Priority          int
	IsActive          *bool
}

// AccessRequest is an inheritor's attempt to open a locker.
type AccessRequest struct {
	Code      string
	IPAddress string
	UserAgent string
}

// AccessGrant is returned to the inheritor after a successful OTP exchange.
type AccessGrant struct {
	Locker      model.DigitalLocker
	Credentials []model.RevealedCredential
}

// TriggerResult reports an inheritance trigger. OTPSent is false when the
// code could not be emailed; the failure is in the access log.
type TriggerResult struct {
	Locker  model.DigitalLocker
	OTPSent bool
}

// LockerSweepReport summarizes one expiry sweep.
type LockerSweepReport struct {
	Expired int `json:"expired"`
	Deleted int `json:"deleted"`
}

// LockerService implements the digital locker: owner management of
// credentials and settings, inheritance triggering and the OTP exchange.
type LockerService struct {
	stores      LockerStores
	keyring     *secretbox.Keyring
	mailer      driven.Mailer
	composer    *mailtemplate.Composer
	mailTimeout time.Duration
	now         func() time.Time
}

// NewLockerService creates a LockerService.
func NewLockerService(
	stores LockerStores,
	keyring *secretbox.Keyring,
	mailer driven.Mailer,
	composer *mailtemplate.Composer,
	mailTimeout time.Duration,
) *LockerService {
	return &LockerService{
		stores:      stores,
		keyring:     keyring,
		mailer:      mailer,
		composer:    composer,
		mailTimeout: mailTimeout,
		now:         time.Now,
	}
}

// GetOrCreate returns the user's locker, creating it with a fresh master key
// and default settings on first access.
func (s *LockerService) GetOrCreate(ctx context.Context, userID int64) (model.DigitalLocker, error) {
	locker, err := s.stores.Lockers.GetByUser(ctx, userID)
	if err == nil {
		return *locker, nil
	}
	if !errors.Is(err, driven.ErrLockerNotFound) {
		return model.DigitalLocker{}, err
	}

	if _, err := s.stores.Users.GetByID(ctx, userID); err != nil {
		return model.DigitalLocker{}, err
	}

	wrapped, err := s.keyring.NewMasterKey()
	if err != nil {
		return model.DigitalLocker{}, fmt.Errorf("create master key: %w", err)
	}

	defaults := model.DefaultLockerSettings()
	created, err := s.stores.Lockers.Create(ctx, model.DigitalLocker{
		UserID:              userID,
		WrappedKey:          wrapped,
		OTPValidHours:       defaults.OTPValidHours,
		AccessAttemptsLimit: defaults.AccessAttemptsLimit,
		AutoDeleteDays:      defaults.AutoDeleteDays,
		Status:              model.LockerStatusActive,
		CreatedAt:           s.now().UTC(),
	})
	if errors.Is(err, driven.ErrLockerExists) {
		existing, err := s.stores.Lockers.GetByUser(ctx, userID)
		if err != nil {
			return model.DigitalLocker{}, err
		}
		return *existing, nil
	}
	if err != nil {
		return model.DigitalLocker{}, err
	}

	s.audit(ctx, created.ID, model.ActionCreated, "", "", "")
	slog.Info("locker created", "locker_id", created.ID, "user_id", userID)
	return created, nil
}

// UpdateSettings changes the inheritor and access settings of an active locker.
func (s *LockerService) UpdateSettings(ctx context.Context, userID int64, settings model.LockerSettings) (model.DigitalLocker, error) {
	if err := validateLockerSettings(settings); err != nil {
		return model.DigitalLocker{}, err
	}

	locker, err := s.activeLocker(ctx, userID)
	if err != nil {
		return model.DigitalLocker{}, err
	}

	settings.InheritorEmail = strings.TrimSpace(settings.InheritorEmail)
	settings.InheritorName = strings.TrimSpace(settings.InheritorName)
	updatedOK, err := s.stores.Lockers.UpdateSettings(ctx, locker.ID, settings)
	if err != nil {
		return model.DigitalLocker{}, err
	}
	if !updatedOK {
		return model.DigitalLocker{}, fmt.Errorf("locker %d: %w", locker.ID, ErrLockerNotActive)
	}
	s.audit(ctx, locker.ID, model.ActionUpdated, "", "", "settings updated")

	updated, err := s.stores.Lockers.GetByID(ctx, locker.ID)
	if err != nil {
		return model.DigitalLocker{}, err
	}
	return *updated, nil
}

// ListCredentials returns the locker's entries without their secret fields.
func (s *LockerService) ListCredentials(ctx context.Context, userID int64) ([]model.CredentialEntry, error) {
	locker, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := s.stores.Credentials.List(ctx, locker.ID, false)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i] = redact(entries[i])
	}
	return entries, nil
}

// AddCredential seals the secret fields with the locker's master key and
// stores the entry.
func (s *LockerService) AddCredential(ctx context.Context, userID int64, in CredentialInput) (model.CredentialEntry, error) {
	in = withCredentialDefaults(in)
	if err := validateCredential(in); err != nil {
		return model.CredentialEntry{}, err
	}

	locker, err := s.activeLocker(ctx, userID)
	if err != nil {
		return model.CredentialEntry{}, err
	}

	entry := model.CredentialEntry{LockerID: locker.ID, IsActive: true}
	if err := s.fillCredential(locker, &entry, in); err != nil {
		return model.CredentialEntry{}, err
	}

	added, err := s.stores.Credentials.Add(ctx, entry)
	if err != nil {
		return model.CredentialEntry{}, err
	}
	s.audit(ctx, locker.ID, model.ActionUpdated, "", "", fmt.Sprintf("credential %d added", added.ID))
	return redact(added), nil
}

// UpdateCredential replaces an entry of an active locker.
func (s *LockerService) UpdateCredential(ctx context.Context, userID, credentialID int64, in CredentialInput) (model.CredentialEntry, error) {
	in = withCredentialDefaults(in)
	if err := validateCredential(in); err != nil {
		return model.CredentialEntry{}, err
	}

	locker, err := s.activeLocker(ctx, userID)
	if err != nil {
		return model.CredentialEntry{}, err
	}

	entry, err := s.stores.Credentials.Get(ctx, locker.ID, credentialID)
	if err != nil {
		return model.CredentialEntry{}, err
	}
	if err := s.fillCredential(locker, entry, in); err != nil {
		return model.CredentialEntry{}, err
	}
	if err := s.stores.Credentials.Update(ctx, *entry); err != nil {
		return model.CredentialEntry{}, err
	}

	s.audit(ctx, locker.ID, model.ActionUpdated, "", "", fmt.Sprintf("credential %d updated", credentialID))
	return redact(*entry), nil
}

// DeleteCredential removes an entry of an active locker.
func (s *LockerService) DeleteCredential(ctx context.Context, userID, credentialID int64) error {
	locker, err := s.activeLocker(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.stores.Credentials.Delete(ctx, locker.ID, credentialID); err != nil {
		return err
	}
	s.audit(ctx, locker.ID, model.ActionUpdated, "", "", fmt.Sprintf("credential %d deleted", credentialID))
	return nil
}

// Logs returns the locker's newest audit entries.
func (s *LockerService) Logs(ctx context.Context, userID int64, limit int) ([]model.AccessLog, error) {
	locker, err := s.stores.Lockers.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.stores.Logs.List(ctx, locker.ID, limit)
}

// TriggerInheritance moves the user's active locker to triggered, issues an
// access code and emails it to the inheritor. A failed email does not undo
// the trigger; it is reported through OTPSent and the access log.
func (s *LockerService) TriggerInheritance(ctx context.Context, userID int64) (TriggerResult, error) {
	locker, err := s.stores.Lockers.GetByUser(ctx, userID)
	if err != nil {
		return TriggerResult{}, err
	}
	if locker.InheritorEmail == "" {
		return TriggerResult{}, ErrInheritorMissing
	}
	if locker.Status != model.LockerStatusActive {
		return TriggerResult{}, fmt.Errorf("locker %d is %s: %w", locker.ID, locker.Status, ErrLockerNotActive)
	}

	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, locker.AutoDeleteDays)
	token, err := s.markTriggered(ctx, locker.ID, now, expiresAt,
		now.Add(time.Duration(locker.OTPValidHours)*time.Hour))
	if err != nil {
		return TriggerResult{}, err
	}
	locker.Status = model.LockerStatusTriggered
	locker.TriggeredAt = &now
	locker.ExpiresAt = &expiresAt

	var ownerName string
	if owner, err := s.stores.Users.GetByID(ctx, userID); err == nil {
		ownerName = owner.Name
	}

	sendErr := s.send(ctx, s.composer.InheritanceOTP(*locker, ownerName, token.Token, token.ExpiresAt))
	if sendErr != nil {
		slog.Error("locker access code email failed", "locker_id", locker.ID, "error", sendErr)
		s.audit(ctx, locker.ID, model.ActionTriggered, "", "", "access code email failed: "+sendErr.Error())
	} else {
		s.audit(ctx, locker.ID, model.ActionTriggered, "", "", "")
		s.audit(ctx, locker.ID, model.ActionOTPSent, "", "", "sent to "+locker.InheritorEmail)
	}

	slog.Info("locker inheritance triggered", "locker_id", locker.ID, "user_id", userID, "otp_sent", sendErr == nil)
	return TriggerResult{Locker: *locker, OTPSent: sendErr == nil}, nil
}

// TriggerForUser triggers the user's locker if it is active and names an
// inheritor. Users without such a locker are skipped.
func (s *LockerService) TriggerForUser(ctx context.Context, userID int64) error {
	_, err := s.TriggerInheritance(ctx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driven.ErrLockerNotFound),
		errors.Is(err, ErrInheritorMissing),
		errors.Is(err, ErrLockerNotActive):
		return nil
	default:
		return err
	}
}

// Attempt exchanges an access code for the locker's credentials. Every
// rejected code is charged to a token and logged; a valid code opens the
// locker exactly once, after every active credential has been decrypted.
func (s *LockerService) Attempt(ctx context.Context, lockerID int64, req AccessRequest) (AccessGrant, error) {
	locker, err := s.stores.Lockers.GetByID(ctx, lockerID)
	if err != nil {
		return AccessGrant{}, err
	}

	now := s.now().UTC()
	switch locker.Status {
	case model.LockerStatusTriggered:
	case model.LockerStatusAccessed:
		return AccessGrant{}, &AttemptError{Err: ErrOTPAlreadyUsed}
	case model.LockerStatusExpired:
		return AccessGrant{}, ErrLockerExpired
	default:
		return AccessGrant{}, ErrLockerNotTriggered
	}

	if locker.ExpiresAt != nil && now.After(*locker.ExpiresAt) {
		if won, err := s.stores.Lockers.MarkExpired(ctx, lockerID); err == nil && won {
			s.audit(ctx, lockerID, model.ActionExpired, req.IPAddress, req.UserAgent, "")
		}
		return AccessGrant{}, ErrLockerExpired
	}

	token, reason, err := s.matchToken(ctx, locker, strings.TrimSpace(req.Code), now)
	if err != nil {
		return AccessGrant{}, err
	}
	if reason != nil {
		return AccessGrant{}, s.rejectAttempt(ctx, locker, token, reason, req)
	}

	credentials, err := s.reveal(ctx, locker)
	if err != nil {
		return AccessGrant{}, err
	}

	redeemed, err := s.stores.Tokens.Redeem(ctx, token.ID, lockerID, locker.AccessAttemptsLimit, now)
	if err != nil {
		return AccessGrant{}, err
	}
	if !redeemed {
		return AccessGrant{}, s.refuseRedeem(ctx, locker, token, req, now)
	}

	locker.Status = model.LockerStatusAccessed
	locker.AccessedAt = &now
	s.audit(ctx, lockerID, model.ActionAccessGranted, req.IPAddress, req.UserAgent, "")
	s.audit(ctx, lockerID, model.ActionViewedCredentials, req.IPAddress, req.UserAgent,
		fmt.Sprintf("%d credentials released", len(credentials)))

	if err := s.send(ctx, s.composer.AccessGranted(*locker, len(credentials), now)); err != nil {
		slog.Error("locker access confirmation email failed", "locker_id", lockerID, "error", err)
	}

	slog.Info("locker accessed", "locker_id", lockerID, "credentials", len(credentials))
	return AccessGrant{Locker: *locker, Credentials: credentials}, nil
}

// matchToken finds the token to validate or charge. A nil reason means the
// token is valid. An unknown code is charged to the newest open token.
func (s *LockerService) matchToken(ctx context.Context, locker *model.DigitalLocker, code string, now time.Time) (
	token *model.LockerAccessToken, reason, err error,
) {
	token, err = s.stores.Tokens.FindByCode(ctx, locker.ID, code)
	if errors.Is(err, driven.ErrTokenNotFound) {
		latest, err := s.stores.Tokens.LatestOpen(ctx, locker.ID)
		if errors.Is(err, driven.ErrTokenNotFound) {
			return nil, ErrOTPInvalid, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return latest, ErrOTPInvalid, nil
	}
	if err != nil {
		return nil, nil, err
	}

	return token, tokenProblem(token, locker.AccessAttemptsLimit, now), nil
}

// tokenProblem reports why token cannot open its locker at now, or nil.
func tokenProblem(token *model.LockerAccessToken, attemptsLimit int, now time.Time) error {
	switch {
	case token.IsUsed:
		return ErrOTPAlreadyUsed
	case token.AttemptsUsed >= attemptsLimit:
		return ErrAttemptsExceeded
	case !now.Before(token.ExpiresAt):
		return ErrOTPExpired
	}
	return nil
}

// refuseRedeem explains a Redeem that matched no row: the token or locker
// changed after the code was checked. The code itself was right, so no
// attempt is charged.
func (s *LockerService) refuseRedeem(ctx context.Context, locker *model.DigitalLocker, token *model.LockerAccessToken,
	req AccessRequest, now time.Time,
) error {
	current, err := s.stores.Tokens.FindByCode(ctx, locker.ID, token.Token)
	if err != nil {
		return err
	}

	reason := tokenProblem(current, locker.AccessAttemptsLimit, now)
	if reason == nil {
		reason = ErrOTPAlreadyUsed
		if l, err := s.stores.Lockers.GetByID(ctx, locker.ID); err == nil && l.Status == model.LockerStatusExpired {
			return ErrLockerExpired
		}
	}

	remaining := max(locker.AccessAttemptsLimit-current.AttemptsUsed, 0)
	s.audit(ctx, locker.ID, model.ActionFailedAttempt, req.IPAddress, req.UserAgent, reason.Error())
	slog.Warn("locker redeem refused", "locker_id", locker.ID, "reason", reason, "attempts_remaining", remaining)

	return &AttemptError{Err: reason, AttemptsRemaining: remaining}
}

func (s *LockerService) rejectAttempt(ctx context.Context, locker *model.DigitalLocker, token *model.LockerAccessToken,
	reason error, req AccessRequest,
) error {
	remaining := 0
	if token != nil {
		used, err := s.stores.Tokens.IncrementAttempts(ctx, token.ID)
		if err != nil {
			return err
		}
		remaining = max(locker.AccessAttemptsLimit-used, 0)
	}

	s.audit(ctx, locker.ID, model.ActionFailedAttempt, req.IPAddress, req.UserAgent, reason.Error())
	slog.Warn("locker access rejected", "locker_id", locker.ID, "reason", reason, "attempts_remaining", remaining)

	return &AttemptError{Err: reason, AttemptsRemaining: remaining}
}

func (s *LockerService) reveal(ctx context.Context, locker *model.DigitalLocker) ([]model.RevealedCredential, error) {
	box, err := s.keyring.Unwrap(locker.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap locker %d key: %w", locker.ID, err)
	}

	entries, err := s.stores.Credentials.List(ctx, locker.ID, true)
	if err != nil {
		return nil, err
	}

	revealed := make([]model.RevealedCredential, 0, len(entries))
	for _, entry := range entries {
		var secrets model.CredentialSecrets
		var err error
		if secrets.Username, err = box.Open(entry.EncryptedUsername); err != nil {
			return nil, fmt.Errorf("open credential %d: %w", entry.ID, err)
		}
		if secrets.Password, err = box.Open(entry.EncryptedPassword); err != nil {
			return nil, fmt.Errorf("open credential %d: %w", entry.ID, err)
		}
		if secrets.AdditionalData, err = box.Open(entry.EncryptedAdditionalData); err != nil {
			return nil, fmt.Errorf("open credential %d: %w", entry.ID, err)
		}
		revealed = append(revealed, model.RevealedCredential{Entry: redact(entry), Secrets: secrets})
	}
	return revealed, nil
}

// ExpireSweep expires triggered lockers past their access window and deletes
// accessed lockers flagged for deletion after access.
func (s *LockerService) ExpireSweep(ctx context.Context) (LockerSweepReport, error) {
	var report LockerSweepReport

	expired, err := s.stores.Lockers.ListExpired(ctx, s.now().UTC())
	if err != nil {
		return report, fmt.Errorf("list expired lockers: %w", err)
	}
	for _, locker := range expired {
		won, err := s.stores.Lockers.MarkExpired(ctx, locker.ID)
		if err != nil {
			slog.Error("expire locker failed", "locker_id", locker.ID, "error", err)
			continue
		}
		if won {
			report.Expired++
			s.audit(ctx, locker.ID, model.ActionExpired, "", "", "")
		}
	}

	deletable, err := s.stores.Lockers.ListAutoDeletable(ctx)
	if err != nil {
		return report, fmt.Errorf("list auto-deletable lockers: %w", err)
	}
	for _, locker := range deletable {
		won, err := s.stores.Lockers.MarkDeleted(ctx, locker.ID)
		if err != nil {
			slog.Error("delete locker failed", "locker_id", locker.ID, "error", err)
			continue
		}
		if won {
			report.Deleted++
			s.audit(ctx, locker.ID, model.ActionAutoDeleted, "", "", "")
		}
	}

	slog.Info("locker sweep complete", "expired", report.Expired, "deleted", report.Deleted)
	return report, nil
}

func (s *LockerService) activeLocker(ctx context.Context, userID int64) (*model.DigitalLocker, error) {
	locker, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if locker.Status != model.LockerStatusActive {
		return nil, fmt.Errorf("locker %d is %s: %w", locker.ID, locker.Status, ErrLockerNotActive)
	}
	return &locker, nil
}

func (s *LockerService) fillCredential(locker *model.DigitalLocker, entry *model.CredentialEntry, in CredentialInput) error {
	box, err := s.keyring.Unwrap(locker.WrappedKey)
	if err != nil {
		return fmt.Errorf("unwrap locker %d key: %w", locker.ID, err)
	}

	entry.Title = strings.TrimSpace(in.Title)
	entry.Category = in.Category
	entry.Website = strings.TrimSpace(in.Website)
	entry.AccountIdentifier = strings.TrimSpace(in.AccountIdentifier)
	entry.Notes = in.Notes
	entry.Priority = in.Priority
	if in.IsActive != nil {
		entry.IsActive = *in.IsActive
	}

	if entry.EncryptedUsername, err = box.Seal(in.Username); err != nil {
		return err
	}
	if entry.EncryptedPassword, err = box.Seal(in.Password); err != nil {
		return err
	}
	if entry.EncryptedAdditionalData, err = box.Seal(in.AdditionalData); err != nil {
		return err
	}
	return nil
}

// markTriggered flips the locker to triggered together with a fresh access
// code, drawing a new code on collision.
func (s *LockerService) markTriggered(ctx context.Context, lockerID int64, now, expiresAt, codeExpiresAt time.Time,
) (model.LockerAccessToken, error) {
	for attempt := 1; ; attempt++ {
		code, err := secretbox.NewOTP(OTPDigits)
		if err != nil {
			return model.LockerAccessToken{}, err
		}
		token, won, err := s.stores.Lockers.MarkTriggered(ctx, lockerID, now, expiresAt, model.LockerAccessToken{
			Token:     code,
			ExpiresAt: codeExpiresAt,
			CreatedAt: now,
		})
		switch {
		case err == nil && !won:
			return model.LockerAccessToken{}, fmt.Errorf("locker %d: %w", lockerID, ErrLockerNotActive)
		case err == nil:
			return token, nil
		case !errors.Is(err, driven.ErrDuplicateToken) || attempt == tokenInsertTries:
			return model.LockerAccessToken{}, fmt.Errorf("trigger locker %d: %w", lockerID, err)
		}
	}
}

func (s *LockerService) send(ctx context.Context, email model.Email) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()
	return s.mailer.Send(sendCtx, email)
}

func (s *LockerService) audit(ctx context.Context, lockerID int64, action model.AccessAction, ip, ua, details string) {
	err := s.stores.Logs.Append(ctx, model.AccessLog{
		LockerID:  lockerID,
		Action:    action,
		IPAddress: ip,
		UserAgent: ua,
		Details:   details,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		slog.Error("access log append failed", "locker_id", lockerID, "action", string(action), "error", err)
	}
}

func redact(entry model.CredentialEntry) model.CredentialEntry {
	entry.EncryptedUsername = ""
	entry.EncryptedPassword = ""
	entry.EncryptedAdditionalData = ""
	return entry
}

func validateLockerSettings(s model.LockerSettings) error {
	if strings.TrimSpace(s.InheritorEmail) != "" {
		if err := validateEmail("inheritor_email", s.InheritorEmail); err != nil {
			return err
		}
	}
	if err := validateRange("otp_valid_hours", s.OTPValidHours, 1, model.MaxOTPValidHours); err != nil {
		return err
	}
	if err := validateRange("access_attempts_limit", s.AccessAttemptsLimit, 1, model.MaxAccessAttemptsLimit); err != nil {
		return err
	}
	return validateRange("auto_delete_days", s.AutoDeleteDays, 1, model.MaxAutoDeleteDays)
}

func withCredentialDefaults(in CredentialInput) CredentialInput {
	if in.Priority == 0 {
		in.Priority = model.PriorityImportant
	}
	if in.Category == "" {
		in.Category = model.CategoryOther
	}
	return in
}

func validateCredential(in CredentialInput) error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if !in.Category.Valid() {
		return invalid("category", "is not a known category")
	}
	return validateRange("priority", in.Priority, model.PriorityCritical, model.PriorityOptional)
}
