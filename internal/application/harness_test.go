package application

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/afteryou/internal/adapter/driven/memqueue"
	"github.com/ericfisherdev/afteryou/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
	"github.com/ericfisherdev/afteryou/internal/mailtemplate"
	"github.com/ericfisherdev/afteryou/internal/secretbox"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// --- Test doubles ---

type fakeMailer struct {
	mu   sync.Mutex
	sent []model.Email
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, email model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) Sent() []model.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Email(nil), m.sent...)
}

func (m *fakeMailer) SentTo(addr string) []model.Email {
	var out []model.Email
	for _, e := range m.Sent() {
		if e.To == addr {
			out = append(out, e)
		}
	}
	return out
}

func (m *fakeMailer) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// toggleQueue wraps a JobQueue and rejects pushes while down is set.
type toggleQueue struct {
	driven.JobQueue
	mu   sync.Mutex
	down bool
}

func (q *toggleQueue) SetDown(down bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.down = down
}

func (q *toggleQueue) Push(ctx context.Context, job model.Job) error {
	q.mu.Lock()
	down := q.down
	q.mu.Unlock()
	if down {
		return driven.ErrQueueUnavailable
	}
	return q.JobQueue.Push(ctx, job)
}

// --- Harness ---

type harness struct {
	db       *sqlite.DB
	users    *sqlite.UserRepo
	messages *sqlite.MessageRepo
	lockers  *sqlite.LockerRepo
	tokens   *sqlite.AccessTokenRepo
	logs     *sqlite.AccessLogRepo
	mailer   *fakeMailer
	clock    *testClock
	queue    *toggleQueue

	scheduler  *SchedulerService
	delivery   *DeliveryService
	messageSvc *MessageService
	chain      *ChainService
	locker     *LockerService
	escalation *EscalationService
	userSvc    *UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "afteryou.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlite.RunMigrations(db)
	require.NoError(t, err)

	keyring, err := secretbox.NewKeyring("test-secret")
	require.NoError(t, err)

	h := &harness{
		db:       db,
		users:    sqlite.NewUserRepo(db),
		messages: sqlite.NewMessageRepo(db),
		lockers:  sqlite.NewLockerRepo(db),
		tokens:   sqlite.NewAccessTokenRepo(db),
		logs:     sqlite.NewAccessLogRepo(db),
		mailer:   &fakeMailer{},
		clock:    &testClock{now: t0},
		queue:    &toggleQueue{JobQueue: memqueue.New()},
	}
	composer := mailtemplate.New("https://app.example")

	h.scheduler = NewSchedulerService(h.queue, time.Minute)
	h.scheduler.now = h.clock.Now

	h.delivery = NewDeliveryService(h.messages, h.users, h.mailer, composer, h.scheduler, DeliveryConfig{
		Lease:       5 * time.Minute,
		RetryWindow: 24 * time.Hour,
		MailTimeout: time.Second,
	})
	h.delivery.now = h.clock.Now

	h.messageSvc = NewMessageService(h.messages, h.users, h.scheduler)
	h.messageSvc.now = h.clock.Now

	h.chain = NewChainService(h.messages, h.scheduler)
	h.chain.now = h.clock.Now

	h.locker = NewLockerService(LockerStores{
		Users:       h.users,
		Lockers:     h.lockers,
		Credentials: sqlite.NewCredentialRepo(db),
		Tokens:      h.tokens,
		Logs:        h.logs,
	}, keyring, h.mailer, composer, time.Second)
	h.locker.now = h.clock.Now

	h.escalation = NewEscalationService(h.users, h.mailer, composer, h.locker, 4, time.Second)
	h.escalation.now = h.clock.Now

	h.userSvc = NewUserService(h.users)
	h.userSvc.now = h.clock.Now

	return h
}

func (h *harness) register(t *testing.T, email string, months, graceDays int) model.User {
	t.Helper()
	user, err := h.userSvc.Register(context.Background(), Registration{
		Email: email, Name: "Owner " + email, IntervalMonths: months, GraceDays: graceDays,
	})
	require.NoError(t, err)
	return user
}

func (h *harness) createMessage(t *testing.T, userID int64, title string, at time.Time) model.Message {
	t.Helper()
	msg, err := h.messageSvc.Create(context.Background(), userID, NewMessage{
		Title:          title,
		Content:        "Dear friend, **thank you**.",
		RecipientEmail: "recipient@example.com",
		DeliveryDate:   at,
	})
	require.NoError(t, err)
	return msg
}

func (h *harness) status(t *testing.T, id string) model.MessageStatus {
	t.Helper()
	msg, err := h.messages.GetByID(context.Background(), id)
	require.NoError(t, err)
	return msg.Status
}

var errSMTPDown = errors.New("smtp: connection refused")
