package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/afteryou/internal/adapter/driven/memqueue"
	"github.com/ericfisherdev/afteryou/internal/adapter/driven/redisqueue"
	"github.com/ericfisherdev/afteryou/internal/adapter/driven/smtpmail"
	sqliteadapter "github.com/ericfisherdev/afteryou/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/afteryou/internal/adapter/driving/http"
	"github.com/ericfisherdev/afteryou/internal/application"
	"github.com/ericfisherdev/afteryou/internal/config"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
	"github.com/ericfisherdev/afteryou/internal/mailtemplate"
	"github.com/ericfisherdev/afteryou/internal/secretbox"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"scheduler_backend", cfg.SchedulerBackend,
		"smtp", cfg.HasSMTP(),
		"task_hooks", cfg.TaskHooksEnabled(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database and run migrations on the writer connection.
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	version, err := sqliteadapter.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath, "schema_version", version)

	keyring, err := secretbox.NewKeyring(cfg.SecretKey)
	if err != nil {
		return err
	}

	// 4. Wire driven adapters.
	users := sqliteadapter.NewUserRepo(db)
	messages := sqliteadapter.NewMessageRepo(db)

	queue, closeQueue, err := newQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	mailer := newMailer(cfg, logger)
	composer := mailtemplate.New(cfg.FrontendURL)

	// 5. Wire application services.
	scheduler := application.NewSchedulerService(queue, cfg.PollInterval)
	delivery := application.NewDeliveryService(messages, users, mailer, composer, scheduler, application.DeliveryConfig{
		Lease:       cfg.DeliveryLease,
		RetryWindow: cfg.RetryWindow,
		MailTimeout: cfg.MailTimeout,
	})
	locker := application.NewLockerService(application.LockerStores{
		Users:       users,
		Lockers:     sqliteadapter.NewLockerRepo(db),
		Credentials: sqliteadapter.NewCredentialRepo(db),
		Tokens:      sqliteadapter.NewAccessTokenRepo(db),
		Logs:        sqliteadapter.NewAccessLogRepo(db),
	}, keyring, mailer, composer, cfg.MailTimeout)

	svc := httphandler.Services{
		Users:      application.NewUserService(users),
		Messages:   application.NewMessageService(messages, users, scheduler),
		Chain:      application.NewChainService(messages, scheduler),
		Delivery:   delivery,
		Scheduler:  scheduler,
		Locker:     locker,
		Escalation: application.NewEscalationService(users, mailer, composer, locker, cfg.EscalationWorkers, cfg.MailTimeout),
	}

	// 6. Recover deliveries whose jobs were lost while the process was down.
	if report, err := delivery.Reconcile(ctx); err != nil {
		slog.Warn("startup reconcile failed", "error", err)
	} else {
		slog.Info("startup reconcile complete", "processed", report.Processed, "delivered", report.Delivered)
	}

	scheduler.Start(ctx, delivery)
	defer scheduler.Stop()

	// 7. HTTP server.
	verifier := httphandler.NewTaskVerifier(cfg.TaskSigningKey, cfg.TaskNextSigningKey)
	if verifier == nil {
		slog.Warn("no task signing keys configured, task hooks are disabled")
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(httphandler.NewHandler(svc, logger), verifier, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("afteryou started", "listen_addr", cfg.ListenAddr)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newQueue returns the configured job queue and a function releasing it.
func newQueue(ctx context.Context, cfg *config.Config) (driven.JobQueue, func(), error) {
	if cfg.SchedulerBackend != config.BackendRedis {
		slog.Warn("in-memory scheduler queue: queued jobs are lost on restart and recovered by the due sweep")
		return memqueue.New(), func() {}, nil
	}

	client, err := redisqueue.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("redis scheduler queue connected")
	return redisqueue.New(client, redisqueue.DefaultPrefix), func() {
		if err := client.Close(); err != nil {
			slog.Error("error closing redis client", "error", err)
		}
	}, nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) driven.Mailer {
	if !cfg.HasSMTP() {
		slog.Warn("no SMTP host configured, outgoing mail is only logged")
		return smtpmail.NewLogMailer(logger)
	}
	return smtpmail.New(smtpmail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}
