package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/cache"
	"github.com/lendcore/emi-engine/internal/config"
	"github.com/lendcore/emi-engine/internal/ledger"
	"github.com/lendcore/emi-engine/internal/notifier"
	"github.com/lendcore/emi-engine/internal/policy"
	"github.com/lendcore/emi-engine/internal/repository"
	"github.com/lendcore/emi-engine/internal/scheduler"
	"github.com/lendcore/emi-engine/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg)
	logger.Info("Starting collections scheduler...")

	db, err := initDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	jobRepo := repository.NewJobRepository(db)

	ledgerQuery := ledger.NewQuery(paymentRepo, cfg.Ledger.RetryAttempts, cfg.GetLedgerRetryBaseDelay(), logger)

	rules := policy.Rules{
		FineAmount:      cfg.GetFineAmount(),
		FineGrace:       cfg.GetFineGracePeriod(),
		EscalationGrace: cfg.GetEscalationGracePeriod(),
	}

	notify := initNotifier(cfg, logger)

	machine := service.NewStateMachine(loanRepo, installmentRepo, jobRepo, ledgerQuery, notify, rules, cfg.Notifier.AdminEmail, logger)

	guard := cache.NewTokenStore(redisClient, "emi:dispatch")
	workerID := "worker-" + uuid.NewString()

	dispatcher := scheduler.NewDispatcher(
		jobRepo,
		machine,
		guard,
		workerID,
		cfg.GetPollInterval(),
		cfg.GetClaimLease(),
		cfg.GetJobRetryDelay(),
		cfg.Scheduler.WorkerCount,
		logger,
	)

	reconciler := scheduler.NewReconciler(installmentRepo, jobRepo, rules, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatcher polls continuously for due jobs
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	// Periodic maintenance via cron: reconciliation sweep re-arms stalled
	// installments so lost job rows cannot strand a deadline
	c := setupCronJobs(cfg, reconciler, logger)
	c.Start()
	logger.Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	<-done
	<-c.Stop().Done()
	logger.Info("Scheduler stopped")
}

func setupCronJobs(cfg *config.Config, reconciler *scheduler.Reconciler, logger *logrus.Logger) *cron.Cron {
	loc := cronLocation(cfg, logger)
	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))

	// Reconciliation sweep every 10 minutes
	_, err := c.AddFunc("0 */10 * * * *", func() {
		if err := reconciler.Sweep(context.Background()); err != nil {
			logger.WithError(err).Error("reconciliation sweep failed")
		}
	})
	if err != nil {
		logger.WithError(err).Error("Error scheduling reconciliation sweep")
	}

	return c
}

func cronLocation(cfg *config.Config, logger *logrus.Logger) *time.Location {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.WithError(err).Warnf("invalid timezone %q, using UTC", cfg.Scheduler.Timezone)
		return time.UTC
	}
	return loc
}

func initLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.GetConnMaxLifetime())

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func initNotifier(cfg *config.Config, logger *logrus.Logger) notifier.Notifier {
	if cfg.Notifier.Mode == "smtp" {
		return notifier.NewEmailNotifier(cfg, logger)
	}
	return notifier.NewLogNotifier(logger)
}
