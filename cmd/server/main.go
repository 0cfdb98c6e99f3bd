package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/config"
	"github.com/lendcore/emi-engine/internal/handler"
	"github.com/lendcore/emi-engine/internal/ledger"
	"github.com/lendcore/emi-engine/internal/notifier"
	"github.com/lendcore/emi-engine/internal/policy"
	"github.com/lendcore/emi-engine/internal/repository"
	"github.com/lendcore/emi-engine/internal/service"
	"github.com/lendcore/emi-engine/pkg/response"
)

func main() {
	// Load .env if present, then configuration
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg)

	// Initialize database
	db, err := initDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Initialize repositories
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

	// Initialize services
	builder := service.NewScheduleBuilder(loanRepo, installmentRepo, jobRepo, cfg, logger)
	machine := service.NewStateMachine(loanRepo, installmentRepo, jobRepo, ledgerQuery, notify, rules, cfg.Notifier.AdminEmail, logger)

	collectionsHandler := handler.NewCollectionsHandler(builder, machine, paymentRepo, installmentRepo, logger)
	healthHandler := handler.NewHealthHandler(db, redisClient, cfg.GetHealthTimeout())

	// Setup routes
	router := setupRoutes(collectionsHandler, healthHandler)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
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

func setupRoutes(collectionsHandler *handler.CollectionsHandler, healthHandler *handler.HealthHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware)

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/loans/{loanId}/schedule", collectionsHandler.BuildSchedule).Methods("POST")
	api.HandleFunc("/loans/{loanId}/installments", collectionsHandler.ListInstallments).Methods("GET")
	api.HandleFunc("/loans/{loanId}/installments/{emiNumber}", collectionsHandler.GetInstallment).Methods("GET")
	api.HandleFunc("/payments/webhook", collectionsHandler.PaymentWebhook).Methods("POST")

	return router
}
