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

	"github.com/joho/godotenv"

	"github.com/skillsbank/transaction-service/internal/config"
	"github.com/skillsbank/transaction-service/internal/db"
	"github.com/skillsbank/transaction-service/internal/domain"
	"github.com/skillsbank/transaction-service/internal/events"
	"github.com/skillsbank/transaction-service/internal/handlers"
	"github.com/skillsbank/transaction-service/internal/identity"
	"github.com/skillsbank/transaction-service/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	accountRepo := db.NewAccountRepository(pool.Pool)
	transactionRepo := db.NewTransactionRepository(pool.Pool)
	txManager := db.NewTransactionManager(pool.Pool, cfg.LockTimeout, logger)

	verifier := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Timeout)

	var publisher domain.EventPublisher
	if cfg.Events.AMQPURL != "" {
		rabbitPublisher, err := events.NewRabbitMQPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, cfg.Events.RoutingKey)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitPublisher.Close()
		publisher = rabbitPublisher
	}

	engine := domain.NewTransferService(
		accountRepo,
		transactionRepo,
		txManager,
		verifier,
		publisher,
		logger,
		cfg.Identity.Timeout,
	)

	handler := handlers.NewHandler(engine, logger)
	router := server.NewRouter(handler)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("transaction service starting", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}
}
