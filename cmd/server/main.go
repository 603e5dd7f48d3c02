package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealhub/escrow-backend/internal/config"
	"github.com/dealhub/escrow-backend/internal/db"
	httpHandlers "github.com/dealhub/escrow-backend/internal/http/handlers"
	httpRouter "github.com/dealhub/escrow-backend/internal/http/router"
	"github.com/dealhub/escrow-backend/internal/logger"
	"github.com/dealhub/escrow-backend/internal/repository"
	"github.com/dealhub/escrow-backend/internal/scheduler"
	"github.com/dealhub/escrow-backend/internal/service"
	"github.com/dealhub/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Репозитории.
	txManager := repository.NewTxManager(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	orderRepo := repository.NewOrderRepository(dbConn)
	negotiationRepo := repository.NewNegotiationRepository(dbConn)
	feeRepo := repository.NewFeeRepository(dbConn)
	auditRepo := repository.NewAuditRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()

	// Сервисы.
	notificationService := service.NewNotificationService(notificationRepo, hub)
	feeService := service.NewFeeService(feeRepo, cfg.FeeCacheTTL)
	walletService := service.NewWalletService(ledgerRepo)
	negotiationService := service.NewNegotiationService(txManager, negotiationRepo, notificationService)
	orderService := service.NewOrderService(
		txManager, orderRepo, negotiationRepo, ledgerRepo, auditRepo,
		feeService, notificationService, cfg.PlatformAccountID, cfg.ConfirmationWindow,
	)
	disputeService := service.NewDisputeService(
		txManager, orderRepo, ledgerRepo, auditRepo,
		notificationService, cfg.PlatformAccountID,
	)

	// Планировщик фоновых задач.
	jobScheduler := scheduler.NewScheduler(
		orderRepo, orderService, negotiationRepo, auditRepo, notificationService,
		cfg.AutoConfirmInterval, cfg.ExpirationInterval,
	)
	jobScheduler.Start(ctx)

	// HTTP хэндлеры.
	healthHandler := httpHandlers.NewHealthHandler(dbConn)
	walletHandler := httpHandlers.NewWalletHandler(walletService)
	negotiationHandler := httpHandlers.NewNegotiationHandler(negotiationService)
	orderHandler := httpHandlers.NewOrderHandler(orderService, walletService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	feeHandler := httpHandlers.NewFeeHandler(feeService)
	jobsHandler := httpHandlers.NewJobsHandler(jobScheduler)
	auditHandler := httpHandlers.NewAuditHandler(auditRepo)
	wsHandler := httpHandlers.NewWSHandler(hub)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg,
		healthHandler, walletHandler, negotiationHandler, orderHandler,
		disputeHandler, notificationHandler, feeHandler, jobsHandler,
		auditHandler, wsHandler,
	)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
