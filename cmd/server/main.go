package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"signalbot/internal/api"
	"signalbot/internal/config"
	"signalbot/internal/engine"
	"signalbot/internal/exchange"
	"signalbot/internal/repository"
	"signalbot/internal/risk"
	"signalbot/internal/websocket"
	"signalbot/pkg/utils"
)

func main() {
	// .env опционален: в проде переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.InitLogger(utils.LoggerConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Backups:  cfg.Logging.Backups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := initDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("name", cfg.Database.Name))

	// Репозитории
	botRepo := repository.NewBotRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// WebSocket hub для дашборда
	hub := websocket.NewHub(logger)
	go hub.Run()

	// Фабрика клиентов биржи: один клиент на пару расшифрованных ключей
	clientFactory := func(apiKey, apiSecret string) exchange.Api {
		return exchange.NewClient(apiKey, apiSecret, exchange.Options{
			BaseURL:    cfg.Exchange.BaseURL,
			RecvWindow: cfg.Exchange.RecvWindow,
			Timeout:    cfg.Exchange.Timeout,
			RateLimit:  cfg.Exchange.RateLimit,
			RateBurst:  cfg.Exchange.RateBurst,
			Logger:     logger,
		})
	}
	clientFor := engine.NewClientProvider(credRepo, cfg.Security.EncryptionKey, clientFactory)

	reconciler := engine.NewReconciler(engine.ReconcilerConfig{
		Trades:        tradeRepo,
		Bots:          botRepo,
		Audit:         auditRepo,
		Hub:           hub,
		ClientFor:     clientFor,
		Logger:        logger,
		SweepInterval: cfg.Pipeline.ReconcileInterval,
		SweepBatch:    cfg.Pipeline.ReconcileBatch,
	})

	eng := engine.New(engine.Config{
		Bots:       botRepo,
		Trades:     tradeRepo,
		Audit:      auditRepo,
		Gate:       risk.NewGate(tradeRepo, logger),
		Hub:        hub,
		ClientFor:  clientFor,
		Reconciler: reconciler,
		Logger:     logger,
	})

	// Периодическая сверка несверенных сделок
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go reconciler.Run(sweepCtx)

	router := api.SetupRoutes(api.Dependencies{
		Logger:     logger,
		Hub:        hub,
		Processor:  eng,
		Bots:       botRepo,
		Trades:     tradeRepo,
		Reconciler: reconciler,
		Audit:      auditRepo,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown по SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("stopped")
}

// initDatabase открывает пул соединений и проверяет доступность базы
func initDatabase(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
