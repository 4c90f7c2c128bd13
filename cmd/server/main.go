package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"deltaneutral/internal/api"
	"deltaneutral/internal/bot"
	"deltaneutral/internal/config"
	"deltaneutral/internal/notify"
	"deltaneutral/internal/repository"
	"deltaneutral/internal/websocket"
	"deltaneutral/pkg/crypto"
	"deltaneutral/pkg/ratelimit"
	"deltaneutral/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", utils.Err(err))
		_ = logger.Sync()
		log.Fatalf("%v", err)
	}
	logger.Info("server exited")
}

func run(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	cipher, err := initCipher(cfg.Security)
	if err != nil {
		return err
	}

	// Хранилище конфигурации аккаунтов
	store, closeStore, err := initStore(ctx, cfg, cipher, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// WebSocket hub
	hub := websocket.NewHub(websocket.HubOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.WithComponent("ws"),
	})
	go hub.Run()
	defer hub.Stop()

	// События: лог + WebSocket + Telegram (если настроен)
	publishers := bot.MultiPublisher{
		bot.LogPublisher{Log: logger.WithComponent("events")},
		hub,
	}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, notify.TelegramOptions{
			MinSeverity: cfg.Telegram.MinSeverity,
			Types:       cfg.Telegram.EventTypes,
			Logger:      logger.WithComponent("telegram"),
		})
		if err != nil {
			// без уведомлений боты работают, поэтому не фатально
			logger.Error("telegram notifier disabled", utils.Err(err))
		} else {
			async := bot.NewAsyncPublisher("telegram", tg, 100)
			defer async.Close()
			publishers = append(publishers, async)
			logger.Info("telegram notifications enabled", utils.String("min_severity", cfg.Telegram.MinSeverity))
		}
	}

	sup, err := bot.NewSupervisor(ctx, store, bot.InstanceOptions{
		Bot:       cfg.Bot,
		Limiters:  ratelimit.NewRegistry(cfg.Bot.RateLimit, cfg.Bot.RateLimitBurst),
		Publisher: publishers,
		Logger:    logger.WithComponent("bot"),
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	if err := sup.StartAll(ctx); err != nil {
		// отдельные боты могли не подключиться; остальные уже работают
		logger.Warn("some bots failed to start", utils.Err(err))
	}
	logger.Info("bots started",
		utils.Int("accounts", sup.Len()),
		utils.Int("active", sup.ActiveCount()))

	go hub.RunBroadcaster(ctx, sup, cfg.Bot.BroadcastInterval)

	router := api.SetupRoutes(&api.Dependencies{
		Supervisor:     sup,
		Stream:         hub.ServeWS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		APITokenHash:   cfg.Security.APITokenHash,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			utils.String("addr", server.Addr),
			utils.Bool("https", cfg.Server.UseHTTPS),
			utils.Bool("auth", cfg.Security.APITokenHash != ""))

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	// Graceful shutdown: HTTP, затем боты (с закрытием ног)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}
	if err := sup.Close(shutdownCtx); err != nil {
		logger.Error("failed to stop bots cleanly", utils.Err(err))
	}

	return runErr
}

// initCipher создаёт шифр для параметров ног; без ключа секреты хранятся как есть
func initCipher(sec config.SecurityConfig) (*crypto.Cipher, error) {
	if sec.EncryptionKey == "" {
		return nil, nil
	}
	key, err := crypto.ParseKey(sec.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	return crypto.NewCipher(key)
}

// initStore выбирает хранилище аккаунтов по STORAGE_BACKEND
func initStore(ctx context.Context, cfg *config.Config, cipher *crypto.Cipher, logger *utils.Logger) (bot.AccountStore, func(), error) {
	if cfg.Storage.Backend != config.StoragePostgres {
		store := repository.NewFileStore(cfg.Storage.ConfigPath,
			repository.WithCipher(cipher),
			repository.WithLogger(logger.WithComponent("store")))
		logger.Info("using file storage", utils.String("path", store.Path()))
		return store, func() {}, nil
	}

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := repository.NewAccountRepository(db, cipher)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("using postgres storage", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	return repo, func() { _ = db.Close() }, nil
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
