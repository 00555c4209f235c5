package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stock-anomaly/api"
	"stock-anomaly/cache"
	"stock-anomaly/config"
	"stock-anomaly/database"
	"stock-anomaly/detection"
	"stock-anomaly/logging"
	"stock-anomaly/marketdata"
	"stock-anomaly/metrics"
	"stock-anomaly/notifications"
	"stock-anomaly/realtime"
)

// App represents the main application
type App struct {
	config         *config.Config
	db             *database.Database
	redis          *cache.RedisClient
	repo           *database.Repository
	metrics        *metrics.Registry
	broker         *realtime.Broker
	hub            *realtime.Hub
	webhookManager *notifications.WebhookManager
	dispatcher     *notifications.Dispatcher
	scanner        *Scanner
	collector      *Collector
	apiServer      *api.Server
	logger         zerolog.Logger
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
		logger: logging.Component("app"),
	}
}

// Init connects storage and builds every component without starting servers or schedulers.
// The market data provider is optional unless requireProvider is set.
func (a *App) Init(requireProvider bool) error {
	if err := a.config.Validate(); err != nil {
		return err
	}

	// 1. Database Connection
	a.logger.Info().Str("host", a.config.DatabaseHost).Msg("Connecting to database")
	db, err := database.Connect(
		a.config.DatabaseHost,
		a.config.DatabasePort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	// 2. Redis Connection
	a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword, a.config.RedisDB)

	// Initialize schema
	a.repo = database.NewRepository(a.db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	a.metrics = metrics.New()

	// 3. Realtime transports
	a.broker = realtime.NewBroker(func(n int) { a.metrics.SetRealtimeClients("sse", n) })
	a.hub = realtime.NewHub(a.config.API.CORSOrigin, func(n int) { a.metrics.SetRealtimeClients("websocket", n) })

	// 4. Notification channels
	a.webhookManager = notifications.NewWebhookManager(a.repo, a.redis, notifications.StaticWebhooks(a.config.Alerts))
	notifiers := []notifications.Notifier{a.webhookManager}
	if a.config.Alerts.EmailEnabled() {
		notifiers = append(notifiers, notifications.NewEmailNotifier(a.config.Alerts))
	}
	if a.config.Alerts.TelegramEnabled() {
		tg, err := notifications.NewTelegramNotifier(a.config.Alerts.TelegramToken, a.config.Alerts.TelegramChatID)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Telegram alerts disabled")
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	a.dispatcher = notifications.NewDispatcher(a.metrics, notifiers...)
	a.logger.Info().Strs("channels", a.dispatcher.Names()).Msg("Alert channels configured")

	// 5. Detection
	detector, err := detection.NewHybridDetector(a.config.Detection.Hybrid)
	if err != nil {
		return fmt.Errorf("detector configuration: %w", err)
	}
	a.scanner = NewScanner(a.repo, detector, a.dispatcher, realtime.Fanout{a.broker, a.hub}, a.redis, a.metrics, ScanOptions{
		LookbackDays:    a.config.Detection.LookbackDays,
		AlertWindowDays: a.config.Detection.AlertWindowDays,
		Timeout:         a.config.Detection.ScanTimeout,
		MaxConcurrent:   a.config.Detection.MaxConcurrent,
		MinScore:        a.config.Alerts.MinScore,
	})

	// 6. Collection
	provider, err := marketdata.New(a.config.MarketData)
	if err != nil {
		if requireProvider {
			return fmt.Errorf("market data provider: %w", err)
		}
		a.logger.Warn().Err(err).Msg("Market data provider unavailable, collection disabled")
		provider = nil
	}
	schedule, err := a.schedule()
	if err != nil {
		return err
	}
	a.collector = NewCollector(a.repo, provider, a.scanner, a.dispatcher, a.metrics, CollectorOptions{
		Symbols:         a.config.Symbols,
		RecentDays:      a.config.Scheduler.RecentDays,
		AlertWindowDays: a.config.Detection.AlertWindowDays,
		Schedule:        schedule,
	})
	return nil
}

func (a *App) schedule() (Schedule, error) {
	hour, minute, err := a.config.Scheduler.Clock()
	if err != nil {
		return Schedule{}, err
	}
	loc, err := time.LoadLocation(a.config.Scheduler.Timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("scheduler timezone: %w", err)
	}
	return Schedule{Hour: hour, Minute: minute, Location: loc}, nil
}

// Repository returns the repository built by Init
func (a *App) Repository() *database.Repository { return a.repo }

// Scanner returns the scanner built by Init
func (a *App) Scanner() *Scanner { return a.scanner }

// Collector returns the collector built by Init
func (a *App) Collector() *Collector { return a.collector }

// Start runs the API server, realtime transports and the daily scheduler until interrupted
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Init(false); err != nil {
		return err
	}

	if err := a.collector.Seed(); err != nil {
		a.logger.Warn().Err(err).Msg("Seeding symbols failed")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.broker.Run(ctx)
	}()

	// Rebroadcast scan events from every instance
	wg.Add(1)
	go func() {
		defer wg.Done()
		fanout := realtime.Fanout{a.broker, a.hub}
		a.redis.ConsumeEvents(ctx, func(event cache.AnomalyEvent) {
			fanout.Broadcast(event.Type, event)
		})
	}()

	if a.config.Scheduler.Enabled && a.collector.provider != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.collector.Start(ctx)
		}()
	} else {
		a.logger.Info().Msg("Daily scheduler disabled")
	}

	// API Server
	a.apiServer = api.NewServer(a.repo, a.webhookManager, a.redis, a.metrics, a.config.API.CORSOrigin)
	a.apiServer.SetDetector(a.scanner)
	a.apiServer.SetRealtime(a.broker, a.hub)
	a.apiServer.SetHealthCheck(a.healthCheck)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.apiServer.Start(a.config.API.Port)
	}()

	// Wait for interrupt and perform graceful shutdown
	err := a.gracefulShutdown(cancel, serverErr)
	wg.Wait()
	return err
}

// healthCheck probes the database and, when configured, Redis
func (a *App) healthCheck(ctx context.Context) error {
	if err := a.db.Ping(3 * time.Second); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := a.redis.Ping(ctx); err != nil && !errors.Is(err, cache.ErrUnavailable) {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc, serverErr <-chan error) error {
	// Setup signal handling
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	var runErr error
	select {
	case <-interrupt:
		a.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
			a.logger.Error().Err(err).Msg("API server failed, shutting down")
		}
	}

	// Cancel context to stop all goroutines
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if a.collector != nil {
			a.collector.Stop()
		}
		if a.apiServer != nil {
			if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("Error stopping API server")
			}
		}
		if a.hub != nil {
			a.hub.Close(shutdownCtx)
		}
		a.Close()
		close(shutdownComplete)
	}()

	// Wait for shutdown to complete or timeout
	select {
	case <-shutdownComplete:
		a.logger.Info().Msg("Graceful shutdown completed")
		return runErr
	case <-shutdownCtx.Done():
		a.logger.Warn().Msg("Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}

// Close releases database and Redis connections
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Error closing database")
		} else {
			a.logger.Info().Msg("Database connection closed")
		}
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Error closing redis")
	}
}
