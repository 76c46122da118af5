package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resource_wars/internal/config"
	"resource_wars/internal/db"
	"resource_wars/internal/events"
	httpServer "resource_wars/internal/http"
	"resource_wars/internal/http/middleware"
	"resource_wars/internal/logger"
	"resource_wars/internal/repository"
	"resource_wars/internal/service"
	"resource_wars/internal/ws"

	"github.com/gin-gonic/gin"
)

// Version устанавливается при сборке
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config error", "error", err)
	}

	logger.Init(cfg.LogLevel, cfg.JSONLogs())
	log := logger.Get()
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	persister := service.NewPersister(store)
	tickets := service.NewTicketIssuer(cfg.JWTSecret, 0)

	// зеркало событий в NATS, без адреса - no-op
	var publisher events.Publisher = events.Nop{}
	var nats *events.NATSPublisher
	if cfg.NatsURL != "" {
		nats, err = events.ConnectNATS(cfg.NatsURL)
		if err != nil {
			log.Error("nats unavailable, events will not be mirrored", "url", cfg.NatsURL, "error", err)
		} else {
			publisher = nats
			log.Info("nats connected", "url", cfg.NatsURL)
		}
	}

	rdb := middleware.InitRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		defer rdb.Close()
	}
	actionLimiter := middleware.NewRateLimiter(rdb, cfg.ActionRateLimit, cfg.ActionRateWindow)
	apiLimiter := middleware.NewRateLimiter(rdb, cfg.APIRateLimit, time.Minute)
	actionLimiter.StartPruning(ctx, time.Minute)
	apiLimiter.StartPruning(ctx, time.Minute)

	hub := ws.NewHub(ctx, ws.RoomConfig{
		RoundDuration:     cfg.RoundDuration,
		MaxRounds:         cfg.MaxRounds,
		TickInterval:      time.Second,
		MarketInterval:    cfg.MarketInterval,
		InactivityTimeout: cfg.InactivityTimeout,
		RoundPause:        cfg.RoundPause,
	}, persister, tickets, publisher)
	hub.StartCleanup(cfg.CleanupInterval, cfg.StaleAfter)

	gateway := ws.NewGateway(hub, store, tickets, actionLimiter)

	srv := &http.Server{
		Addr: ":" + cfg.AppPort,
		Handler: httpServer.NewRouter(httpServer.RouterDeps{
			Hub:            hub,
			Gateway:        gateway,
			Store:          store,
			APILimiter:     apiLimiter,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server started", "port", cfg.AppPort, "version", Version, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...", "rooms", hub.Count())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	// комнаты останавливают таймеры, записи остаются в хранилище
	cancel()

	if err := persister.Flush(shutdownCtx); err != nil {
		log.Warn("persister flush incomplete", "pending", persister.Pending(), "error", err)
	}
	if nats != nil {
		nats.Close()
	}

	log.Info("server exited")
}

// openStore выбирает хранилище по STORE_DRIVER
func openStore(ctx context.Context, cfg *config.Config) (service.GameStore, func()) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres connect failed", "error", err)
		}
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			logger.Fatal("migrations failed", "error", err)
		}
		logger.Info("store: postgres")
		return repository.NewGameRepository(pool), pool.Close

	case config.StoreSQLite:
		repo, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite open failed", "path", cfg.SQLitePath, "error", err)
		}
		logger.Info("store: sqlite", "path", cfg.SQLitePath)
		return repo, func() { _ = repo.Close() }
	}

	logger.Warn("store: in-memory, games will not survive a restart")
	return repository.NewMemoryGameRepository(), func() {}
}
