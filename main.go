package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"market_ingestion_service/config"
	"market_ingestion_service/models"
	"market_ingestion_service/routes"
	"market_ingestion_service/scheduler"
	"market_ingestion_service/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// dbInitialized tracks whether the database has been successfully
// initialized. Guarded by dbInitMutex so the /ready endpoint can check
// status while the background init goroutine is still working.
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	log.Info().Str("environment", cfg.Environment).Msg("market ingestion service starting")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(log))

	// Health endpoints come up first so the platform can probe the
	// service while the database connects in the background.
	setupHealthEndpoints(router)

	// Scheduler core starts against an in-memory store; it is swapped
	// for the database-backed repository once the connection is up.
	archive := openRunArchive(cfg, log)
	tracker := scheduler.NewRunTracker(cfg.RunHistoryLimit, archiveOrNil(archive), log)

	priceStore, err := services.NewPriceStore(cfg.MongoURI, log)
	if err != nil {
		log.Warn().Err(err).Msg("price store unavailable, bar and tick writes disabled")
	}

	loop := scheduler.NewLoop(scheduler.NewMemoryScheduleStore(), tracker, nil, scheduler.SystemClock(), log)
	loop.SetTickInterval(cfg.TickInterval)

	fetcher := services.NewOHLCFetcher(cfg.FeedURL, priceStore, log)
	live := services.NewLiveStreamManager(cfg.FeedWSURL, cfg.FeedURL, priceStore, loop.Events(), log)
	dispatcher := services.NewIngestionDispatcher(fetcher, live, nil, loop.Events(), log)
	loop.SetDispatcher(dispatcher)

	monitor := services.NewDataMonitor(priceStore, nil, log)
	maintenance := scheduler.NewMaintenance(maintenanceHooks(archive, monitor, priceStore), log)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Initialize database and register API routes in the background.
	go func() {
		deps := routes.Deps{Loop: loop, Archive: archive, Monitor: monitor}

		db, err := config.InitDB()
		if err != nil {
			log.Error().Err(err).Msg("database connection failed, schedules held in memory only")
		} else {
			if err := models.MigrateIngestionModels(db); err != nil {
				log.Error().Err(err).Msg("migration failed")
			}

			symbols := services.NewSymbolService(db)
			dispatcher.SetSymbolService(symbols)
			monitor.SetSymbolService(symbols)
			loop.SwapStore(services.NewScheduleRepository(db))

			deps.Symbols = symbols

			dbInitMutex.Lock()
			dbInitialized = true
			dbInitMutex.Unlock()
		}

		routes.SetupRoutes(router, deps)

		loop.Start()

		maintenance.Start()

		log.Info().Bool("database", deps.Symbols != nil).Msg("application initialized")
	}()

	gracefulShutdown(server, loop, live, archive, priceStore, maintenance, log)
}

// openRunArchive opens the SQLite run archive, tolerating failure.
func openRunArchive(cfg *config.Config, log zerolog.Logger) *services.RunArchiveStore {
	archive, err := services.NewRunArchiveStore(cfg.RunDBPath, cfg.RunHistoryLimit, log)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.RunDBPath).Msg("run archive unavailable, history is in-memory only")
		return nil
	}
	return archive
}

// archiveOrNil avoids handing the tracker a typed nil interface.
func archiveOrNil(archive *services.RunArchiveStore) scheduler.RunArchive {
	if archive == nil {
		return nil
	}
	return archive
}

// maintenanceHooks wires the periodic housekeeping jobs.
func maintenanceHooks(archive *services.RunArchiveStore, monitor *services.DataMonitor, prices *services.PriceStore) scheduler.MaintenanceHooks {
	hooks := scheduler.MaintenanceHooks{
		RefreshAvailability: monitor.RefreshCache,
		CleanupPriceData: func() error {
			return prices.DeleteBarsBefore(time.Now().AddDate(-2, 0, 0))
		},
	}
	if archive != nil {
		hooks.PruneRunArchive = archive.Prune
	}
	return hooks
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Market Ingestion Service",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe - checks if the backing database is connected
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Warn().
				Str("method", c.Request.Method).
				Str("path", path).
				Int("status", c.Writer.Status()).
				Dur("duration", duration).
				Msg("request")
		}
	}
}

// gracefulShutdown handles shutdown of the server and background workers
func gracefulShutdown(server *http.Server, loop *scheduler.Loop, live *services.LiveStreamManager, archive *services.RunArchiveStore, prices *services.PriceStore, maintenance *scheduler.Maintenance, log zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	maintenance.Stop()
	loop.Stop()
	live.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if archive != nil {
		if err := archive.Close(); err != nil {
			log.Warn().Err(err).Msg("run archive close failed")
		}
	}
	_ = prices.Close()
	if config.DB != nil {
		if sqlDB, err := config.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	log.Info().Msg("shutdown complete")
}
