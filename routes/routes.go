package routes

import (
	"time"

	"market_ingestion_service/controllers"
	"market_ingestion_service/middleware"
	"market_ingestion_service/scheduler"
	"market_ingestion_service/services"

	"github.com/gin-gonic/gin"
)

// Deps carries the services the API routes depend on. Symbols, Archive
// and Monitor are nil when the backing store is unavailable; the routes
// that need them are skipped.
type Deps struct {
	Loop    *scheduler.Loop
	Symbols *services.SymbolService
	Archive *services.RunArchiveStore
	Monitor *services.DataMonitor
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Initialize controllers
	scheduleController := controllers.NewScheduleController(deps.Loop, deps.Symbols)
	runController := controllers.NewRunController(deps.Loop.Tracker(), deps.Archive)

	// API v1 group, writes rate limited per client
	api := router.Group("/api/v1")
	api.Use(middleware.WriteRateLimitMiddleware(middleware.NewRateLimiter(120, time.Minute)))
	{
		// Schedule routes
		schedules := api.Group("/schedules")
		{
			schedules.GET("", scheduleController.GetSchedules)
			schedules.POST("", scheduleController.CreateSchedule)
			schedules.GET("/:id", scheduleController.GetSchedule)
			schedules.PUT("/:id", scheduleController.UpdateSchedule)
			schedules.PATCH("/:id/toggle", scheduleController.ToggleSchedule)
			schedules.DELETE("/:id", scheduleController.DeleteSchedule)
			schedules.POST("/:id/run", scheduleController.RunSchedule)
			schedules.POST("/:id/stop", scheduleController.StopSchedule)
		}

		// Run routes
		runs := api.Group("/runs")
		{
			runs.GET("", runController.GetRuns)
			runs.GET("/active", runController.GetActiveRuns)
			runs.GET("/:id", runController.GetRun)
		}

		// Symbol catalog routes, only when the database is up
		if deps.Symbols != nil {
			symbolController := controllers.NewSymbolController(deps.Symbols)
			symbols := api.Group("/symbols")
			{
				symbols.GET("", symbolController.GetSymbols)
				symbols.POST("", symbolController.CreateSymbol)
				symbols.GET("/:symbol", symbolController.GetSymbol)
				symbols.PUT("/:symbol", symbolController.UpdateSymbol)
				symbols.DELETE("/:symbol", symbolController.DeactivateSymbol)
			}
		}

		// Monitoring routes
		if deps.Monitor != nil {
			monitorController := controllers.NewMonitorController(deps.Monitor, deps.Loop.Tracker())
			monitor := api.Group("/monitor")
			{
				monitor.GET("/availability/:symbol", monitorController.GetAvailability)
				monitor.GET("/stats", monitorController.GetStats)
			}
		}
	}
}
