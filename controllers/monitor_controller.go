package controllers

import (
	"net/http"

	"market_ingestion_service/scheduler"
	"market_ingestion_service/services"

	"github.com/gin-gonic/gin"
)

// MonitorController exposes data availability and ingestion stats
type MonitorController struct {
	monitor *services.DataMonitor
	tracker *scheduler.RunTracker
}

// NewMonitorController creates a new monitor controller
func NewMonitorController(monitor *services.DataMonitor, tracker *scheduler.RunTracker) *MonitorController {
	return &MonitorController{monitor: monitor, tracker: tracker}
}

// GetAvailability returns per-timeframe bar coverage for a symbol
// GET /api/v1/monitor/availability/:symbol
func (mc *MonitorController) GetAvailability(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"symbol":     symbol,
		"timeframes": mc.monitor.SymbolAvailability(symbol),
	}})
}

// GetStats returns aggregate ingestion statistics
// GET /api/v1/monitor/stats
func (mc *MonitorController) GetStats(c *gin.Context) {
	stats, err := mc.monitor.Stats(len(mc.tracker.ActiveRuns()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
