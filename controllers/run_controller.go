package controllers

import (
	"net/http"
	"strconv"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"
	"market_ingestion_service/services"

	"github.com/gin-gonic/gin"
)

// RunController exposes job run history and in-flight runs
type RunController struct {
	tracker *scheduler.RunTracker
	archive *services.RunArchiveStore
}

// NewRunController creates a new run controller
func NewRunController(tracker *scheduler.RunTracker, archive *services.RunArchiveStore) *RunController {
	return &RunController{tracker: tracker, archive: archive}
}

// GetRuns returns recent runs for a symbol and schedule type, in-memory
// window first, topped up from the archive for older entries.
// GET /api/v1/runs?symbol=AAPL&type=live&limit=50
func (rc *RunController) GetRuns(c *gin.Context) {
	symbol := c.Query("symbol")
	scheduleType := models.ScheduleType(c.Query("type"))
	if symbol == "" || !scheduleType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and type are required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	key := models.RunKey{Symbol: symbol, ScheduleType: scheduleType}
	runs := rc.tracker.RecentRuns(key, limit)

	if len(runs) < limit && rc.archive != nil {
		seen := make(map[string]bool, len(runs))
		for _, r := range runs {
			seen[r.ID] = true
		}
		archived, err := rc.archive.RecentRuns(key, limit)
		if err == nil {
			for _, r := range archived {
				if len(runs) >= limit {
					break
				}
				if !seen[r.ID] {
					runs = append(runs, r)
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}

// GetActiveRuns returns all pending and running runs
// GET /api/v1/runs/active
func (rc *RunController) GetActiveRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": rc.tracker.ActiveRuns()})
}

// GetRun returns a single run by id
// GET /api/v1/runs/:id
func (rc *RunController) GetRun(c *gin.Context) {
	run, err := rc.tracker.Run(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": run})
}
