package controllers

import (
	"errors"
	"net/http"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"
	"market_ingestion_service/services"

	"github.com/gin-gonic/gin"
)

// ScheduleController handles schedule management requests
type ScheduleController struct {
	loop    *scheduler.Loop
	symbols *services.SymbolService
}

// NewScheduleController creates a new schedule controller
func NewScheduleController(loop *scheduler.Loop, symbols *services.SymbolService) *ScheduleController {
	return &ScheduleController{loop: loop, symbols: symbols}
}

// ScheduleRequest is the create/update payload for a schedule.
type ScheduleRequest struct {
	Symbol         string                `json:"symbol" binding:"required"`
	ScheduleType   models.ScheduleType   `json:"schedule_type" binding:"required"`
	CronExpression string                `json:"cron_expression" binding:"required"`
	Enabled        bool                  `json:"enabled"`
	Config         models.ScheduleConfig `json:"config"`
}

func (sc *ScheduleController) validate(req *ScheduleRequest) (int, string) {
	if !req.ScheduleType.Valid() {
		return http.StatusBadRequest, "schedule_type must be historical or live"
	}
	if err := scheduler.ValidateExpression(req.CronExpression); err != nil {
		return http.StatusBadRequest, err.Error()
	}
	// Symbol validation requires the catalog; deployments without a
	// database run with validation disabled.
	if sc.symbols != nil {
		exists, err := sc.symbols.Exists(req.Symbol)
		if err != nil {
			return http.StatusInternalServerError, "failed to check symbol"
		}
		if !exists {
			return http.StatusNotFound, scheduler.ErrUnknownSymbol.Error() + ": " + req.Symbol
		}
	}
	return 0, ""
}

// CreateSchedule creates a new schedule
// POST /api/v1/schedules
func (sc *ScheduleController) CreateSchedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if code, msg := sc.validate(&req); code != 0 {
		c.JSON(code, gin.H{"error": msg})
		return
	}

	saved, err := sc.loop.Store().Upsert(&models.Schedule{
		Symbol:         req.Symbol,
		ScheduleType:   req.ScheduleType,
		CronExpression: req.CronExpression,
		Enabled:        req.Enabled,
		Config:         req.Config,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save schedule"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": saved})
}

// UpdateSchedule replaces an existing schedule
// PUT /api/v1/schedules/:id
func (sc *ScheduleController) UpdateSchedule(c *gin.Context) {
	id := c.Param("id")
	if _, err := sc.loop.Store().Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if code, msg := sc.validate(&req); code != 0 {
		c.JSON(code, gin.H{"error": msg})
		return
	}

	saved, err := sc.loop.Store().Upsert(&models.Schedule{
		ID:             id,
		Symbol:         req.Symbol,
		ScheduleType:   req.ScheduleType,
		CronExpression: req.CronExpression,
		Enabled:        req.Enabled,
		Config:         req.Config,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save schedule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": saved})
}

// GetSchedules lists schedules, optionally filtered
// GET /api/v1/schedules?symbol=AAPL&type=live
func (sc *ScheduleController) GetSchedules(c *gin.Context) {
	symbol := c.Query("symbol")
	scheduleType := models.ScheduleType(c.Query("type"))
	if scheduleType != "" && !scheduleType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be historical or live"})
		return
	}

	schedules, err := sc.loop.Store().List(symbol, scheduleType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": schedules})
}

// GetSchedule returns a single schedule
// GET /api/v1/schedules/:id
func (sc *ScheduleController) GetSchedule(c *gin.Context) {
	s, err := sc.loop.Store().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s})
}

// ToggleSchedule enables or disables a schedule. With no body the flag is
// flipped; with {"enabled": bool} it is set.
// PATCH /api/v1/schedules/:id/toggle
func (sc *ScheduleController) ToggleSchedule(c *gin.Context) {
	id := c.Param("id")
	s, err := sc.loop.Store().Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	_ = c.ShouldBindJSON(&req)

	enabled := !s.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	if err := sc.loop.Store().SetEnabled(id, enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle schedule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "enabled": enabled}})
}

// DeleteSchedule removes a schedule; deleting an unknown id succeeds.
// DELETE /api/v1/schedules/:id
func (sc *ScheduleController) DeleteSchedule(c *gin.Context) {
	if err := sc.loop.Store().Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete schedule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": c.Param("id")}})
}

// RunSchedule manually triggers a schedule now
// POST /api/v1/schedules/:id/run
func (sc *ScheduleController) RunSchedule(c *gin.Context) {
	run, err := sc.loop.RunNow(c.Param("id"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in flight for this symbol"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"data": run})
	}
}

// StopSchedule stops the running live job for a schedule
// POST /api/v1/schedules/:id/stop
func (sc *ScheduleController) StopSchedule(c *gin.Context) {
	run, err := sc.loop.StopLive(c.Param("id"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
	case errors.Is(err, scheduler.ErrUnknownRun):
		c.JSON(http.StatusConflict, gin.H{"error": "no running live job for this schedule"})
	case errors.Is(err, scheduler.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "stop already issued"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"data": run})
	}
}
