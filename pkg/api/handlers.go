package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stadspuls/harvester/pkg/database"
	"github.com/stadspuls/harvester/pkg/heal"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/store"
)

// runResponse is the envelope for manual trigger endpoints.
type runResponse struct {
	Success        bool     `json:"success"`
	ItemsProcessed int      `json:"items_processed"`
	ItemsFailed    int      `json:"items_failed,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	dbStatus, err := database.Health(c.Request.Context(), s.db.SQLDB())
	poolHealth := s.pool.Health(c.Request.Context())

	status := http.StatusOK
	if err != nil || !poolHealth.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":  err == nil && poolHealth.IsHealthy,
		"database": dbStatus,
		"pool":     poolHealth,
	})
}

func (s *Server) runCoordinator(c *gin.Context) {
	report, err := s.coordinator.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
	})
}

func (s *Server) runStage(c *gin.Context) {
	stage := models.Stage(c.Param("stage"))
	if !models.ValidStage(stage) || stage.Terminal() {
		c.JSON(http.StatusBadRequest, runResponse{Errors: []string{"unknown work stage: " + c.Param("stage")}})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	processed, failed, errs := s.pool.RunStageOnce(c.Request.Context(), stage, "", limit)
	c.JSON(http.StatusOK, runResponse{
		Success:        len(errs) == 0,
		ItemsProcessed: processed,
		ItemsFailed:    failed,
		Errors:         errs,
	})
}

// runPersister is a stable alias for the last pipeline stage, so runbooks
// don't need to know the internal stage name.
func (s *Server) runPersister(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	processed, failed, errs := s.pool.RunStageOnce(c.Request.Context(), models.StageReadyToPersist, "", limit)
	c.JSON(http.StatusOK, runResponse{
		Success:        len(errs) == 0,
		ItemsProcessed: processed,
		ItemsFailed:    failed,
		Errors:         errs,
	})
}

func (s *Server) runHealing(c *gin.Context) {
	if s.healer == nil {
		c.JSON(http.StatusServiceUnavailable, runResponse{Errors: []string{"recipe healing is disabled: no LLM client configured"}})
		return
	}

	var req struct {
		SourceID string `json:"source_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, runResponse{Errors: []string{err.Error()}})
		return
	}

	attempt, err := s.healer.HealSource(c.Request.Context(), req.SourceID)
	switch {
	case errors.Is(err, heal.ErrNotEligible):
		c.JSON(http.StatusConflict, runResponse{Errors: []string{err.Error()}})
	case errors.Is(err, heal.ErrRejected):
		c.JSON(http.StatusOK, gin.H{"success": false, "attempt": attempt})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, runResponse{Errors: []string{err.Error()}})
	case err != nil:
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "attempt": attempt})
	}
}

func (s *Server) retryItem(c *gin.Context) {
	err := s.manager.Retry(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, queue.ErrStageConflict):
		c.JSON(http.StatusConflict, runResponse{Errors: []string{err.Error()}})
	case err != nil:
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
	default:
		c.JSON(http.StatusOK, runResponse{Success: true, ItemsProcessed: 1})
	}
}

func (s *Server) sourceHealth(c *gin.Context) {
	ctx := c.Request.Context()
	source, err := s.sources.Get(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, runResponse{Errors: []string{err.Error()}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
		return
	}

	winners, err := s.insights.RecentWinners(ctx, source.ID, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
		return
	}
	history, err := s.healingLog.History(ctx, source.ID, 5)
	if err != nil {
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source":          source,
		"recent_winners":  winners,
		"healing_history": history,
	})
}

func (s *Server) unquarantineSource(c *gin.Context) {
	if err := s.sources.Unquarantine(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
		return
	}
	c.JSON(http.StatusOK, runResponse{Success: true})
}

func (s *Server) revertRecipe(c *gin.Context) {
	err := s.sources.RevertRecipe(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, runResponse{Errors: []string{err.Error()}})
	case err != nil:
		c.JSON(http.StatusInternalServerError, runResponse{Errors: []string{err.Error()}})
	default:
		c.JSON(http.StatusOK, runResponse{Success: true})
	}
}
