package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/job"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "backtester", "status": "ok"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// createRunRequest is the request body for POST /runs.
type createRunRequest struct {
	Name            string                 `json:"name" binding:"required"`
	SignalCSVPath   string                 `json:"signal_csv_path" binding:"required"`
	Strategies      []string               `json:"strategies" binding:"required,min=1"`
	PortfolioConfig map[string]interface{} `json:"portfolio_config"`
}

// handleCreateRun submits a new pipeline run in pending status.
func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	createdBy := c.GetString("user_id")
	if createdBy == "" {
		createdBy = "anonymous"
	}

	run := &job.Run{
		Name:            req.Name,
		SignalCSVPath:   req.SignalCSVPath,
		Strategies:      req.Strategies,
		PortfolioConfig: req.PortfolioConfig,
		CreatedBy:       createdBy,
	}

	ctx := c.Request.Context()
	if err := s.jobs.CreateRun(ctx, run); err != nil {
		log.Error().Err(err).Msg("failed to create run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create run", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      run.ID.String(),
		"status":  run.Status,
		"message": "run created. GET /api/v1/runs/:id to check status.",
	})
}

// handleGetRun returns a run's status and, once completed, its results.
func (s *Server) handleGetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id", "details": "expected uuid"})
		return
	}

	run, err := s.jobs.GetRun(c.Request.Context(), runID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID.String()).Msg("run not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": runID.String()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleListRuns returns a paginated list of runs.
func (s *Server) handleListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0"})
		return
	}

	createdBy := c.GetString("user_id")
	if createdBy == "" {
		createdBy = "anonymous"
	}

	runs, total, err := s.jobs.ListRuns(c.Request.Context(), createdBy, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":     runs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+len(runs) < total,
	})
}

// handleDeleteRun removes a run record.
func (s *Server) handleDeleteRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id", "details": "expected uuid"})
		return
	}

	if err := s.jobs.DeleteRun(c.Request.Context(), runID); err != nil {
		log.Error().Err(err).Str("run_id", runID.String()).Msg("failed to delete run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete run", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "run deleted", "run_id": runID.String()})
}
