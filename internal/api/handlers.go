package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/audit"
	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/internal/domains"
	"github.com/ajitpratap0/paramforge/internal/validation"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

const dateLayout = "2006-01-02"

// StartOptimizationRequest is the body of POST /api/v1/optimizations.
// Config holds a partial evolution config; missing fields keep the server defaults.
type StartOptimizationRequest struct {
	Strategy  string          `json:"strategy" binding:"required"`
	Universe  []string        `json:"universe" binding:"required,min=1"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Config    json.RawMessage `json:"config"`
}

// RunSummary is the list form of a run
type RunSummary struct {
	ID          uuid.UUID `json:"id"`
	Strategy    string    `json:"strategy"`
	Status      RunStatus `json:"status"`
	Generations int       `json:"generations"`
	BestFitness *float64  `json:"best_fitness,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "paramforge",
		"version": config.GetVersion(),
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth verifies database connectivity when a database is configured
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.db != nil {
		if err := s.db.Health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("Database health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"active_runs": s.manager.ActiveCount(),
		"time":        time.Now().UTC(),
	})
}

// ============================================================================
// OPTIMIZATIONS
// ============================================================================

func (s *Server) handleStartOptimization(c *gin.Context) {
	var req StartOptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.recordAudit(c, audit.EventTypeInvalidInput, "", nil, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	req.Universe = validation.SanitizeSymbols(req.Universe)
	v := validation.NewOptimizationRequestValidator()
	v.ValidateStrategy(req.Strategy, nil)
	v.ValidateUniverse(req.Universe)
	if err := v.Err(); err != nil {
		s.recordAudit(c, audit.EventTypeInvalidInput, "", gin.H{"strategy": req.Strategy}, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
			"fields":  v.Errors(),
		})
		return
	}

	evalCtx, err := parseEvaluationContext(req)
	if err != nil {
		s.recordAudit(c, audit.EventTypeInvalidInput, "", gin.H{"strategy": req.Strategy}, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid date range",
			"details": err.Error(),
		})
		return
	}

	cfg := s.defaults
	if len(req.Config) > 0 && !bytes.Equal(req.Config, []byte("null")) {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			s.recordAudit(c, audit.EventTypeInvalidInput, "", gin.H{"strategy": req.Strategy}, err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid config overrides",
				"details": err.Error(),
			})
			return
		}
	}

	snap, err := s.manager.Start(StartRequest{
		Strategy: req.Strategy,
		Context:  evalCtx,
		Config:   cfg,
	})
	if err != nil {
		s.recordAudit(c, audit.EventTypeOptimizationRejected, "", gin.H{"strategy": req.Strategy}, err)
		status := http.StatusBadRequest
		if errors.Is(err, ErrTooManyRuns) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{
			"error":   "failed to start optimization",
			"details": err.Error(),
		})
		return
	}

	s.recordAudit(c, audit.EventTypeOptimizationStarted, snap.ID.String(), gin.H{
		"strategy":    snap.Strategy,
		"universe":    req.Universe,
		"population":  snap.Config.PopulationSize,
		"generations": snap.Config.GenerationCount,
	}, nil)

	c.JSON(http.StatusAccepted, gin.H{
		"id":       snap.ID,
		"status":   snap.Status,
		"strategy": snap.Strategy,
		"message":  "Optimization started",
	})
}

func (s *Server) handleListOptimizations(c *gin.Context) {
	runs := s.manager.List()

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summary := RunSummary{
			ID:          run.ID,
			Strategy:    run.Strategy,
			Status:      run.Status,
			Generations: len(run.History),
			StartedAt:   run.StartedAt,
		}
		if len(run.History) > 0 {
			best := run.History.BestFitness()
			summary.BestFitness = &best
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, gin.H{
		"optimizations": summaries,
		"count":         len(summaries),
	})
}

func (s *Server) handleGetOptimization(c *gin.Context) {
	snap, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCancelOptimization(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}

	err := s.manager.Cancel(id)
	s.recordAudit(c, audit.EventTypeOptimizationCancelled, id.String(), nil, err)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "optimization not found"})
		case errors.Is(err, ErrRunFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "optimization already finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "failed to cancel optimization",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"message": "Optimization cancellation requested",
	})
}

// handleGetReport renders the plain-text summary of a finished run
func (s *Server) handleGetReport(c *gin.Context) {
	snap, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if !snap.Finished() {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "optimization still running",
			"status": snap.Status,
		})
		return
	}

	c.String(http.StatusOK, snap.Result().Summary())
}

// ============================================================================
// DOMAINS
// ============================================================================

func (s *Server) handleListDomains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strategies": s.table.Strategies(),
	})
}

func (s *Server) handleGetDomains(c *gin.Context) {
	strategy := c.Param("strategy")

	pds, err := s.table.DomainsFor(strategy)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown strategy",
			"details": err.Error(),
		})
		return
	}

	entries := make([]domains.Entry, len(pds))
	for i, pd := range pds {
		entries[i] = domains.EntryFor(pd)
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy":   strategy,
		"parameters": entries,
	})
}

// ============================================================================
// AUDIT
// ============================================================================

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (s *Server) handleListAuditEvents(c *gin.Context) {
	if !s.audit.Persistent() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit events are not persisted"})
		return
	}

	filters := audit.QueryFilters{
		EventType: audit.EventType(c.Query("event_type")),
		Resource:  c.Query("resource"),
		Limit:     defaultAuditLimit,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAuditLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid limit",
				"details": fmt.Sprintf("limit must be between 1 and %d", maxAuditLimit),
			})
			return
		}
		filters.Limit = limit
	}

	events, err := s.audit.Query(c.Request.Context(), filters)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query audit events")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to query audit events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// recordAudit logs an API action; audit failures never fail the request
func (s *Server) recordAudit(c *gin.Context, eventType audit.EventType, runID string, metadata gin.H, actionErr error) {
	var errMsg string
	if actionErr != nil {
		errMsg = actionErr.Error()
	}
	if err := s.audit.LogOptimizationAction(c.Request.Context(), eventType, c.ClientIP(), c.Request.UserAgent(),
		runID, metadata, actionErr == nil, errMsg); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to record audit event")
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid optimization ID",
			"details": err.Error(),
		})
		return uuid.Nil, false
	}
	return id, true
}

// lookupRun resolves the :id parameter and writes the error response on failure
func (s *Server) lookupRun(c *gin.Context) (RunSnapshot, bool) {
	id, ok := parseRunID(c)
	if !ok {
		return RunSnapshot{}, false
	}

	snap, err := s.manager.Lookup(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "optimization not found"})
		} else {
			log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to load optimization")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "failed to load optimization",
				"details": err.Error(),
			})
		}
		return RunSnapshot{}, false
	}
	return snap, true
}

func parseEvaluationContext(req StartOptimizationRequest) (evolution.EvaluationContext, error) {
	evalCtx := evolution.EvaluationContext{Universe: req.Universe}

	if req.StartDate != "" {
		start, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			return evalCtx, fmt.Errorf("invalid start_date, expected YYYY-MM-DD: %w", err)
		}
		evalCtx.Start = start
	}
	if req.EndDate != "" {
		end, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return evalCtx, fmt.Errorf("invalid end_date, expected YYYY-MM-DD: %w", err)
		}
		evalCtx.End = evolution.EndOfDay(end)
	}

	return evalCtx, evalCtx.Validate()
}
