package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/application/orchestrator"
	"github.com/aestiv/flowd/internal/application/scheduler"
	"github.com/aestiv/flowd/internal/application/workers"
	"github.com/aestiv/flowd/internal/capability"
	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

// SubmitExecutionRequest represents an ad-hoc execution submission.
type SubmitExecutionRequest struct {
	Graph           *domain.Graph          `json:"graph" binding:"required"`
	ContinueOnError *bool                  `json:"continue_on_error"`
	Inputs          map[string]interface{} `json:"inputs"`
}

// SubmitStoredRequest carries the optional overrides when executing a stored
// graph definition.
type SubmitStoredRequest struct {
	ContinueOnError *bool                  `json:"continue_on_error"`
	Inputs          map[string]interface{} `json:"inputs"`
}

// SubmitExecutionResponse represents an execution submission response.
type SubmitExecutionResponse struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
}

// GraphRequest represents a graph definition create or update request.
type GraphRequest struct {
	Graph       *domain.Graph `json:"graph" binding:"required"`
	Description string        `json:"description"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// respondError maps engine errors onto the API error envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	var validationErr *scheduler.ValidationError
	var cycleErr *scheduler.CycleError
	var unknownCap *capability.UnknownCapabilityError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "VALIDATION_FAILED",
				Message: validationErr.Error(),
				Details: gin.H{"field": validationErr.Field},
			},
		})
	case errors.As(err, &cycleErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "VALIDATION_FAILED",
				Message: cycleErr.Error(),
				Details: gin.H{"remaining_nodes": cycleErr.Remaining},
			},
		})
	case errors.Is(err, ports.ErrExecutionNotFound),
		errors.Is(err, ports.ErrGraphNotFound),
		errors.As(err, &unknownCap):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: err.Error(),
			},
		})
	case errors.Is(err, orchestrator.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "ALREADY_FINISHED",
				Message: err.Error(),
			},
		})
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "QUEUE_FULL",
				Message: err.Error(),
			},
		})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL",
				Message: "internal error",
			},
		})
	}
}

func (s *Server) invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"orchestrator": "ok",
		},
	})
}

// handleSubmitExecution accepts an ad-hoc graph, validates it, and starts an
// asynchronous execution.
func (s *Server) handleSubmitExecution(c *gin.Context) {
	var req SubmitExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidRequest(c, err)
		return
	}

	id, err := s.orchestrator.Submit(c.Request.Context(), req.Graph, orchestrator.Options{
		ContinueOnError: req.ContinueOnError,
		Inputs:          req.Inputs,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitExecutionResponse{
		ExecutionID: id,
		Status:      string(domain.StatusPending),
		StartedAt:   time.Now().UTC(),
	})
}

// handleListExecutions lists recent executions, most recent first.
func (s *Server) handleListExecutions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.invalidRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	records, err := s.orchestrator.List(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": records,
		"count":      len(records),
	})
}

// handleGetExecution returns the full execution record, node results
// included.
func (s *Server) handleGetExecution(c *gin.Context) {
	record, err := s.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleCancelExecution requests cooperative cancellation. The in-flight
// node finishes first, so the accepted response means "will stop", not
// "stopped".
func (s *Server) handleCancelExecution(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.orchestrator.Cancel(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": id,
		"accepted":     true,
	})
}

// handleListCapabilities returns the capability catalog.
func (s *Server) handleListCapabilities(c *gin.Context) {
	descriptors := s.registry.Descriptors()
	c.JSON(http.StatusOK, gin.H{
		"capabilities": descriptors,
		"count":        len(descriptors),
	})
}

// handleGetCapability returns one catalog entry.
func (s *Server) handleGetCapability(c *gin.Context) {
	desc, err := s.registry.Describe(c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, desc)
}

// handleCreateGraph stores a new graph definition. Definitions are validated
// on save so a stored graph is always runnable.
func (s *Server) handleCreateGraph(c *gin.Context) {
	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidRequest(c, err)
		return
	}

	if err := s.validateGraph(req.Graph); err != nil {
		s.respondError(c, err)
		return
	}

	now := time.Now().UTC()
	def := &domain.GraphDefinition{
		ID:          uuid.New().String(),
		Description: req.Description,
		Graph:       *req.Graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.graphs.Save(c.Request.Context(), def); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, def)
}

// handleListGraphs lists stored graph definitions.
func (s *Server) handleListGraphs(c *gin.Context) {
	defs, err := s.graphs.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"graphs": defs,
		"count":  len(defs),
	})
}

// handleGetGraph returns one stored graph definition.
func (s *Server) handleGetGraph(c *gin.Context) {
	def, err := s.graphs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, def)
}

// handleUpdateGraph replaces the graph and description of an existing
// definition, keeping its id and creation time.
func (s *Server) handleUpdateGraph(c *gin.Context) {
	def, err := s.graphs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidRequest(c, err)
		return
	}

	if err := s.validateGraph(req.Graph); err != nil {
		s.respondError(c, err)
		return
	}

	def.Graph = *req.Graph
	def.Description = req.Description
	def.UpdatedAt = time.Now().UTC()

	if err := s.graphs.Save(c.Request.Context(), def); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, def)
}

// handleDeleteGraph removes a stored graph definition.
func (s *Server) handleDeleteGraph(c *gin.Context) {
	if err := s.graphs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleDuplicateGraph copies a definition under a fresh id so users can
// fork a flow before editing it.
func (s *Server) handleDuplicateGraph(c *gin.Context) {
	src, err := s.graphs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	now := time.Now().UTC()
	dup := &domain.GraphDefinition{
		ID:          uuid.New().String(),
		Description: src.Description,
		Graph:       src.Graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if dup.Graph.Name != "" {
		dup.Graph.Name = dup.Graph.Name + " (copy)"
	}

	if err := s.graphs.Save(c.Request.Context(), dup); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dup)
}

// handleSubmitStoredGraph executes a stored definition. The body is
// optional; it only carries per-run overrides.
func (s *Server) handleSubmitStoredGraph(c *gin.Context) {
	def, err := s.graphs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req SubmitStoredRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.invalidRequest(c, err)
			return
		}
	}

	graph := def.Graph
	id, err := s.orchestrator.Submit(c.Request.Context(), &graph, orchestrator.Options{
		GraphRef:        def.ID,
		ContinueOnError: req.ContinueOnError,
		Inputs:          req.Inputs,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitExecutionResponse{
		ExecutionID: id,
		Status:      string(domain.StatusPending),
		StartedAt:   time.Now().UTC(),
	})
}

// validateGraph runs the structural validator plus the scheduler's cycle
// check, so definitions are rejected at save time with the same errors a
// submission would produce.
func (s *Server) validateGraph(graph *domain.Graph) error {
	if err := orchestrator.NewValidator().Validate(graph); err != nil {
		return err
	}
	_, err := scheduler.Order(graph.Nodes, graph.Edges)
	return err
}
