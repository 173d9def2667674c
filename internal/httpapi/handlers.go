package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/engineerr"
	"github.com/corwinhq/taskforge/internal/httpapi/middleware"
	"github.com/corwinhq/taskforge/internal/intake"
)

var validate = validator.New()

type Handlers struct {
	intake *intake.Intake
}

func NewHandlers(in *intake.Intake) *Handlers {
	return &Handlers{intake: in}
}

type enqueueBody struct {
	Type     string         `json:"type" binding:"required"`
	Payload  datatypes.JSON `json:"payload" binding:"required"`
	Priority int            `json:"priority"`
}

// CreateJob is POST /jobs (spec.md §6).
func (h *Handlers) CreateJob(c *gin.Context) {
	principalID, ok := middleware.PrincipalID(c)
	if !ok {
		respondErr(c, engineerr.ErrUnauthorized)
		return
	}

	var body enqueueBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, engineerr.New(engineerr.CodeValidationError, err.Error()))
		return
	}
	if err := validate.Struct(body); err != nil {
		respondErr(c, engineerr.New(engineerr.CodeValidationError, err.Error()))
		return
	}

	job, err := h.intake.Enqueue(c.Request.Context(), principalID, intake.EnqueueRequest{
		Type:     body.Type,
		Payload:  body.Payload,
		Priority: body.Priority,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, gin.H{"job": job})
}

// ListJobs is GET /jobs (spec.md §6).
func (h *Handlers) ListJobs(c *gin.Context) {
	principalID, ok := middleware.PrincipalID(c)
	if !ok {
		respondErr(c, engineerr.ErrUnauthorized)
		return
	}

	filter := intake.ListFilter{
		Type:   c.Query("type"),
		Status: domain.JobStatus(c.Query("status")),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	jobs, err := h.intake.List(c.Request.Context(), principalID, filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob is GET /jobs/{id} (spec.md §6): may trigger a background
// dispatch if the job is currently eligible.
func (h *Handlers) GetJob(c *gin.Context) {
	principalID, ok := middleware.PrincipalID(c)
	if !ok {
		respondErr(c, engineerr.ErrUnauthorized)
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, engineerr.ErrNotFound)
		return
	}

	job, err := h.intake.Status(c.Request.Context(), principalID, jobID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"job": job})
}

// RetryJob is POST /jobs/{id} (spec.md §6): enqueues a fresh retry job
// for a caller-owned job currently in status=failed.
func (h *Handlers) RetryJob(c *gin.Context) {
	principalID, ok := middleware.PrincipalID(c)
	if !ok {
		respondErr(c, engineerr.ErrUnauthorized)
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, engineerr.ErrNotFound)
		return
	}

	job, err := h.intake.Retry(c.Request.Context(), principalID, jobID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, gin.H{"job": job})
}

