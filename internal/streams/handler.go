package streams

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/pkg/response"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Reader is the read side used by the HTTP handler.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, limit int) ([]models.StreamSession, error)
	ListSamples(ctx context.Context, sessionID uuid.UUID) ([]models.Sample, error)
}

// Handler serves session reads.
type Handler struct {
	repo Reader
}

// NewHandler creates a sessions handler.
func NewHandler(repo Reader) *Handler {
	return &Handler{repo: repo}
}

// ListByCreator handles GET /creators/:id/sessions?limit=N.
func (h *Handler) ListByCreator(c *gin.Context) {
	creatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid creator id")
		return
	}
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := h.repo.ListByCreator(c.Request.Context(), creatorID, limit)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	if list == nil {
		list = []models.StreamSession{}
	}
	response.OK(c, gin.H{"sessions": list})
}

// Get handles GET /sessions/:id. Samples are included with ?samples=true.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to get session")
		return
	}
	body := gin.H{"session": s}
	if c.Query("samples") == "true" {
		samples, err := h.repo.ListSamples(c.Request.Context(), id)
		if err != nil {
			response.Internal(c, "failed to list samples")
			return
		}
		if samples == nil {
			samples = []models.Sample{}
		}
		body["samples"] = samples
	}
	response.OK(c, body)
}
