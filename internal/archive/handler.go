package archive

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/streams"
	"github.com/shinypull/backend/pkg/response"
)

// SessionGetter loads a session by id.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
}

// Handler serves download links for archived samples.
type Handler struct {
	sessions SessionGetter
	store    ObjectStore
}

// NewHandler creates an archive handler.
func NewHandler(sessions SessionGetter, store ObjectStore) *Handler {
	return &Handler{sessions: sessions, store: store}
}

// GetURL handles GET /sessions/:id/archive and returns a pre-signed download URL.
func (h *Handler) GetURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()
	s, err := h.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, streams.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to get session")
		return
	}
	key := Key(s.CreatorID, s.ID)
	ok, err := h.store.Exists(ctx, key)
	if err != nil {
		response.Internal(c, "failed to check archive")
		return
	}
	if !ok {
		response.NotFound(c, "no archive for session")
		return
	}
	url, err := h.store.PresignGet(ctx, key)
	if err != nil {
		response.Internal(c, "failed to sign archive url")
		return
	}
	response.OK(c, gin.H{"url": url, "key": key})
}
