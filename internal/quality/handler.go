package quality

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shinypull/backend/pkg/response"
)

// ReviewReader is the read side of the review tracker.
type ReviewReader interface {
	Flagged(ctx context.Context) ([]uuid.UUID, error)
	Streak(ctx context.Context, creatorID uuid.UUID) (int64, error)
}

// FlaggedCreator is one entry in the review list.
type FlaggedCreator struct {
	CreatorID     uuid.UUID `json:"creator_id"`
	UnknownStreak int64     `json:"unknown_streak"`
}

// Handler serves the review list.
type Handler struct {
	review ReviewReader
}

func NewHandler(review ReviewReader) *Handler {
	return &Handler{review: review}
}

// ListFlagged handles GET /review.
func (h *Handler) ListFlagged(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.review.Flagged(ctx)
	if err != nil {
		response.Internal(c, "failed to list flagged creators")
		return
	}
	out := make([]FlaggedCreator, 0, len(ids))
	for _, id := range ids {
		streak, err := h.review.Streak(ctx, id)
		if err != nil {
			response.Internal(c, "failed to read unknown streak")
			return
		}
		out = append(out, FlaggedCreator{CreatorID: id, UnknownStreak: streak})
	}
	response.OK(c, gin.H{"creators": out})
}
