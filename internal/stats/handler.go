package stats

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/pkg/response"
)

const defaultRangeDays = 30

// Reader is the read side used by the HTTP handler.
type Reader interface {
	ListByCreator(ctx context.Context, creatorID uuid.UUID, from, to time.Time) ([]models.DailyStat, error)
}

// Handler serves rollup reads.
type Handler struct {
	repo Reader
	loc  *time.Location
	now  func() time.Time
}

// NewHandler creates a stats handler. Days are interpreted in loc.
func NewHandler(repo Reader, loc *time.Location) *Handler {
	return &Handler{repo: repo, loc: loc, now: time.Now}
}

// ListByCreator handles GET /creators/:id/stats?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Without a range it returns the last 30 days.
func (h *Handler) ListByCreator(c *gin.Context) {
	creatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid creator id")
		return
	}
	to := h.now().In(h.loc)
	if v := c.Query("to"); v != "" {
		if to, err = time.ParseInLocation(time.DateOnly, v, h.loc); err != nil {
			response.BadRequest(c, "invalid to date")
			return
		}
	}
	from := to.AddDate(0, 0, -(defaultRangeDays - 1))
	if v := c.Query("from"); v != "" {
		if from, err = time.ParseInLocation(time.DateOnly, v, h.loc); err != nil {
			response.BadRequest(c, "invalid from date")
			return
		}
	}
	if from.After(to) {
		response.BadRequest(c, "from must not be after to")
		return
	}
	list, err := h.repo.ListByCreator(c.Request.Context(), creatorID, dateOf(from), dateOf(to))
	if err != nil {
		response.Internal(c, "failed to list stats")
		return
	}
	if list == nil {
		list = []models.DailyStat{}
	}
	response.OK(c, gin.H{"stats": list})
}

// dateOf strips the clock and zone so the value compares equal to a DATE column.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
