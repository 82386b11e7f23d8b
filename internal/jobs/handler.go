package jobs

import (
	"context"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shinypull/backend/pkg/queue"
	"github.com/shinypull/backend/pkg/response"
)

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	EnqueuePollCycle(ctx context.Context, payload queue.PollCyclePayload) (*queue.Job, error)
	EnqueueRollup(ctx context.Context, payload queue.RollupPayload) (*queue.Job, error)
	EnqueueBackfill(ctx context.Context, payload queue.BackfillPayload) (*queue.Job, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handler lets operators trigger poll cycles, rollups and backfills out of schedule.
type Handler struct {
	queue     Enqueuer
	platforms []string
}

// NewHandler creates a jobs handler. platforms lists the names a poll job may target.
func NewHandler(q Enqueuer, platforms []string) *Handler {
	return &Handler{queue: q, platforms: platforms}
}

type pollRequest struct {
	Platforms []string `json:"platforms"`
}

type windowRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Stats handles GET /jobs.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to read queue")
		return
	}
	response.OK(c, st)
}

// Poll handles POST /jobs/poll.
func (h *Handler) Poll(c *gin.Context) {
	var req pollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}
	for _, p := range req.Platforms {
		if !slices.Contains(h.platforms, p) {
			response.BadRequest(c, "unsupported platform: "+p)
			return
		}
	}
	job, err := h.queue.EnqueuePollCycle(c.Request.Context(), queue.PollCyclePayload{Platforms: req.Platforms})
	if err != nil {
		response.Internal(c, "failed to enqueue poll cycle")
		return
	}
	response.Accepted(c, job)
}

// Rollup handles POST /jobs/rollup with optional {"from","to"} calendar dates.
func (h *Handler) Rollup(c *gin.Context) {
	var req windowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}
	if req.From == "" && req.To != "" {
		response.BadRequest(c, "to requires from")
		return
	}
	if req.From != "" {
		from, to, ok := parseWindow(c, req, true)
		if !ok {
			return
		}
		if to.Before(from) {
			response.BadRequest(c, "from must not be after to")
			return
		}
	}
	job, err := h.queue.EnqueueRollup(c.Request.Context(), queue.RollupPayload{From: req.From, To: req.To})
	if err != nil {
		response.Internal(c, "failed to enqueue rollup")
		return
	}
	response.Accepted(c, job)
}

// Backfill handles POST /jobs/backfill with {"from","to"}, a UTC window [from, to).
func (h *Handler) Backfill(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.From == "" || req.To == "" {
		response.BadRequest(c, "from and to are required")
		return
	}
	from, to, ok := parseWindow(c, req, false)
	if !ok {
		return
	}
	if !to.After(from) {
		response.BadRequest(c, "to must be after from")
		return
	}
	job, err := h.queue.EnqueueBackfill(c.Request.Context(), queue.BackfillPayload{From: from, To: to})
	if err != nil {
		response.Internal(c, "failed to enqueue backfill")
		return
	}
	response.Accepted(c, job)
}

// parseWindow parses YYYY-MM-DD dates as UTC midnights. With toOptional an empty To equals From.
func parseWindow(c *gin.Context, req windowRequest, toOptional bool) (time.Time, time.Time, bool) {
	from, err := time.Parse(time.DateOnly, req.From)
	if err != nil {
		response.BadRequest(c, "invalid from date")
		return time.Time{}, time.Time{}, false
	}
	if req.To == "" && toOptional {
		return from, from, true
	}
	to, err := time.Parse(time.DateOnly, req.To)
	if err != nil {
		response.BadRequest(c, "invalid to date")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
