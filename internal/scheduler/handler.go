package scheduler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/pkg/response"
)

// Handler exposes the tick to the external cron.
type Handler struct {
	scheduler *Scheduler
	clock     clock.Clock
}

// NewHandler creates a scheduler handler.
func NewHandler(s *Scheduler, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Handler{scheduler: s, clock: clk}
}

// Expire handles POST /cron/expire. The report is returned as the body so cron logs show it.
func (h *Handler) Expire(c *gin.Context) {
	rep := h.scheduler.Tick(c.Request.Context(), h.clock.Now())
	if !rep.Success {
		c.JSON(http.StatusInternalServerError, rep)
		return
	}
	response.OK(c, rep)
}
