package segments

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/pkg/response"
)

// Handler exposes reminders and segment nudges to the external cron.
type Handler struct {
	svc    *Service
	clock  clock.Clock
	logger *zap.Logger
}

// NewHandler creates a segments handler.
func NewHandler(svc *Service, clk clock.Clock, logger *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, clock: clk, logger: logger}
}

// Reminders handles POST /cron/reminders?days_before=0|1|3.
func (h *Handler) Reminders(c *gin.Context) {
	days, err := strconv.Atoi(c.Query("days_before"))
	if err != nil {
		response.BadRequest(c, "days_before must be 0, 1 or 3")
		return
	}
	rep, err := h.svc.SendMeetingReminders(c.Request.Context(), days, h.clock.Now())
	h.report(c, rep, err)
}

// Segments handles POST /cron/segments?type=monthly|onboarding|dormant|eligibility.
func (h *Handler) Segments(c *gin.Context) {
	rep, err := h.svc.Run(c.Request.Context(), c.Query("type"), h.clock.Now())
	h.report(c, rep, err)
}

func (h *Handler) report(c *gin.Context, rep *Report, err error) {
	if err != nil {
		if !response.Error(c, err, "failed to send notifications") {
			h.logger.Error("cron notification run failed", zap.Error(err), zap.String("path", c.FullPath()))
		}
		return
	}
	if !rep.Success {
		c.JSON(http.StatusInternalServerError, rep)
		return
	}
	response.OK(c, rep)
}
