package waitlists

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/middleware"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/response"
)

// JoinRequest is the body for POST /waitlists.
type JoinRequest struct {
	MeetingID string `json:"meeting_id" binding:"required,uuid"`
}

// NotifyRequest is the body for POST /admin/waitlists/notify.
type NotifyRequest struct {
	MeetingID string `json:"meeting_id" binding:"required,uuid"`
	UserID    string `json:"user_id" binding:"omitempty,uuid"`
}

// Handler handles waitlist HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a waitlist handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Join handles POST /waitlists.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.Principal(c)
	entry, err := h.svc.Join(c.Request.Context(), userID, uuid.MustParse(req.MeetingID))
	if err != nil {
		h.fail(c, err, "failed to join waitlist")
		return
	}
	response.Created(c, entry)
}

// ListMine handles GET /waitlists?meeting_id=.
func (h *Handler) ListMine(c *gin.Context) {
	var meetingID *uuid.UUID
	if raw := c.Query("meeting_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid meeting_id")
			return
		}
		meetingID = &id
	}
	userID, _ := middleware.Principal(c)
	list, err := h.svc.ListMine(c.Request.Context(), userID, meetingID)
	if err != nil {
		h.fail(c, err, "failed to list waitlist")
		return
	}
	if list == nil {
		list = []models.WaitlistEntry{}
	}
	response.OK(c, list)
}

// Leave handles DELETE /waitlists/:id.
func (h *Handler) Leave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid waitlist id")
		return
	}
	userID, _ := middleware.Principal(c)
	if err := h.svc.Leave(c.Request.Context(), id, userID); err != nil {
		h.fail(c, err, "failed to leave waitlist")
		return
	}
	response.OK(c, gin.H{"id": id, "removed": true})
}

// Notify handles POST /admin/waitlists/notify. Without user_id the first waiting member is offered
// the seat.
func (h *Handler) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var target *uuid.UUID
	if req.UserID != "" {
		id := uuid.MustParse(req.UserID)
		target = &id
	}
	res, err := h.svc.NotifySpotAvailable(c.Request.Context(), uuid.MustParse(req.MeetingID), target)
	if err != nil {
		h.fail(c, err, "failed to notify waitlist")
		return
	}
	response.OK(c, res)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	if !response.Error(c, err, msg) {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
}
