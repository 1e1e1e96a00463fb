package meetings

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/response"
)

// CreateRequest is the body for POST /admin/meetings.
type CreateRequest struct {
	Title            string `json:"title" binding:"required"`
	MeetingType      string `json:"meeting_type" binding:"required"`
	StartsAt         string `json:"starts_at" binding:"required"` // RFC3339
	Location         string `json:"location"`
	Capacity         int    `json:"capacity" binding:"required,gt=0"`
	Fee              int64  `json:"fee" binding:"gte=0"`
	RefundPolicyType string `json:"refund_policy_type"`
}

// Detail is a meeting plus its live occupancy.
type Detail struct {
	models.Meeting
	Occupancy models.Occupancy `json:"occupancy"`
}

// Handler handles meeting HTTP endpoints.
type Handler struct {
	repo   *Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewHandler creates a meeting handler.
func NewHandler(repo *Repository, clk clock.Clock, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Handler{repo: repo, clock: clk, logger: logger}
}

// List handles GET /meetings. Returns upcoming open meetings; ?all=true includes closed ones.
func (h *Handler) List(c *gin.Context) {
	onlyOpen := c.Query("all") != "true"
	list, err := h.repo.ListUpcoming(c.Request.Context(), h.clock.Now(), onlyOpen)
	if err != nil {
		h.logger.Error("list meetings failed", zap.Error(err))
		response.Internal(c, "failed to list meetings")
		return
	}
	if list == nil {
		list = []models.Meeting{}
	}
	response.OK(c, list)
}

// GetByID handles GET /meetings/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	ctx := c.Request.Context()
	m, err := h.repo.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("get meeting failed", zap.Error(err), zap.String("meeting_id", id.String()))
		response.Internal(c, "failed to load meeting")
		return
	}
	if m == nil {
		response.NotFound(c, "meeting not found")
		return
	}
	occ, err := h.repo.Occupancy(ctx, id)
	if err != nil {
		h.logger.Error("meeting occupancy failed", zap.Error(err), zap.String("meeting_id", id.String()))
		response.Internal(c, "failed to load meeting")
		return
	}
	response.OK(c, Detail{Meeting: *m, Occupancy: occ})
}

// Create handles POST /admin/meetings.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		response.BadRequest(c, "invalid starts_at")
		return
	}
	meetingType := models.MeetingType(strings.TrimSpace(req.MeetingType))
	if !meetingType.Valid() {
		response.BadRequest(c, "invalid meeting_type")
		return
	}
	policy := meetingType
	if req.RefundPolicyType != "" {
		policy = models.MeetingType(req.RefundPolicyType)
		if !policy.Valid() {
			response.BadRequest(c, "invalid refund_policy_type")
			return
		}
	}

	m := &models.Meeting{
		Title:            strings.TrimSpace(req.Title),
		MeetingType:      meetingType,
		StartsAt:         startsAt.UTC(),
		Location:         req.Location,
		Capacity:         req.Capacity,
		Fee:              req.Fee,
		Status:           models.MeetingStatusOpen,
		RefundPolicyType: policy,
	}
	if err := h.repo.Create(c.Request.Context(), m); err != nil {
		h.logger.Error("create meeting failed", zap.Error(err))
		response.Internal(c, "failed to create meeting")
		return
	}
	response.Created(c, m)
}

// StatusRequest is the body for PATCH /admin/meetings/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PATCH /admin/meetings/:id/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status := models.MeetingStatus(req.Status)
	switch status {
	case models.MeetingStatusOpen, models.MeetingStatusClosed, models.MeetingStatusCancelled:
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	ok, err := h.repo.UpdateStatus(c.Request.Context(), id, status)
	if err != nil {
		h.logger.Error("update meeting status failed", zap.Error(err), zap.String("meeting_id", id.String()))
		response.Internal(c, "failed to update meeting")
		return
	}
	if !ok {
		response.NotFound(c, "meeting not found")
		return
	}
	response.OK(c, gin.H{"id": id, "status": status})
}
