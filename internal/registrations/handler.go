package registrations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/middleware"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/response"
)

// CreateRequest is the body for POST /registrations.
type CreateRequest struct {
	MeetingID     string `json:"meeting_id" binding:"required,uuid"`
	DepositorName string `json:"depositor_name" binding:"required"`
	Amount        int64  `json:"amount" binding:"required"`
}

// CancelRequest is the body for POST /registrations/:id/cancel.
type CancelRequest struct {
	Reason        string `json:"reason"`
	RefundBank    string `json:"refund_bank"`
	RefundAccount string `json:"refund_account"`
	RefundHolder  string `json:"refund_holder"`
}

// ConfirmRequest is the body for POST /admin/deposits/confirm.
type ConfirmRequest struct {
	RegistrationID string `json:"registration_id" binding:"required,uuid"`
}

// ParticipationRequest is the body for POST /admin/registrations/:id/participation.
type ParticipationRequest struct {
	Status string `json:"status" binding:"required"`
}

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /registrations.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.Principal(c)
	res, err := h.svc.CreateRegistration(c.Request.Context(), CreateInput{
		UserID:        userID,
		MeetingID:     uuid.MustParse(req.MeetingID),
		DepositorName: req.DepositorName,
		Amount:        req.Amount,
	})
	if err != nil {
		h.fail(c, err, "failed to register")
		return
	}
	response.Created(c, res)
}

// ListMine handles GET /registrations?meeting_id=.
func (h *Handler) ListMine(c *gin.Context) {
	meetingID, ok := optionalUUID(c, "meeting_id")
	if !ok {
		return
	}
	userID, _ := middleware.Principal(c)
	list, err := h.svc.ListMine(c.Request.Context(), userID, meetingID)
	if err != nil {
		h.fail(c, err, "failed to list registrations")
		return
	}
	if list == nil {
		list = []models.Registration{}
	}
	response.OK(c, list)
}

// Cancel handles POST /registrations/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.Principal(c)
	in := CancelInput{RegistrationID: id, RequesterID: userID, Reason: req.Reason}
	if req.RefundBank != "" || req.RefundAccount != "" || req.RefundHolder != "" {
		in.Refund = &RefundAccount{Bank: req.RefundBank, Account: req.RefundAccount, Holder: req.RefundHolder}
	}
	res, err := h.svc.CancelRegistration(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err, "failed to cancel registration")
		return
	}
	response.OK(c, res)
}

// ListPendingDeposits handles GET /admin/deposits?meeting_id=.
func (h *Handler) ListPendingDeposits(c *gin.Context) {
	meetingID, ok := optionalUUID(c, "meeting_id")
	if !ok {
		return
	}
	list, err := h.svc.ListPendingDeposits(c.Request.Context(), meetingID)
	if err != nil {
		h.fail(c, err, "failed to list deposits")
		return
	}
	if list == nil {
		list = []models.Registration{}
	}
	response.OK(c, list)
}

// Confirm handles POST /admin/deposits/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	operatorID, _ := middleware.Principal(c)
	reg, err := h.svc.ConfirmPayment(c.Request.Context(), uuid.MustParse(req.RegistrationID), operatorID)
	if err != nil {
		h.fail(c, err, "failed to confirm payment")
		return
	}
	response.OK(c, reg)
}

// Participation handles POST /admin/registrations/:id/participation.
func (h *Handler) Participation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	var req ParticipationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	outcome := models.ParticipationStatus(req.Status)
	if err := h.svc.RecordParticipation(c.Request.Context(), id, outcome); err != nil {
		h.fail(c, err, "failed to record participation")
		return
	}
	response.OK(c, gin.H{"id": id, "participation_status": outcome})
}

// RefundQuote handles GET /admin/registrations/:id/refund-quote.
func (h *Handler) RefundQuote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	q, err := h.svc.QuoteRefund(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to quote refund")
		return
	}
	response.OK(c, q)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	if !response.Error(c, err, msg) {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
}

func optionalUUID(c *gin.Context, key string) (*uuid.UUID, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(c, "invalid "+key)
		return nil, false
	}
	return &id, true
}
