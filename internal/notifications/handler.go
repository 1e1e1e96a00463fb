package notifications

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/response"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// SendRequest is the body for POST /admin/notifications/send.
type SendRequest struct {
	Target    string `json:"target" binding:"required"`
	MeetingID string `json:"meeting_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message" binding:"required"`
}

// TestRequest is the body for POST /admin/notifications/test. Phone is optional.
type TestRequest struct {
	Phone string `json:"phone"`
}

// Pagination describes a page of results.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// Handler handles operator notification endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Logs handles GET /admin/notifications/logs?status=&limit=&offset=.
func (h *Handler) Logs(c *gin.Context) {
	status := c.Query("status")
	if status != "" && status != models.NotificationStatusSuccess && status != models.NotificationStatusFailed {
		response.BadRequest(c, "status must be success or failed")
		return
	}
	limit, err := intQuery(c, "limit", defaultLogLimit)
	if err != nil || limit <= 0 {
		response.BadRequest(c, "invalid limit")
		return
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		response.BadRequest(c, "invalid offset")
		return
	}

	logs, total, err := h.svc.ListLogs(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list notification logs failed", zap.Error(err))
		response.Internal(c, "failed to load notification logs")
		return
	}
	response.OK(c, gin.H{
		"logs": logs,
		"pagination": Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(logs) < total,
		},
	})
}

// Send handles POST /admin/notifications/send. Deliveries run on the worker.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	breq := BroadcastRequest{Target: strings.TrimSpace(req.Target), Message: req.Message}
	if req.MeetingID != "" {
		id, err := uuid.Parse(req.MeetingID)
		if err != nil {
			response.BadRequest(c, "invalid meeting_id")
			return
		}
		breq.MeetingID = &id
	}
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			response.BadRequest(c, "invalid user_id")
			return
		}
		breq.UserID = &id
	}

	res, err := h.svc.Broadcast(c.Request.Context(), breq)
	if err != nil {
		if !response.Error(c, err, "failed to queue notifications") {
			h.logger.Error("broadcast failed", zap.Error(err), zap.String("target", breq.Target))
		}
		return
	}
	response.Accepted(c, res)
}

// Test handles POST /admin/notifications/test.
func (h *Handler) Test(c *gin.Context) {
	var req TestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	ctx := c.Request.Context()
	if err := h.svc.TestGateway(ctx); err != nil {
		h.logger.Warn("notification gateway test failed", zap.Error(err))
		response.ServiceUnavailable(c, "notification gateway unavailable")
		return
	}
	if req.Phone == "" {
		response.OK(c, gin.H{"connected": true})
		return
	}

	out := h.svc.Deliver(ctx, Delivery{
		Recipient: req.Phone,
		Type:      models.NotificationTest,
		Variables: map[string]string{"message": "test"},
		Content:   "gateway test",
	})
	body := gin.H{"connected": true, "test_message": out}
	if out.Err != nil {
		body["test_error"] = out.Err.Error()
	}
	response.OK(c, body)
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
