package users

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/middleware"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/response"
)

// Store is the profile persistence the handler needs. *Repository satisfies it.
type Store interface {
	Ensure(ctx context.Context, p Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateContact(ctx context.Context, id uuid.UUID, nickname, phone string) error
}

// EnsureProfile mirrors the token's identity into users so registrations can reference it.
// Must run after middleware.JWT.
func EnsureProfile(store Store, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		v, _ := c.Get(middleware.ContextClaims)
		claims, ok := v.(*auth.Claims)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		err := store.Ensure(c.Request.Context(), Profile{
			ID:       claims.UserID,
			Nickname: claims.Nickname,
			Phone:    claims.Phone,
			Role:     claims.Role,
		})
		if err != nil {
			logger.Error("ensure profile failed", zap.Error(err), zap.String("user_id", claims.UserID.String()))
			response.Internal(c, "failed to load profile")
			c.Abort()
			return
		}
		c.Next()
	}
}

// UpdateMeRequest is the body for PUT /me.
type UpdateMeRequest struct {
	Nickname string `json:"nickname" binding:"required"`
	Phone    string `json:"phone"`
}

// Handler handles the member's own profile.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a users handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Me handles GET /me.
func (h *Handler) Me(c *gin.Context) {
	userID, _ := middleware.Principal(c)
	u, err := h.store.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("get profile failed", zap.Error(err))
		response.Internal(c, "failed to load profile")
		return
	}
	if u == nil {
		response.NotFound(c, "profile not found")
		return
	}
	response.OK(c, u)
}

// UpdateMe handles PUT /me. The phone is where chat notifications go.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		response.BadRequest(c, "nickname is required")
		return
	}
	userID, _ := middleware.Principal(c)
	if err := h.store.UpdateContact(c.Request.Context(), userID, nickname, strings.TrimSpace(req.Phone)); err != nil {
		h.logger.Error("update profile failed", zap.Error(err))
		response.Internal(c, "failed to update profile")
		return
	}
	h.Me(c)
}
