package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/meetings"
	"github.com/jidokhae/backend/internal/middleware"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/notifications"
	"github.com/jidokhae/backend/internal/realtime"
	"github.com/jidokhae/backend/internal/registrations"
	"github.com/jidokhae/backend/internal/scheduler"
	"github.com/jidokhae/backend/internal/segments"
	"github.com/jidokhae/backend/internal/users"
	"github.com/jidokhae/backend/internal/waitlists"
	"github.com/jidokhae/backend/pkg/response"
)

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	logger := a.Logger

	meetingHandler := meetings.NewHandler(a.Meetings, a.Clock, logger)
	userHandler := users.NewHandler(a.Users, logger)
	registrationHandler := registrations.NewHandler(a.Registrations, logger)
	waitlistHandler := waitlists.NewHandler(a.Waitlists, logger)
	notificationHandler := notifications.NewHandler(a.Notifications, logger)
	schedulerHandler := scheduler.NewHandler(a.Scheduler, a.Clock)
	segmentHandler := segments.NewHandler(a.Segments, a.Clock, logger)

	validateToken := func(token string) (uuid.UUID, error) {
		claims, err := a.JWT.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
	occupancy := func(ctx context.Context, meetingID uuid.UUID) (models.Occupancy, error) {
		return a.Registrations.Occupancy(ctx, meetingID)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(a.Config.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := a.Pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Member API (JWT required; profile mirrored on every request)
	api := router.Group("")
	api.Use(middleware.JWT(a.JWT, false), users.EnsureProfile(a.Users, logger))
	{
		api.GET("/me", userHandler.Me)
		api.PUT("/me", userHandler.UpdateMe)

		api.GET("/meetings", meetingHandler.List)
		api.GET("/meetings/:id", meetingHandler.GetByID)

		api.POST("/registrations", registrationHandler.Create)
		api.GET("/registrations", registrationHandler.ListMine)
		api.POST("/registrations/:id/cancel", registrationHandler.Cancel)

		api.POST("/waitlists", waitlistHandler.Join)
		api.GET("/waitlists", waitlistHandler.ListMine)
		api.DELETE("/waitlists/:id", waitlistHandler.Leave)
	}

	// Operator API
	admin := api.Group("/admin")
	admin.Use(middleware.RequireOperator())
	{
		admin.POST("/meetings", meetingHandler.Create)
		admin.PATCH("/meetings/:id/status", meetingHandler.UpdateStatus)

		admin.GET("/deposits", registrationHandler.ListPendingDeposits)
		admin.POST("/deposits/confirm", registrationHandler.Confirm)
		admin.POST("/registrations/:id/participation", registrationHandler.Participation)
		admin.GET("/registrations/:id/refund-quote", registrationHandler.RefundQuote)

		admin.POST("/waitlists/notify", waitlistHandler.Notify)

		admin.GET("/notifications/logs", notificationHandler.Logs)
		admin.POST("/notifications/send", notificationHandler.Send)
		admin.POST("/notifications/test", notificationHandler.Test)
	}

	// Scheduled triggers (shared secret)
	cron := router.Group("/cron")
	cron.Use(middleware.CronSecret(a.Config.Cron.Secret))
	{
		cron.POST("/expire", schedulerHandler.Expire)
		cron.POST("/reminders", segmentHandler.Reminders)
		cron.POST("/segments", segmentHandler.Segments)
	}

	// WebSocket (token in query; browsers cannot set headers on upgrade)
	router.GET("/ws", realtime.ServeWs(a.Hub, logger, validateToken, occupancy))

	return router
}
