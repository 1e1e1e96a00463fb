package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/apperr"
	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/queue"
)

// DedupWindow is the trailing period in which an identical notification is suppressed.
const DedupWindow = 24 * time.Hour

// ErrNoPhone is reported when the recipient has no phone number on file.
var ErrNoPhone = errors.New("recipient has no phone number")

// LogStore persists delivery attempts.
type LogStore interface {
	Save(ctx context.Context, l *models.NotificationLog) error
	HasRecent(ctx context.Context, userID uuid.UUID, notificationType string, meetingID *uuid.UUID, since time.Time) (bool, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.NotificationLog, int, error)
}

// Audience resolves members for delivery and broadcast.
type Audience interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListWithPhone(ctx context.Context) ([]models.User, error)
	ListConfirmedForMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.User, error)
}

// Enqueuer hands deliveries to the background worker.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, p queue.NotificationPayload) error
}

// Delivery is one notification to one member.
type Delivery struct {
	UserID    uuid.UUID // uuid.Nil for an ad-hoc recipient
	Recipient string    // phone; looked up from UserID when empty
	Type      string
	MeetingID *uuid.UUID
	Variables map[string]string
	Content   string // short description stored in the log
	Dedup     bool
}

// OutcomeStatus classifies a delivery.
type OutcomeStatus string

const (
	OutcomeSent        OutcomeStatus = "sent"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeDuplicate   OutcomeStatus = "duplicate"
	OutcomeNoRecipient OutcomeStatus = "no_recipient"
)

// Outcome is the result of Deliver. Err is set for failed and no_recipient outcomes.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	MessageID string        `json:"message_id,omitempty"`
	Err       error         `json:"-"`
}

// Sent reports whether the gateway accepted the message.
func (o Outcome) Sent() bool { return o.Status == OutcomeSent }

// Skipped reports whether no gateway call was made.
func (o Outcome) Skipped() bool {
	return o.Status == OutcomeDuplicate || o.Status == OutcomeNoRecipient
}

// Service delivers notifications and records every attempt.
type Service struct {
	gateway  Gateway
	logs     LogStore
	audience Audience
	enqueuer Enqueuer
	clock    clock.Clock
	logger   *zap.Logger
}

// NewService creates a notification service. enqueuer may be nil when broadcast is not used.
func NewService(gateway Gateway, logs LogStore, audience Audience, enqueuer Enqueuer, clk clock.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{gateway: gateway, logs: logs, audience: audience, enqueuer: enqueuer, clock: clk, logger: logger}
}

// Deliver runs dedup, resolves the recipient, sends and logs. It never returns an error: a failed
// send is an outcome, and a failed log write is logged and dropped.
func (s *Service) Deliver(ctx context.Context, d Delivery) Outcome {
	now := s.clock.Now()
	if d.Dedup && d.UserID != uuid.Nil {
		dup, err := s.logs.HasRecent(ctx, d.UserID, d.Type, d.MeetingID, now.Add(-DedupWindow))
		if err != nil {
			s.logger.Warn("dedup check failed; sending anyway", zap.Error(err), zap.String("user_id", d.UserID.String()), zap.String("type", d.Type))
		} else if dup {
			return Outcome{Status: OutcomeDuplicate}
		}
	}

	vars := make(map[string]string, len(d.Variables)+1)
	for k, v := range d.Variables {
		vars[k] = v
	}
	recipient := d.Recipient
	if recipient == "" && d.UserID != uuid.Nil {
		u, err := s.audience.GetByID(ctx, d.UserID)
		if err != nil {
			return Outcome{Status: OutcomeFailed, Err: err}
		}
		if !u.HasPhone() {
			return Outcome{Status: OutcomeNoRecipient, Err: ErrNoPhone}
		}
		recipient = u.Phone
		if _, ok := vars["nickname"]; !ok {
			vars["nickname"] = u.Nickname
		}
	}
	if recipient == "" {
		return Outcome{Status: OutcomeNoRecipient, Err: ErrNoPhone}
	}

	messageID, sendErr := s.gateway.Send(ctx, Message{To: recipient, TemplateCode: TemplateCode(d.Type), Variables: vars})

	entry := &models.NotificationLog{
		NotificationType: d.Type,
		MeetingID:        d.MeetingID,
		Recipient:        NormalizePhone(recipient),
		MessageContent:   d.Content,
		Status:           models.NotificationStatusSuccess,
		MessageID:        messageID,
		SentAt:           now,
	}
	if d.UserID != uuid.Nil {
		uid := d.UserID
		entry.UserID = &uid
	}
	if sendErr != nil {
		entry.Status = models.NotificationStatusFailed
		entry.ErrorMessage = sendErr.Error()
	}
	if err := s.logs.Save(ctx, entry); err != nil {
		s.logger.Error("save notification log failed", zap.Error(err), zap.String("type", d.Type))
	}

	if sendErr != nil {
		s.logger.Warn("notification send failed", zap.Error(sendErr), zap.String("type", d.Type), zap.String("user_id", d.UserID.String()))
		return Outcome{Status: OutcomeFailed, Err: sendErr}
	}
	s.logger.Info("notification sent", zap.String("type", d.Type), zap.String("user_id", d.UserID.String()), zap.String("message_id", messageID))
	return Outcome{Status: OutcomeSent, MessageID: messageID}
}

// DeliverPayload delivers a queued job payload.
func (s *Service) DeliverPayload(ctx context.Context, p queue.NotificationPayload) Outcome {
	return s.Deliver(ctx, Delivery{
		UserID:    p.UserID,
		Recipient: p.Recipient,
		Type:      p.Type,
		MeetingID: p.MeetingID,
		Variables: p.Variables,
		Content:   p.Content,
		Dedup:     p.Dedup,
	})
}

// Broadcast targets.
const (
	TargetAll     = "all"
	TargetMeeting = "meeting"
	TargetUser    = "user"
)

// BroadcastRequest is an operator's free-text message.
type BroadcastRequest struct {
	Target    string
	MeetingID *uuid.UUID
	UserID    *uuid.UUID
	Message   string
}

// BroadcastResult counts queued and skipped recipients.
type BroadcastResult struct {
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// Broadcast resolves the audience and enqueues one manual notification per member with a phone.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, apperr.Validation("message is required")
	}
	if s.enqueuer == nil {
		return nil, errors.New("broadcast queue not configured")
	}

	var (
		members []models.User
		err     error
	)
	switch req.Target {
	case TargetAll:
		members, err = s.audience.ListWithPhone(ctx)
	case TargetMeeting:
		if req.MeetingID == nil {
			return nil, apperr.Validation("meeting_id is required for target meeting")
		}
		members, err = s.audience.ListConfirmedForMeeting(ctx, *req.MeetingID)
	case TargetUser:
		if req.UserID == nil {
			return nil, apperr.Validation("user_id is required for target user")
		}
		var u *models.User
		u, err = s.audience.GetByID(ctx, *req.UserID)
		if err == nil && u == nil {
			return nil, apperr.NotFound("user not found")
		}
		if u != nil {
			members = []models.User{*u}
		}
	default:
		return nil, apperr.Validation("target must be all, meeting or user")
	}
	if err != nil {
		return nil, err
	}

	res := &BroadcastResult{Errors: []string{}}
	for _, u := range members {
		if !u.HasPhone() {
			res.Skipped++
			continue
		}
		p := queue.NotificationPayload{
			UserID:    u.ID,
			Type:      models.NotificationManual,
			MeetingID: req.MeetingID,
			Variables: map[string]string{"nickname": u.Nickname, "message": msg},
			Content:   msg,
		}
		if err := s.enqueuer.EnqueueNotification(ctx, p); err != nil {
			res.Errors = append(res.Errors, u.ID.String()+": "+err.Error())
			continue
		}
		res.Enqueued++
	}
	s.logger.Info("broadcast enqueued", zap.String("target", req.Target), zap.Int("enqueued", res.Enqueued), zap.Int("skipped", res.Skipped))
	return res, nil
}

// ListLogs returns delivery logs for the operator view.
func (s *Service) ListLogs(ctx context.Context, status string, limit, offset int) ([]models.NotificationLog, int, error) {
	return s.logs.List(ctx, status, limit, offset)
}

// TestGateway checks provider connectivity.
func (s *Service) TestGateway(ctx context.Context) error {
	return s.gateway.Test(ctx)
}
