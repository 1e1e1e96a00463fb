// Package segments selects members for meeting reminders and re-engagement nudges and delivers
// them through the notification service.
package segments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/apperr"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/notifications"
)

// Segment names accepted by Run.
const (
	SegmentMonthly     = "monthly"
	SegmentOnboarding  = "onboarding"
	SegmentDormant     = "dormant"
	SegmentEligibility = "eligibility"
)

// MonthlyNudgeFromDay is the first day of the month the participation nudge goes out.
const MonthlyNudgeFromDay = 25

// Meetings lists meetings by start time. meetings.Repository satisfies it.
type Meetings interface {
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]models.Meeting, error)
}

// Members selects users by their attendance history. users.Repository satisfies it.
type Members interface {
	ListConfirmedForMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.User, error)
	ListWithoutConfirmedBetween(ctx context.Context, from, to time.Time) ([]models.User, error)
	ListFirstRegularBetween(ctx context.Context, from, to time.Time, maxParticipations int) ([]models.User, error)
	ListLastRegularBefore(ctx context.Context, t time.Time) ([]models.User, error)
	ListLastRegularBetween(ctx context.Context, from, to time.Time) ([]models.User, error)
}

// Notifier delivers one notification.
type Notifier interface {
	Deliver(ctx context.Context, d notifications.Delivery) notifications.Outcome
}

// Report summarises one run. Success is false only when the audience could not be selected.
type Report struct {
	Success      bool     `json:"success"`
	SentCount    int      `json:"sentCount"`
	SkippedCount int      `json:"skippedCount"`
	Errors       []string `json:"errors"`
}

func newReport() *Report {
	return &Report{Success: true, Errors: []string{}}
}

func (r *Report) fail(err error) *Report {
	r.Success = false
	r.Errors = append(r.Errors, err.Error())
	return r
}

// Service runs reminder and segment selections.
type Service struct {
	meetings Meetings
	members  Members
	notifier Notifier
	loc      *time.Location
	logger   *zap.Logger
}

// NewService creates the selector. loc is the calendar used for day and month boundaries.
func NewService(meetings Meetings, members Members, notifier Notifier, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meetings: meetings, members: members, notifier: notifier, loc: loc, logger: logger}
}

// ReminderType maps days before a meeting to its notification type.
func ReminderType(daysBefore int) (string, bool) {
	switch daysBefore {
	case 3:
		return models.NotificationMeetingReminder3Days, true
	case 1:
		return models.NotificationMeetingReminder1Day, true
	case 0:
		return models.NotificationMeetingReminderToday, true
	default:
		return "", false
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SendMeetingReminders reminds confirmed registrants of meetings starting on the calendar day
// daysBefore days after now.
func (s *Service) SendMeetingReminders(ctx context.Context, daysBefore int, now time.Time) (*Report, error) {
	typ, ok := ReminderType(daysBefore)
	if !ok {
		return nil, apperr.Validation("days_before must be 0, 1 or 3")
	}
	rep := newReport()
	from := startOfDay(now.In(s.loc)).AddDate(0, 0, daysBefore)
	to := from.AddDate(0, 0, 1)

	meetings, err := s.meetings.ListStartingBetween(ctx, from, to)
	if err != nil {
		s.logger.Error("list reminder meetings failed", zap.Error(err))
		return rep.fail(err), nil
	}
	for _, m := range meetings {
		attendees, err := s.members.ListConfirmedForMeeting(ctx, m.ID)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("list attendees for meeting %s: %v", m.ID, err))
			continue
		}
		mid := m.ID
		for _, u := range attendees {
			if !u.HasPhone() {
				rep.Errors = append(rep.Errors, fmt.Sprintf("no phone: %s", u.ID))
				continue
			}
			s.deliver(ctx, rep, u, notifications.Delivery{
				Type:      typ,
				MeetingID: &mid,
				Variables: map[string]string{
					"meeting_title":    m.Title,
					"meeting_datetime": notifications.FormatDateTime(m.StartsAt, s.loc),
					"meeting_location": m.Location,
				},
				Content: fmt.Sprintf("%s 리마인드 (D-%d)", m.Title, daysBefore),
			})
		}
	}
	s.logger.Info("meeting reminders finished",
		zap.Int("days_before", daysBefore),
		zap.Int("sent", rep.SentCount),
		zap.Int("skipped", rep.SkippedCount),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

// Run sends one segment's nudge. Members without a phone are passed over silently.
func (s *Service) Run(ctx context.Context, segment string, now time.Time) (*Report, error) {
	local := now.In(s.loc)
	var (
		users   []models.User
		err     error
		typ     string
		content string
		vars    map[string]string
	)
	switch segment {
	case SegmentMonthly:
		if local.Day() < MonthlyNudgeFromDay {
			return newReport(), nil
		}
		monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
		users, err = s.members.ListWithoutConfirmedBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0))
		typ, content = models.NotificationMonthlyParticipation, "월말 참여 독려"
		vars = map[string]string{"month": fmt.Sprintf("%d", int(local.Month()))}
	case SegmentOnboarding:
		users, err = s.members.ListFirstRegularBetween(ctx, local.AddDate(0, 0, -60), local.AddDate(0, 0, -45), 2)
		typ, content = models.NotificationOnboardingAtRisk, "온보딩 이탈 위험 복귀 유도"
	case SegmentDormant:
		users, err = s.members.ListLastRegularBefore(ctx, local.AddDate(0, -3, 0))
		typ, content = models.NotificationDormantAtRisk, "휴면 위험 복귀 유도"
	case SegmentEligibility:
		users, err = s.members.ListLastRegularBetween(ctx, local.AddDate(0, -6, 0), local.AddDate(0, -5, 0))
		typ, content = models.NotificationEligibilityExpiring, "자격 만료 임박 복귀 유도"
	default:
		return nil, apperr.Validation("unknown segment %q", segment)
	}

	rep := newReport()
	if err != nil {
		s.logger.Error("select segment failed", zap.String("segment", segment), zap.Error(err))
		return rep.fail(err), nil
	}
	for _, u := range users {
		if !u.HasPhone() {
			continue
		}
		s.deliver(ctx, rep, u, notifications.Delivery{Type: typ, Variables: vars, Content: content})
	}
	s.logger.Info("segment nudge finished",
		zap.String("segment", segment),
		zap.Int("sent", rep.SentCount),
		zap.Int("skipped", rep.SkippedCount),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

func (s *Service) deliver(ctx context.Context, rep *Report, u models.User, d notifications.Delivery) {
	d.UserID = u.ID
	d.Recipient = u.Phone
	d.Dedup = true
	vars := make(map[string]string, len(d.Variables)+1)
	for k, v := range d.Variables {
		vars[k] = v
	}
	vars["nickname"] = u.Nickname
	d.Variables = vars

	out := s.notifier.Deliver(ctx, d)
	switch {
	case out.Sent():
		rep.SentCount++
	case out.Skipped():
		rep.SkippedCount++
	default:
		rep.Errors = append(rep.Errors, fmt.Sprintf("send failed: %s: %v", u.ID, out.Err))
	}
}
