package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types. Template codes are the upper-cased type.
const (
	NotificationMeetingReminder3Days  = "meeting_reminder_3days"
	NotificationMeetingReminder1Day   = "meeting_reminder_1day"
	NotificationMeetingReminderToday  = "meeting_reminder_today"
	NotificationWaitlistSpotAvailable = "waitlist_spot_available"
	NotificationWaitlistExpired       = "waitlist_expired"
	NotificationMonthlyParticipation  = "monthly_participation_reminder"
	NotificationOnboardingAtRisk      = "onboarding_at_risk"
	NotificationDormantAtRisk         = "dormant_at_risk"
	NotificationEligibilityExpiring   = "eligibility_expiring"
	NotificationManual                = "manual"
	NotificationTest                  = "test"
)

// NotificationLogStatus for delivery attempts.
const (
	NotificationStatusSuccess = "success"
	NotificationStatusFailed  = "failed"
)

// NotificationLog records every delivery attempt, successful or not.
type NotificationLog struct {
	ID               uuid.UUID  `json:"id"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	NotificationType string     `json:"notification_type"`
	MeetingID        *uuid.UUID `json:"meeting_id,omitempty"`
	Recipient        string     `json:"recipient"`
	MessageContent   string     `json:"message_content,omitempty"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	MessageID        string     `json:"message_id,omitempty"`
	SentAt           time.Time  `json:"sent_at"`
}
