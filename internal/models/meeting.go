package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MeetingType selects the refund policy and attendance accounting.
type MeetingType string

const (
	MeetingTypeRegular    MeetingType = "regular"
	MeetingTypeDiscussion MeetingType = "discussion"
	MeetingTypeSpecial    MeetingType = "special"
)

// Valid reports whether t is a known meeting type.
func (t MeetingType) Valid() bool {
	switch t {
	case MeetingTypeRegular, MeetingTypeDiscussion, MeetingTypeSpecial:
		return true
	}
	return false
}

// MeetingStatus controls whether a meeting accepts registrations.
type MeetingStatus string

const (
	MeetingStatusOpen      MeetingStatus = "open"
	MeetingStatusClosed    MeetingStatus = "closed"
	MeetingStatusCancelled MeetingStatus = "cancelled"
)

// Meeting is a scheduled session with a hard capacity.
type Meeting struct {
	ID               uuid.UUID     `json:"id"`
	Title            string        `json:"title"`
	MeetingType      MeetingType   `json:"meeting_type"`
	StartsAt         time.Time     `json:"starts_at"`
	Location         string        `json:"location"`
	Capacity         int           `json:"capacity"`
	Fee              int64         `json:"fee"`
	Status           MeetingStatus `json:"status"`
	RefundPolicyType MeetingType   `json:"refund_policy_type"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Occupancy is the live seat count for a meeting.
type Occupancy struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	Occupied  int       `json:"occupied"`
	Capacity  int       `json:"capacity"`
	Waitlist  int       `json:"waitlist"`
}

// Full reports whether no seat is left.
func (o Occupancy) Full() bool {
	return o.Occupied >= o.Capacity
}

// RefundPolicy is one rule row: cancelling at least DaysBefore days ahead refunds RefundRate percent.
type RefundPolicy struct {
	MeetingType MeetingType     `json:"meeting_type"`
	DaysBefore  int             `json:"days_before"`
	RefundRate  decimal.Decimal `json:"refund_rate"`
}
