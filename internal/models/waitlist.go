package models

import (
	"time"

	"github.com/google/uuid"
)

// WaitlistEntry is a queued claim on a full meeting. Positions are never reused.
type WaitlistEntry struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	MeetingID        uuid.UUID  `json:"meeting_id"`
	Position         int        `json:"position"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	OfferFailedAt    *time.Time `json:"offer_failed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`

	Meeting *Meeting `json:"meeting,omitempty"`
}

// HasOutstandingOffer reports whether the entry was notified and can still respond at now.
func (e *WaitlistEntry) HasOutstandingOffer(now time.Time) bool {
	return e.NotifiedAt != nil && e.ResponseDeadline != nil && !e.ResponseDeadline.Before(now)
}

// OwedOffer reports whether a spot offer to this entry failed and has not been redelivered.
func (e *WaitlistEntry) OwedOffer() bool {
	return e.OfferFailedAt != nil && e.NotifiedAt == nil
}
