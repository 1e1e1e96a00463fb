package models

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationStatus is the registration state machine.
// pending_transfer -> confirmed | expired | cancelled; confirmed -> cancelled.
type RegistrationStatus string

const (
	RegistrationPendingTransfer RegistrationStatus = "pending_transfer"
	RegistrationConfirmed       RegistrationStatus = "confirmed"
	RegistrationExpired         RegistrationStatus = "expired"
	RegistrationCancelled       RegistrationStatus = "cancelled"
)

// Active reports whether the registration occupies a seat.
func (s RegistrationStatus) Active() bool {
	return s == RegistrationPendingTransfer || s == RegistrationConfirmed
}

// PaymentMethodBankTransfer is the only supported payment method.
const PaymentMethodBankTransfer = "bank_transfer"

// ParticipationStatus is recorded by an operator after the meeting.
type ParticipationStatus string

const (
	ParticipationCompleted ParticipationStatus = "completed"
	ParticipationNoShow    ParticipationStatus = "no_show"
)

// Registration is a member's seat claim for a meeting. Rows are never deleted.
type Registration struct {
	ID                  uuid.UUID            `json:"id"`
	UserID              uuid.UUID            `json:"user_id"`
	MeetingID           uuid.UUID            `json:"meeting_id"`
	Status              RegistrationStatus   `json:"status"`
	PaymentMethod       string               `json:"payment_method"`
	PaymentAmount       int64                `json:"payment_amount"`
	DepositorName       string               `json:"depositor_name"`
	DepositDeadline     *time.Time           `json:"deposit_deadline,omitempty"`
	ConfirmedAt         *time.Time           `json:"confirmed_at,omitempty"`
	ConfirmedBy         *uuid.UUID           `json:"confirmed_by,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
	CancelReason        string               `json:"cancel_reason,omitempty"`
	RefundBank          string               `json:"refund_bank,omitempty"`
	RefundAccount       string               `json:"refund_account,omitempty"`
	RefundHolder        string               `json:"refund_holder,omitempty"`
	RefundAmount        *int64               `json:"refund_amount,omitempty"`
	ParticipationStatus *ParticipationStatus `json:"participation_status,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`

	Meeting *Meeting `json:"meeting,omitempty"`
}

// ExpiredRegistration identifies a registration moved to expired by a sweep.
type ExpiredRegistration struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	MeetingID uuid.UUID `json:"meeting_id"`
}
