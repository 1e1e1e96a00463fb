// Package registrations implements the registration ledger: seat claims, deposit
// confirmation, cancellation with refund accounting and deadline expiry.
package registrations

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/apperr"
	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/internal/models"
)

// DefaultDepositWindow is how long a pending transfer holds its seat.
const DefaultDepositWindow = 48 * time.Hour

// depositorPattern is MMDD, an underscore and the member's Hangul name.
var depositorPattern = regexp.MustCompile(`^\d{4}_[가-힣]{2,10}$`)

// ErrActiveExists is returned by Store.Insert when the active (user, meeting) index rejects the row.
var ErrActiveExists = errors.New("active registration exists")

// Cancellation carries the fields written when a registration is cancelled.
type Cancellation struct {
	At            time.Time
	Reason        string
	RefundBank    string
	RefundAccount string
	RefundHolder  string
	RefundAmount  *int64
}

// Store is the persistence the ledger needs. WithTx must carry the transaction on ctx so that
// LockMeeting and every other call made with that ctx share it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	LockMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	CountActive(ctx context.Context, meetingID uuid.UUID) (int, error)
	HasActive(ctx context.Context, userID, meetingID uuid.UUID) (bool, error)
	Insert(ctx context.Context, reg *models.Registration) error
	DeleteWaitlistEntry(ctx context.Context, userID, meetingID uuid.UUID) error
	CountWaitlist(ctx context.Context, meetingID uuid.UUID) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	MarkConfirmed(ctx context.Context, id, operatorID uuid.UUID, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, from models.RegistrationStatus, c Cancellation) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error)
	ListByUser(ctx context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.Registration, error)
	ListPending(ctx context.Context, meetingID *uuid.UUID) ([]models.Registration, error)
	MarkParticipation(ctx context.Context, id uuid.UUID, outcome models.ParticipationStatus) (bool, error)
	RecordAttendance(ctx context.Context, userID uuid.UUID, meetingType models.MeetingType, at time.Time) error
	RefundPolicies(ctx context.Context, policyType models.MeetingType) ([]models.RefundPolicy, error)
	Occupancy(ctx context.Context, meetingID uuid.UUID) (models.Occupancy, error)
}

// OccupancyPublisher receives seat count changes after they commit.
type OccupancyPublisher interface {
	PublishOccupancy(ctx context.Context, occ models.Occupancy) error
}

// Service is the registration ledger.
type Service struct {
	store         Store
	clock         clock.Clock
	logger        *zap.Logger
	depositWindow time.Duration
	unguarded     bool
	events        OccupancyPublisher
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDepositWindow overrides DefaultDepositWindow.
func WithDepositWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.depositWindow = d
		}
	}
}

// WithUnguardedCapacityCheck makes CreateRegistration check capacity and insert without a
// transaction or meeting row lock. Concurrent requests can overbook a meeting in this mode;
// use it only against single-user development databases.
func WithUnguardedCapacityCheck() Option {
	return func(s *Service) { s.unguarded = true }
}

// WithOccupancyPublisher sets where committed seat changes are announced.
func WithOccupancyPublisher(p OccupancyPublisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService creates the ledger.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		clock:         clock.NewSystem(),
		logger:        zap.NewNop(),
		depositWindow: DefaultDepositWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.unguarded {
		s.logger.Warn("registration ledger running without capacity lock; registrations can overbook under concurrent load")
	}
	return s
}

// CreateInput is a member's request for a seat.
type CreateInput struct {
	UserID        uuid.UUID
	MeetingID     uuid.UUID
	DepositorName string
	Amount        int64
}

// CreateResult is the outcome of a successful CreateRegistration.
type CreateResult struct {
	ID              uuid.UUID                 `json:"id"`
	Status          models.RegistrationStatus `json:"status"`
	DepositDeadline time.Time                 `json:"deposit_deadline"`
}

// ValidDepositorName reports whether name is MMDD_<2-10 Hangul characters>.
func ValidDepositorName(name string) bool {
	return depositorPattern.MatchString(name)
}

// CreateRegistration claims a seat as pending_transfer. The duplicate check, capacity check and
// insert run under the meeting row lock so occupancy can never exceed capacity. A waitlist entry
// the member holds for the meeting is removed in the same transaction.
func (s *Service) CreateRegistration(ctx context.Context, in CreateInput) (*CreateResult, error) {
	name := strings.TrimSpace(in.DepositorName)
	if !ValidDepositorName(name) {
		return nil, apperr.Validation("depositor name must be MMDD_name, e.g. 0115_홍길동")
	}
	if in.Amount <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}

	meeting, err := s.store.GetMeeting(ctx, in.MeetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting not found")
	}
	if meeting.Status != models.MeetingStatusOpen {
		return nil, apperr.Closed("meeting is not accepting registrations")
	}

	now := s.clock.Now()
	deadline := now.Add(s.depositWindow)
	reg := &models.Registration{
		UserID:          in.UserID,
		MeetingID:       in.MeetingID,
		Status:          models.RegistrationPendingTransfer,
		PaymentMethod:   models.PaymentMethodBankTransfer,
		PaymentAmount:   in.Amount,
		DepositorName:   name,
		DepositDeadline: &deadline,
	}

	if s.unguarded {
		err = s.claimSeat(ctx, reg, meeting)
	} else {
		err = s.store.WithTx(ctx, func(ctx context.Context) error {
			locked, err := s.store.LockMeeting(ctx, in.MeetingID)
			if err != nil {
				return err
			}
			if locked == nil {
				return apperr.NotFound("meeting not found")
			}
			if locked.Status != models.MeetingStatusOpen {
				return apperr.Closed("meeting is not accepting registrations")
			}
			return s.claimSeat(ctx, reg, locked)
		})
	}
	if errors.Is(err, ErrActiveExists) {
		return nil, apperr.Duplicate("already registered for this meeting")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("registration created",
		zap.String("registration_id", reg.ID.String()),
		zap.String("meeting_id", in.MeetingID.String()),
		zap.String("user_id", in.UserID.String()),
	)
	s.publishOccupancy(ctx, in.MeetingID)
	return &CreateResult{ID: reg.ID, Status: reg.Status, DepositDeadline: deadline}, nil
}

func (s *Service) claimSeat(ctx context.Context, reg *models.Registration, meeting *models.Meeting) error {
	dup, err := s.store.HasActive(ctx, reg.UserID, reg.MeetingID)
	if err != nil {
		return err
	}
	if dup {
		return apperr.Duplicate("already registered for this meeting")
	}
	occupied, err := s.store.CountActive(ctx, reg.MeetingID)
	if err != nil {
		return err
	}
	if occupied >= meeting.Capacity {
		return apperr.CapacityExceeded("meeting is full")
	}
	if err := s.store.Insert(ctx, reg); err != nil {
		return err
	}
	return s.store.DeleteWaitlistEntry(ctx, reg.UserID, reg.MeetingID)
}

// ConfirmPayment marks a pending transfer as paid. Only one concurrent confirmation can win.
func (s *Service) ConfirmPayment(ctx context.Context, registrationID, operatorID uuid.UUID) (*models.Registration, error) {
	reg, err := s.store.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, apperr.NotFound("registration not found")
	}
	if reg.Status != models.RegistrationPendingTransfer {
		return nil, apperr.InvalidState("registration is %s, not pending_transfer", reg.Status)
	}
	now := s.clock.Now()
	ok, err := s.store.MarkConfirmed(ctx, registrationID, operatorID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("registration is no longer pending_transfer")
	}

	reg.Status = models.RegistrationConfirmed
	reg.ConfirmedAt = &now
	reg.ConfirmedBy = &operatorID
	s.logger.Info("payment confirmed",
		zap.String("registration_id", registrationID.String()),
		zap.String("operator_id", operatorID.String()),
	)
	return reg, nil
}

// RefundAccount is where a confirmed payment is returned.
type RefundAccount struct {
	Bank    string `json:"refund_bank"`
	Account string `json:"refund_account"`
	Holder  string `json:"refund_holder"`
}

func (a *RefundAccount) complete() bool {
	return a != nil && strings.TrimSpace(a.Bank) != "" && strings.TrimSpace(a.Account) != "" && strings.TrimSpace(a.Holder) != ""
}

// CancelInput is a member cancelling their own registration.
type CancelInput struct {
	RegistrationID uuid.UUID
	RequesterID    uuid.UUID
	Reason         string
	Refund         *RefundAccount
}

// CancelResult reports the cancellation and whether anyone is waiting for the seat.
type CancelResult struct {
	ID           uuid.UUID                 `json:"id"`
	Status       models.RegistrationStatus `json:"status"`
	RefundAmount *int64                    `json:"refund_amount,omitempty"`
	HasWaitlist  bool                      `json:"has_waitlist"`
}

// CancelRegistration cancels a pending or confirmed registration. A confirmed one records the
// full payment as the refund amount and requires a refund account. Waitlist promotion is left
// to the operator; HasWaitlist tells them whether it is needed.
func (s *Service) CancelRegistration(ctx context.Context, in CancelInput) (*CancelResult, error) {
	reg, err := s.store.GetByID(ctx, in.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, apperr.NotFound("registration not found")
	}
	if reg.UserID != in.RequesterID {
		return nil, apperr.Forbidden("only the registrant can cancel")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("cancel reason is required")
	}
	if !reg.Status.Active() {
		return nil, apperr.InvalidState("registration is already %s", reg.Status)
	}

	c := Cancellation{At: s.clock.Now(), Reason: reason}
	if reg.Status == models.RegistrationConfirmed {
		if !in.Refund.complete() {
			return nil, apperr.Validation("refund bank, account and holder are required")
		}
		amount := reg.PaymentAmount
		c.RefundBank = strings.TrimSpace(in.Refund.Bank)
		c.RefundAccount = strings.TrimSpace(in.Refund.Account)
		c.RefundHolder = strings.TrimSpace(in.Refund.Holder)
		c.RefundAmount = &amount
	}

	ok, err := s.store.MarkCancelled(ctx, reg.ID, reg.Status, c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("registration changed state, retry")
	}

	res := &CancelResult{ID: reg.ID, Status: models.RegistrationCancelled, RefundAmount: c.RefundAmount}
	waiting, err := s.store.CountWaitlist(ctx, reg.MeetingID)
	if err != nil {
		s.logger.Warn("count waitlist after cancel failed", zap.Error(err), zap.String("meeting_id", reg.MeetingID.String()))
	}
	res.HasWaitlist = waiting > 0

	s.logger.Info("registration cancelled",
		zap.String("registration_id", reg.ID.String()),
		zap.String("from_status", string(reg.Status)),
		zap.Bool("has_waitlist", res.HasWaitlist),
	)
	s.publishOccupancy(ctx, reg.MeetingID)
	return res, nil
}

// ExpirePendingTransfers expires every pending transfer whose deadline is strictly before now.
// It is a single conditional update, so overlapping calls never expire a row twice.
func (s *Service) ExpirePendingTransfers(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
	expired, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{})
	for _, e := range expired {
		if _, ok := seen[e.MeetingID]; ok {
			continue
		}
		seen[e.MeetingID] = struct{}{}
		s.publishOccupancy(ctx, e.MeetingID)
	}
	if len(expired) > 0 {
		s.logger.Info("pending transfers expired", zap.Int("count", len(expired)))
	}
	return expired, nil
}

// ListMine returns the member's registrations, optionally for one meeting.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.Registration, error) {
	return s.store.ListByUser(ctx, userID, meetingID)
}

// ListPendingDeposits returns registrations awaiting bank transfer confirmation.
func (s *Service) ListPendingDeposits(ctx context.Context, meetingID *uuid.UUID) ([]models.Registration, error) {
	return s.store.ListPending(ctx, meetingID)
}

// RecordParticipation stores the attendance outcome of a confirmed registration, once. A completed
// meeting updates the member's attendance stats in the same transaction.
func (s *Service) RecordParticipation(ctx context.Context, registrationID uuid.UUID, outcome models.ParticipationStatus) error {
	if outcome != models.ParticipationCompleted && outcome != models.ParticipationNoShow {
		return apperr.Validation("participation must be completed or no_show")
	}
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		reg, err := s.store.GetByID(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg == nil {
			return apperr.NotFound("registration not found")
		}
		if reg.Status != models.RegistrationConfirmed {
			return apperr.InvalidState("participation can only be recorded for confirmed registrations")
		}
		ok, err := s.store.MarkParticipation(ctx, registrationID, outcome)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("participation already recorded")
		}
		if outcome != models.ParticipationCompleted {
			return nil
		}
		meeting, err := s.store.GetMeeting(ctx, reg.MeetingID)
		if err != nil {
			return err
		}
		if meeting == nil {
			return apperr.NotFound("meeting not found")
		}
		return s.store.RecordAttendance(ctx, reg.UserID, meeting.MeetingType, meeting.StartsAt)
	})
}

// RefundQuote is an advisory refund figure. It is never written to the registration.
type RefundQuote struct {
	RegistrationID uuid.UUID       `json:"registration_id"`
	PaymentAmount  int64           `json:"payment_amount"`
	RecordedRefund *int64          `json:"recorded_refund,omitempty"`
	DaysBefore     int             `json:"days_before"`
	RefundRate     decimal.Decimal `json:"refund_rate"`
	QuotedAmount   int64           `json:"quoted_amount"`
}

// QuoteRefund applies the meeting's refund policy to a paid registration, measured at the
// cancellation time (or now, if still confirmed).
func (s *Service) QuoteRefund(ctx context.Context, registrationID uuid.UUID) (*RefundQuote, error) {
	reg, err := s.store.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, apperr.NotFound("registration not found")
	}
	paid := reg.Status == models.RegistrationConfirmed ||
		(reg.Status == models.RegistrationCancelled && reg.RefundAmount != nil)
	if !paid {
		return nil, apperr.InvalidState("registration has no confirmed payment")
	}
	meeting, err := s.store.GetMeeting(ctx, reg.MeetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting not found")
	}
	policies, err := s.store.RefundPolicies(ctx, meeting.RefundPolicyType)
	if err != nil {
		return nil, err
	}

	at := s.clock.Now()
	if reg.CancelledAt != nil {
		at = *reg.CancelledAt
	}
	days := DaysBefore(meeting.StartsAt, at)
	rate := RefundRate(policies, days)
	return &RefundQuote{
		RegistrationID: reg.ID,
		PaymentAmount:  reg.PaymentAmount,
		RecordedRefund: reg.RefundAmount,
		DaysBefore:     days,
		RefundRate:     rate,
		QuotedAmount:   decimal.NewFromInt(reg.PaymentAmount).Mul(rate).Div(decimal.NewFromInt(100)).Floor().IntPart(),
	}, nil
}

// DaysBefore returns whole days between at and the meeting start, never negative.
func DaysBefore(startsAt, at time.Time) int {
	d := startsAt.Sub(at)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// RefundRate picks the first policy (largest days_before first) the cancellation qualifies for.
func RefundRate(policies []models.RefundPolicy, daysBefore int) decimal.Decimal {
	for _, p := range policies {
		if daysBefore >= p.DaysBefore {
			return p.RefundRate
		}
	}
	return decimal.Zero
}

// Occupancy returns the live seat count for a meeting.
func (s *Service) Occupancy(ctx context.Context, meetingID uuid.UUID) (models.Occupancy, error) {
	return s.store.Occupancy(ctx, meetingID)
}

func (s *Service) publishOccupancy(ctx context.Context, meetingID uuid.UUID) {
	if s.events == nil {
		return
	}
	occ, err := s.store.Occupancy(ctx, meetingID)
	if err != nil {
		s.logger.Warn("load occupancy for publish failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		return
	}
	if err := s.events.PublishOccupancy(ctx, occ); err != nil {
		s.logger.Warn("publish occupancy failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
	}
}
