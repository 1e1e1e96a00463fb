// Package waitlists queues members for full meetings and offers freed seats in position order.
package waitlists

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/apperr"
	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/notifications"
)

// ErrConflict is returned by Store.Insert when a unique constraint rejects the entry.
var ErrConflict = errors.New("waitlist entry conflict")

// OpenSlot is a meeting owing a failed offer, with seats not covered by active registrations or
// outstanding offers.
type OpenSlot struct {
	MeetingID uuid.UUID
	Free      int
}

// Store is the persistence the waitlist needs. WithTx carries the transaction on ctx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	LockMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	CountActive(ctx context.Context, meetingID uuid.UUID) (int, error)
	HasActive(ctx context.Context, userID, meetingID uuid.UUID) (bool, error)
	MemberHasPhone(ctx context.Context, userID uuid.UUID) (bool, error)
	GetEntry(ctx context.Context, userID, meetingID uuid.UUID) (*models.WaitlistEntry, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.WaitlistEntry, error)
	NextCandidate(ctx context.Context, meetingID uuid.UUID) (*models.WaitlistEntry, error)
	NextPosition(ctx context.Context, meetingID uuid.UUID) (int, error)
	Insert(ctx context.Context, e *models.WaitlistEntry) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at, deadline time.Time) (bool, error)
	MarkOfferFailed(ctx context.Context, id uuid.UUID, at time.Time) error
	ListOwedOffers(ctx context.Context, meetingID uuid.UUID) ([]models.WaitlistEntry, error)
	ListExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
	DeleteExpiredOffer(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.WaitlistEntry, error)
	ListOpenSlots(ctx context.Context, now time.Time) ([]OpenSlot, error)
}

// Notifier delivers one notification. notifications.Service satisfies it.
type Notifier interface {
	Deliver(ctx context.Context, d notifications.Delivery) notifications.Outcome
}

// Service is the waitlist queue.
type Service struct {
	store    Store
	notifier Notifier
	clock    clock.Clock
	logger   *zap.Logger
	loc      *time.Location
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

// WithLocation sets the timezone used for dates in message text.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewService creates the waitlist service.
func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		clock:    clock.NewSystem(),
		logger:   zap.NewNop(),
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateResponseDeadline returns how long a member notified at now has to claim a seat in a
// meeting starting at startsAt: 24h when it is at least 72h away, 6h when at least 24h, else 2h.
func CalculateResponseDeadline(startsAt, now time.Time) time.Time {
	until := startsAt.Sub(now)
	switch {
	case until >= 72*time.Hour:
		return now.Add(24 * time.Hour)
	case until >= 24*time.Hour:
		return now.Add(6 * time.Hour)
	default:
		return now.Add(2 * time.Hour)
	}
}

// Join puts a member at the back of a full meeting's queue. Offers go out by chat message, so
// members without a phone number cannot join.
func (s *Service) Join(ctx context.Context, userID, meetingID uuid.UUID) (*models.WaitlistEntry, error) {
	reachable, err := s.store.MemberHasPhone(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !reachable {
		return nil, apperr.Validation("a phone number is required to join the waitlist")
	}

	entry := &models.WaitlistEntry{UserID: userID, MeetingID: meetingID}
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		meeting, err := s.store.LockMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		if meeting == nil {
			return apperr.NotFound("meeting not found")
		}
		if meeting.Status != models.MeetingStatusOpen {
			return apperr.Closed("meeting is not accepting registrations")
		}
		registered, err := s.store.HasActive(ctx, userID, meetingID)
		if err != nil {
			return err
		}
		if registered {
			return apperr.Duplicate("already registered for this meeting")
		}
		existing, err := s.store.GetEntry(ctx, userID, meetingID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Duplicate("already on the waitlist")
		}
		occupied, err := s.store.CountActive(ctx, meetingID)
		if err != nil {
			return err
		}
		if occupied < meeting.Capacity {
			return apperr.InvalidState("meeting has open seats; register instead")
		}
		entry.Position, err = s.store.NextPosition(ctx, meetingID)
		if err != nil {
			return err
		}
		return s.store.Insert(ctx, entry)
	})
	if errors.Is(err, ErrConflict) {
		return nil, apperr.Duplicate("already on the waitlist")
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("waitlist joined",
		zap.String("entry_id", entry.ID.String()),
		zap.String("meeting_id", meetingID.String()),
		zap.Int("position", entry.Position),
	)
	return entry, nil
}

// Leave removes the requester's own entry. Remaining positions are not renumbered.
func (s *Service) Leave(ctx context.Context, entryID, requesterID uuid.UUID) error {
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return apperr.NotFound("waitlist entry not found")
	}
	if entry.UserID != requesterID {
		return apperr.Forbidden("only the member can leave their waitlist entry")
	}
	removed, err := s.store.Delete(ctx, entryID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("waitlist entry not found")
	}
	s.logger.Info("waitlist left", zap.String("entry_id", entryID.String()), zap.String("meeting_id", entry.MeetingID.String()))
	return nil
}

// ListMine returns the member's entries, optionally for one meeting.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.WaitlistEntry, error) {
	return s.store.ListByUser(ctx, userID, meetingID)
}

// NotifyResult reports one spot-available attempt. Notified is false with a nil Err when nobody
// was waiting. Dropped counts entries removed because their member could not be reached.
type NotifyResult struct {
	EntryID          uuid.UUID  `json:"entry_id,omitempty"`
	UserID           uuid.UUID  `json:"user_id,omitempty"`
	Notified         bool       `json:"notified"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	Dropped          int        `json:"dropped,omitempty"`
	Error            string     `json:"error,omitempty"`
	Err              error      `json:"-"`
}

// NotifySpotAvailable offers a seat to the first waiting member, or to target when set. The offer
// is stamped only when the message was accepted. A failed send marks the entry as owed an offer,
// which PromoteOpenSpots retries; a member with no phone on file is removed from the queue and the
// next member is tried instead. Lookup failures are returned as errors; send failures are
// reported in the result.
func (s *Service) NotifySpotAvailable(ctx context.Context, meetingID uuid.UUID, target *uuid.UUID) (*NotifyResult, error) {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting not found")
	}

	res := &NotifyResult{}
	for {
		entry, err := s.candidate(ctx, meetingID, target)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return res, nil
		}
		res.EntryID, res.UserID = entry.ID, entry.UserID

		now := s.clock.Now()
		deadline := CalculateResponseDeadline(meeting.StartsAt, now)
		out := s.sendOffer(ctx, meeting, deadline, entry.UserID)

		switch {
		case out.Status == notifications.OutcomeNoRecipient:
			if _, err := s.store.Delete(ctx, entry.ID); err != nil {
				return nil, err
			}
			res.Dropped++
			s.logger.Warn("waitlist entry dropped; member has no phone on file",
				zap.String("entry_id", entry.ID.String()),
				zap.String("meeting_id", meetingID.String()),
				zap.String("user_id", entry.UserID.String()),
			)
			if target != nil {
				res.Err = notifications.ErrNoPhone
				res.Error = res.Err.Error()
				return res, nil
			}
			continue

		case !out.Sent():
			res.Err = out.Err
			if res.Err == nil {
				res.Err = fmt.Errorf("notification %s", out.Status)
			}
			res.Error = res.Err.Error()
			if err := s.store.MarkOfferFailed(ctx, entry.ID, now); err != nil {
				return nil, err
			}
			s.logger.Warn("waitlist offer not delivered",
				zap.String("entry_id", entry.ID.String()),
				zap.String("meeting_id", meetingID.String()),
				zap.Error(res.Err),
			)
			return res, nil
		}

		if _, err := s.store.MarkNotified(ctx, entry.ID, now, deadline); err != nil {
			return nil, err
		}
		res.Notified = true
		res.ResponseDeadline = &deadline
		res.Err, res.Error = nil, ""
		s.logger.Info("waitlist offer sent",
			zap.String("entry_id", entry.ID.String()),
			zap.String("meeting_id", meetingID.String()),
			zap.Time("response_deadline", deadline),
		)
		return res, nil
	}
}

func (s *Service) candidate(ctx context.Context, meetingID uuid.UUID, target *uuid.UUID) (*models.WaitlistEntry, error) {
	if target == nil {
		return s.store.NextCandidate(ctx, meetingID)
	}
	entry, err := s.store.GetEntry(ctx, *target, meetingID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("member is not on this waitlist")
	}
	return entry, nil
}

func (s *Service) sendOffer(ctx context.Context, meeting *models.Meeting, deadline time.Time, userID uuid.UUID) notifications.Outcome {
	mid := meeting.ID
	return s.notifier.Deliver(ctx, notifications.Delivery{
		UserID:    userID,
		Type:      models.NotificationWaitlistSpotAvailable,
		MeetingID: &mid,
		Variables: map[string]string{
			"meeting_title":     meeting.Title,
			"meeting_datetime":  notifications.FormatDateTime(meeting.StartsAt, s.loc),
			"meeting_location":  meeting.Location,
			"response_deadline": notifications.FormatDeadline(deadline, s.loc),
		},
		Content: fmt.Sprintf("%s 대기자 자리 발생", meeting.Title),
	})
}

// SweepResult reports one pass over lapsed offers.
type SweepResult struct {
	Expired  int      `json:"expired"`
	Notified int      `json:"notified"`
	Errors   []string `json:"errors"`
}

// SweepExpiredResponses removes every entry whose offer lapsed before now and offers the seat to
// the next member of that meeting. Each entry is handled independently.
func (s *Service) SweepExpiredResponses(ctx context.Context, now time.Time) (*SweepResult, error) {
	lapsed, err := s.store.ListExpiredOffers(ctx, now)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{Errors: []string{}}
	for _, e := range lapsed {
		removed, err := s.store.DeleteExpiredOffer(ctx, e.ID, now)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("expire waitlist entry %s: %v", e.ID, err))
			continue
		}
		if !removed {
			continue
		}
		res.Expired++

		mid := e.MeetingID
		out := s.notifier.Deliver(ctx, notifications.Delivery{
			UserID:    e.UserID,
			Type:      models.NotificationWaitlistExpired,
			MeetingID: &mid,
			Content:   "대기 응답 시간 만료",
			Dedup:     true,
		})
		if out.Status == notifications.OutcomeFailed {
			s.logger.Warn("waitlist expiry notice failed", zap.String("entry_id", e.ID.String()), zap.Error(out.Err))
		}

		next, err := s.NotifySpotAvailable(ctx, e.MeetingID, nil)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("notify next for meeting %s: %v", e.MeetingID, err))
			continue
		}
		if next.Notified {
			res.Notified++
		} else if next.Err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("notify next for meeting %s: %s", e.MeetingID, next.Error))
		}
	}
	if res.Expired > 0 {
		s.logger.Info("waitlist offers expired", zap.Int("expired", res.Expired), zap.Int("notified", res.Notified))
	}
	return res, nil
}

// PromoteResult reports one pass over meetings with unclaimed seats.
type PromoteResult struct {
	Notified int      `json:"notified"`
	Errors   []string `json:"errors"`
}

// PromoteOpenSpots redelivers spot offers whose send failed, in position order, while the meeting
// still has a seat not backed by an active registration or an outstanding offer. Seats freed any
// other way (a cancellation, say) are never offered here.
func (s *Service) PromoteOpenSpots(ctx context.Context, now time.Time) (*PromoteResult, error) {
	slots, err := s.store.ListOpenSlots(ctx, now)
	if err != nil {
		return nil, err
	}
	res := &PromoteResult{Errors: []string{}}
	for _, slot := range slots {
		owed, err := s.store.ListOwedOffers(ctx, slot.MeetingID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("promote meeting %s: %v", slot.MeetingID, err))
			continue
		}
		notified := 0
		for _, e := range owed {
			if notified == slot.Free {
				break
			}
			userID := e.UserID
			r, err := s.NotifySpotAvailable(ctx, slot.MeetingID, &userID)
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("promote meeting %s: %v", slot.MeetingID, err))
				break
			}
			if r.Dropped > 0 {
				// The owed seat passes to the next member in line.
				r, err = s.NotifySpotAvailable(ctx, slot.MeetingID, nil)
				if err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("promote meeting %s: %v", slot.MeetingID, err))
					break
				}
			}
			if r.Notified {
				notified++
				continue
			}
			if r.Err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("promote meeting %s: %s", slot.MeetingID, r.Error))
			}
		}
		res.Notified += notified
	}
	return res, nil
}
