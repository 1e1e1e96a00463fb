// Package scheduler runs the periodic sweep that expires unpaid seats and lapsed waitlist offers
// and hands the freed seats to waiting members.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/waitlists"
)

// LockKey guards against overlapping ticks across processes.
const LockKey = "lock:scheduler:tick"

// LockTTL bounds how long a crashed tick can block the next one.
const LockTTL = 2 * time.Minute

// Ledger expires overdue pending transfers. registrations.Service satisfies it.
type Ledger interface {
	ExpirePendingTransfers(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error)
}

// Waitlist offers freed seats. waitlists.Service satisfies it.
type Waitlist interface {
	NotifySpotAvailable(ctx context.Context, meetingID uuid.UUID, target *uuid.UUID) (*waitlists.NotifyResult, error)
	SweepExpiredResponses(ctx context.Context, now time.Time) (*waitlists.SweepResult, error)
	PromoteOpenSpots(ctx context.Context, now time.Time) (*waitlists.PromoteResult, error)
}

// Locker takes a cross-process lock. pkg/redis.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Report summarises one tick. Success is false only when the tick could not run at all.
type Report struct {
	Success              bool        `json:"success"`
	Skipped              bool        `json:"skipped,omitempty"`
	ExpiredCount         int         `json:"expiredCount"`
	ExpiredIDs           []uuid.UUID `json:"expiredIds"`
	WaitlistExpiredCount int         `json:"waitlistExpiredCount"`
	NotifiedCount        int         `json:"notifiedCount"`
	Errors               []string    `json:"errors"`
}

// Scheduler runs ticks.
type Scheduler struct {
	ledger   Ledger
	waitlist Waitlist
	locker   Locker
	logger   *zap.Logger
}

// New creates a scheduler. locker may be nil for single-process deployments.
func New(ledger Ledger, waitlist Waitlist, locker Locker, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{ledger: ledger, waitlist: waitlist, locker: locker, logger: logger}
}

// Tick expires overdue transfers and offers their seats, sweeps lapsed waitlist offers, then
// offers any seat still uncovered. A failing step is recorded and the next step still runs.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) *Report {
	rep := &Report{ExpiredIDs: []uuid.UUID{}, Errors: []string{}}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, LockKey, LockTTL)
		if err != nil {
			s.logger.Error("scheduler lock failed", zap.Error(err))
			rep.Errors = append(rep.Errors, err.Error())
			return rep
		}
		if !ok {
			s.logger.Info("scheduler tick skipped; another tick holds the lock")
			rep.Success = true
			rep.Skipped = true
			return rep
		}
		defer release()
	}
	rep.Success = true

	s.expireTransfers(ctx, now, rep)
	s.sweepOffers(ctx, now, rep)
	s.promote(ctx, now, rep)

	s.logger.Info("scheduler tick finished",
		zap.Int("expired", rep.ExpiredCount),
		zap.Int("waitlist_expired", rep.WaitlistExpiredCount),
		zap.Int("notified", rep.NotifiedCount),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep
}

func (s *Scheduler) expireTransfers(ctx context.Context, now time.Time, rep *Report) {
	expired, err := s.ledger.ExpirePendingTransfers(ctx, now)
	if err != nil {
		s.logger.Error("expire pending transfers failed", zap.Error(err))
		rep.Errors = append(rep.Errors, fmt.Sprintf("expire pending transfers: %v", err))
		return
	}
	rep.ExpiredCount = len(expired)

	var meetings []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, e := range expired {
		rep.ExpiredIDs = append(rep.ExpiredIDs, e.ID)
		if _, ok := seen[e.MeetingID]; !ok {
			seen[e.MeetingID] = struct{}{}
			meetings = append(meetings, e.MeetingID)
		}
	}
	for _, id := range meetings {
		res, err := s.waitlist.NotifySpotAvailable(ctx, id, nil)
		switch {
		case err != nil:
			rep.Errors = append(rep.Errors, fmt.Sprintf("notify waitlist for meeting %s: %v", id, err))
		case res.Notified:
			rep.NotifiedCount++
		case res.Err != nil:
			rep.Errors = append(rep.Errors, fmt.Sprintf("notify waitlist for meeting %s: %s", id, res.Error))
		}
	}
}

func (s *Scheduler) sweepOffers(ctx context.Context, now time.Time, rep *Report) {
	res, err := s.waitlist.SweepExpiredResponses(ctx, now)
	if err != nil {
		s.logger.Error("waitlist sweep failed", zap.Error(err))
		rep.Errors = append(rep.Errors, fmt.Sprintf("sweep waitlist offers: %v", err))
		return
	}
	rep.WaitlistExpiredCount = res.Expired
	rep.NotifiedCount += res.Notified
	rep.Errors = append(rep.Errors, res.Errors...)
}

func (s *Scheduler) promote(ctx context.Context, now time.Time, rep *Report) {
	res, err := s.waitlist.PromoteOpenSpots(ctx, now)
	if err != nil {
		s.logger.Error("waitlist promotion failed", zap.Error(err))
		rep.Errors = append(rep.Errors, fmt.Sprintf("promote open spots: %v", err))
		return
	}
	rep.NotifiedCount += res.Notified
	rep.Errors = append(rep.Errors, res.Errors...)
}
