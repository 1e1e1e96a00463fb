package registrations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/models"
)

// fakeStore keeps rows in memory. WithTx serializes on txMu, standing in for the meeting row lock.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	meetings      map[uuid.UUID]*models.Meeting
	registrations map[uuid.UUID]*models.Registration
	waitlist      map[uuid.UUID][]uuid.UUID // meeting -> users
	policies      []models.RefundPolicy
	attendance    map[uuid.UUID]int

	lockCalls   int
	expireErr   error
	beforeWrite func(reg *models.Registration) // called inside Insert, lets tests race in
}

func newFakeStore(meetings ...*models.Meeting) *fakeStore {
	s := &fakeStore{
		meetings:      make(map[uuid.UUID]*models.Meeting),
		registrations: make(map[uuid.UUID]*models.Registration),
		waitlist:      make(map[uuid.UUID][]uuid.UUID),
		attendance:    make(map[uuid.UUID]int),
	}
	for _, m := range meetings {
		s.meetings[m.ID] = m
	}
	return s
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}

func (s *fakeStore) GetMeeting(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) LockMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	s.mu.Lock()
	s.lockCalls++
	s.mu.Unlock()
	return s.GetMeeting(ctx, id)
}

func (s *fakeStore) CountActive(_ context.Context, meetingID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.registrations {
		if r.MeetingID == meetingID && r.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) HasActive(_ context.Context, userID, meetingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.registrations {
		if r.UserID == userID && r.MeetingID == meetingID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) Insert(_ context.Context, reg *models.Registration) error {
	if s.beforeWrite != nil {
		s.beforeWrite(reg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.registrations {
		if r.UserID == reg.UserID && r.MeetingID == reg.MeetingID && r.Status.Active() {
			return ErrActiveExists
		}
	}
	reg.ID = uuid.New()
	cp := *reg
	s.registrations[reg.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteWaitlistEntry(_ context.Context, userID, meetingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.waitlist[meetingID]
	for i, u := range users {
		if u == userID {
			s.waitlist[meetingID] = append(users[:i:i], users[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) CountWaitlist(_ context.Context, meetingID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waitlist[meetingID]), nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) MarkConfirmed(_ context.Context, id, operatorID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok || r.Status != models.RegistrationPendingTransfer {
		return false, nil
	}
	r.Status = models.RegistrationConfirmed
	r.ConfirmedAt = &at
	r.ConfirmedBy = &operatorID
	return true, nil
}

func (s *fakeStore) MarkCancelled(_ context.Context, id uuid.UUID, from models.RegistrationStatus, c Cancellation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = models.RegistrationCancelled
	r.CancelledAt = &c.At
	r.CancelReason = c.Reason
	r.RefundBank, r.RefundAccount, r.RefundHolder = c.RefundBank, c.RefundAccount, c.RefundHolder
	r.RefundAmount = c.RefundAmount
	return true, nil
}

func (s *fakeStore) ExpireOverdue(_ context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
	if s.expireErr != nil {
		return nil, s.expireErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExpiredRegistration
	for _, r := range s.registrations {
		if r.Status == models.RegistrationPendingTransfer && r.DepositDeadline != nil && r.DepositDeadline.Before(now) {
			r.Status = models.RegistrationExpired
			out = append(out, models.ExpiredRegistration{ID: r.ID, UserID: r.UserID, MeetingID: r.MeetingID})
		}
	}
	return out, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Registration
	for _, r := range s.registrations {
		if r.UserID == userID && (meetingID == nil || r.MeetingID == *meetingID) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListPending(_ context.Context, meetingID *uuid.UUID) ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Registration
	for _, r := range s.registrations {
		if r.Status == models.RegistrationPendingTransfer && (meetingID == nil || r.MeetingID == *meetingID) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkParticipation(_ context.Context, id uuid.UUID, outcome models.ParticipationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok || r.Status != models.RegistrationConfirmed || r.ParticipationStatus != nil {
		return false, nil
	}
	r.ParticipationStatus = &outcome
	return true, nil
}

func (s *fakeStore) RecordAttendance(_ context.Context, userID uuid.UUID, _ models.MeetingType, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendance[userID]++
	return nil
}

func (s *fakeStore) RefundPolicies(context.Context, models.MeetingType) ([]models.RefundPolicy, error) {
	return s.policies, nil
}

func (s *fakeStore) Occupancy(ctx context.Context, meetingID uuid.UUID) (models.Occupancy, error) {
	n, _ := s.CountActive(ctx, meetingID)
	w, _ := s.CountWaitlist(ctx, meetingID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return models.Occupancy{}, errors.New("meeting not found")
	}
	return models.Occupancy{MeetingID: meetingID, Occupied: n, Capacity: m.Capacity, Waitlist: w}, nil
}

func (s *fakeStore) seed(reg models.Registration) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	s.registrations[reg.ID] = &reg
	return reg.ID
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Occupancy
}

func (p *recordingPublisher) PublishOccupancy(_ context.Context, occ models.Occupancy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, occ)
	return nil
}
