package waitlists

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/notifications"
)

type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	meetings map[uuid.UUID]*models.Meeting
	active   map[uuid.UUID]map[uuid.UUID]bool // meeting -> registered users
	entries  map[uuid.UUID]*models.WaitlistEntry
	lastPos  map[uuid.UUID]int
	noPhone  map[uuid.UUID]bool
	seq      int // creation order, stands in for created_at ties
}

func newFakeStore(meetings ...*models.Meeting) *fakeStore {
	s := &fakeStore{
		meetings: make(map[uuid.UUID]*models.Meeting),
		active:   make(map[uuid.UUID]map[uuid.UUID]bool),
		entries:  make(map[uuid.UUID]*models.WaitlistEntry),
		lastPos:  make(map[uuid.UUID]int),
		noPhone:  make(map[uuid.UUID]bool),
	}
	for _, m := range meetings {
		s.meetings[m.ID] = m
	}
	return s
}

func (s *fakeStore) register(meetingID uuid.UUID, users ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[meetingID] == nil {
		s.active[meetingID] = make(map[uuid.UUID]bool)
	}
	for _, u := range users {
		s.active[meetingID][u] = true
	}
}

func (s *fakeStore) unregister(meetingID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active[meetingID], userID)
}

func (s *fakeStore) entry(id uuid.UUID) *models.WaitlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
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
	return s.GetMeeting(ctx, id)
}

func (s *fakeStore) CountActive(_ context.Context, meetingID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[meetingID]), nil
}

func (s *fakeStore) HasActive(_ context.Context, userID, meetingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[meetingID][userID], nil
}

func (s *fakeStore) MemberHasPhone(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.noPhone[userID], nil
}

func (s *fakeStore) GetEntry(_ context.Context, userID, meetingID uuid.UUID) (*models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == userID && e.MeetingID == meetingID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.WaitlistEntry, error) {
	return s.entry(id), nil
}

func (s *fakeStore) NextCandidate(_ context.Context, meetingID uuid.UUID) (*models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.WaitlistEntry
	for _, e := range s.entries {
		if e.MeetingID != meetingID || e.NotifiedAt != nil || e.OfferFailedAt != nil {
			continue
		}
		if best == nil || e.Position < best.Position ||
			(e.Position == best.Position && e.CreatedAt.Before(best.CreatedAt)) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) NextPosition(_ context.Context, meetingID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPos[meetingID]++
	return s.lastPos[meetingID], nil
}

func (s *fakeStore) Insert(_ context.Context, e *models.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.entries {
		if x.MeetingID == e.MeetingID && (x.UserID == e.UserID || x.Position == e.Position) {
			return ErrConflict
		}
	}
	s.seq++
	e.ID = uuid.New()
	e.CreatedAt = time.Date(2025, 1, 1, 0, 0, s.seq, 0, time.UTC)
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

func (s *fakeStore) MarkNotified(_ context.Context, id uuid.UUID, at, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.NotifiedAt != nil {
		return false, nil
	}
	e.NotifiedAt = &at
	e.ResponseDeadline = &deadline
	e.OfferFailedAt = nil
	return true, nil
}

func (s *fakeStore) MarkOfferFailed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.NotifiedAt == nil {
		e.OfferFailedAt = &at
	}
	return nil
}

func (s *fakeStore) ListOwedOffers(_ context.Context, meetingID uuid.UUID) ([]models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range s.entries {
		if e.MeetingID == meetingID && e.OwedOffer() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *fakeStore) ListExpiredOffers(_ context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range s.entries {
		if e.NotifiedAt != nil && e.ResponseDeadline != nil && e.ResponseDeadline.Before(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *fakeStore) DeleteExpiredOffer(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.NotifiedAt == nil || !e.ResponseDeadline.Before(now) {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range s.entries {
		if e.UserID == userID && (meetingID == nil || e.MeetingID == *meetingID) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeStore) ListOpenSlots(_ context.Context, now time.Time) ([]OpenSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OpenSlot
	for id, m := range s.meetings {
		if m.Status != models.MeetingStatusOpen || !m.StartsAt.After(now) {
			continue
		}
		offers, owed := 0, 0
		for _, e := range s.entries {
			if e.MeetingID != id {
				continue
			}
			if e.HasOutstandingOffer(now) {
				offers++
			} else if e.OwedOffer() {
				owed++
			}
		}
		free := m.Capacity - len(s.active[id]) - offers
		if owed > 0 && free > 0 {
			out = append(out, OpenSlot{MeetingID: id, Free: free})
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	deliveries []notifications.Delivery
	failFor    map[uuid.UUID]bool
	noPhone    map[uuid.UUID]bool
}

func (n *fakeNotifier) Deliver(_ context.Context, d notifications.Delivery) notifications.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	if n.noPhone[d.UserID] {
		return notifications.Outcome{Status: notifications.OutcomeNoRecipient, Err: notifications.ErrNoPhone}
	}
	if n.failFor[d.UserID] {
		return notifications.Outcome{Status: notifications.OutcomeFailed, Err: errors.New("gateway rejected")}
	}
	return notifications.Outcome{Status: notifications.OutcomeSent, MessageID: "msg-1"}
}

func (n *fakeNotifier) ofType(typ string) []notifications.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifications.Delivery
	for _, d := range n.deliveries {
		if d.Type == typ {
			out = append(out, d)
		}
	}
	return out
}

func (n *fakeNotifier) sentTo(typ string, userID uuid.UUID) int {
	count := 0
	for _, d := range n.ofType(typ) {
		if d.UserID == userID {
			count++
		}
	}
	return count
}
