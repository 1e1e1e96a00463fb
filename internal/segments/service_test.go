package segments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/apperr"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/notifications"
)

var seoul = time.FixedZone("KST", 9*3600)

type stubMeetings struct {
	meetings []models.Meeting
	from, to time.Time
}

func (m *stubMeetings) ListStartingBetween(_ context.Context, from, to time.Time) ([]models.Meeting, error) {
	m.from, m.to = from, to
	var out []models.Meeting
	for _, mt := range m.meetings {
		if !mt.StartsAt.Before(from) && mt.StartsAt.Before(to) {
			out = append(out, mt)
		}
	}
	return out, nil
}

type stubMembers struct {
	attendees map[uuid.UUID][]models.User
	users     []models.User
	err       error
	args      []time.Time
}

func (m *stubMembers) ListConfirmedForMeeting(_ context.Context, id uuid.UUID) ([]models.User, error) {
	return m.attendees[id], nil
}

func (m *stubMembers) ListWithoutConfirmedBetween(_ context.Context, from, to time.Time) ([]models.User, error) {
	m.args = []time.Time{from, to}
	return m.users, m.err
}

func (m *stubMembers) ListFirstRegularBetween(_ context.Context, from, to time.Time, _ int) ([]models.User, error) {
	m.args = []time.Time{from, to}
	return m.users, m.err
}

func (m *stubMembers) ListLastRegularBefore(_ context.Context, t time.Time) ([]models.User, error) {
	m.args = []time.Time{t}
	return m.users, m.err
}

func (m *stubMembers) ListLastRegularBetween(_ context.Context, from, to time.Time) ([]models.User, error) {
	m.args = []time.Time{from, to}
	return m.users, m.err
}

// dedupNotifier deduplicates on (user, type, meeting) like the real service.
type dedupNotifier struct {
	mu      sync.Mutex
	seen    map[string]bool
	failFor map[uuid.UUID]bool
	sent    []notifications.Delivery
}

func (n *dedupNotifier) Deliver(_ context.Context, d notifications.Delivery) notifications.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen == nil {
		n.seen = make(map[string]bool)
	}
	key := d.UserID.String() + d.Type
	if d.MeetingID != nil {
		key += d.MeetingID.String()
	}
	if d.Dedup && n.seen[key] {
		return notifications.Outcome{Status: notifications.OutcomeDuplicate}
	}
	n.seen[key] = true
	if n.failFor[d.UserID] {
		return notifications.Outcome{Status: notifications.OutcomeFailed, Err: errors.New("gateway rejected")}
	}
	n.sent = append(n.sent, d)
	return notifications.Outcome{Status: notifications.OutcomeSent}
}

func member(phone string) models.User {
	return models.User{ID: uuid.New(), Nickname: "책벌레", Phone: phone}
}

func TestService_SendMeetingReminders(t *testing.T) {
	t.Parallel()

	// 23:30 KST on 3/10; tomorrow in Seoul is 3/11 even though UTC is still 3/10 afternoon.
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	tomorrow := models.Meeting{ID: uuid.New(), Title: "3월 정기모임", StartsAt: time.Date(2025, 3, 11, 10, 0, 0, 0, seoul), Location: "합정"}
	later := models.Meeting{ID: uuid.New(), Title: "토론모임", StartsAt: time.Date(2025, 3, 12, 0, 0, 0, 0, seoul)}

	ok, noPhone, failing := member("010-1234-5678"), member(""), member("010-9999-0000")
	meetings := &stubMeetings{meetings: []models.Meeting{tomorrow, later}}
	members := &stubMembers{attendees: map[uuid.UUID][]models.User{
		tomorrow.ID: {ok, noPhone, failing},
		later.ID:    {member("010-0000-0000")},
	}}
	n := &dedupNotifier{failFor: map[uuid.UUID]bool{failing.ID: true}}
	svc := NewService(meetings, members, n, seoul, nil)

	rep, err := svc.SendMeetingReminders(context.Background(), 1, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !meetings.from.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, seoul)) || !meetings.to.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, seoul)) {
		t.Fatalf("unexpected window %s - %s", meetings.from, meetings.to)
	}
	if rep.SentCount != 1 || len(rep.Errors) != 2 {
		t.Fatalf("expected 1 sent and 2 errors, got %+v", rep)
	}
	d := n.sent[0]
	if d.Type != models.NotificationMeetingReminder1Day || d.Variables["meeting_datetime"] != "3월 11일 (화) 10:00" || d.Variables["nickname"] != "책벌레" {
		t.Fatalf("unexpected delivery %+v", d)
	}

	rep, err = svc.SendMeetingReminders(context.Background(), 1, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rep.SentCount != 0 || rep.SkippedCount != 2 {
		t.Fatalf("expected rerun to be deduplicated, got %+v", rep)
	}
}

func TestService_SendMeetingRemindersRejectsUnknownOffset(t *testing.T) {
	t.Parallel()

	svc := NewService(&stubMeetings{}, &stubMembers{}, &dedupNotifier{}, seoul, nil)
	if _, err := svc.SendMeetingReminders(context.Background(), 2, time.Now()); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_Run(t *testing.T) {
	t.Parallel()

	t.Run("monthly waits for the 25th", func(t *testing.T) {
		members := &stubMembers{users: []models.User{member("010-1111-2222")}}
		n := &dedupNotifier{}
		svc := NewService(&stubMeetings{}, members, n, seoul, nil)

		rep, err := svc.Run(context.Background(), SegmentMonthly, time.Date(2025, 3, 24, 3, 0, 0, 0, time.UTC))
		if err != nil || rep.SentCount != 0 || members.args != nil {
			t.Fatalf("expected no-op before the 25th, got %+v, %v", rep, err)
		}

		rep, err = svc.Run(context.Background(), SegmentMonthly, time.Date(2025, 3, 25, 3, 0, 0, 0, time.UTC))
		if err != nil || rep.SentCount != 1 {
			t.Fatalf("expected one nudge, got %+v, %v", rep, err)
		}
		if !members.args[0].Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, seoul)) || !members.args[1].Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, seoul)) {
			t.Fatalf("unexpected month window %v", members.args)
		}
		if n.sent[0].Variables["month"] != "3" {
			t.Fatalf("expected month variable, got %v", n.sent[0].Variables)
		}
	})

	t.Run("windows", func(t *testing.T) {
		now := time.Date(2025, 8, 1, 0, 0, 0, 0, seoul)
		cases := []struct {
			segment string
			want    []time.Time
		}{
			{SegmentOnboarding, []time.Time{now.AddDate(0, 0, -60), now.AddDate(0, 0, -45)}},
			{SegmentDormant, []time.Time{now.AddDate(0, -3, 0)}},
			{SegmentEligibility, []time.Time{now.AddDate(0, -6, 0), now.AddDate(0, -5, 0)}},
		}
		for _, tc := range cases {
			members := &stubMembers{}
			svc := NewService(&stubMeetings{}, members, &dedupNotifier{}, seoul, nil)
			if _, err := svc.Run(context.Background(), tc.segment, now); err != nil {
				t.Fatalf("%s: %v", tc.segment, err)
			}
			if len(members.args) != len(tc.want) {
				t.Fatalf("%s: unexpected args %v", tc.segment, members.args)
			}
			for i := range tc.want {
				if !members.args[i].Equal(tc.want[i]) {
					t.Fatalf("%s: arg %d expected %s, got %s", tc.segment, i, tc.want[i], members.args[i])
				}
			}
		}
	})

	t.Run("members without phone are passed over", func(t *testing.T) {
		members := &stubMembers{users: []models.User{member(""), member("010-3333-4444")}}
		svc := NewService(&stubMeetings{}, members, &dedupNotifier{}, seoul, nil)
		rep, err := svc.Run(context.Background(), SegmentDormant, time.Now())
		if err != nil || rep.SentCount != 1 || len(rep.Errors) != 0 {
			t.Fatalf("expected silent skip, got %+v, %v", rep, err)
		}
	})

	t.Run("selection failure", func(t *testing.T) {
		members := &stubMembers{err: errors.New("db down")}
		svc := NewService(&stubMeetings{}, members, &dedupNotifier{}, seoul, nil)
		rep, err := svc.Run(context.Background(), SegmentEligibility, time.Now())
		if err != nil || rep.Success {
			t.Fatalf("expected unsuccessful report, got %+v, %v", rep, err)
		}
	})

	t.Run("unknown segment", func(t *testing.T) {
		svc := NewService(&stubMeetings{}, &stubMembers{}, &dedupNotifier{}, seoul, nil)
		if _, err := svc.Run(context.Background(), "vip", time.Now()); !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}
