package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/queue"
)

type fakeGateway struct {
	mu      sync.Mutex
	sent    []Message
	failFor map[string]bool // recipient -> fail
	testErr error
}

func (g *fakeGateway) Send(_ context.Context, msg Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	if g.failFor[msg.To] {
		return "", errors.New("provider rejected")
	}
	return "msg-" + msg.To, nil
}

func (g *fakeGateway) Test(context.Context) error { return g.testErr }

type fakeLogs struct {
	mu      sync.Mutex
	logs    []models.NotificationLog
	saveErr error
}

func (l *fakeLogs) Save(_ context.Context, entry *models.NotificationLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		return l.saveErr
	}
	entry.ID = uuid.New()
	l.logs = append(l.logs, *entry)
	return nil
}

func (l *fakeLogs) HasRecent(_ context.Context, userID uuid.UUID, notificationType string, meetingID *uuid.UUID, since time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.logs {
		if e.UserID == nil || *e.UserID != userID || e.NotificationType != notificationType || e.SentAt.Before(since) {
			continue
		}
		if meetingID != nil && (e.MeetingID == nil || *e.MeetingID != *meetingID) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (l *fakeLogs) List(_ context.Context, status string, limit, offset int) ([]models.NotificationLog, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var match []models.NotificationLog
	for _, e := range l.logs {
		if status == "" || e.Status == status {
			match = append(match, e)
		}
	}
	total := len(match)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return match[offset:end], total, nil
}

type fakeAudience struct {
	users    map[uuid.UUID]models.User
	meetings map[uuid.UUID][]uuid.UUID
}

func newFakeAudience(users ...models.User) *fakeAudience {
	a := &fakeAudience{users: make(map[uuid.UUID]models.User), meetings: make(map[uuid.UUID][]uuid.UUID)}
	for _, u := range users {
		a.users[u.ID] = u
	}
	return a
}

func (a *fakeAudience) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := a.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (a *fakeAudience) ListWithPhone(context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range a.users {
		if u.Phone != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func (a *fakeAudience) ListConfirmedForMeeting(_ context.Context, meetingID uuid.UUID) ([]models.User, error) {
	var out []models.User
	for _, id := range a.meetings[meetingID] {
		out = append(out, a.users[id])
	}
	return out, nil
}

type fakeEnqueuer struct {
	jobs []queue.NotificationPayload
}

func (e *fakeEnqueuer) EnqueueNotification(_ context.Context, p queue.NotificationPayload) error {
	e.jobs = append(e.jobs, p)
	return nil
}
