package waitlists

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/apperr"
	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/internal/meetings"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/testutil"
)

func TestPostgres_PositionsAreNeverReused(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	now := time.Now().UTC()
	svc := NewService(NewRepository(pool, meetings.NewRepository(pool)), &fakeNotifier{}, WithClock(clock.NewFixed(now)))

	meetingID := testutil.InsertMeeting(t, ctx, pool, "만석 모임", 1, now.Add(5*24*time.Hour))
	testutil.InsertRegistration(t, ctx, pool, testutil.InsertUser(t, ctx, pool, "좌석", ""), meetingID, models.RegistrationConfirmed, now.Add(time.Hour))

	a := testutil.InsertUser(t, ctx, pool, "a", "010-2000-0001")
	b := testutil.InsertUser(t, ctx, pool, "b", "010-2000-0002")
	c := testutil.InsertUser(t, ctx, pool, "c", "010-2000-0003")

	if _, err := svc.Join(ctx, a, meetingID); err != nil {
		t.Fatalf("join a: %v", err)
	}
	eb, err := svc.Join(ctx, b, meetingID)
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if eb.Position != 2 {
		t.Fatalf("expected position 2, got %d", eb.Position)
	}
	if err := svc.Leave(ctx, eb.ID, b); err != nil {
		t.Fatalf("leave b: %v", err)
	}
	ec, err := svc.Join(ctx, c, meetingID)
	if err != nil {
		t.Fatalf("join c: %v", err)
	}
	if ec.Position != 3 {
		t.Fatalf("expected tail position to stay retired, got %d", ec.Position)
	}

	if _, err := svc.Join(ctx, a, meetingID); !apperr.IsKind(err, apperr.KindDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestPostgres_ConcurrentJoinsGetDistinctPositions(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	now := time.Now().UTC()
	svc := NewService(NewRepository(pool, meetings.NewRepository(pool)), &fakeNotifier{}, WithClock(clock.NewFixed(now)))

	meetingID := testutil.InsertMeeting(t, ctx, pool, "경쟁 대기", 1, now.Add(5*24*time.Hour))
	testutil.InsertRegistration(t, ctx, pool, testutil.InsertUser(t, ctx, pool, "좌석", ""), meetingID, models.RegistrationConfirmed, now.Add(time.Hour))

	const joiners = 8
	users := make([]uuid.UUID, joiners)
	for i := range users {
		users[i] = testutil.InsertUser(t, ctx, pool, "대기", fmt.Sprintf("010-3000-%04d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for _, u := range users {
		wg.Add(1)
		go func(u uuid.UUID) {
			defer wg.Done()
			if _, err := svc.Join(ctx, u, meetingID); err != nil {
				errs <- err
			}
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("join: %v", err)
	}

	var distinct, highest int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT position), MAX(position) FROM waitlist_entries WHERE meeting_id = $1`,
		meetingID,
	).Scan(&distinct, &highest); err != nil {
		t.Fatalf("query: %v", err)
	}
	if distinct != joiners || highest != joiners {
		t.Fatalf("expected positions 1..%d, got %d distinct with max %d", joiners, distinct, highest)
	}
}

func TestPostgres_FailedOfferIsOwedUntilDelivered(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	now := time.Now().UTC()
	repo := NewRepository(pool, meetings.NewRepository(pool))

	// A single seat with no registration: one lapsed deposit.
	meetingID := testutil.InsertMeeting(t, ctx, pool, "재시도 모임", 1, now.Add(5*24*time.Hour))
	first := testutil.InsertWaitlistEntry(t, ctx, pool, testutil.InsertUser(t, ctx, pool, "a", "010-4000-0001"), meetingID, 1)
	second := testutil.InsertWaitlistEntry(t, ctx, pool, testutil.InsertUser(t, ctx, pool, "b", "010-4000-0002"), meetingID, 2)
	noPhone := testutil.InsertUser(t, ctx, pool, "c", " ")

	if ok, err := repo.MemberHasPhone(ctx, noPhone); err != nil || ok {
		t.Fatalf("expected blank phone to count as missing, got %v, %v", ok, err)
	}

	slots, err := repo.ListOpenSlots(ctx, now)
	if err != nil {
		t.Fatalf("list open slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slot before any failed offer, got %+v", slots)
	}

	if err := repo.MarkOfferFailed(ctx, first, now); err != nil {
		t.Fatalf("mark offer failed: %v", err)
	}
	next, err := repo.NextCandidate(ctx, meetingID)
	if err != nil {
		t.Fatalf("next candidate: %v", err)
	}
	if next == nil || next.ID != second {
		t.Fatalf("expected the owed entry skipped, got %+v", next)
	}
	owed, err := repo.ListOwedOffers(ctx, meetingID)
	if err != nil {
		t.Fatalf("list owed offers: %v", err)
	}
	if len(owed) != 1 || owed[0].ID != first || !owed[0].OwedOffer() {
		t.Fatalf("expected the failed entry owed, got %+v", owed)
	}
	slots, err = repo.ListOpenSlots(ctx, now)
	if err != nil {
		t.Fatalf("list open slots: %v", err)
	}
	if len(slots) != 1 || slots[0].MeetingID != meetingID || slots[0].Free != 1 {
		t.Fatalf("expected one free slot, got %+v", slots)
	}

	if ok, err := repo.MarkNotified(ctx, first, now, now.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("mark notified: %v, %v", ok, err)
	}
	owed, err = repo.ListOwedOffers(ctx, meetingID)
	if err != nil {
		t.Fatalf("list owed offers: %v", err)
	}
	if len(owed) != 0 {
		t.Fatalf("expected the delivered offer cleared, got %+v", owed)
	}
	slots, err = repo.ListOpenSlots(ctx, now)
	if err != nil {
		t.Fatalf("list open slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slot once the offer is out, got %+v", slots)
	}
}
