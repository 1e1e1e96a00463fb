package waitlists

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jidokhae/backend/internal/meetings"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/database"
)

const columns = `w.id, w.user_id, w.meeting_id, w.position, w.notified_at, w.response_deadline, w.offer_failed_at, w.created_at`

func scanEntry(row pgx.Row, extra ...any) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	dest := []any{&e.ID, &e.UserID, &e.MeetingID, &e.Position, &e.NotifiedAt, &e.ResponseDeadline, &e.OfferFailedAt, &e.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &e, nil
}

// Repository is the Postgres Store for waitlist entries.
type Repository struct {
	pool     *pgxpool.Pool
	meetings *meetings.Repository
}

// NewRepository creates a waitlist repository.
func NewRepository(pool *pgxpool.Pool, meetingRepo *meetings.Repository) *Repository {
	return &Repository{pool: pool, meetings: meetingRepo}
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, r.pool, fn)
}

func (r *Repository) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	return r.meetings.GetByID(ctx, id)
}

func (r *Repository) LockMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	return r.meetings.LockByID(ctx, id)
}

// CountActive counts registrations occupying a seat.
func (r *Repository) CountActive(ctx context.Context, meetingID uuid.UUID) (int, error) {
	occ, err := r.meetings.Occupancy(ctx, meetingID)
	if err != nil {
		return 0, err
	}
	return occ.Occupied, nil
}

// HasActive reports whether the user holds an active registration for the meeting.
func (r *Repository) HasActive(ctx context.Context, userID, meetingID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM registrations
		WHERE user_id = $1 AND meeting_id = $2 AND status IN ('pending_transfer', 'confirmed'))`
	var ok bool
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, q, userID, meetingID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check active registration: %w", err)
	}
	return ok, nil
}

// GetEntry returns the user's entry for a meeting, or nil.
func (r *Repository) GetEntry(ctx context.Context, userID, meetingID uuid.UUID) (*models.WaitlistEntry, error) {
	return r.one(ctx, `SELECT `+columns+` FROM waitlist_entries w WHERE w.user_id = $1 AND w.meeting_id = $2`, userID, meetingID)
}

// GetByID returns an entry, or nil.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.WaitlistEntry, error) {
	return r.one(ctx, `SELECT `+columns+` FROM waitlist_entries w WHERE w.id = $1`, id)
}

// MemberHasPhone reports whether the user exists with a phone number on file.
func (r *Repository) MemberHasPhone(ctx context.Context, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND btrim(phone) <> '')`
	var ok bool
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, q, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check member phone: %w", err)
	}
	return ok, nil
}

// NextCandidate returns the lowest-position entry that has not been offered a seat. Entries
// already owed a failed offer are left to the retry pass.
func (r *Repository) NextCandidate(ctx context.Context, meetingID uuid.UUID) (*models.WaitlistEntry, error) {
	return r.one(ctx, `SELECT `+columns+` FROM waitlist_entries w
		WHERE w.meeting_id = $1 AND w.notified_at IS NULL AND w.offer_failed_at IS NULL
		ORDER BY w.position ASC, w.created_at ASC
		LIMIT 1`, meetingID)
}

func (r *Repository) one(ctx context.Context, q string, args ...any) (*models.WaitlistEntry, error) {
	e, err := scanEntry(database.Conn(ctx, r.pool).QueryRow(ctx, q, args...))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry: %w", err)
	}
	return e, nil
}

// NextPosition reserves the next position for the meeting: one past the highest position ever
// assigned, so removing the tail entry never frees its number. Call it under the meeting lock.
func (r *Repository) NextPosition(ctx context.Context, meetingID uuid.UUID) (int, error) {
	const q = `UPDATE meetings SET waitlist_last_position = GREATEST(
			waitlist_last_position,
			(SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE meeting_id = $1)
		) + 1
		WHERE id = $1
		RETURNING waitlist_last_position`
	var n int
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, q, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("next waitlist position: %w", err)
	}
	return n, nil
}

// Insert stores a new entry. Unique violations on (meeting, user) or (meeting, position) return ErrConflict.
func (r *Repository) Insert(ctx context.Context, e *models.WaitlistEntry) error {
	const q = `INSERT INTO waitlist_entries (user_id, meeting_id, position) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, e.UserID, e.MeetingID, e.Position).Scan(&e.ID, &e.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// Delete removes an entry. False means it was already gone.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete waitlist entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkNotified stamps an offer on an entry that has none yet and clears any failed attempt.
func (r *Repository) MarkNotified(ctx context.Context, id uuid.UUID, at, deadline time.Time) (bool, error) {
	const q = `UPDATE waitlist_entries SET notified_at = $2, response_deadline = $3, offer_failed_at = NULL
		WHERE id = $1 AND notified_at IS NULL`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, at, deadline)
	if err != nil {
		return false, fmt.Errorf("mark waitlist entry notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkOfferFailed records that a spot offer to the entry could not be delivered.
func (r *Repository) MarkOfferFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE waitlist_entries SET offer_failed_at = $2 WHERE id = $1 AND notified_at IS NULL`
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("mark waitlist offer failed: %w", err)
	}
	return nil
}

// ListOwedOffers returns the meeting's entries whose spot offer failed, in position order.
func (r *Repository) ListOwedOffers(ctx context.Context, meetingID uuid.UUID) ([]models.WaitlistEntry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM waitlist_entries w
		WHERE w.meeting_id = $1 AND w.offer_failed_at IS NOT NULL AND w.notified_at IS NULL
		ORDER BY w.position ASC, w.created_at ASC`, meetingID)
}

// ListExpiredOffers returns notified entries whose response deadline is before now.
func (r *Repository) ListExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM waitlist_entries w
		WHERE w.notified_at IS NOT NULL AND w.response_deadline < $1
		ORDER BY w.meeting_id, w.position`, now)
}

// DeleteExpiredOffer removes the entry only if its offer is still expired at now.
func (r *Repository) DeleteExpiredOffer(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	const q = `DELETE FROM waitlist_entries WHERE id = $1 AND notified_at IS NOT NULL AND response_deadline < $2`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, now)
	if err != nil {
		return false, fmt.Errorf("delete expired waitlist offer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns a member's entries with their meeting.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.WaitlistEntry, error) {
	q := `SELECT ` + columns + `, ` + meetings.Columns + ` FROM waitlist_entries w
		JOIN meetings m ON m.id = w.meeting_id
		WHERE w.user_id = $1 AND ($2::uuid IS NULL OR w.meeting_id = $2)
		ORDER BY m.starts_at ASC`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, userID, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	defer rows.Close()

	var list []models.WaitlistEntry
	for rows.Next() {
		var m models.Meeting
		e, err := scanEntry(rows, &m.ID, &m.Title, &m.MeetingType, &m.StartsAt, &m.Location, &m.Capacity, &m.Fee, &m.Status, &m.RefundPolicyType, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		e.Meeting = &m
		list = append(list, *e)
	}
	return list, rows.Err()
}

// ListOpenSlots returns upcoming open meetings that owe a failed offer and still have seats
// left after counting active registrations and outstanding offers.
func (r *Repository) ListOpenSlots(ctx context.Context, now time.Time) ([]OpenSlot, error) {
	const q = `SELECT m.id, m.capacity
			- (SELECT COUNT(*) FROM registrations r WHERE r.meeting_id = m.id AND r.status IN ('pending_transfer', 'confirmed'))
			- (SELECT COUNT(*) FROM waitlist_entries o WHERE o.meeting_id = m.id AND o.notified_at IS NOT NULL AND o.response_deadline >= $1)
			AS free
		FROM meetings m
		WHERE m.status = 'open' AND m.starts_at > $1
		AND EXISTS (SELECT 1 FROM waitlist_entries w
			WHERE w.meeting_id = m.id AND w.offer_failed_at IS NOT NULL AND w.notified_at IS NULL)`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `SELECT id, free FROM (`+q+`) s WHERE free > 0`, now)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	defer rows.Close()

	var out []OpenSlot
	for rows.Next() {
		var s OpenSlot
		if err := rows.Scan(&s.MeetingID, &s.Free); err != nil {
			return nil, fmt.Errorf("scan open slot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.WaitlistEntry, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	defer rows.Close()

	var list []models.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}
