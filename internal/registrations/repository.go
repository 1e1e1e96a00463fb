package registrations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jidokhae/backend/internal/meetings"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/internal/users"
	"github.com/jidokhae/backend/pkg/database"
)

const activeIndex = "registrations_active_user_meeting"

const columns = `r.id, r.user_id, r.meeting_id, r.status, r.payment_method, r.payment_amount, r.depositor_name,
	r.deposit_deadline, r.confirmed_at, r.confirmed_by, r.cancelled_at, r.cancel_reason,
	r.refund_bank, r.refund_account, r.refund_holder, r.refund_amount, r.participation_status,
	r.created_at, r.updated_at`

func scanRegistration(row pgx.Row, extra ...any) (*models.Registration, error) {
	var reg models.Registration
	dest := []any{&reg.ID, &reg.UserID, &reg.MeetingID, &reg.Status, &reg.PaymentMethod, &reg.PaymentAmount, &reg.DepositorName,
		&reg.DepositDeadline, &reg.ConfirmedAt, &reg.ConfirmedBy, &reg.CancelledAt, &reg.CancelReason,
		&reg.RefundBank, &reg.RefundAccount, &reg.RefundHolder, &reg.RefundAmount, &reg.ParticipationStatus,
		&reg.CreatedAt, &reg.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Repository is the Postgres Store. Every query joins the transaction on ctx when present.
type Repository struct {
	pool     *pgxpool.Pool
	meetings *meetings.Repository
	users    *users.Repository
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool, meetingRepo *meetings.Repository, userRepo *users.Repository) *Repository {
	return &Repository{pool: pool, meetings: meetingRepo, users: userRepo}
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

func (r *Repository) Occupancy(ctx context.Context, meetingID uuid.UUID) (models.Occupancy, error) {
	return r.meetings.Occupancy(ctx, meetingID)
}

// CountActive counts pending_transfer and confirmed registrations for a meeting.
func (r *Repository) CountActive(ctx context.Context, meetingID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM registrations WHERE meeting_id = $1 AND status IN ('pending_transfer', 'confirmed')`
	var n int
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, q, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
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

// Insert stores a new registration. A clash on the active-pair index returns ErrActiveExists.
func (r *Repository) Insert(ctx context.Context, reg *models.Registration) error {
	const q = `INSERT INTO registrations (user_id, meeting_id, status, payment_method, payment_amount, depositor_name, deposit_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, reg.UserID, reg.MeetingID, reg.Status, reg.PaymentMethod, reg.PaymentAmount, reg.DepositorName, reg.DepositDeadline).
		Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if database.IsUniqueViolation(err, activeIndex) {
		return ErrActiveExists
	}
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// DeleteWaitlistEntry removes the user's waitlist entry for the meeting, if any.
func (r *Repository) DeleteWaitlistEntry(ctx context.Context, userID, meetingID uuid.UUID) error {
	const q = `DELETE FROM waitlist_entries WHERE user_id = $1 AND meeting_id = $2`
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, q, userID, meetingID); err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	return nil
}

// CountWaitlist counts queued entries for a meeting.
func (r *Repository) CountWaitlist(ctx context.Context, meetingID uuid.UUID) (int, error) {
	var n int
	err := database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM waitlist_entries WHERE meeting_id = $1`, meetingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return n, nil
}

// GetByID returns a registration, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	reg, err := scanRegistration(database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+columns+` FROM registrations r WHERE r.id = $1`, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// MarkConfirmed moves pending_transfer to confirmed. False means the row was not pending.
func (r *Repository) MarkConfirmed(ctx context.Context, id, operatorID uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE registrations SET status = 'confirmed', confirmed_at = $2, confirmed_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_transfer'`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, at, operatorID)
	if err != nil {
		return false, fmt.Errorf("confirm registration: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelled cancels a registration still in status from. False means the status moved.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID, from models.RegistrationStatus, c Cancellation) (bool, error) {
	const q = `UPDATE registrations SET status = 'cancelled', cancelled_at = $3, cancel_reason = $4,
			refund_bank = $5, refund_account = $6, refund_holder = $7, refund_amount = $8, updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, from, c.At, c.Reason, c.RefundBank, c.RefundAccount, c.RefundHolder, c.RefundAmount)
	if err != nil {
		return false, fmt.Errorf("cancel registration: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdue expires every pending_transfer whose deadline is before now in one statement.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
	const q = `UPDATE registrations SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending_transfer' AND deposit_deadline < $1
		RETURNING id, user_id, meeting_id`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("expire registrations: %w", err)
	}
	defer rows.Close()

	var out []models.ExpiredRegistration
	for rows.Next() {
		var e models.ExpiredRegistration
		if err := rows.Scan(&e.ID, &e.UserID, &e.MeetingID); err != nil {
			return nil, fmt.Errorf("scan expired registration: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByUser returns a member's registrations with their meeting, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, meetingID *uuid.UUID) ([]models.Registration, error) {
	q := `SELECT ` + columns + `, ` + meetings.Columns + ` FROM registrations r
		JOIN meetings m ON m.id = r.meeting_id
		WHERE r.user_id = $1 AND ($2::uuid IS NULL OR r.meeting_id = $2)
		ORDER BY r.created_at DESC`
	return r.listWithMeeting(ctx, q, userID, meetingID)
}

// ListPending returns pending transfers with their meeting, oldest deadline first.
func (r *Repository) ListPending(ctx context.Context, meetingID *uuid.UUID) ([]models.Registration, error) {
	q := `SELECT ` + columns + `, ` + meetings.Columns + ` FROM registrations r
		JOIN meetings m ON m.id = r.meeting_id
		WHERE r.status = 'pending_transfer' AND ($1::uuid IS NULL OR r.meeting_id = $1)
		ORDER BY r.deposit_deadline ASC`
	return r.listWithMeeting(ctx, q, meetingID)
}

func (r *Repository) listWithMeeting(ctx context.Context, q string, args ...any) ([]models.Registration, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var list []models.Registration
	for rows.Next() {
		var m models.Meeting
		reg, err := scanRegistration(rows, &m.ID, &m.Title, &m.MeetingType, &m.StartsAt, &m.Location, &m.Capacity, &m.Fee, &m.Status, &m.RefundPolicyType, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		reg.Meeting = &m
		list = append(list, *reg)
	}
	return list, rows.Err()
}

// MarkParticipation records the outcome once, for a confirmed registration.
func (r *Repository) MarkParticipation(ctx context.Context, id uuid.UUID, outcome models.ParticipationStatus) (bool, error) {
	const q = `UPDATE registrations SET participation_status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed' AND participation_status IS NULL`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, outcome)
	if err != nil {
		return false, fmt.Errorf("mark participation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAttendance updates the member's attendance stats for a completed meeting.
func (r *Repository) RecordAttendance(ctx context.Context, userID uuid.UUID, meetingType models.MeetingType, at time.Time) error {
	if meetingType == models.MeetingTypeRegular {
		return r.users.RecordRegularAttendance(ctx, userID, at)
	}
	return r.users.IncrementParticipations(ctx, userID)
}

// RefundPolicies returns the rules for a policy type, largest days_before first.
func (r *Repository) RefundPolicies(ctx context.Context, policyType models.MeetingType) ([]models.RefundPolicy, error) {
	const q = `SELECT meeting_type, days_before, refund_rate::text FROM refund_policies
		WHERE meeting_type = $1 ORDER BY days_before DESC`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, policyType)
	if err != nil {
		return nil, fmt.Errorf("list refund policies: %w", err)
	}
	defer rows.Close()

	var list []models.RefundPolicy
	for rows.Next() {
		var p models.RefundPolicy
		var rate string
		if err := rows.Scan(&p.MeetingType, &p.DaysBefore, &rate); err != nil {
			return nil, fmt.Errorf("scan refund policy: %w", err)
		}
		if p.RefundRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("parse refund rate %q: %w", rate, err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
