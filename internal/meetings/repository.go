package meetings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/database"
)

// Columns is the select list matched by Scan. Other repositories join meetings with it.
const Columns = `m.id, m.title, m.meeting_type, m.starts_at, m.location, m.capacity, m.fee, m.status, m.refund_policy_type, m.created_at, m.updated_at`

// Scan reads a meeting selected with Columns.
func Scan(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(&m.ID, &m.Title, &m.MeetingType, &m.StartsAt, &m.Location, &m.Capacity, &m.Fee, &m.Status, &m.RefundPolicyType, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Repository handles meeting persistence. Queries join the caller's transaction when one is on ctx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meeting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new meeting.
func (r *Repository) Create(ctx context.Context, m *models.Meeting) error {
	const q = `INSERT INTO meetings (title, meeting_type, starts_at, location, capacity, fee, status, refund_policy_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	return database.Conn(ctx, r.pool).QueryRow(ctx, q, m.Title, m.MeetingType, m.StartsAt, m.Location, m.Capacity, m.Fee, m.Status, m.RefundPolicyType).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// GetByID returns a meeting by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	q := `SELECT ` + Columns + ` FROM meetings m WHERE m.id = $1`
	m, err := Scan(database.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return m, nil
}

// LockByID selects the meeting row FOR UPDATE. It must run inside database.WithTx; every
// capacity or position decision for the meeting is serialized behind this lock.
func (r *Repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	tx := database.TxFromContext(ctx)
	if tx == nil {
		return nil, fmt.Errorf("lock meeting: no transaction on context")
	}
	q := `SELECT ` + Columns + ` FROM meetings m WHERE m.id = $1 FOR UPDATE`
	m, err := Scan(tx.QueryRow(ctx, q, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock meeting: %w", err)
	}
	return m, nil
}

// ListUpcoming returns meetings starting at or after from, soonest first.
func (r *Repository) ListUpcoming(ctx context.Context, from time.Time, onlyOpen bool) ([]models.Meeting, error) {
	q := `SELECT ` + Columns + ` FROM meetings m WHERE m.starts_at >= $1`
	if onlyOpen {
		q += ` AND m.status = 'open'`
	}
	q += ` ORDER BY m.starts_at ASC`
	return r.list(ctx, q, from)
}

// ListStartingBetween returns non-cancelled meetings with from <= starts_at < to.
func (r *Repository) ListStartingBetween(ctx context.Context, from, to time.Time) ([]models.Meeting, error) {
	q := `SELECT ` + Columns + ` FROM meetings m
		WHERE m.starts_at >= $1 AND m.starts_at < $2 AND m.status <> 'cancelled'
		ORDER BY m.starts_at ASC`
	return r.list(ctx, q, from, to)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Meeting, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var list []models.Meeting
	for rows.Next() {
		m, err := Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// UpdateStatus sets the meeting status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.MeetingStatus) (bool, error) {
	const q = `UPDATE meetings SET status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, q, status, id)
	if err != nil {
		return false, fmt.Errorf("update meeting status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Occupancy counts active registrations and waitlist entries for a meeting.
func (r *Repository) Occupancy(ctx context.Context, meetingID uuid.UUID) (models.Occupancy, error) {
	const q = `SELECT m.capacity,
		(SELECT COUNT(*) FROM registrations r WHERE r.meeting_id = m.id AND r.status IN ('pending_transfer', 'confirmed')),
		(SELECT COUNT(*) FROM waitlist_entries w WHERE w.meeting_id = m.id)
		FROM meetings m WHERE m.id = $1`
	occ := models.Occupancy{MeetingID: meetingID}
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, meetingID).Scan(&occ.Capacity, &occ.Occupied, &occ.Waitlist)
	if err != nil {
		return occ, fmt.Errorf("meeting occupancy: %w", err)
	}
	return occ, nil
}
