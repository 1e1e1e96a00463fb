package users

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

const columns = `u.id, u.nickname, u.phone, u.role, u.first_regular_meeting_at, u.last_regular_meeting_at, u.total_participations, u.created_at, u.updated_at`

func scan(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Nickname, &u.Phone, &u.Role, &u.FirstRegularMeetingAt, &u.LastRegularMeetingAt, &u.TotalParticipations, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Repository handles the member profile mirror.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Profile is what the identity provider tells us about a member.
type Profile struct {
	ID       uuid.UUID
	Nickname string
	Phone    string
	Role     models.Role
}

// Ensure upserts the profile mirror. Empty nickname or phone never overwrite stored values.
func (r *Repository) Ensure(ctx context.Context, p Profile) error {
	role := p.Role
	if role == "" {
		role = models.RoleMember
	}
	const q = `INSERT INTO users (id, nickname, phone, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			nickname = COALESCE(NULLIF(EXCLUDED.nickname, ''), users.nickname),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
			role = EXCLUDED.role,
			updated_at = NOW()
		WHERE users.role IS DISTINCT FROM EXCLUDED.role
			OR (EXCLUDED.nickname <> '' AND users.nickname IS DISTINCT FROM EXCLUDED.nickname)
			OR (EXCLUDED.phone <> '' AND users.phone IS DISTINCT FROM EXCLUDED.phone)`
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, q, p.ID, p.Nickname, p.Phone, role); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// UpdateContact sets nickname and phone.
func (r *Repository) UpdateContact(ctx context.Context, id uuid.UUID, nickname, phone string) error {
	const q = `UPDATE users SET nickname = $1, phone = $2, updated_at = NOW() WHERE id = $3`
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, q, nickname, phone, id); err != nil {
		return fmt.Errorf("update user contact: %w", err)
	}
	return nil
}

// GetByID returns a user, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scan(database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+columns+` FROM users u WHERE u.id = $1`, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RecordRegularAttendance folds one completed regular meeting into the attendance stats.
func (r *Repository) RecordRegularAttendance(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET
			first_regular_meeting_at = LEAST(COALESCE(first_regular_meeting_at, $2), $2),
			last_regular_meeting_at = GREATEST(COALESCE(last_regular_meeting_at, $2), $2),
			total_participations = total_participations + 1,
			updated_at = NOW()
		WHERE id = $1`
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("record attendance: %w", err)
	}
	return nil
}

// IncrementParticipations counts a completed non-regular meeting.
func (r *Repository) IncrementParticipations(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET total_participations = total_participations + 1, updated_at = NOW() WHERE id = $1`
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, q, id); err != nil {
		return fmt.Errorf("increment participations: %w", err)
	}
	return nil
}

// ListWithPhone returns every member that can receive notifications.
func (r *Repository) ListWithPhone(ctx context.Context) ([]models.User, error) {
	return r.list(ctx, `SELECT `+columns+` FROM users u WHERE u.phone <> '' ORDER BY u.created_at`)
}

// ListConfirmedForMeeting returns users holding a confirmed registration for the meeting.
func (r *Repository) ListConfirmedForMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.User, error) {
	return r.list(ctx, `SELECT `+columns+` FROM users u
		JOIN registrations r ON r.user_id = u.id
		WHERE r.meeting_id = $1 AND r.status = 'confirmed'
		ORDER BY r.created_at`, meetingID)
}

// ListWithoutConfirmedBetween returns users with a phone and no confirmed registration for a
// meeting starting in [from, to).
func (r *Repository) ListWithoutConfirmedBetween(ctx context.Context, from, to time.Time) ([]models.User, error) {
	return r.list(ctx, `SELECT `+columns+` FROM users u
		WHERE u.phone <> ''
		AND NOT EXISTS (
			SELECT 1 FROM registrations r JOIN meetings m ON m.id = r.meeting_id
			WHERE r.user_id = u.id AND r.status = 'confirmed' AND m.starts_at >= $1 AND m.starts_at < $2
		)
		ORDER BY u.created_at`, from, to)
}

// ListFirstRegularBetween returns users whose first regular attendance is in [from, to] and who
// have fewer than maxParticipations attendances.
func (r *Repository) ListFirstRegularBetween(ctx context.Context, from, to time.Time, maxParticipations int) ([]models.User, error) {
	return r.list(ctx, `SELECT `+columns+` FROM users u
		WHERE u.first_regular_meeting_at IS NOT NULL
		AND u.first_regular_meeting_at >= $1 AND u.first_regular_meeting_at <= $2
		AND u.total_participations < $3
		ORDER BY u.first_regular_meeting_at`, from, to, maxParticipations)
}

// ListLastRegularBefore returns users whose last regular attendance is strictly before t.
func (r *Repository) ListLastRegularBefore(ctx context.Context, t time.Time) ([]models.User, error) {
	return r.list(ctx, `SELECT `+columns+` FROM users u
		WHERE u.last_regular_meeting_at IS NOT NULL AND u.last_regular_meeting_at < $1
		ORDER BY u.last_regular_meeting_at`, t)
}

// ListLastRegularBetween returns users whose last regular attendance is in [from, to].
func (r *Repository) ListLastRegularBetween(ctx context.Context, from, to time.Time) ([]models.User, error) {
	return r.list(ctx, `SELECT `+columns+` FROM users u
		WHERE u.last_regular_meeting_at IS NOT NULL
		AND u.last_regular_meeting_at >= $1 AND u.last_regular_meeting_at <= $2
		ORDER BY u.last_regular_meeting_at`, from, to)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.User, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var list []models.User
	for rows.Next() {
		u, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		list = append(list, *u)
	}
	return list, rows.Err()
}
