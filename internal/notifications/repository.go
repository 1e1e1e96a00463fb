package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/database"
)

// Repository handles notification_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts a delivery attempt.
func (r *Repository) Save(ctx context.Context, l *models.NotificationLog) error {
	const q = `INSERT INTO notification_logs (user_id, notification_type, meeting_id, recipient, message_content, status, error_message, message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, l.UserID, l.NotificationType, l.MeetingID, l.Recipient, l.MessageContent, l.Status, l.ErrorMessage, l.MessageID, l.SentAt).
		Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("save notification log: %w", err)
	}
	return nil
}

// HasRecent reports whether any attempt (successful or failed) for the tuple was logged at or
// after since. A nil meetingID matches any meeting.
func (r *Repository) HasRecent(ctx context.Context, userID uuid.UUID, notificationType string, meetingID *uuid.UUID, since time.Time) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM notification_logs
		WHERE user_id = $1 AND notification_type = $2 AND sent_at >= $3
		AND ($4::uuid IS NULL OR meeting_id = $4))`
	var ok bool
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, q, userID, notificationType, since, meetingID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	return ok, nil
}

// List returns logs newest first, optionally filtered by status, plus the total match count.
func (r *Repository) List(ctx context.Context, status string, limit, offset int) ([]models.NotificationLog, int, error) {
	conn := database.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification_logs WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notification logs: %w", err)
	}

	const q = `SELECT id, user_id, notification_type, meeting_id, recipient, message_content, status, error_message, message_id, sent_at
		FROM notification_logs
		WHERE ($1 = '' OR status = $1)
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := conn.Query(ctx, q, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notification logs: %w", err)
	}
	defer rows.Close()

	list := []models.NotificationLog{}
	for rows.Next() {
		var l models.NotificationLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.NotificationType, &l.MeetingID, &l.Recipient, &l.MessageContent, &l.Status, &l.ErrorMessage, &l.MessageID, &l.SentAt); err != nil {
			return nil, 0, fmt.Errorf("scan notification log: %w", err)
		}
		list = append(list, l)
	}
	return list, total, rows.Err()
}
