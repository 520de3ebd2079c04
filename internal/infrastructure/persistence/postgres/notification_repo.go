package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// NotificationRepository implements request.NotificationRepository.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `
	id, request_id, donor_id, urgency_band, sent_at,
	viewed_at, responded_at, response_type, timeout_at, is_expired
`

// Create inserts a notification. Notifying the same donor twice for one
// request is rejected as a duplicate.
func (r *NotificationRepository) Create(ctx context.Context, n *request.DonorNotification) error {
	query := `
		INSERT INTO donor_notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.RequestID,
		n.DonorID,
		string(n.UrgencyBand),
		n.SentAt,
		nullTime(n.ViewedAt),
		nullTime(n.RespondedAt),
		nullResponse(n.ResponseType),
		nullTime(n.TimeoutAt),
		n.IsExpired,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("notification", "Create", shared.ErrAlreadyExists, "donor already notified for this request")
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// GetByID returns a notification by id.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*request.DonorNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM donor_notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, request.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// Update writes the response fields back.
func (r *NotificationRepository) Update(ctx context.Context, n *request.DonorNotification) error {
	query := `
		UPDATE donor_notifications SET
			viewed_at = $1,
			responded_at = $2,
			response_type = $3,
			timeout_at = $4,
			is_expired = $5
		WHERE id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		nullTime(n.ViewedAt),
		nullTime(n.RespondedAt),
		nullResponse(n.ResponseType),
		nullTime(n.TimeoutAt),
		n.IsExpired,
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	} else if affected == 0 {
		return request.ErrNotificationNotFound
	}
	return nil
}

// ListByRequest returns the notifications of a request in send order.
func (r *NotificationRepository) ListByRequest(ctx context.Context, requestID string) ([]*request.DonorNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM donor_notifications
		WHERE request_id = $1
		ORDER BY sent_at, id
	`
	return r.query(ctx, query, requestID)
}

// ListTimedOut returns open notifications whose deadline passed.
func (r *NotificationRepository) ListTimedOut(ctx context.Context, now time.Time) ([]*request.DonorNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM donor_notifications
		WHERE responded_at IS NULL
		  AND is_expired = FALSE
		  AND timeout_at IS NOT NULL
		  AND timeout_at < $1
		ORDER BY timeout_at, id
	`
	return r.query(ctx, query, now.UTC())
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...any) ([]*request.DonorNotification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*request.DonorNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*request.DonorNotification, error) {
	var (
		n                              request.DonorNotification
		band                           string
		sentAt                         time.Time
		viewedAt, respondedAt, timeout sql.NullTime
		responseType                   sql.NullString
	)

	err := row.Scan(
		&n.ID, &n.RequestID, &n.DonorID, &band, &sentAt,
		&viewedAt, &respondedAt, &responseType, &timeout, &n.IsExpired,
	)
	if err != nil {
		return nil, err
	}

	n.UrgencyBand = request.UrgencyBand(band)
	n.SentAt = sentAt.UTC()
	n.ViewedAt = timePtr(viewedAt)
	n.RespondedAt = timePtr(respondedAt)
	n.TimeoutAt = timePtr(timeout)
	if responseType.Valid {
		rt := request.ResponseType(responseType.String)
		n.ResponseType = &rt
	}
	return &n, nil
}

func nullResponse(rt *request.ResponseType) sql.NullString {
	if rt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*rt), Valid: true}
}
