package request

import (
	"context"
	"time"
)

// Repository persists blood requests.
type Repository interface {
	// Create inserts a new request.
	Create(ctx context.Context, r *BloodRequest) error

	// GetByID returns ErrRequestNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*BloodRequest, error)

	// Update writes status and timestamps back only while the stored status
	// is still from. Otherwise it returns ErrStatusConflict.
	Update(ctx context.Context, r *BloodRequest, from Status) error

	// ListPending returns PENDING requests of a band, oldest first.
	ListPending(ctx context.Context, band UrgencyBand) ([]*BloodRequest, error)
}

// NotificationRepository persists donor notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *DonorNotification) error
	GetByID(ctx context.Context, id string) (*DonorNotification, error)
	Update(ctx context.Context, n *DonorNotification) error
	ListByRequest(ctx context.Context, requestID string) ([]*DonorNotification, error)

	// ListTimedOut returns unanswered, unexpired notifications whose
	// timeout is before now.
	ListTimedOut(ctx context.Context, now time.Time) ([]*DonorNotification, error)
}
