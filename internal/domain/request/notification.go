package request

import (
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ResponseType is a donor's answer to a notification.
type ResponseType string

const (
	ResponseAccepted       ResponseType = "ACCEPTED"
	ResponseDeclined       ResponseType = "DECLINED"
	ResponseIgnored        ResponseType = "IGNORED"
	ResponseFutureDonation ResponseType = "FUTURE_DONATION"
)

// IsValid checks if the response type is known.
func (r ResponseType) IsValid() bool {
	switch r {
	case ResponseAccepted, ResponseDeclined, ResponseIgnored, ResponseFutureDonation:
		return true
	default:
		return false
	}
}

var (
	ErrNotificationNotFound = shared.NewNotFoundError("notification", "Find", "donor notification not found")
	ErrAlreadyResponded     = shared.NewDomainError("notification", "Respond", shared.ErrStateTransition, "donor already responded")
)

// DonorNotification links a request to one candidate donor and tracks the
// per-donor response window.
type DonorNotification struct {
	ID           string
	RequestID    string
	DonorID      string
	UrgencyBand  UrgencyBand
	SentAt       time.Time
	ViewedAt     *time.Time
	RespondedAt  *time.Time
	ResponseType *ResponseType
	TimeoutAt    *time.Time
	IsExpired    bool
}

// NewDonorNotification creates a notification sent at now. RED notifications
// time out after the view window, PINK after the response window, WHITE never.
func NewDonorNotification(id, requestID, donorID string, band UrgencyBand, now time.Time) (*DonorNotification, error) {
	if id == "" || requestID == "" || donorID == "" {
		return nil, shared.NewValidationError("notification", "Create", "id, request id and donor id are required")
	}
	now = now.UTC()
	n := &DonorNotification{
		ID:          id,
		RequestID:   requestID,
		DonorID:     donorID,
		UrgencyBand: band,
		SentAt:      now,
	}

	t := Thresholds(band)
	switch {
	case t.HasViewTimeout():
		n.TimeoutAt = timePtr(now.Add(t.ViewTimeout))
	case t.HasResponseTimeout():
		n.TimeoutAt = timePtr(now.Add(t.ResponseTimeout))
	}
	return n, nil
}

// HasResponded reports whether the donor answered.
func (n *DonorNotification) HasResponded() bool {
	return n.RespondedAt != nil
}

// MarkViewed records the first view. For bands with a view window the
// deadline moves to now plus the response window.
func (n *DonorNotification) MarkViewed(now time.Time) bool {
	if n.ViewedAt != nil || n.HasResponded() || n.IsExpired {
		return false
	}
	now = now.UTC()
	n.ViewedAt = &now

	if t := Thresholds(n.UrgencyBand); t.HasViewTimeout() && t.HasResponseTimeout() {
		n.TimeoutAt = timePtr(now.Add(t.ResponseTimeout))
	}
	return true
}

// Respond records the donor's answer once.
func (n *DonorNotification) Respond(rt ResponseType, now time.Time) error {
	if !rt.IsValid() {
		return shared.NewValidationError("notification", "Respond", "invalid response type: "+string(rt))
	}
	if n.HasResponded() {
		return ErrAlreadyResponded
	}
	now = now.UTC()
	n.RespondedAt = &now
	n.ResponseType = &rt
	return nil
}

// HasExpired reports whether the response window passed without an answer.
func (n *DonorNotification) HasExpired(now time.Time) bool {
	if n.IsExpired {
		return true
	}
	if n.HasResponded() || n.TimeoutAt == nil {
		return false
	}
	return now.After(*n.TimeoutAt)
}

// MarkTimedOut flags the notification expired and records IGNORED.
func (n *DonorNotification) MarkTimedOut(now time.Time) bool {
	if n.IsExpired || n.HasResponded() {
		return false
	}
	n.IsExpired = true
	ignored := ResponseIgnored
	t := now.UTC()
	n.RespondedAt = &t
	n.ResponseType = &ignored
	return true
}

func timePtr(t time.Time) *time.Time {
	return &t
}
