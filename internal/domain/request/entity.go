package request

import (
	"strings"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrRequestNotFound   = shared.NewNotFoundError("request", "Find", "blood request not found")
	ErrInvalidTransition = shared.NewDomainError("request", "Transition", shared.ErrStateTransition, "invalid request status transition")

	// ErrStatusConflict means the stored status no longer matches the one
	// the update was computed from.
	ErrStatusConflict = shared.NewDomainError("request", "Update", shared.ErrStateTransition, "blood request status changed concurrently")
)

// ExpiredMessage is sent to the notifier when a RED request times out.
const ExpiredMessage = "Request expired - donor not available"

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of a blood request.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusDonorAccepted Status = "DONOR_ACCEPTED"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusCompleted     Status = "COMPLETED"
	StatusCancelled     Status = "CANCELLED"
	StatusExpired       Status = "EXPIRED"
)

// allowedTransitions lists the forward moves from every non-terminal state.
// Terminal states have no entry.
var allowedTransitions = map[Status][]Status{
	StatusPending:       {StatusDonorAccepted, StatusCancelled, StatusExpired},
	StatusDonorAccepted: {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusCompleted, StatusCancelled},
}

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDonorAccepted, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// CanTransitionTo checks the state machine.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range allowedTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// TerminalStatuses lists the states a request never leaves.
var TerminalStatuses = []Status{StatusCompleted, StatusCancelled, StatusExpired}

// ══════════════════════════════════════════════════════════════════════════════
// BLOOD REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// BloodRequest is a requester's call for donors of a given blood group.
// UrgencyBand and EmergencyWarning are fixed at creation.
type BloodRequest struct {
	ID                string
	RequesterID       string
	BloodGroup        shared.BloodGroup
	Location          geo.Point
	RequiredTimeframe string
	UrgencyBand       UrgencyBand
	EmergencyWarning  bool
	HospitalName      string
	Status            Status
	CreatedAt         time.Time
	ViewedAt          *time.Time
	ExpiresAt         *time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

// NewBloodRequestParams are the inputs of NewBloodRequest.
type NewBloodRequestParams struct {
	ID                string
	RequesterID       string
	BloodGroup        string
	Location          *geo.Point
	RequiredTimeframe string
	HospitalName      string
}

// NewBloodRequest classifies the timeframe and creates a PENDING request.
func NewBloodRequest(params NewBloodRequestParams, now time.Time) (*BloodRequest, error) {
	if params.ID == "" {
		return nil, shared.NewValidationError("request", "Create", "request id is required")
	}
	if strings.TrimSpace(params.RequesterID) == "" {
		return nil, shared.NewValidationError("request", "Create", "requester id is required")
	}

	group, err := shared.ParseBloodGroup(params.BloodGroup)
	if err != nil {
		return nil, err
	}

	if params.Location == nil {
		return nil, shared.NewValidationError("request", "Create", "location is required")
	}
	if !params.Location.IsValid() {
		return nil, shared.NewValidationError("request", "Create", "location coordinates out of range")
	}

	class, err := Classify(params.RequiredTimeframe)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	r := &BloodRequest{
		ID:                params.ID,
		RequesterID:       params.RequesterID,
		BloodGroup:        group,
		Location:          *params.Location,
		RequiredTimeframe: params.RequiredTimeframe,
		UrgencyBand:       class.UrgencyBand,
		EmergencyWarning:  class.EmergencyWarning,
		HospitalName:      strings.TrimSpace(params.HospitalName),
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.refreshExpiresAt()
	return r, nil
}

// IsTerminal reports whether the request reached a final state.
func (r *BloodRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// MarkViewed records the first time a donor opened the request.
// Later calls and calls on terminal requests are no-ops.
func (r *BloodRequest) MarkViewed(now time.Time) bool {
	if r.ViewedAt != nil || r.IsTerminal() {
		return false
	}
	t := now.UTC()
	r.ViewedAt = &t
	r.UpdatedAt = t
	r.refreshExpiresAt()
	return true
}

// ExpirationThreshold is the allowed idle time before a RED request expires:
// the view timeout until someone looks at it, the response timeout after.
func (r *BloodRequest) ExpirationThreshold() time.Duration {
	t := Thresholds(UrgencyRed)
	if r.ViewedAt != nil {
		return t.ResponseTimeout
	}
	return t.ViewTimeout
}

// ExpirationDue reports whether a pending RED request has been idle longer
// than its threshold. Other bands never expire through this path.
func (r *BloodRequest) ExpirationDue(now time.Time) bool {
	if r.UrgencyBand != UrgencyRed || r.Status != StatusPending {
		return false
	}
	ref := r.CreatedAt
	if r.ViewedAt != nil {
		ref = *r.ViewedAt
	}
	return now.Sub(ref) > r.ExpirationThreshold()
}

// Accept moves the request to DONOR_ACCEPTED.
func (r *BloodRequest) Accept(now time.Time) error {
	return r.transition(StatusDonorAccepted, now)
}

// Start moves the request to IN_PROGRESS.
func (r *BloodRequest) Start(now time.Time) error {
	return r.transition(StatusInProgress, now)
}

// Complete moves the request to COMPLETED and stamps CompletedAt.
func (r *BloodRequest) Complete(now time.Time) error {
	if err := r.transition(StatusCompleted, now); err != nil {
		return err
	}
	t := now.UTC()
	r.CompletedAt = &t
	return nil
}

// Cancel moves the request to CANCELLED.
func (r *BloodRequest) Cancel(now time.Time) error {
	return r.transition(StatusCancelled, now)
}

// Expire moves the request to EXPIRED.
func (r *BloodRequest) Expire(now time.Time) error {
	return r.transition(StatusExpired, now)
}

func (r *BloodRequest) transition(target Status, now time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		return shared.WrapError("request", "Transition", shared.ErrStateTransition,
			string(r.Status)+" -> "+string(target), ErrInvalidTransition)
	}
	r.Status = target
	r.UpdatedAt = now.UTC()
	if target != StatusPending {
		r.ExpiresAt = nil
	}
	return nil
}

// refreshExpiresAt keeps ExpiresAt in line with the RED expiration window so
// stores can index pending deadlines. Non-RED requests carry no deadline.
func (r *BloodRequest) refreshExpiresAt() {
	if r.UrgencyBand != UrgencyRed || r.Status != StatusPending {
		r.ExpiresAt = nil
		return
	}
	ref := r.CreatedAt
	if r.ViewedAt != nil {
		ref = *r.ViewedAt
	}
	exp := ref.Add(r.ExpirationThreshold())
	r.ExpiresAt = &exp
}
