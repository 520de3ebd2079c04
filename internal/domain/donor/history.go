package donor

import (
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// HistoryStatus is the outcome recorded for a donation.
type HistoryStatus string

const (
	HistoryPending    HistoryStatus = "PENDING"
	HistoryAccepted   HistoryStatus = "ACCEPTED"
	HistoryInProgress HistoryStatus = "IN_PROGRESS"
	HistoryCompleted  HistoryStatus = "COMPLETED"
	HistoryCancelled  HistoryStatus = "CANCELLED"
)

// IsValid checks if the status is known.
func (s HistoryStatus) IsValid() bool {
	switch s {
	case HistoryPending, HistoryAccepted, HistoryInProgress, HistoryCompleted, HistoryCancelled:
		return true
	default:
		return false
	}
}

// HistoryEntry is one row of the append-only donation ledger.
type HistoryEntry struct {
	ID           string
	DonorID      string
	RequestID    *string
	Status       HistoryStatus
	ResponseType *request.ResponseType
	AcceptedAt   *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	CreatedAt    time.Time
}

// ReferenceTime is the first set of completed, cancelled and accepted.
func (e HistoryEntry) ReferenceTime() (time.Time, bool) {
	for _, t := range []*time.Time{e.CompletedAt, e.CancelledAt, e.AcceptedAt} {
		if t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}

// Action describes a donor's response to be appended to the ledger.
type Action struct {
	RequestID    string
	Status       HistoryStatus
	ResponseType request.ResponseType
	// At is when the action happened; zero means now.
	At time.Time
}

// NewHistoryEntry builds the ledger row for an action. COMPLETED stamps
// CompletedAt, CANCELLED stamps CancelledAt, every entry stamps AcceptedAt.
func NewHistoryEntry(id, donorID string, a Action, now time.Time) (HistoryEntry, error) {
	if id == "" || donorID == "" {
		return HistoryEntry{}, shared.NewValidationError("donor", "RecordAction", "entry id and donor id are required")
	}
	if !a.Status.IsValid() {
		return HistoryEntry{}, shared.NewValidationError("donor", "RecordAction", "invalid history status: "+string(a.Status))
	}
	if a.ResponseType != "" && !a.ResponseType.IsValid() {
		return HistoryEntry{}, shared.NewValidationError("donor", "RecordAction", "invalid response type: "+string(a.ResponseType))
	}

	at := a.At
	if at.IsZero() {
		at = now
	}
	at = at.UTC()

	e := HistoryEntry{
		ID:         id,
		DonorID:    donorID,
		Status:     a.Status,
		AcceptedAt: &at,
		CreatedAt:  now.UTC(),
	}
	if a.RequestID != "" {
		rid := a.RequestID
		e.RequestID = &rid
	}
	if a.ResponseType != "" {
		rt := a.ResponseType
		e.ResponseType = &rt
	}
	switch a.Status {
	case HistoryCompleted:
		e.CompletedAt = &at
	case HistoryCancelled:
		e.CancelledAt = &at
	}
	return e, nil
}
