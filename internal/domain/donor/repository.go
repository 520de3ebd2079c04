package donor

import (
	"context"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// Repository is the donor store. Score writes touch a single column each so
// the store's per-row atomicity is enough; no in-process locking is needed.
type Repository interface {
	// Create adds the donor profile of a registered user.
	Create(ctx context.Context, d *Donor) error

	// GetByID returns ErrDonorNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*Donor, error)

	// FindCandidates returns donors of the group that are active, have
	// notifications enabled and a positive eligibility score, in a stable
	// retrieval order.
	FindCandidates(ctx context.Context, group shared.BloodGroup) ([]*Donor, error)

	// ListActive returns every active donor, for periodic score refreshes.
	ListActive(ctx context.Context) ([]*Donor, error)

	UpdateEligibilityScore(ctx context.Context, id string, score float64) error
	UpdateReliabilityScore(ctx context.Context, id string, score float64) error

	// UpdateLocation stores the donor's current position.
	UpdateLocation(ctx context.Context, id string, p geo.Point, at time.Time) error

	// RecordDonation bumps the donation counters. A completed donation also
	// becomes the last donation date.
	RecordDonation(ctx context.Context, id string, completed bool, at time.Time) error

	// ListHistory returns the donor's ledger, oldest first.
	ListHistory(ctx context.Context, donorID string) ([]HistoryEntry, error)

	// AppendHistory adds one immutable ledger entry.
	AppendHistory(ctx context.Context, e HistoryEntry) error
}
