// Package memory implements the repositories on in-process maps. The worker
// falls back to it when no database is configured, and the application tests
// use it as their store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DONOR STORE
// ══════════════════════════════════════════════════════════════════════════════

// DonorStore keeps donors in insertion order, which is the retrieval order
// FindCandidates reports.
type DonorStore struct {
	mu sync.RWMutex

	donors map[string]*donor.Donor
	order  []string

	history map[string][]donor.HistoryEntry
}

// NewDonorStore creates an empty store.
func NewDonorStore() *DonorStore {
	return &DonorStore{
		donors:  make(map[string]*donor.Donor),
		history: make(map[string][]donor.HistoryEntry),
	}
}

// Create adds a donor. A duplicate id is rejected.
func (s *DonorStore) Create(_ context.Context, d *donor.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.donors[d.ID]; ok {
		return shared.NewDomainError("donor", "Create", shared.ErrAlreadyExists, "donor already exists")
	}
	s.donors[d.ID] = cloneDonor(d)
	s.order = append(s.order, d.ID)
	return nil
}

// GetByID returns a copy of the donor.
func (s *DonorStore) GetByID(_ context.Context, id string) (*donor.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.donors[id]
	if !ok {
		return nil, donor.ErrDonorNotFound
	}
	return cloneDonor(d), nil
}

// FindCandidates returns the matching pre-filter result.
func (s *DonorStore) FindCandidates(_ context.Context, group shared.BloodGroup) ([]*donor.Donor, error) {
	return s.filter(func(d *donor.Donor) bool { return d.IsCandidateFor(group) }), nil
}

// ListActive returns every active donor.
func (s *DonorStore) ListActive(_ context.Context) ([]*donor.Donor, error) {
	return s.filter(func(d *donor.Donor) bool { return d.IsActive }), nil
}

func (s *DonorStore) filter(keep func(*donor.Donor) bool) []*donor.Donor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*donor.Donor, 0, len(s.order))
	for _, id := range s.order {
		if d := s.donors[id]; keep(d) {
			out = append(out, cloneDonor(d))
		}
	}
	return out
}

func (s *DonorStore) UpdateEligibilityScore(_ context.Context, id string, score float64) error {
	return s.mutate(id, func(d *donor.Donor) { d.EligibilityScore = score })
}

func (s *DonorStore) UpdateReliabilityScore(_ context.Context, id string, score float64) error {
	return s.mutate(id, func(d *donor.Donor) { d.ReliabilityScore = score })
}

// UpdateLocation stores the donor's position.
func (s *DonorStore) UpdateLocation(_ context.Context, id string, p geo.Point, at time.Time) error {
	return s.mutate(id, func(d *donor.Donor) {
		d.Location = &p
		t := at.UTC()
		d.LocationUpdatedAt = &t
	})
}

// RecordDonation bumps the counters.
func (s *DonorStore) RecordDonation(_ context.Context, id string, completed bool, at time.Time) error {
	return s.mutate(id, func(d *donor.Donor) {
		d.TotalDonations++
		if completed {
			d.CompletedDonations++
			t := at.UTC()
			d.LastDonationDate = &t
		} else {
			d.CancelledDonations++
		}
	})
}

func (s *DonorStore) mutate(id string, fn func(*donor.Donor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.donors[id]
	if !ok {
		return donor.ErrDonorNotFound
	}
	fn(d)
	return nil
}

// ListHistory returns the ledger oldest first.
func (s *DonorStore) ListHistory(_ context.Context, donorID string) ([]donor.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[donorID]
	out := make([]donor.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// AppendHistory adds an entry for a known donor.
func (s *DonorStore) AppendHistory(_ context.Context, e donor.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.donors[e.DonorID]; !ok {
		return donor.ErrDonorNotFound
	}
	s.history[e.DonorID] = append(s.history[e.DonorID], e)
	return nil
}

func cloneDonor(d *donor.Donor) *donor.Donor {
	c := *d
	if d.Location != nil {
		p := *d.Location
		c.Location = &p
	}
	if d.MedicalHistory != nil {
		mh := *d.MedicalHistory
		c.MedicalHistory = &mh
	}
	c.LocationUpdatedAt = cloneTime(d.LocationUpdatedAt)
	c.LastDonationDate = cloneTime(d.LastDonationDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
