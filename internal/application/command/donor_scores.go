package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DONOR SCORE SERVICE
// Owns the two score columns of a donor. Eligibility is recomputed from the
// donor row; reliability is folded from the append-only history ledger.
// ══════════════════════════════════════════════════════════════════════════════

// DonorScoreService recomputes and persists donor scores.
type DonorScoreService struct {
	donors donor.Repository
	clock  timeutil.Clock
	newID  IDGenerator
	log    *logger.Logger
}

// NewDonorScoreService creates the service. Nil clock, id generator and
// logger fall back to the system clock, UUIDs and a no-op logger.
func NewDonorScoreService(donors donor.Repository, clock timeutil.Clock, newID IDGenerator, log *logger.Logger) *DonorScoreService {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if newID == nil {
		newID = NewID
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DonorScoreService{
		donors: donors,
		clock:  clock,
		newID:  newID,
		log:    log.Named("donor_scores"),
	}
}

// RecalculateEligibility scores the donor now and stores the result.
func (s *DonorScoreService) RecalculateEligibility(ctx context.Context, donorID string) (donor.EligibilityReport, error) {
	d, err := s.donors.GetByID(ctx, donorID)
	if err != nil {
		return donor.EligibilityReport{}, err
	}
	return s.refreshEligibility(ctx, d)
}

func (s *DonorScoreService) refreshEligibility(ctx context.Context, d *donor.Donor) (donor.EligibilityReport, error) {
	report := donor.EligibilityStatus(d, s.clock.Now())
	if float64(report.Score) == d.EligibilityScore {
		return report, nil
	}
	if err := s.donors.UpdateEligibilityScore(ctx, d.ID, float64(report.Score)); err != nil {
		return donor.EligibilityReport{}, fmt.Errorf("update eligibility score: %w", err)
	}
	s.log.Debug("eligibility updated",
		logger.DonorID(d.ID),
		logger.Float64("from", d.EligibilityScore),
		logger.Int("to", report.Score))
	return report, nil
}

// RecordAction appends one ledger entry and stores the refolded reliability
// score. The score write is the only change it makes to the donor record.
func (s *DonorScoreService) RecordAction(ctx context.Context, donorID string, action donor.Action) (float64, error) {
	d, err := s.donors.GetByID(ctx, donorID)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	entry, err := donor.NewHistoryEntry(s.newID(), d.ID, action, now)
	if err != nil {
		return 0, err
	}
	if err := s.donors.AppendHistory(ctx, entry); err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}

	score, err := s.refreshReliability(ctx, d.ID, now)
	if err != nil {
		return 0, err
	}

	s.log.Info("donor action recorded",
		logger.DonorID(d.ID),
		logger.String("status", string(action.Status)),
		logger.String("response", string(action.ResponseType)),
		logger.Float64("reliability", score))
	return score, nil
}

// RecordDonation bumps the donor's donation counters. A completed donation
// also becomes the last donation date, so eligibility is re-scored.
func (s *DonorScoreService) RecordDonation(ctx context.Context, donorID string, completed bool, at time.Time) error {
	if _, err := s.donors.GetByID(ctx, donorID); err != nil {
		return err
	}
	if err := s.donors.RecordDonation(ctx, donorID, completed, at); err != nil {
		return fmt.Errorf("record donation: %w", err)
	}
	if !completed {
		return nil
	}
	_, err := s.RecalculateEligibility(ctx, donorID)
	return err
}

func (s *DonorScoreService) refreshReliability(ctx context.Context, donorID string, now time.Time) (float64, error) {
	history, err := s.donors.ListHistory(ctx, donorID)
	if err != nil {
		return 0, fmt.Errorf("list history: %w", err)
	}
	score := donor.ReliabilityScore(history, now)
	if err := s.donors.UpdateReliabilityScore(ctx, donorID, score); err != nil {
		return 0, fmt.Errorf("update reliability score: %w", err)
	}
	return score, nil
}

// RefreshResult summarises a RefreshAll pass.
type RefreshResult struct {
	Scanned int
	Updated int
	Failed  int
}

// RefreshAll re-scores every active donor. Eligibility drifts as donation
// dates age and reliability as ledger entries pass the decay horizon. A
// failing donor does not stop the pass.
func (s *DonorScoreService) RefreshAll(ctx context.Context) (RefreshResult, error) {
	donors, err := s.donors.ListActive(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("list active donors: %w", err)
	}

	var (
		res  RefreshResult
		errs []error
	)
	now := s.clock.Now()
	for _, d := range donors {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		report, err := s.refreshEligibility(ctx, d)
		if err == nil {
			var score float64
			score, err = s.refreshReliability(ctx, d.ID, now)
			if err == nil && (float64(report.Score) != d.EligibilityScore || score != d.ReliabilityScore) {
				res.Updated++
			}
		}
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("donor %s: %w", d.ID, err))
			s.log.Warn("donor refresh failed", logger.DonorID(d.ID), logger.Err(err))
		}
	}
	return res, errors.Join(errs...)
}

// UpdateLocation stores the donor's position from "POINT(lon lat)" text.
func (s *DonorScoreService) UpdateLocation(ctx context.Context, donorID, pointText string) (geo.Point, error) {
	p, err := geo.ParsePoint(pointText)
	if err != nil {
		return geo.Point{}, err
	}
	if err := s.donors.UpdateLocation(ctx, donorID, p, s.clock.Now()); err != nil {
		return geo.Point{}, err
	}
	return p, nil
}

// DonorProfile is a donor with its score reports and ledger.
type DonorProfile struct {
	Donor       *donor.Donor
	Eligibility donor.EligibilityReport
	Reliability donor.ReliabilityReport
	History     []donor.HistoryEntry
}

// Profile reports the donor's standing as of now without writing anything.
func (s *DonorScoreService) Profile(ctx context.Context, donorID string) (*DonorProfile, error) {
	d, err := s.donors.GetByID(ctx, donorID)
	if err != nil {
		return nil, err
	}
	history, err := s.donors.ListHistory(ctx, donorID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	now := s.clock.Now()
	return &DonorProfile{
		Donor:       d,
		Eligibility: donor.EligibilityStatus(d, now),
		Reliability: donor.ReliabilityStatus(donor.ReliabilityScore(history, now)),
		History:     history,
	}, nil
}
