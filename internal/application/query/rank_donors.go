// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/matching"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK DONORS QUERY
// Finds the donors of a blood group and orders them best-first for a
// request location. Distance is great-circle; ETA comes from live traffic
// when available and from the average-speed estimate otherwise.
// ══════════════════════════════════════════════════════════════════════════════

// MsgRankInputRequired is returned when the blood group or location is missing.
const MsgRankInputRequired = "Blood group and location are required"

// MsgInvalidLocation is returned for a request location outside WGS84 ranges.
const MsgInvalidLocation = "Request location coordinates are out of range"

// CandidateSource returns the donors passing the matching pre-filter.
type CandidateSource interface {
	FindCandidates(ctx context.Context, group shared.BloodGroup) ([]*donor.Donor, error)
}

// ETAProvider returns a live driving ETA in minutes.
type ETAProvider interface {
	ETA(ctx context.Context, origin, destination geo.Point) (float64, error)
}

// EngineConfig contains configuration for the ranking engine.
type EngineConfig struct {
	Strategy matching.Strategy

	// ETATimeout bounds each live lookup; zero means 5 seconds.
	ETATimeout time.Duration

	// MaxConcurrentETA bounds the lookups in flight; zero means 8.
	MaxConcurrentETA int

	// AverageSpeedKmh drives the fallback estimate.
	AverageSpeedKmh float64

	Logger *logger.Logger
}

// DefaultEngineConfig returns the composite strategy with 5s lookups.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Strategy:         matching.NewCompositeRanking(),
		ETATimeout:       5 * time.Second,
		MaxConcurrentETA: 8,
		AverageSpeedKmh:  geo.DefaultAverageSpeedKmh,
	}
}

// Engine ranks donors. It is safe for concurrent use.
type Engine struct {
	candidates CandidateSource
	eta        ETAProvider
	cfg        EngineConfig
	log        *logger.Logger
}

// NewEngine creates the engine. A nil eta provider means every ETA uses the
// average-speed estimate.
func NewEngine(candidates CandidateSource, eta ETAProvider, cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.Strategy == nil {
		cfg.Strategy = def.Strategy
	}
	if cfg.ETATimeout <= 0 {
		cfg.ETATimeout = def.ETATimeout
	}
	if cfg.MaxConcurrentETA <= 0 {
		cfg.MaxConcurrentETA = def.MaxConcurrentETA
	}
	if cfg.AverageSpeedKmh <= 0 {
		cfg.AverageSpeedKmh = def.AverageSpeedKmh
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	return &Engine{
		candidates: candidates,
		eta:        eta,
		cfg:        cfg,
		log:        cfg.Logger.Named("ranking"),
	}
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() matching.Strategy {
	return e.cfg.Strategy
}

// WithStrategy returns a copy of the engine using s.
func (e *Engine) WithStrategy(s matching.Strategy) *Engine {
	c := *e
	c.cfg.Strategy = s
	return &c
}

// Rank loads the candidates of bloodGroup and ranks them for location.
func (e *Engine) Rank(ctx context.Context, bloodGroup string, location *geo.Point) (*matching.Result, error) {
	if bloodGroup == "" || location == nil {
		return nil, shared.NewValidationError("matching", "Rank", MsgRankInputRequired)
	}
	if !location.IsValid() {
		return nil, shared.NewValidationError("matching", "Rank", MsgInvalidLocation)
	}
	group, err := shared.ParseBloodGroup(bloodGroup)
	if err != nil {
		return nil, err
	}

	candidates, err := e.candidates.FindCandidates(ctx, group)
	if err != nil {
		return nil, err
	}
	return e.rank(ctx, *location, candidates)
}

// RankPoint is Rank with the location given as "POINT(lon lat)".
func (e *Engine) RankPoint(ctx context.Context, bloodGroup, pointText string) (*matching.Result, error) {
	p, err := geo.ParsePoint(pointText)
	if err != nil {
		return nil, err
	}
	return e.Rank(ctx, bloodGroup, &p)
}

// RankCandidates ranks an in-memory collection, applying the same
// pre-filter the store applies.
func (e *Engine) RankCandidates(ctx context.Context, group shared.BloodGroup, location geo.Point, donors []*donor.Donor) (*matching.Result, error) {
	if group == "" {
		return nil, shared.NewValidationError("matching", "RankCandidates", MsgRankInputRequired)
	}
	if !location.IsValid() {
		return nil, shared.NewValidationError("matching", "RankCandidates", MsgInvalidLocation)
	}
	return e.rank(ctx, location, FilterCandidates(donors, group))
}

// FilterCandidates keeps donors of the group that are active, reachable by
// notification and eligible, in input order.
func FilterCandidates(donors []*donor.Donor, group shared.BloodGroup) []*donor.Donor {
	out := make([]*donor.Donor, 0, len(donors))
	for _, d := range donors {
		if d != nil && d.IsCandidateFor(group) {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) rank(ctx context.Context, location geo.Point, candidates []*donor.Donor) (*matching.Result, error) {
	ranked := make([]matching.RankedDonor, 0, len(candidates))
	for _, d := range candidates {
		if !d.HasLocation() {
			continue
		}
		ranked = append(ranked, matching.RankedDonor{
			DonorID:          d.ID,
			UserID:           d.UserID,
			FullName:         d.FullName,
			BloodGroup:       d.BloodGroup,
			Location:         *d.Location,
			DistanceKm:       geo.HaversineKm(*d.Location, location),
			EligibilityScore: d.EligibilityScore,
			ReliabilityScore: d.ReliabilityScore,
		})
	}

	if err := e.fillETAs(ctx, location, ranked); err != nil {
		return nil, err
	}

	for i := range ranked {
		ranked[i].DistanceKm = shared.Round(ranked[i].DistanceKm, 2)
		ranked[i].ETAMinutes = shared.Round(ranked[i].ETAMinutes, 0)
		matching.ScoreDonor(e.cfg.Strategy, &ranked[i])
	}

	res := matching.BuildResult(e.cfg.Strategy, ranked)
	e.log.Debug("donors ranked",
		logger.String("strategy", string(res.Strategy)),
		logger.Int("candidates", len(candidates)),
		logger.Int("ranked", len(res.AllDonors)))
	return res, nil
}

// fillETAs looks up every ETA concurrently and waits for all of them. A
// failed or slow lookup falls back to the average-speed estimate.
func (e *Engine) fillETAs(ctx context.Context, destination geo.Point, donors []matching.RankedDonor) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentETA)

	for i := range donors {
		d := &donors[i]
		g.Go(func() error {
			d.ETAMinutes, d.ETASource = e.lookupETA(gctx, d, destination)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Engine) lookupETA(ctx context.Context, d *matching.RankedDonor, destination geo.Point) (float64, matching.ETASource) {
	fallback := geo.FallbackETAMinutes(d.DistanceKm, e.cfg.AverageSpeedKmh)
	if e.eta == nil {
		return fallback, matching.ETAFromFallback
	}

	lctx, cancel := context.WithTimeout(ctx, e.cfg.ETATimeout)
	defer cancel()

	minutes, err := e.eta.ETA(lctx, d.Location, destination)
	if err != nil {
		e.log.Warn("traffic ETA unavailable, using average speed",
			logger.DonorID(d.DonorID),
			logger.Err(err))
		return fallback, matching.ETAFromFallback
	}
	return minutes, matching.ETAFromTraffic
}
