// Package matching holds the donor ranking strategies and the ranked result
// types. Everything here is pure; ETA lookups live in the application layer.
package matching

import (
	"math"
	"sort"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STRATEGIES
//
// Three weighting schemes exist for donor ranking and they disagree:
// the 25/20/25/30 composite used for matching, the 30/20/30/20 heuristic
// used by the map UI to highlight a best donor, and the 30/70 legacy formula
// over caller-computed distance. They are kept as separate named strategies.
// ══════════════════════════════════════════════════════════════════════════════

// StrategyName identifies a ranking strategy.
type StrategyName string

const (
	StrategyComposite   StrategyName = "composite"
	StrategyUIHeuristic StrategyName = "ui_heuristic"
	StrategyLegacy      StrategyName = "legacy"
)

// Factors are the per-donor inputs of a strategy.
type Factors struct {
	DistanceKm       float64
	ETAMinutes       float64
	EligibilityScore float64 // 0-100
	ReliabilityScore float64 // 0-100
}

// Strategy turns factors into a sortable score; higher is better.
type Strategy interface {
	Name() StrategyName
	Score(f Factors) float64
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (Strategy, error) {
	switch StrategyName(name) {
	case "", StrategyComposite:
		return NewCompositeRanking(), nil
	case StrategyUIHeuristic:
		return UIHeuristicRanking{}, nil
	case StrategyLegacy:
		return LegacyRanking{}, nil
	default:
		return nil, shared.NewValidationError("matching", "StrategyByName", "unknown ranking strategy: "+name)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Composite
// ─────────────────────────────────────────────────────────────────────────────

// CompositeWeights are the shares of the four sub-scores; they sum to 1.
type CompositeWeights struct {
	Distance    float64
	ETA         float64
	Eligibility float64
	Reliability float64
}

// DefaultCompositeWeights weights reliability most heavily.
func DefaultCompositeWeights() CompositeWeights {
	return CompositeWeights{
		Distance:    0.25,
		ETA:         0.20,
		Eligibility: 0.25,
		Reliability: 0.30,
	}
}

// Half-score points of the distance and ETA curves.
const (
	distanceHalfKm = 10.0
	etaHalfMinutes = 30.0
)

// CompositeRanking scores in (0,1].
type CompositeRanking struct {
	Weights CompositeWeights
}

// NewCompositeRanking uses the default weights.
func NewCompositeRanking() CompositeRanking {
	return CompositeRanking{Weights: DefaultCompositeWeights()}
}

// Name implements Strategy.
func (CompositeRanking) Name() StrategyName { return StrategyComposite }

// Score implements Strategy.
func (c CompositeRanking) Score(f Factors) float64 {
	w := c.Weights
	return w.Distance*DistanceScore(f.DistanceKm) +
		w.ETA*ETAScore(f.ETAMinutes) +
		w.Eligibility*f.EligibilityScore/100 +
		w.Reliability*f.ReliabilityScore/100
}

// CompositeScore is the default composite for a single donor.
func CompositeScore(f Factors) float64 {
	return NewCompositeRanking().Score(f)
}

// DistanceScore is 1 at 0 km, 0.5 at 10 km, and decays towards 0.
func DistanceScore(km float64) float64 {
	return 1 / (1 + km/distanceHalfKm)
}

// ETAScore is 1 at 0 minutes, 0.5 at 30 minutes, and decays towards 0.
func ETAScore(minutes float64) float64 {
	return 1 / (1 + minutes/etaHalfMinutes)
}

// ─────────────────────────────────────────────────────────────────────────────
// UI heuristic
// ─────────────────────────────────────────────────────────────────────────────

// Defaults the UI heuristic substitutes for unset (zero) scores.
const (
	uiDefaultReliability = 50.0
	uiDefaultEligibility = 80.0
)

// UIHeuristicRanking scores 0-100 with 30/20/30/20 weights, rounded to an
// integer. Linear penalties: 5 points per km and 2 points per minute.
type UIHeuristicRanking struct{}

// Name implements Strategy.
func (UIHeuristicRanking) Name() StrategyName { return StrategyUIHeuristic }

// Score implements Strategy.
func (UIHeuristicRanking) Score(f Factors) float64 {
	distance := math.Max(0, 100-f.DistanceKm*5)
	eta := math.Max(0, 100-f.ETAMinutes*2)

	reliability := f.ReliabilityScore
	if reliability <= 0 {
		reliability = uiDefaultReliability
	}
	eligibility := f.EligibilityScore
	if eligibility <= 0 {
		eligibility = uiDefaultEligibility
	}

	return math.Round(distance*0.30 + eta*0.20 + reliability*0.30 + eligibility*0.20)
}

// ─────────────────────────────────────────────────────────────────────────────
// Legacy
// ─────────────────────────────────────────────────────────────────────────────

// LegacyRanking is 0.3/(distance+1) + 0.7*reliability/100 on raw fields.
// ETA and eligibility are ignored.
type LegacyRanking struct{}

// Name implements Strategy.
func (LegacyRanking) Name() StrategyName { return StrategyLegacy }

// Score implements Strategy.
func (LegacyRanking) Score(f Factors) float64 {
	return LegacyScore(f.DistanceKm, f.ReliabilityScore)
}

// LegacyScore scores a caller-computed distance and a 0-100 reliability.
func LegacyScore(distance, reliability float64) float64 {
	return 0.3*(1/(distance+1)) + 0.7*(reliability/100)
}

// LegacyCandidate is a donor whose distance was computed by the caller.
type LegacyCandidate struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Distance    float64 `json:"distance"`
	Reliability float64 `json:"reliability"`
	Score       float64 `json:"score"`
}

// SortLegacy scores the candidates and returns a best-first copy. Ties keep
// input order.
func SortLegacy(candidates []LegacyCandidate) []LegacyCandidate {
	out := make([]LegacyCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = LegacyScore(out[i].Distance, out[i].Reliability)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKED RESULT
// ══════════════════════════════════════════════════════════════════════════════

// ETASource tells where a donor's ETA came from.
type ETASource string

const (
	ETAFromTraffic  ETASource = "traffic"
	ETAFromFallback ETASource = "average_speed"
)

// RankedDonor is one scored candidate. DistanceKm is rounded to 2 decimals,
// ETAMinutes to whole minutes; Score is for display, sorting uses the exact value.
type RankedDonor struct {
	DonorID          string            `json:"donor_id"`
	UserID           string            `json:"user_id"`
	FullName         string            `json:"full_name,omitempty"`
	BloodGroup       shared.BloodGroup `json:"blood_group"`
	Location         geo.Point         `json:"location"`
	DistanceKm       float64           `json:"distance_km"`
	ETAMinutes       float64           `json:"eta_minutes"`
	ETASource        ETASource         `json:"eta_source"`
	EligibilityScore float64           `json:"eligibility_score"`
	ReliabilityScore float64           `json:"reliability_score"`
	Score            float64           `json:"score"`
	Rank             int               `json:"rank"`

	exact float64
}

// Result is the ranking outcome; BestDonor is nil when AllDonors is empty.
type Result struct {
	Strategy  StrategyName  `json:"strategy"`
	BestDonor *RankedDonor  `json:"best_donor"`
	AllDonors []RankedDonor `json:"all_donors"`
}

// ScoreDonor fills the display and sort scores of d using s.
func ScoreDonor(s Strategy, d *RankedDonor) {
	d.exact = s.Score(Factors{
		DistanceKm:       d.DistanceKm,
		ETAMinutes:       d.ETAMinutes,
		EligibilityScore: d.EligibilityScore,
		ReliabilityScore: d.ReliabilityScore,
	})
	d.Score = shared.Round(d.exact, 4)
}

// BuildResult stable-sorts scored donors best-first and assigns ranks.
func BuildResult(s Strategy, donors []RankedDonor) *Result {
	sort.SliceStable(donors, func(i, j int) bool {
		return donors[i].exact > donors[j].exact
	})
	for i := range donors {
		donors[i].Rank = i + 1
	}

	res := &Result{Strategy: s.Name(), AllDonors: donors}
	if len(donors) > 0 {
		best := donors[0]
		res.BestDonor = &best
	} else {
		res.AllDonors = []RankedDonor{}
	}
	return res
}
