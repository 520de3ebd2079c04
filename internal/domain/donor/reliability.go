package donor

import (
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// Reliability adjustments, applied at full weight for recent entries and
// half weight once an entry is older than decayAfterMonths.
const (
	reliabilityBase = 50.0

	completedBonus   = 10.0
	cancelledPenalty = 15.0
	ignoredPenalty   = 5.0
	declinedPenalty  = 2.0
	decayAfterMonths = 6
	decayedWeight    = 0.5
)

// MonthsDifference is the calendar month distance a-b, ignoring days.
// It is negative when b is later than a.
func MonthsDifference(a, b time.Time) int {
	return (a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month())
}

// entryWeight is 0.5 for entries older than six months, otherwise 1.
// Entries without any timestamp count as recent.
func entryWeight(e HistoryEntry, now time.Time) float64 {
	ref, ok := e.ReferenceTime()
	if !ok {
		return 1
	}
	if MonthsDifference(now, ref) > decayAfterMonths {
		return decayedWeight
	}
	return 1
}

// ReliabilityScore folds the donation ledger into a trust score in [0,100].
// Intermediate totals are not clamped; only the final result is.
func ReliabilityScore(history []HistoryEntry, now time.Time) float64 {
	score := reliabilityBase

	for _, e := range history {
		w := entryWeight(e, now)

		switch e.Status {
		case HistoryCompleted:
			score += completedBonus * w
		case HistoryCancelled:
			score -= cancelledPenalty * w
		}

		if e.ResponseType != nil {
			switch *e.ResponseType {
			case request.ResponseIgnored:
				score -= ignoredPenalty * w
			case request.ResponseDeclined:
				score -= declinedPenalty * w
			}
		}
	}

	return shared.ClampScore(score)
}

// ReliabilityLevel buckets a reliability score.
type ReliabilityLevel string

const (
	ReliabilityExcellent ReliabilityLevel = "EXCELLENT"
	ReliabilityGood      ReliabilityLevel = "GOOD"
	ReliabilityFair      ReliabilityLevel = "FAIR"
	ReliabilityPoor      ReliabilityLevel = "POOR"
	ReliabilityVeryPoor  ReliabilityLevel = "VERY_POOR"
)

// ReliabilityReport is the score with its level and verdict.
type ReliabilityReport struct {
	Score   float64          `json:"score"`
	Level   ReliabilityLevel `json:"level"`
	Message string           `json:"message"`
}

// ReliabilityStatus describes a reliability score.
func ReliabilityStatus(score float64) ReliabilityReport {
	r := ReliabilityReport{Score: score}
	switch {
	case score >= 80:
		r.Level, r.Message = ReliabilityExcellent, "Highly reliable donor"
	case score >= 60:
		r.Level, r.Message = ReliabilityGood, "Reliable donor"
	case score >= 40:
		r.Level, r.Message = ReliabilityFair, "Moderately reliable donor"
	case score >= 20:
		r.Level, r.Message = ReliabilityPoor, "Low reliability"
	default:
		r.Level, r.Message = ReliabilityVeryPoor, "Very low reliability"
	}
	return r
}
