package donor

import (
	"math"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// Eligibility deductions. Recency is measured in whole days.
const (
	recentDonationDays     = 90
	recoveringDonationDays = 120

	recentDonationPenalty     = 50
	recoveringDonationPenalty = 25
	diabetesPenalty           = 15
	seizuresPenalty           = 20
)

const msPerDay = 86400000

// DaysDifference is the ceiling of |a-b| in days, computed on milliseconds.
// Equal instants yield 0.
func DaysDifference(a, b time.Time) int {
	ms := math.Abs(float64(a.Sub(b).Milliseconds()))
	return int(math.Ceil(ms / msPerDay))
}

// EligibilityScore returns the donor's medical and recency fitness in [0,100].
// Absent history or medical data means no deduction.
func EligibilityScore(d *Donor, now time.Time) int {
	score := 100

	if d.LastDonationDate != nil {
		days := DaysDifference(now, *d.LastDonationDate)
		switch {
		case days < recentDonationDays:
			score -= recentDonationPenalty
		case days < recoveringDonationDays:
			score -= recoveringDonationPenalty
		}
	}

	if mh := d.MedicalHistory; mh != nil {
		if mh.Diabetes {
			score -= diabetesPenalty
		}
		if mh.Seizures {
			score -= seizuresPenalty
		}
	}

	return int(shared.ClampScore(float64(score)))
}

// IsEligible reports a positive eligibility score.
func IsEligible(d *Donor, now time.Time) bool {
	return EligibilityScore(d, now) > 0
}

// EligibilityReport is the score with its human-readable verdict.
type EligibilityReport struct {
	Score    int    `json:"score"`
	Eligible bool   `json:"eligible"`
	Message  string `json:"message"`
}

// EligibilityStatus scores the donor and explains the result.
func EligibilityStatus(d *Donor, now time.Time) EligibilityReport {
	score := EligibilityScore(d, now)
	return EligibilityReport{
		Score:    score,
		Eligible: score > 0,
		Message:  eligibilityMessage(score),
	}
}

func eligibilityMessage(score int) string {
	switch {
	case score == 100:
		return "Fully eligible to donate"
	case score >= 50:
		return "Eligible with some restrictions"
	case score > 0:
		return "Limited eligibility"
	default:
		return "Currently not eligible to donate"
	}
}
