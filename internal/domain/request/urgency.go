// Package request contains the blood request aggregate, its urgency
// classification and the per-donor notification entity.
package request

import (
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Urgency Band
// ═══════════════════════════════════════════════════════════════════════════

// UrgencyBand is how quickly blood is needed.
type UrgencyBand string

const (
	UrgencyRed   UrgencyBand = "RED"
	UrgencyPink  UrgencyBand = "PINK"
	UrgencyWhite UrgencyBand = "WHITE"
)

// IsValid checks if the band is one of the known values.
func (b UrgencyBand) IsValid() bool {
	switch b {
	case UrgencyRed, UrgencyPink, UrgencyWhite:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (b UrgencyBand) String() string {
	return string(b)
}

// Timeframe is the requester's stated deadline.
type Timeframe string

const (
	TimeframeImmediate    Timeframe = "immediate"
	TimeframeWithin2Hours Timeframe = "within_2_hours"
	TimeframeWithin24Hour Timeframe = "within_24_hours"
	TimeframeAfter24Hours Timeframe = "after_24_hours"
)

// MsgTimeframeMandatory is returned when Classify gets an empty timeframe.
const MsgTimeframeMandatory = "timeframe is mandatory"

// bandTable is checked in order; the first match wins.
var bandTable = []struct {
	timeframe Timeframe
	band      UrgencyBand
}{
	{TimeframeImmediate, UrgencyRed},
	{TimeframeWithin2Hours, UrgencyRed},
	{TimeframeWithin24Hour, UrgencyPink},
	{TimeframeAfter24Hours, UrgencyWhite},
}

// Classification is the outcome of Classify.
type Classification struct {
	UrgencyBand      UrgencyBand `json:"urgency_band"`
	EmergencyWarning bool        `json:"emergency_warning"`
}

// Classify maps a timeframe to its urgency band. Unknown non-empty
// timeframes fall back to WHITE without error.
func Classify(timeframe string) (Classification, error) {
	if timeframe == "" {
		return Classification{}, shared.NewValidationError("request", "Classify", MsgTimeframeMandatory)
	}

	band := UrgencyWhite
	for _, row := range bandTable {
		if Timeframe(timeframe) == row.timeframe {
			band = row.band
			break
		}
	}

	return Classification{
		UrgencyBand:      band,
		EmergencyWarning: band == UrgencyRed,
	}, nil
}

// IsValidTimeframe reports whether v is one of the four canonical timeframes.
func IsValidTimeframe(v string) bool {
	for _, row := range bandTable {
		if Timeframe(v) == row.timeframe {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Timeouts
// ═══════════════════════════════════════════════════════════════════════════

// TimeoutThresholds are the view and response windows of a band.
// A zero duration means the band has no such timeout.
type TimeoutThresholds struct {
	ViewTimeout     time.Duration
	ResponseTimeout time.Duration
}

// HasViewTimeout reports whether the band expires unviewed requests.
func (t TimeoutThresholds) HasViewTimeout() bool { return t.ViewTimeout > 0 }

// HasResponseTimeout reports whether the band expires unanswered requests.
func (t TimeoutThresholds) HasResponseTimeout() bool { return t.ResponseTimeout > 0 }

var thresholds = map[UrgencyBand]TimeoutThresholds{
	UrgencyRed:   {ViewTimeout: 10 * time.Minute, ResponseTimeout: 20 * time.Minute},
	UrgencyPink:  {ResponseTimeout: 30 * time.Minute},
	UrgencyWhite: {},
}

// Thresholds returns the timeouts of a band; unknown bands get WHITE's.
func Thresholds(band UrgencyBand) TimeoutThresholds {
	if t, ok := thresholds[band]; ok {
		return t
	}
	return thresholds[UrgencyWhite]
}
