package shared

import (
	"math"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Blood Group
// ═══════════════════════════════════════════════════════════════════════════

// BloodGroup is an ABO/Rh blood group such as "O-" or "AB+".
type BloodGroup string

const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

// AllBloodGroups lists every supported group.
var AllBloodGroups = []BloodGroup{
	BloodGroupAPos, BloodGroupANeg,
	BloodGroupBPos, BloodGroupBNeg,
	BloodGroupABPos, BloodGroupABNeg,
	BloodGroupOPos, BloodGroupONeg,
}

// IsValid checks that the group is one of the eight supported values.
func (b BloodGroup) IsValid() bool {
	for _, g := range AllBloodGroups {
		if b == g {
			return true
		}
	}
	return false
}

// String returns the string representation.
func (b BloodGroup) String() string {
	return string(b)
}

// ParseBloodGroup normalizes user input ("o+", " AB- ") into a BloodGroup.
func ParseBloodGroup(s string) (BloodGroup, error) {
	g := BloodGroup(strings.ToUpper(strings.TrimSpace(s)))
	if g == "" {
		return "", NewValidationError("shared", "ParseBloodGroup", "blood group is required")
	}
	if !g.IsValid() {
		return "", NewValidationError("shared", "ParseBloodGroup", "invalid blood group: "+s)
	}
	return g, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Scores
// ═══════════════════════════════════════════════════════════════════════════

const (
	MinScore = 0
	MaxScore = 100
)

// ClampScore bounds a score to [MinScore, MaxScore].
func ClampScore(v float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, v))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValidID checks if the identifier is a UUID.
func IsValidID(id string) bool {
	return uuidRegex.MatchString(id)
}
