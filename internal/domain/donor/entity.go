// Package donor holds the donor aggregate, its donation-history ledger and
// the two scorers that own the donor's score fields.
package donor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

var ErrDonorNotFound = shared.NewNotFoundError("donor", "Find", "donor not found")

// Default scores assigned on opt-in.
const (
	DefaultEligibilityScore = 100.0
	DefaultReliabilityScore = 50.0
)

// MedicalHistory holds the self-reported conditions relevant to eligibility.
type MedicalHistory struct {
	Diabetes     bool `json:"diabetes"`
	Seizures     bool `json:"seizures"`
	HeartDisease bool `json:"heartDisease"`
	Hypertension bool `json:"hypertension"`
}

// Donor is a user who opted in to donate. Donors are deactivated, never deleted.
type Donor struct {
	ID                  string
	UserID              string
	FullName            string
	BloodGroup          shared.BloodGroup
	Location            *geo.Point
	LocationUpdatedAt   *time.Time
	EligibilityScore    float64
	ReliabilityScore    float64
	TotalDonations      int
	CompletedDonations  int
	CancelledDonations  int
	LastDonationDate    *time.Time
	MedicalHistory      *MedicalHistory
	IsActive            bool
	NotificationEnabled bool
}

// HasLocation reports whether the donor shared a current position.
func (d *Donor) HasLocation() bool {
	return d.Location != nil
}

// IsCandidateFor applies the matching pre-filter: same group, active,
// notifications on and a positive eligibility score.
func (d *Donor) IsCandidateFor(group shared.BloodGroup) bool {
	return d.BloodGroup == group && d.IsActive && d.NotificationEnabled && d.EligibilityScore > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD BOUNDARY
// ══════════════════════════════════════════════════════════════════════════════

// donorRecord accepts both snake_case and camelCase keys. It is the only
// place the two conventions are reconciled.
type donorRecord struct {
	ID                       string          `json:"id"`
	UserID                   string          `json:"user_id"`
	UserIDCamel              string          `json:"userId"`
	FullName                 string          `json:"full_name"`
	FullNameCamel            string          `json:"fullName"`
	BloodGroup               string          `json:"blood_group"`
	BloodGroupCamel          string          `json:"bloodGroup"`
	Location                 *string         `json:"current_location"`
	Coordinates              *geo.Point      `json:"coordinates"`
	EligibilityScore         *float64        `json:"eligibility_score"`
	EligibilityScoreCamel    *float64        `json:"eligibilityScore"`
	ReliabilityScore         *float64        `json:"reliability_score"`
	ReliabilityScoreCamel    *float64        `json:"reliabilityScore"`
	TotalDonations           int             `json:"total_donations"`
	TotalDonationsCamel      int             `json:"totalDonations"`
	CompletedDonations       int             `json:"completed_donations"`
	CompletedDonationsCamel  int             `json:"completedDonations"`
	CancelledDonations       int             `json:"cancelled_donations"`
	CancelledDonationsCamel  int             `json:"cancelledDonations"`
	LastDonationDate         *string         `json:"last_donation_date"`
	LastDonationDateCamel    *string         `json:"lastDonationDate"`
	MedicalHistory           *MedicalHistory `json:"medical_history"`
	MedicalHistoryCamel      *MedicalHistory `json:"medicalHistory"`
	IsActive                 *bool           `json:"is_active"`
	IsActiveCamel            *bool           `json:"isActive"`
	NotificationEnabled      *bool           `json:"notification_enabled"`
	NotificationEnabledCamel *bool           `json:"notificationEnabled"`
}

// DecodeDonor builds a canonical Donor from a JSON record written in either
// snake_case or camelCase. When both spellings are present snake_case wins.
func DecodeDonor(data []byte) (*Donor, error) {
	var rec donorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, shared.WrapError("donor", "Decode", shared.ErrParse, "invalid donor record", err)
	}

	d := &Donor{
		ID:                  rec.ID,
		UserID:              firstString(rec.UserID, rec.UserIDCamel),
		FullName:            firstString(rec.FullName, rec.FullNameCamel),
		BloodGroup:          shared.BloodGroup(strings.ToUpper(firstString(rec.BloodGroup, rec.BloodGroupCamel))),
		EligibilityScore:    firstFloat(DefaultEligibilityScore, rec.EligibilityScore, rec.EligibilityScoreCamel),
		ReliabilityScore:    firstFloat(DefaultReliabilityScore, rec.ReliabilityScore, rec.ReliabilityScoreCamel),
		TotalDonations:      firstInt(rec.TotalDonations, rec.TotalDonationsCamel),
		CompletedDonations:  firstInt(rec.CompletedDonations, rec.CompletedDonationsCamel),
		CancelledDonations:  firstInt(rec.CancelledDonations, rec.CancelledDonationsCamel),
		MedicalHistory:      rec.MedicalHistory,
		IsActive:            firstBool(true, rec.IsActive, rec.IsActiveCamel),
		NotificationEnabled: firstBool(true, rec.NotificationEnabled, rec.NotificationEnabledCamel),
	}
	if d.MedicalHistory == nil {
		d.MedicalHistory = rec.MedicalHistoryCamel
	}

	switch {
	case rec.Location != nil && *rec.Location != "":
		p, err := geo.ParsePoint(*rec.Location)
		if err != nil {
			return nil, err
		}
		d.Location = &p
	case rec.Coordinates != nil:
		p := *rec.Coordinates
		d.Location = &p
	}

	raw := rec.LastDonationDate
	if raw == nil || *raw == "" {
		raw = rec.LastDonationDateCamel
	}
	if raw != nil && *raw != "" {
		t, err := ParseDate(*raw)
		if err != nil {
			return nil, err
		}
		d.LastDonationDate = &t
	}

	return d, nil
}

// ParseDate accepts a calendar date ("2006-01-02") or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, shared.WrapError("donor", "ParseDate", shared.ErrParse, "invalid date: "+s, err)
	}
	return t, nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstFloat(def float64, vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return def
}

func firstBool(def bool, vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return def
}
