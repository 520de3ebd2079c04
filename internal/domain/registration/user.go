// Package registration covers user sign-up: field validation, notification
// preferences with quiet hours, and mobile verification by one-time code.
package registration

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS & ERRORS
// ══════════════════════════════════════════════════════════════════════════════

const (
	MinAge = 18
	MaxAge = 60
)

var (
	ErrUserNotFound      = shared.NewNotFoundError("registration", "Find", "user not found")
	ErrMobileAlreadyUsed = shared.NewDomainError("registration", "Register", shared.ErrAlreadyExists, "mobile number already registered")
)

var quietHoursRegex = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// medicalHistoryFields are the flags that must be booleans when present.
var medicalHistoryFields = []string{"diabetes", "seizures", "heartDisease", "hypertension"}

// ══════════════════════════════════════════════════════════════════════════════
// USER
// ══════════════════════════════════════════════════════════════════════════════

// Preferences controls when a user may be notified.
type Preferences struct {
	NotificationEnabled bool   `json:"notificationEnabled"`
	QuietHoursStart     string `json:"quietHoursStart,omitempty"`
	QuietHoursEnd       string `json:"quietHoursEnd,omitempty"`
}

// DefaultPreferences enables notifications with no quiet hours.
func DefaultPreferences() Preferences {
	return Preferences{NotificationEnabled: true}
}

// HasQuietHours reports whether a quiet window is configured.
func (p Preferences) HasQuietHours() bool {
	return p.QuietHoursStart != "" && p.QuietHoursEnd != ""
}

// User is a registered person. Mobile numbers are unique.
type User struct {
	ID               string
	FullName         string
	Age              int
	Gender           string
	MobileNumber     string
	MobileVerified   bool
	City             string
	BloodGroup       shared.BloodGroup
	MedicalHistory   donor.MedicalHistory
	LastDonationDate *time.Time
	IsActive         bool
	Preferences      Preferences
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RegisterInput is the sign-up payload as submitted by clients.
type RegisterInput struct {
	FullName                string          `json:"fullName"`
	Age                     int             `json:"age"`
	Gender                  string          `json:"gender"`
	MobileNumber            string          `json:"mobileNumber"`
	City                    string          `json:"city"`
	BloodGroup              string          `json:"bloodGroup"`
	MedicalHistory          json.RawMessage `json:"medicalHistory,omitempty"`
	LastDonationDate        string          `json:"lastDonationDate,omitempty"`
	NotificationPreferences json.RawMessage `json:"notificationPreferences,omitempty"`

	// IsDonor also creates a donor profile for the user.
	IsDonor bool `json:"isDonor"`
}

// NewUser validates the input and builds an active, unverified user.
func NewUser(id string, in RegisterInput, now time.Time) (*User, error) {
	if strings.TrimSpace(in.FullName) == "" || in.Age == 0 || strings.TrimSpace(in.Gender) == "" ||
		strings.TrimSpace(in.MobileNumber) == "" || strings.TrimSpace(in.City) == "" ||
		strings.TrimSpace(in.BloodGroup) == "" {
		return nil, shared.NewValidationError("registration", "Register", "All required fields must be provided")
	}
	if err := ValidateAge(in.Age); err != nil {
		return nil, err
	}

	group, err := shared.ParseBloodGroup(in.BloodGroup)
	if err != nil {
		return nil, err
	}

	var history donor.MedicalHistory
	if isPresent(in.MedicalHistory) {
		if history, err = ValidateMedicalHistory(in.MedicalHistory); err != nil {
			return nil, err
		}
	}

	prefs := DefaultPreferences()
	if isPresent(in.NotificationPreferences) {
		if prefs, err = ValidateNotificationPreferences(in.NotificationPreferences); err != nil {
			return nil, err
		}
	}

	now = now.UTC()
	u := &User{
		ID:             id,
		FullName:       strings.TrimSpace(in.FullName),
		Age:            in.Age,
		Gender:         strings.TrimSpace(in.Gender),
		MobileNumber:   strings.TrimSpace(in.MobileNumber),
		City:           strings.TrimSpace(in.City),
		BloodGroup:     group,
		MedicalHistory: history,
		IsActive:       true,
		Preferences:    prefs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.LastDonationDate != "" {
		t, err := donor.ParseDate(in.LastDonationDate)
		if err != nil {
			return nil, err
		}
		u.LastDonationDate = &t
	}
	return u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// ValidateAge accepts 18 to 60 inclusive.
func ValidateAge(age int) error {
	if age < MinAge || age > MaxAge {
		return shared.NewValidationError("registration", "ValidateAge", "Age must be between 18 and 60 years inclusive")
	}
	return nil
}

// ValidateMedicalHistory checks that raw is a JSON object whose known flags
// are booleans, and decodes it.
func ValidateMedicalHistory(raw json.RawMessage) (donor.MedicalHistory, error) {
	var h donor.MedicalHistory

	obj, ok := decodeObject(raw)
	if !ok {
		return h, shared.NewValidationError("registration", "ValidateMedicalHistory", "Medical history must be a valid object")
	}
	for _, field := range medicalHistoryFields {
		v, present := obj[field]
		if !present {
			continue
		}
		b, isBool := v.(bool)
		if !isBool {
			return h, shared.NewValidationError("registration", "ValidateMedicalHistory",
				"Medical history field '"+field+"' must be a boolean")
		}
		switch field {
		case "diabetes":
			h.Diabetes = b
		case "seizures":
			h.Seizures = b
		case "heartDisease":
			h.HeartDisease = b
		case "hypertension":
			h.Hypertension = b
		}
	}
	return h, nil
}

// ValidateNotificationPreferences checks the preference object: an optional
// boolean notificationEnabled and an optional HH:MM quiet window given as a pair.
func ValidateNotificationPreferences(raw json.RawMessage) (Preferences, error) {
	const op = "ValidateNotificationPreferences"
	prefs := DefaultPreferences()

	obj, ok := decodeObject(raw)
	if !ok {
		return prefs, shared.NewValidationError("registration", op, "Notification preferences must be a valid object")
	}

	if v, present := obj["notificationEnabled"]; present && v != nil {
		b, isBool := v.(bool)
		if !isBool {
			return prefs, shared.NewValidationError("registration", op, "notificationEnabled must be a boolean")
		}
		prefs.NotificationEnabled = b
	}

	start, startOK := stringField(obj, "quietHoursStart")
	end, endOK := stringField(obj, "quietHoursEnd")
	if !startOK || !endOK {
		return prefs, shared.NewValidationError("registration", op, "Quiet hours must be in HH:MM format")
	}
	if start == "" && end == "" {
		return prefs, nil
	}
	if start == "" || end == "" {
		return prefs, shared.NewValidationError("registration", op, "Both quietHoursStart and quietHoursEnd must be provided together")
	}
	if !quietHoursRegex.MatchString(start) || !quietHoursRegex.MatchString(end) {
		return prefs, shared.NewValidationError("registration", op, "Quiet hours must be in HH:MM format")
	}
	prefs.QuietHoursStart = start
	prefs.QuietHoursEnd = end
	return prefs, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUIET HOURS
// ══════════════════════════════════════════════════════════════════════════════

// IsInQuietHours reports whether now falls inside [start, end]. Windows with
// end before start span midnight. Missing or malformed bounds mean no quiet hours.
func IsInQuietHours(start, end string, now time.Time) bool {
	if start == "" || end == "" {
		return false
	}
	s, err := timeutil.ParseTimeOfDay(start)
	if err != nil {
		return false
	}
	e, err := timeutil.ParseTimeOfDay(end)
	if err != nil {
		return false
	}
	return timeutil.InWindow(s, e, timeutil.Of(now))
}

// ShouldSendNotification applies the user's preferences to a request band.
// RED requests override quiet hours but not a disabled channel.
func ShouldSendNotification(p Preferences, band request.UrgencyBand, now time.Time) bool {
	if !p.NotificationEnabled {
		return false
	}
	if band == request.UrgencyRed {
		return true
	}
	return !IsInQuietHours(p.QuietHoursStart, p.QuietHoursEnd, now)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository persists users.
type UserRepository interface {
	// Create returns ErrMobileAlreadyUsed on a duplicate mobile number.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByMobile(ctx context.Context, mobile string) (*User, error)
	UpdatePreferences(ctx context.Context, userID string, p Preferences) error
	MarkMobileVerified(ctx context.Context, mobile string) error
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func isPresent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if !isPresent(raw) {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// stringField returns the value of an optional string key. ok is false when
// the key holds something other than a string or null.
func stringField(obj map[string]any, key string) (string, bool) {
	v, present := obj[key]
	if !present || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}
