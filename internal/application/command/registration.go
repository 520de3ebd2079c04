package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION SERVICE
// Sign-up, notification preferences and mobile verification.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterResult is the outcome of a sign-up. Donor is nil unless the user
// opted in as a donor.
type RegisterResult struct {
	User  *registration.User
	Donor *donor.Donor
}

// RegistrationService handles user onboarding.
type RegistrationService struct {
	users  registration.UserRepository
	donors donor.Repository
	otp    *registration.OTPService
	clock  timeutil.Clock
	newID  IDGenerator
	log    *logger.Logger
}

// NewRegistrationService creates the service. donors may be nil when donor
// profiles are managed elsewhere.
func NewRegistrationService(
	users registration.UserRepository,
	donors donor.Repository,
	otp *registration.OTPService,
	clock timeutil.Clock,
	newID IDGenerator,
	log *logger.Logger,
) *RegistrationService {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if newID == nil {
		newID = NewID
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RegistrationService{
		users:  users,
		donors: donors,
		otp:    otp,
		clock:  clock,
		newID:  newID,
		log:    log.Named("registration"),
	}
}

// Register validates the input and stores the user, plus a donor profile
// with default scores when IsDonor is set.
func (s *RegistrationService) Register(ctx context.Context, in registration.RegisterInput) (*RegisterResult, error) {
	now := s.clock.Now()
	u, err := registration.NewUser(s.newID(), in, now)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	res := &RegisterResult{User: u}
	if in.IsDonor && s.donors != nil {
		mh := u.MedicalHistory
		d := &donor.Donor{
			ID:                  s.newID(),
			UserID:              u.ID,
			FullName:            u.FullName,
			BloodGroup:          u.BloodGroup,
			LastDonationDate:    u.LastDonationDate,
			MedicalHistory:      &mh,
			ReliabilityScore:    donor.DefaultReliabilityScore,
			IsActive:            true,
			NotificationEnabled: u.Preferences.NotificationEnabled,
		}
		d.EligibilityScore = float64(donor.EligibilityScore(d, now))

		if err := s.donors.Create(ctx, d); err != nil {
			return nil, fmt.Errorf("create donor profile: %w", err)
		}
		res.Donor = d
	}

	s.log.Info("user registered",
		logger.UserID(u.ID),
		logger.BloodGroup(string(u.BloodGroup)),
		logger.Bool("donor", res.Donor != nil))
	return res, nil
}

// ConfigureNotificationPreferences validates and stores the preference object.
func (s *RegistrationService) ConfigureNotificationPreferences(ctx context.Context, userID string, raw json.RawMessage) (registration.Preferences, error) {
	if strings.TrimSpace(userID) == "" {
		return registration.Preferences{}, shared.NewValidationError("registration", "ConfigureNotificationPreferences", "User ID is required")
	}
	prefs, err := registration.ValidateNotificationPreferences(raw)
	if err != nil {
		return registration.Preferences{}, err
	}
	if err := s.users.UpdatePreferences(ctx, userID, prefs); err != nil {
		return registration.Preferences{}, err
	}
	return prefs, nil
}

// RequestOTP issues a verification code for the mobile number. The caller
// delivers the code; it is never logged.
func (s *RegistrationService) RequestOTP(ctx context.Context, mobile string) (*registration.OTPIssued, error) {
	issued, err := s.otp.Generate(ctx, mobile)
	if err != nil {
		return nil, err
	}
	s.log.Info("otp issued", logger.Time("expires_at", issued.ExpiresAt))
	return issued, nil
}

// VerifyMobile checks the code and flags the user's number verified. A
// number verified before sign-up has no user to flag yet.
func (s *RegistrationService) VerifyMobile(ctx context.Context, mobile, code string) error {
	if err := s.otp.Verify(ctx, mobile, code); err != nil {
		return err
	}
	if err := s.users.MarkMobileVerified(ctx, strings.TrimSpace(mobile)); err != nil && !shared.IsNotFound(err) {
		return fmt.Errorf("mark mobile verified: %w", err)
	}
	return nil
}
