package registration

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// OTP error messages, surfaced to the client as-is.
const (
	MsgOTPNotFound         = "No OTP found for this mobile number"
	MsgOTPExpired          = "OTP has expired"
	MsgOTPInvalid          = "Invalid OTP"
	MsgOTPAttemptsExceeded = "Maximum OTP verification attempts exceeded"
)

var ErrOTPNotFound = shared.NewNotFoundError("registration", "VerifyOTP", MsgOTPNotFound)

// OTPRecord is a stored code. Only the bcrypt hash is kept.
type OTPRecord struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// OTPStore keeps one pending code per mobile number. Implementations evict
// records after ttl; Get returns ErrOTPNotFound for a missing record.
type OTPStore interface {
	Save(ctx context.Context, mobile string, rec OTPRecord, ttl time.Duration) error
	Get(ctx context.Context, mobile string) (*OTPRecord, error)
	IncrementAttempts(ctx context.Context, mobile string) (int, error)
	Delete(ctx context.Context, mobile string) error
}

// OTPConfig tunes the OTP service.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int

	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
}

// DefaultOTPConfig is 10 minutes and 3 attempts.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		TTL:         10 * time.Minute,
		MaxAttempts: 3,
		HashCost:    bcrypt.DefaultCost,
	}
}

// OTPIssued is returned when a code is generated.
type OTPIssued struct {
	Code      string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// OTPService issues and verifies six-digit mobile verification codes.
type OTPService struct {
	store    OTPStore
	clock    timeutil.Clock
	cfg      OTPConfig
	generate func() (string, error)
}

// NewOTPService creates the service. A nil clock means the system clock.
func NewOTPService(store OTPStore, clock timeutil.Clock, cfg OTPConfig) *OTPService {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	def := DefaultOTPConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = def.HashCost
	}
	return &OTPService{store: store, clock: clock, cfg: cfg, generate: randomCode}
}

// WithCodeGenerator replaces the random source, for deterministic tests.
func (s *OTPService) WithCodeGenerator(gen func() (string, error)) *OTPService {
	s.generate = gen
	return s
}

// Generate issues a new code for mobile, replacing any pending one.
func (s *OTPService) Generate(ctx context.Context, mobile string) (*OTPIssued, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return nil, shared.NewValidationError("registration", "GenerateOTP", "Mobile number is required for OTP generation")
	}

	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	expiresAt := s.clock.Now().Add(s.cfg.TTL)
	rec := OTPRecord{Hash: string(hash), ExpiresAt: expiresAt}
	if err := s.store.Save(ctx, mobile, rec, s.cfg.TTL); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	return &OTPIssued{Code: code, ExpiresAt: expiresAt, ExpiresIn: s.cfg.TTL}, nil
}

// Verify checks code against the pending record. Expired and exhausted
// records are deleted; a wrong code consumes one attempt; success deletes.
func (s *OTPService) Verify(ctx context.Context, mobile, code string) error {
	const op = "VerifyOTP"
	mobile = strings.TrimSpace(mobile)
	code = strings.TrimSpace(code)
	if mobile == "" || code == "" {
		return shared.NewValidationError("registration", op, "Mobile number and OTP are required")
	}

	rec, err := s.store.Get(ctx, mobile)
	if err != nil {
		return err
	}

	if s.clock.Now().After(rec.ExpiresAt) {
		_ = s.store.Delete(ctx, mobile)
		return shared.NewDomainError("registration", op, shared.ErrExpired, MsgOTPExpired)
	}

	if rec.Attempts >= s.cfg.MaxAttempts {
		_ = s.store.Delete(ctx, mobile)
		return shared.NewValidationError("registration", op, MsgOTPAttemptsExceeded)
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(code)) != nil {
		if _, err := s.store.IncrementAttempts(ctx, mobile); err != nil {
			return fmt.Errorf("record otp attempt: %w", err)
		}
		return shared.NewValidationError("registration", op, MsgOTPInvalid)
	}

	return s.store.Delete(ctx, mobile)
}

// randomCode returns a uniformly random code in [100000, 999999].
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
