package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER STORE
// ══════════════════════════════════════════════════════════════════════════════

// UserStore keeps users indexed by id and mobile number.
type UserStore struct {
	mu       sync.RWMutex
	users    map[string]*registration.User
	byMobile map[string]string
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{
		users:    make(map[string]*registration.User),
		byMobile: make(map[string]string),
	}
}

func (s *UserStore) Create(_ context.Context, u *registration.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byMobile[u.MobileNumber]; ok {
		return registration.ErrMobileAlreadyUsed
	}
	s.users[u.ID] = cloneUser(u)
	s.byMobile[u.MobileNumber] = u.ID
	return nil
}

func (s *UserStore) GetByID(_ context.Context, id string) (*registration.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, registration.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) GetByMobile(ctx context.Context, mobile string) (*registration.User, error) {
	s.mu.RLock()
	id, ok := s.byMobile[mobile]
	s.mu.RUnlock()
	if !ok {
		return nil, registration.ErrUserNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) UpdatePreferences(_ context.Context, userID string, p registration.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return registration.ErrUserNotFound
	}
	u.Preferences = p
	return nil
}

func (s *UserStore) MarkMobileVerified(_ context.Context, mobile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byMobile[mobile]
	if !ok {
		return registration.ErrUserNotFound
	}
	s.users[id].MobileVerified = true
	return nil
}

func cloneUser(u *registration.User) *registration.User {
	c := *u
	c.LastDonationDate = cloneTime(u.LastDonationDate)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// OTP STORE
// ══════════════════════════════════════════════════════════════════════════════

type otpEntry struct {
	rec     registration.OTPRecord
	evictAt time.Time
}

// OTPStore keeps pending codes and evicts them lazily once their TTL passes
// on the given clock.
type OTPStore struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	entries map[string]otpEntry
}

// NewOTPStore creates a store. A nil clock means the system clock.
func NewOTPStore(clock timeutil.Clock) *OTPStore {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &OTPStore{clock: clock, entries: make(map[string]otpEntry)}
}

func (s *OTPStore) Save(_ context.Context, mobile string, rec registration.OTPRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[mobile] = otpEntry{rec: rec, evictAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *OTPStore) Get(_ context.Context, mobile string) (*registration.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(mobile)
	if !ok {
		return nil, registration.ErrOTPNotFound
	}
	rec := e.rec
	return &rec, nil
}

func (s *OTPStore) IncrementAttempts(_ context.Context, mobile string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(mobile)
	if !ok {
		return 0, registration.ErrOTPNotFound
	}
	e.rec.Attempts++
	s.entries[mobile] = e
	return e.rec.Attempts, nil
}

func (s *OTPStore) Delete(_ context.Context, mobile string) error {
	s.mu.Lock()
	delete(s.entries, mobile)
	s.mu.Unlock()
	return nil
}

// live must be called with mu held.
func (s *OTPStore) live(mobile string) (otpEntry, bool) {
	e, ok := s.entries[mobile]
	if !ok {
		return otpEntry{}, false
	}
	if !s.clock.Now().Before(e.evictAt) {
		delete(s.entries, mobile)
		return otpEntry{}, false
	}
	return e, true
}
