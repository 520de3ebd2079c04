package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

type fakeOTPStore struct {
	mu   sync.Mutex
	recs map[string]OTPRecord
	ttls map[string]time.Duration
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{recs: map[string]OTPRecord{}, ttls: map[string]time.Duration{}}
}

func (f *fakeOTPStore) Save(_ context.Context, mobile string, rec OTPRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[mobile] = rec
	f.ttls[mobile] = ttl
	return nil
}

func (f *fakeOTPStore) Get(_ context.Context, mobile string) (*OTPRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[mobile]
	if !ok {
		return nil, ErrOTPNotFound
	}
	return &rec, nil
}

func (f *fakeOTPStore) IncrementAttempts(_ context.Context, mobile string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[mobile]
	if !ok {
		return 0, ErrOTPNotFound
	}
	rec.Attempts++
	f.recs[mobile] = rec
	return rec.Attempts, nil
}

func (f *fakeOTPStore) Delete(_ context.Context, mobile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, mobile)
	return nil
}

const mobile = "+77011234567"

func newTestOTPService(store OTPStore, clock timeutil.Clock) *OTPService {
	svc := NewOTPService(store, clock, OTPConfig{HashCost: bcrypt.MinCost})
	return svc.WithCodeGenerator(func() (string, error) { return "482913", nil })
}

func TestOTPService_GenerateAndVerify(t *testing.T) {
	ctx := context.Background()
	store := newFakeOTPStore()
	clock := timeutil.NewFixedClock(now)
	svc := newTestOTPService(store, clock)

	issued, err := svc.Generate(ctx, mobile)
	require.NoError(t, err)
	assert.Equal(t, "482913", issued.Code)
	assert.Equal(t, 10*time.Minute, issued.ExpiresIn)
	assert.Equal(t, now.Add(10*time.Minute), issued.ExpiresAt)

	rec := store.recs[mobile]
	assert.NotEqual(t, "482913", rec.Hash)
	assert.Equal(t, 10*time.Minute, store.ttls[mobile])

	clock.Advance(9 * time.Minute)
	require.NoError(t, svc.Verify(ctx, mobile, "482913"))

	err = svc.Verify(ctx, mobile, "482913")
	assert.True(t, shared.IsNotFound(err), "code is single use")
}

func TestOTPService_Expired(t *testing.T) {
	ctx := context.Background()
	store := newFakeOTPStore()
	clock := timeutil.NewFixedClock(now)
	svc := newTestOTPService(store, clock)

	_, err := svc.Generate(ctx, mobile)
	require.NoError(t, err)

	clock.Advance(10*time.Minute + time.Second)
	err = svc.Verify(ctx, mobile, "482913")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExpired)
	assert.Equal(t, MsgOTPExpired, shared.Message(err))
	assert.Empty(t, store.recs)
}

func TestOTPService_AttemptLimit(t *testing.T) {
	ctx := context.Background()
	store := newFakeOTPStore()
	svc := newTestOTPService(store, timeutil.NewFixedClock(now))

	_, err := svc.Generate(ctx, mobile)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err = svc.Verify(ctx, mobile, "000000")
		require.Error(t, err)
		assert.Equal(t, MsgOTPInvalid, shared.Message(err))
	}

	// Even the right code is refused once attempts are exhausted.
	err = svc.Verify(ctx, mobile, "482913")
	require.Error(t, err)
	assert.Equal(t, MsgOTPAttemptsExceeded, shared.Message(err))
	assert.Empty(t, store.recs)
}

func TestOTPService_RequiresInput(t *testing.T) {
	svc := newTestOTPService(newFakeOTPStore(), nil)

	_, err := svc.Generate(context.Background(), " ")
	assert.True(t, shared.IsValidation(err))

	err = svc.Verify(context.Background(), mobile, "")
	assert.True(t, shared.IsValidation(err))
}

func TestRandomCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		assert.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
	}
}
