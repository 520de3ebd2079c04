package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
)

// OTPStore keeps pending codes as hashes under otp:{mobile}. Redis evicts
// them after the TTL; the stored expiry is still checked by the service.
type OTPStore struct {
	client *redis.Client
}

// NewOTPStore creates an OTP store on the cache's client.
func NewOTPStore(c *Cache) *OTPStore {
	return &OTPStore{client: c.Client()}
}

// Save replaces any pending code for mobile.
func (s *OTPStore) Save(ctx context.Context, mobile string, rec registration.OTPRecord, ttl time.Duration) error {
	key := OTPKey(mobile)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"hash", rec.Hash,
			"expires_at", rec.ExpiresAt.UnixMilli(),
			"attempts", rec.Attempts,
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

// Get loads the pending record.
func (s *OTPStore) Get(ctx context.Context, mobile string) (*registration.OTPRecord, error) {
	fields, err := s.client.HGetAll(ctx, OTPKey(mobile)).Result()
	if err != nil {
		return nil, fmt.Errorf("load otp: %w", err)
	}
	if len(fields) == 0 {
		return nil, registration.ErrOTPNotFound
	}

	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: otp expiry: %v", ErrCacheSerialization, err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("%w: otp attempts: %v", ErrCacheSerialization, err)
	}

	return &registration.OTPRecord{
		Hash:      fields["hash"],
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
		Attempts:  attempts,
	}, nil
}

// incrementScript bumps attempts only on an existing record, so a late
// increment never resurrects an evicted key without a TTL.
var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

// IncrementAttempts records one failed verification.
func (s *OTPStore) IncrementAttempts(ctx context.Context, mobile string) (int, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{OTPKey(mobile)}).Int()
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	if n < 0 {
		return 0, registration.ErrOTPNotFound
	}
	return n, nil
}

// Delete removes the pending record.
func (s *OTPStore) Delete(ctx context.Context, mobile string) error {
	return s.client.Del(ctx, OTPKey(mobile)).Err()
}
