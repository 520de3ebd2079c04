package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

var now = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func TestDonorStore(t *testing.T) {
	s := NewDonorStore()
	ctx := context.Background()

	for _, d := range []*donor.Donor{
		{ID: "d-1", BloodGroup: shared.BloodGroupAPos, EligibilityScore: 100, IsActive: true, NotificationEnabled: true},
		{ID: "d-2", BloodGroup: shared.BloodGroupAPos, EligibilityScore: 0, IsActive: true, NotificationEnabled: true},
		{ID: "d-3", BloodGroup: shared.BloodGroupAPos, EligibilityScore: 80, IsActive: true, NotificationEnabled: false},
		{ID: "d-4", BloodGroup: shared.BloodGroupONeg, EligibilityScore: 90, IsActive: true, NotificationEnabled: true},
		{ID: "d-5", BloodGroup: shared.BloodGroupAPos, EligibilityScore: 70, IsActive: true, NotificationEnabled: true},
	} {
		require.NoError(t, s.Create(ctx, d))
	}
	assert.True(t, shared.IsAlreadyExists(s.Create(ctx, &donor.Donor{ID: "d-1"})))

	candidates, err := s.FindCandidates(ctx, shared.BloodGroupAPos)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "d-1", candidates[0].ID)
	assert.Equal(t, "d-5", candidates[1].ID)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 5)

	// Returned donors are copies.
	candidates[0].EligibilityScore = 1
	d, err := s.GetByID(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.EligibilityScore)

	require.NoError(t, s.UpdateEligibilityScore(ctx, "d-1", 60))
	require.NoError(t, s.UpdateReliabilityScore(ctx, "d-1", 72.5))
	require.NoError(t, s.UpdateLocation(ctx, "d-1", geo.Point{Lng: 76.9, Lat: 43.2}, now))
	require.NoError(t, s.RecordDonation(ctx, "d-1", true, now))
	require.NoError(t, s.RecordDonation(ctx, "d-1", false, now))

	d, err = s.GetByID(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, d.EligibilityScore)
	assert.Equal(t, 72.5, d.ReliabilityScore)
	require.NotNil(t, d.Location)
	assert.Equal(t, 43.2, d.Location.Lat)
	assert.Equal(t, 2, d.TotalDonations)
	assert.Equal(t, 1, d.CompletedDonations)
	assert.Equal(t, 1, d.CancelledDonations)
	require.NotNil(t, d.LastDonationDate)
	assert.Equal(t, now, *d.LastDonationDate)

	assert.ErrorIs(t, s.UpdateEligibilityScore(ctx, "ghost", 1), donor.ErrDonorNotFound)

	e, err := donor.NewHistoryEntry("h-1", "d-1", donor.Action{RequestID: "r-1", Status: donor.HistoryCompleted}, now)
	require.NoError(t, err)
	require.NoError(t, s.AppendHistory(ctx, e))
	e.DonorID = "ghost"
	assert.ErrorIs(t, s.AppendHistory(ctx, e), donor.ErrDonorNotFound)

	history, err := s.ListHistory(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, donor.HistoryCompleted, history[0].Status)
}

func newRequest(t *testing.T, id string, timeframe string, at time.Time) *request.BloodRequest {
	t.Helper()
	r, err := request.NewBloodRequest(request.NewBloodRequestParams{
		ID:                id,
		RequesterID:       "u-1",
		BloodGroup:        "A+",
		Location:          &geo.Point{Lng: 76.9, Lat: 43.2},
		RequiredTimeframe: timeframe,
	}, at)
	require.NoError(t, err)
	return r
}

func TestRequestStore(t *testing.T) {
	s := NewRequestStore()
	ctx := context.Background()

	late := newRequest(t, "r-2", "immediate", now.Add(time.Minute))
	early := newRequest(t, "r-1", "within_2_hours", now)
	white := newRequest(t, "r-3", "after_24_hours", now)
	for _, r := range []*request.BloodRequest{late, early, white} {
		require.NoError(t, s.Create(ctx, r))
	}
	assert.True(t, shared.IsAlreadyExists(s.Create(ctx, early)))

	pending, err := s.ListPending(ctx, request.UrgencyRed)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r-1", pending[0].ID)
	assert.Equal(t, "r-2", pending[1].ID)

	stale, err := s.GetByID(ctx, "r-1")
	require.NoError(t, err)

	require.NoError(t, early.Cancel(now))
	require.NoError(t, s.Update(ctx, early, request.StatusPending))

	require.NoError(t, stale.Expire(now.Add(time.Hour)))
	assert.ErrorIs(t, s.Update(ctx, stale, request.StatusPending), request.ErrStatusConflict)

	pending, err = s.ListPending(ctx, request.UrgencyRed)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got, err := s.GetByID(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, got.Status)

	_, err = s.GetByID(ctx, "ghost")
	assert.ErrorIs(t, err, request.ErrRequestNotFound)
	assert.ErrorIs(t, s.Update(ctx, &request.BloodRequest{ID: "ghost"}, request.StatusPending), request.ErrRequestNotFound)
}

func TestNotificationStore(t *testing.T) {
	s := NewNotificationStore()
	ctx := context.Background()

	red, err := request.NewDonorNotification("n-1", "r-1", "d-1", request.UrgencyRed, now)
	require.NoError(t, err)
	pink, err := request.NewDonorNotification("n-2", "r-1", "d-2", request.UrgencyPink, now)
	require.NoError(t, err)
	white, err := request.NewDonorNotification("n-3", "r-1", "d-3", request.UrgencyWhite, now)
	require.NoError(t, err)
	for _, n := range []*request.DonorNotification{red, pink, white} {
		require.NoError(t, s.Create(ctx, n))
	}

	dup, err := request.NewDonorNotification("n-4", "r-1", "d-1", request.UrgencyRed, now)
	require.NoError(t, err)
	assert.True(t, shared.IsAlreadyExists(s.Create(ctx, dup)))

	all, err := s.ListByRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	timedOut, err := s.ListTimedOut(ctx, now.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, timedOut, 1)
	assert.Equal(t, "n-1", timedOut[0].ID)

	require.True(t, timedOut[0].MarkTimedOut(now.Add(15*time.Minute)))
	require.NoError(t, s.Update(ctx, timedOut[0]))

	timedOut, err = s.ListTimedOut(ctx, now.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, timedOut, 1)
	assert.Equal(t, "n-2", timedOut[0].ID)

	got, err := s.GetByID(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, got.IsExpired)
	require.NotNil(t, got.ResponseType)
	assert.Equal(t, request.ResponseIgnored, *got.ResponseType)
}

func TestUserStore(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()

	u, err := registration.NewUser("u-1", registration.RegisterInput{
		FullName:     "Aidos Karimov",
		Age:          28,
		Gender:       "male",
		MobileNumber: "+77011234567",
		City:         "Almaty",
		BloodGroup:   "O-",
	}, now)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, u))

	dup := *u
	dup.ID = "u-2"
	assert.ErrorIs(t, s.Create(ctx, &dup), registration.ErrMobileAlreadyUsed)

	require.NoError(t, s.MarkMobileVerified(ctx, "+77011234567"))
	require.NoError(t, s.UpdatePreferences(ctx, "u-1", registration.Preferences{QuietHoursStart: "22:00", QuietHoursEnd: "07:00"}))

	got, err := s.GetByMobile(ctx, "+77011234567")
	require.NoError(t, err)
	assert.True(t, got.MobileVerified)
	assert.False(t, got.Preferences.NotificationEnabled)
	assert.Equal(t, "22:00", got.Preferences.QuietHoursStart)

	_, err = s.GetByMobile(ctx, "+70000000000")
	assert.ErrorIs(t, err, registration.ErrUserNotFound)
	assert.ErrorIs(t, s.MarkMobileVerified(ctx, "+70000000000"), registration.ErrUserNotFound)
}

func TestOTPStore_Eviction(t *testing.T) {
	clock := timeutil.NewFixedClock(now)
	s := NewOTPStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "+7700", registration.OTPRecord{Hash: "h", ExpiresAt: now.Add(10 * time.Minute)}, 10*time.Minute))

	n, err := s.IncrementAttempts(ctx, "+7700")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.Get(ctx, "+7700")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	clock.Advance(10 * time.Minute)
	_, err = s.Get(ctx, "+7700")
	assert.ErrorIs(t, err, registration.ErrOTPNotFound)
	_, err = s.IncrementAttempts(ctx, "+7700")
	assert.ErrorIs(t, err, registration.ErrOTPNotFound)
}
