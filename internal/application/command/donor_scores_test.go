package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/memory"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

func newScoreFixture(t *testing.T, donors ...*donor.Donor) (*DonorScoreService, *memory.DonorStore, *timeutil.FixedClock) {
	t.Helper()
	store := memory.NewDonorStore()
	for _, d := range donors {
		require.NoError(t, store.Create(context.Background(), d))
	}
	clock := timeutil.NewFixedClock(start)
	return NewDonorScoreService(store, clock, sequentialIDs("h"), nil), store, clock
}

func activeDonor(id string) *donor.Donor {
	return &donor.Donor{
		ID:                  id,
		UserID:              "u-" + id,
		BloodGroup:          shared.BloodGroupBNeg,
		EligibilityScore:    donor.DefaultEligibilityScore,
		ReliabilityScore:    donor.DefaultReliabilityScore,
		IsActive:            true,
		NotificationEnabled: true,
	}
}

func TestDonorScores_RecalculateEligibility(t *testing.T) {
	d := activeDonor("d1")
	last := start.AddDate(0, 0, -100)
	d.LastDonationDate = &last
	d.MedicalHistory = &donor.MedicalHistory{Diabetes: true}

	svc, store, _ := newScoreFixture(t, d)
	ctx := context.Background()

	report, err := svc.RecalculateEligibility(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 60, report.Score)
	assert.True(t, report.Eligible)
	assert.Equal(t, "Eligible with some restrictions", report.Message)

	stored, err := store.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, stored.EligibilityScore)

	_, err = svc.RecalculateEligibility(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestDonorScores_RecordAction(t *testing.T) {
	svc, store, clock := newScoreFixture(t, activeDonor("d1"))
	ctx := context.Background()

	score, err := svc.RecordAction(ctx, "d1", donor.Action{RequestID: "r1", Status: donor.HistoryCompleted})
	require.NoError(t, err)
	assert.Equal(t, 60.0, score)

	clock.Advance(time.Hour)
	score, err = svc.RecordAction(ctx, "d1", donor.Action{RequestID: "r2", Status: donor.HistoryCancelled})
	require.NoError(t, err)
	assert.Equal(t, 45.0, score)

	score, err = svc.RecordAction(ctx, "d1", donor.Action{
		RequestID:    "r3",
		Status:       donor.HistoryPending,
		ResponseType: request.ResponseIgnored,
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, score)

	d, err := store.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, d.ReliabilityScore)
	assert.Zero(t, d.TotalDonations, "the ledger alone never touches the counters")
	assert.Nil(t, d.LastDonationDate)
	assert.Equal(t, donor.DefaultEligibilityScore, d.EligibilityScore)

	history, err := store.ListHistory(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "h-1", history[0].ID)

	_, err = svc.RecordAction(ctx, "d1", donor.Action{Status: "LOST"})
	assert.True(t, shared.IsValidation(err))
}

func TestDonorScores_RecordDonation(t *testing.T) {
	svc, store, clock := newScoreFixture(t, activeDonor("d1"))
	ctx := context.Background()

	require.NoError(t, svc.RecordDonation(ctx, "d1", false, start))
	d, err := store.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.TotalDonations)
	assert.Equal(t, 1, d.CancelledDonations)
	assert.Nil(t, d.LastDonationDate)
	assert.Equal(t, donor.DefaultEligibilityScore, d.EligibilityScore)

	clock.Advance(time.Hour)
	require.NoError(t, svc.RecordDonation(ctx, "d1", true, start))
	d, err = store.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, d.TotalDonations)
	assert.Equal(t, 1, d.CompletedDonations)
	require.NotNil(t, d.LastDonationDate)
	assert.Equal(t, start, *d.LastDonationDate)
	assert.Equal(t, 50.0, d.EligibilityScore)
	assert.Equal(t, donor.DefaultReliabilityScore, d.ReliabilityScore, "counters never move reliability")

	assert.True(t, shared.IsNotFound(svc.RecordDonation(ctx, "ghost", true, start)))
}

func TestDonorScores_RefreshAll(t *testing.T) {
	recovering := activeDonor("d1")
	last := start.AddDate(0, 0, -100)
	recovering.LastDonationDate = &last

	inactive := activeDonor("d2")
	inactive.IsActive = false
	inactive.EligibilityScore = 10

	svc, store, clock := newScoreFixture(t, recovering, inactive, activeDonor("d3"))
	ctx := context.Background()

	res, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{Scanned: 2, Updated: 1}, res)

	d1, err := store.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 75.0, d1.EligibilityScore)

	clock.Advance(30 * 24 * time.Hour)
	res, err = svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	d1, err = store.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, d1.EligibilityScore)

	d2, err := store.GetByID(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, 10.0, d2.EligibilityScore, "inactive donors are not refreshed")
}

func TestDonorScores_UpdateLocation(t *testing.T) {
	svc, store, _ := newScoreFixture(t, activeDonor("d1"))
	ctx := context.Background()

	p, err := svc.UpdateLocation(ctx, "d1", "POINT(76.9286 43.2567)")
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lng: 76.9286, Lat: 43.2567}, p)

	d, err := store.GetByID(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, d.Location)
	assert.Equal(t, p, *d.Location)
	assert.Equal(t, start, *d.LocationUpdatedAt)

	_, err = svc.UpdateLocation(ctx, "d1", "76.9 43.2")
	assert.True(t, shared.IsParse(err))
	assert.Equal(t, geo.MsgInvalidPoint, shared.Message(err))
}

func TestDonorScores_Profile(t *testing.T) {
	svc, _, _ := newScoreFixture(t, activeDonor("d1"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordAction(ctx, "d1", donor.Action{Status: donor.HistoryPending, ResponseType: request.ResponseAccepted})
		require.NoError(t, err)
	}
	_, err := svc.RecordAction(ctx, "d1", donor.Action{Status: donor.HistoryCompleted})
	require.NoError(t, err)

	p, err := svc.Profile(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, p.History, 4)
	assert.Equal(t, 60.0, p.Reliability.Score)
	assert.Equal(t, donor.ReliabilityGood, p.Reliability.Level)
	assert.Equal(t, 50, p.Eligibility.Score)

	_, err = svc.Profile(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}
