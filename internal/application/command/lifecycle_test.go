package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/memory"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

var (
	start    = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	hospital = geo.Point{Lng: 76.9286, Lat: 43.2567}
)

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func sequentialIDs(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type fixture struct {
	clock         *timeutil.FixedClock
	requests      *memory.RequestStore
	notifications *memory.NotificationStore
	donors        *memory.DonorStore
	users         *memory.UserStore
	events        *recordingPublisher
	scores        *DonorScoreService
	manager       *LifecycleManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:         timeutil.NewFixedClock(start),
		requests:      memory.NewRequestStore(),
		notifications: memory.NewNotificationStore(),
		donors:        memory.NewDonorStore(),
		users:         memory.NewUserStore(),
		events:        &recordingPublisher{},
	}
	f.scores = NewDonorScoreService(f.donors, f.clock, sequentialIDs("h"), nil)
	f.manager = NewLifecycleManager(LifecycleDeps{
		Requests:      f.requests,
		Notifications: f.notifications,
		Donors:        f.donors,
		Users:         f.users,
		Scores:        f.scores,
		Events:        f.events,
		Clock:         f.clock,
		NewID:         sequentialIDs("id"),
	})
	return f
}

func (f *fixture) createRequest(t *testing.T, timeframe string) *request.BloodRequest {
	t.Helper()
	r, err := f.manager.CreateRequest(context.Background(), CreateRequestParams{
		RequesterID:       "requester-1",
		BloodGroup:        "O+",
		Location:          &hospital,
		RequiredTimeframe: timeframe,
		HospitalName:      "City Hospital",
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) addDonor(t *testing.T, id string, prefs registration.Preferences) *donor.Donor {
	t.Helper()
	ctx := context.Background()
	u := &registration.User{ID: "u-" + id, MobileNumber: "+7700" + id, Preferences: prefs, IsActive: true}
	require.NoError(t, f.users.Create(ctx, u))

	d := &donor.Donor{
		ID:                  id,
		UserID:              u.ID,
		BloodGroup:          shared.BloodGroupOPos,
		Location:            &hospital,
		EligibilityScore:    100,
		ReliabilityScore:    donor.DefaultReliabilityScore,
		IsActive:            true,
		NotificationEnabled: prefs.NotificationEnabled,
	}
	require.NoError(t, f.donors.Create(ctx, d))
	return d
}

func TestLifecycle_CreateRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.createRequest(t, "immediate")
	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, request.StatusPending, r.Status)
	assert.Equal(t, request.UrgencyRed, r.UrgencyBand)
	assert.True(t, r.EmergencyWarning)
	assert.Equal(t, start, r.CreatedAt)
	assert.Nil(t, r.ViewedAt)

	stored, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.UrgencyBand, stored.UrgencyBand)

	_, err = f.manager.CreateRequest(ctx, CreateRequestParams{RequesterID: "x", BloodGroup: "O+", Location: &hospital})
	assert.True(t, shared.IsValidation(err))

	_, err = f.manager.GetRequest(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestLifecycle_CheckExpiration(t *testing.T) {
	tests := []struct {
		name      string
		timeframe string
		view      time.Duration // negative means never viewed
		elapsed   time.Duration
		expired   bool
	}{
		{"red unviewed within window", "immediate", -1, 10 * time.Minute, false},
		{"red unviewed past window", "immediate", -1, 11 * time.Minute, true},
		{"red viewed uses response window", "within_2_hours", 5 * time.Minute, 24 * time.Minute, false},
		{"red viewed past response window", "within_2_hours", 5 * time.Minute, 26 * time.Minute, true},
		{"pink never expires here", "within_24_hours", -1, 48 * time.Hour, false},
		{"white never expires here", "after_24_hours", -1, 48 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			r := f.createRequest(t, tt.timeframe)

			if tt.view >= 0 {
				f.clock.Set(start.Add(tt.view))
				_, err := f.manager.MarkViewed(ctx, r.ID)
				require.NoError(t, err)
			}

			f.clock.Set(start.Add(tt.elapsed))
			expired, err := f.manager.CheckExpirationByID(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expired, expired)

			stored, err := f.manager.GetRequest(ctx, r.ID)
			require.NoError(t, err)
			if tt.expired {
				assert.Equal(t, request.StatusExpired, stored.Status)
				require.Len(t, f.events.events, 1)
				assert.Equal(t, shared.EventRequestExpired, f.events.events[0].EventType())
				assert.Equal(t, request.ExpiredMessage, f.events.events[0].Payload()["message"])
			} else {
				assert.Equal(t, request.StatusPending, stored.Status)
				assert.Empty(t, f.events.events)
			}
		})
	}
}

func TestLifecycle_CheckExpiration_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRequest(t, "immediate")

	f.clock.Advance(time.Hour)
	expired, err := f.manager.CheckExpirationByID(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = f.manager.CheckExpirationByID(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Len(t, f.events.events, 1)

	_, err = f.manager.CheckExpiration(ctx, nil)
	assert.True(t, shared.IsValidation(err))
}

func TestLifecycle_CheckExpiration_StaleSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRequest(t, "immediate")

	snapshot, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.manager.CancelRequest(ctx, r.ID)
	require.NoError(t, err)

	f.clock.Advance(21 * time.Minute)
	expired, err := f.manager.CheckExpiration(ctx, snapshot)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, request.StatusPending, snapshot.Status)
	assert.Empty(t, f.events.events)

	stored, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, stored.Status)
}

func TestLifecycle_CheckExpiration_PendingListWentStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRequest(t, "immediate")

	pending, err := f.requests.ListPending(ctx, request.UrgencyRed)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.manager.AcceptDonor(ctx, r.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	expired, err := f.manager.CheckExpiration(ctx, pending[0])
	require.NoError(t, err)
	assert.False(t, expired)

	stored, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusDonorAccepted, stored.Status)
}

func TestLifecycle_CheckExpiration_NotifierFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("telegram down")
	r := f.createRequest(t, "immediate")

	f.clock.Advance(time.Hour)
	expired, err := f.manager.CheckExpiration(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, request.StatusExpired, r.Status)
}

func TestLifecycle_ExpireDue(t *testing.T) {
	f := newFixture(t)
	old := f.createRequest(t, "immediate")
	f.clock.Advance(5 * time.Minute)
	fresh := f.createRequest(t, "immediate")
	pink := f.createRequest(t, "within_24_hours")

	f.clock.Set(start.Add(12 * time.Minute))
	n, err := f.manager.ExpireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]request.Status{
		old.ID:   request.StatusExpired,
		fresh.ID: request.StatusPending,
		pink.ID:  request.StatusPending,
	} {
		r, err := f.manager.GetRequest(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, r.Status, id)
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRequest(t, "within_24_hours")

	_, err := f.manager.StartDonation(ctx, r.ID)
	assert.True(t, shared.IsValidation(err), "cannot start before a donor accepted")

	r, err = f.manager.AcceptDonor(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusDonorAccepted, r.Status)

	r, err = f.manager.StartDonation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusInProgress, r.Status)

	f.clock.Advance(time.Hour)
	r, err = f.manager.CompleteRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusCompleted, r.Status)
	require.NotNil(t, r.CompletedAt)
	assert.Equal(t, start.Add(time.Hour), *r.CompletedAt)

	_, err = f.manager.CancelRequest(ctx, r.ID)
	assert.True(t, shared.IsValidation(err), "terminal requests stay terminal")

	_, err = f.manager.AcceptDonor(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestLifecycle_CancelFromAnyOpenState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.createRequest(t, "after_24_hours")
	accepted := f.createRequest(t, "after_24_hours")
	_, err := f.manager.AcceptDonor(ctx, accepted.ID)
	require.NoError(t, err)

	for _, id := range []string{pending.ID, accepted.ID} {
		r, err := f.manager.CancelRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, request.StatusCancelled, r.Status)
	}
}

func TestLifecycle_NotifyDonors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDonor(t, "d1", registration.DefaultPreferences())
	f.addDonor(t, "d2", registration.Preferences{NotificationEnabled: false})
	// 10:00 falls inside 09:00-11:00.
	f.addDonor(t, "d3", registration.Preferences{NotificationEnabled: true, QuietHoursStart: "09:00", QuietHoursEnd: "11:00"})

	pink := f.createRequest(t, "within_24_hours")
	sent, err := f.manager.NotifyDonors(ctx, pink.ID, []string{"d1", "d2", "d3"})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "d1", sent[0].DonorID)
	require.NotNil(t, sent[0].TimeoutAt)
	assert.Equal(t, start.Add(30*time.Minute), *sent[0].TimeoutAt)

	again, err := f.manager.NotifyDonors(ctx, pink.ID, []string{"d1"})
	require.NoError(t, err)
	assert.Empty(t, again, "a donor is notified once per request")

	red := f.createRequest(t, "immediate")
	sent, err = f.manager.NotifyDonors(ctx, red.ID, []string{"d1", "d2", "d3"})
	require.NoError(t, err)
	require.Len(t, sent, 2, "RED overrides quiet hours but not a disabled channel")
	assert.Equal(t, "d3", sent[1].DonorID)

	_, err = f.manager.NotifyDonors(ctx, red.ID, []string{"unknown"})
	assert.True(t, shared.IsNotFound(err))
}

func TestLifecycle_RecordDonorResponse_Accepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDonor(t, "d1", registration.DefaultPreferences())
	f.addDonor(t, "d2", registration.DefaultPreferences())

	r := f.createRequest(t, "within_2_hours")
	sent, err := f.manager.NotifyDonors(ctx, r.ID, []string{"d1", "d2"})
	require.NoError(t, err)
	require.Len(t, sent, 2)

	f.clock.Advance(2 * time.Minute)
	n, err := f.manager.RecordDonorResponse(ctx, sent[0].ID, request.ResponseAccepted)
	require.NoError(t, err)
	assert.Equal(t, request.ResponseAccepted, *n.ResponseType)

	stored, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusDonorAccepted, stored.Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, shared.EventRequestNotice, f.events.events[0].EventType())

	history, err := f.donors.ListHistory(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, donor.HistoryAccepted, history[0].Status)

	_, err = f.manager.RecordDonorResponse(ctx, sent[0].ID, request.ResponseDeclined)
	assert.ErrorIs(t, err, request.ErrAlreadyResponded)

	_, err = f.manager.RecordDonorResponse(ctx, sent[1].ID, request.ResponseAccepted)
	assert.True(t, shared.IsValidation(err), "only one donor can accept")
	other, err := f.notifications.GetByID(ctx, sent[1].ID)
	require.NoError(t, err)
	assert.False(t, other.HasResponded())

	_, err = f.manager.StartDonation(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.manager.CompleteRequest(ctx, r.ID)
	require.NoError(t, err)

	d1, err := f.donors.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, d1.CompletedDonations)
	require.NotNil(t, d1.LastDonationDate)
	assert.Equal(t, 60.0, d1.ReliabilityScore)
	assert.Equal(t, 50.0, d1.EligibilityScore, "a donation today costs 50 eligibility points")
}

func TestLifecycle_RecordDonorResponse_Declined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDonor(t, "d1", registration.DefaultPreferences())

	r := f.createRequest(t, "after_24_hours")
	sent, err := f.manager.NotifyDonors(ctx, r.ID, []string{"d1"})
	require.NoError(t, err)
	assert.Nil(t, sent[0].TimeoutAt)

	_, err = f.manager.RecordDonorResponse(ctx, sent[0].ID, request.ResponseDeclined)
	require.NoError(t, err)

	stored, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, stored.Status)

	d1, err := f.donors.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 48.0, d1.ReliabilityScore)

	_, err = f.manager.RecordDonorResponse(ctx, "missing", request.ResponseDeclined)
	assert.True(t, shared.IsNotFound(err))
}

func TestLifecycle_MarkNotificationViewed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDonor(t, "d1", registration.DefaultPreferences())

	r := f.createRequest(t, "immediate")
	sent, err := f.manager.NotifyDonors(ctx, r.ID, []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, start.Add(10*time.Minute), *sent[0].TimeoutAt)

	f.clock.Advance(4 * time.Minute)
	n, err := f.manager.MarkNotificationViewed(ctx, sent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, start.Add(24*time.Minute), *n.TimeoutAt)

	stored, err := f.manager.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ViewedAt)
	assert.Equal(t, start.Add(4*time.Minute), *stored.ViewedAt)
}

func TestLifecycle_ExpireNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDonor(t, "d1", registration.DefaultPreferences())
	f.addDonor(t, "d2", registration.DefaultPreferences())

	red := f.createRequest(t, "immediate")
	pink := f.createRequest(t, "within_24_hours")
	_, err := f.manager.NotifyDonors(ctx, red.ID, []string{"d1"})
	require.NoError(t, err)
	_, err = f.manager.NotifyDonors(ctx, pink.ID, []string{"d2"})
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	n, err := f.manager.ExpireNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d1, err := f.donors.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, d1.ReliabilityScore)

	f.clock.Advance(time.Hour)
	n, err = f.manager.ExpireNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.manager.ExpireNotifications(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sent, err := f.notifications.ListByRequest(ctx, pink.ID)
	require.NoError(t, err)
	assert.True(t, sent[0].IsExpired)
	assert.Equal(t, request.ResponseIgnored, *sent[0].ResponseType)
}
