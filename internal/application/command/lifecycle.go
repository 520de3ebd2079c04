package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LIFECYCLE MANAGER
// Drives a blood request from PENDING to a terminal state and tracks the
// per-donor notifications sent for it. Nothing here runs on its own timer:
// the worker's scheduler calls ExpireDue and ExpireNotifications.
// ══════════════════════════════════════════════════════════════════════════════

// CreateRequestParams contains the data to open a blood request.
type CreateRequestParams struct {
	RequesterID       string
	BloodGroup        string
	Location          *geo.Point
	RequiredTimeframe string
	HospitalName      string
}

// LifecycleDeps are the collaborators of the manager. Requests is required;
// the rest may be nil, which disables the features that need them.
type LifecycleDeps struct {
	Requests      request.Repository
	Notifications request.NotificationRepository
	Donors        donor.Repository
	Users         registration.UserRepository
	Scores        *DonorScoreService
	Events        shared.EventPublisher
	Clock         timeutil.Clock
	NewID         IDGenerator
	Logger        *logger.Logger
}

// LifecycleManager handles request state transitions.
type LifecycleManager struct {
	requests      request.Repository
	notifications request.NotificationRepository
	donors        donor.Repository
	users         registration.UserRepository
	scores        *DonorScoreService
	events        shared.EventPublisher
	clock         timeutil.Clock
	newID         IDGenerator
	log           *logger.Logger
}

// NewLifecycleManager creates a new LifecycleManager.
func NewLifecycleManager(deps LifecycleDeps) *LifecycleManager {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.NewID == nil {
		deps.NewID = NewID
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	return &LifecycleManager{
		requests:      deps.Requests,
		notifications: deps.Notifications,
		donors:        deps.Donors,
		users:         deps.Users,
		scores:        deps.Scores,
		events:        deps.Events,
		clock:         deps.Clock,
		newID:         deps.NewID,
		log:           deps.Logger.Named("lifecycle"),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Requests
// ─────────────────────────────────────────────────────────────────────────────

// CreateRequest classifies the timeframe and stores a PENDING request.
func (m *LifecycleManager) CreateRequest(ctx context.Context, params CreateRequestParams) (*request.BloodRequest, error) {
	r, err := request.NewBloodRequest(request.NewBloodRequestParams{
		ID:                m.newID(),
		RequesterID:       params.RequesterID,
		BloodGroup:        params.BloodGroup,
		Location:          params.Location,
		RequiredTimeframe: params.RequiredTimeframe,
		HospitalName:      params.HospitalName,
	}, m.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := m.requests.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	m.log.Info("blood request created",
		logger.RequestID(r.ID),
		logger.BloodGroup(string(r.BloodGroup)),
		logger.UrgencyBand(string(r.UrgencyBand)),
		logger.Bool("emergency", r.EmergencyWarning))
	return r, nil
}

// GetRequest returns a request by id.
func (m *LifecycleManager) GetRequest(ctx context.Context, id string) (*request.BloodRequest, error) {
	if id == "" {
		return nil, shared.NewValidationError("request", "Get", "request id is required")
	}
	return m.requests.GetByID(ctx, id)
}

// MarkViewed records the first view of a request. It restarts the RED
// expiration window with the response timeout.
func (m *LifecycleManager) MarkViewed(ctx context.Context, id string) (*request.BloodRequest, error) {
	r, err := m.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	from := r.Status
	if !r.MarkViewed(m.clock.Now()) {
		return r, nil
	}
	if err := m.requests.Update(ctx, r, from); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	return r, nil
}

// CheckExpiration expires a pending RED request whose window elapsed and
// notifies. It reports whether the request expired by this call; requests
// already terminal are left untouched. r may be stale: if the stored request
// moved on meanwhile, nothing is written and the result is false.
func (m *LifecycleManager) CheckExpiration(ctx context.Context, r *request.BloodRequest) (bool, error) {
	if r == nil {
		return false, shared.NewValidationError("request", "CheckExpiration", "request is required")
	}
	now := m.clock.Now()
	if r.IsTerminal() || !r.ExpirationDue(now) {
		return false, nil
	}

	next := *r
	if err := next.Expire(now); err != nil {
		return false, err
	}
	if err := m.requests.Update(ctx, &next, r.Status); err != nil {
		if errors.Is(err, request.ErrStatusConflict) {
			m.log.Debug("request changed before expiry, skipped", logger.RequestID(r.ID))
			return false, nil
		}
		return false, fmt.Errorf("update request: %w", err)
	}
	*r = next

	m.log.Info("blood request expired",
		logger.RequestID(r.ID),
		logger.UrgencyBand(string(r.UrgencyBand)))
	m.publish(ctx, shared.NewRequestNoticeEvent(r.ID, request.ExpiredMessage, true, now))
	return true, nil
}

// CheckExpirationByID loads the request and checks it.
func (m *LifecycleManager) CheckExpirationByID(ctx context.Context, id string) (bool, error) {
	r, err := m.GetRequest(ctx, id)
	if err != nil {
		return false, err
	}
	return m.CheckExpiration(ctx, r)
}

// ExpireDue checks every pending RED request and returns how many expired.
// A failing request does not stop the sweep.
func (m *LifecycleManager) ExpireDue(ctx context.Context) (int, error) {
	pending, err := m.requests.ListPending(ctx, request.UrgencyRed)
	if err != nil {
		return 0, fmt.Errorf("list pending requests: %w", err)
	}

	expired := 0
	var errs []error
	for _, r := range pending {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := m.CheckExpiration(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", r.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// AcceptDonor moves a pending request to DONOR_ACCEPTED.
func (m *LifecycleManager) AcceptDonor(ctx context.Context, id string) (*request.BloodRequest, error) {
	return m.transition(ctx, id, "AcceptDonor", (*request.BloodRequest).Accept)
}

// StartDonation moves an accepted request to IN_PROGRESS.
func (m *LifecycleManager) StartDonation(ctx context.Context, id string) (*request.BloodRequest, error) {
	return m.transition(ctx, id, "StartDonation", (*request.BloodRequest).Start)
}

// CompleteRequest moves an in-progress request to COMPLETED and credits the
// donors who accepted it.
func (m *LifecycleManager) CompleteRequest(ctx context.Context, id string) (*request.BloodRequest, error) {
	r, err := m.transition(ctx, id, "CompleteRequest", (*request.BloodRequest).Complete)
	if err != nil {
		return nil, err
	}
	m.creditAcceptedDonors(ctx, r)
	return r, nil
}

// CancelRequest cancels a request from any non-terminal state.
func (m *LifecycleManager) CancelRequest(ctx context.Context, id string) (*request.BloodRequest, error) {
	return m.transition(ctx, id, "CancelRequest", (*request.BloodRequest).Cancel)
}

func (m *LifecycleManager) transition(ctx context.Context, id, op string, apply func(*request.BloodRequest, time.Time) error) (*request.BloodRequest, error) {
	r, err := m.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	from := r.Status
	if err := apply(r, m.clock.Now()); err != nil {
		return nil, err
	}
	if err := m.requests.Update(ctx, r, from); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	m.log.Info("request status changed",
		logger.RequestID(r.ID),
		logger.Operation(op),
		logger.String("from", string(from)),
		logger.String("to", string(r.Status)))
	return r, nil
}

func (m *LifecycleManager) creditAcceptedDonors(ctx context.Context, r *request.BloodRequest) {
	if m.notifications == nil || m.scores == nil {
		return
	}
	sent, err := m.notifications.ListByRequest(ctx, r.ID)
	if err != nil {
		m.log.Warn("cannot load notifications of completed request", logger.RequestID(r.ID), logger.Err(err))
		return
	}
	for _, n := range sent {
		if n.ResponseType == nil || *n.ResponseType != request.ResponseAccepted {
			continue
		}
		m.recordAction(ctx, n.DonorID, donor.Action{
			RequestID:    r.ID,
			Status:       donor.HistoryCompleted,
			ResponseType: request.ResponseAccepted,
			At:           *r.CompletedAt,
		})
		if err := m.scores.RecordDonation(ctx, n.DonorID, true, *r.CompletedAt); err != nil {
			m.log.Warn("cannot record donation",
				logger.RequestID(r.ID),
				logger.DonorID(n.DonorID),
				logger.Err(err))
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Donor notifications
// ─────────────────────────────────────────────────────────────────────────────

// NotifyDonors opens a notification per donor. Donors who turned
// notifications off, or whose quiet hours cover a non-RED request, are
// skipped, as are donors already notified for this request.
func (m *LifecycleManager) NotifyDonors(ctx context.Context, requestID string, donorIDs []string) ([]*request.DonorNotification, error) {
	if m.notifications == nil || m.donors == nil {
		return nil, errors.New("notify donors: notification store not configured")
	}
	r, err := m.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.IsTerminal() {
		return nil, shared.NewValidationError("request", "NotifyDonors", "request is "+string(r.Status))
	}

	now := m.clock.Now()
	out := make([]*request.DonorNotification, 0, len(donorIDs))
	for _, donorID := range donorIDs {
		d, err := m.donors.GetByID(ctx, donorID)
		if err != nil {
			return out, err
		}
		if !m.reachable(ctx, d, r.UrgencyBand, now) {
			m.log.Debug("donor not notified", logger.RequestID(r.ID), logger.DonorID(d.ID))
			continue
		}

		n, err := request.NewDonorNotification(m.newID(), r.ID, d.ID, r.UrgencyBand, now)
		if err != nil {
			return out, err
		}
		if err := m.notifications.Create(ctx, n); err != nil {
			if shared.IsAlreadyExists(err) {
				continue
			}
			return out, fmt.Errorf("create notification: %w", err)
		}
		out = append(out, n)
	}

	m.log.Info("donors notified",
		logger.RequestID(r.ID),
		logger.Int("requested", len(donorIDs)),
		logger.Int("sent", len(out)))
	return out, nil
}

func (m *LifecycleManager) reachable(ctx context.Context, d *donor.Donor, band request.UrgencyBand, now time.Time) bool {
	if !d.IsActive || !d.NotificationEnabled {
		return false
	}
	if m.users == nil {
		return true
	}
	u, err := m.users.GetByID(ctx, d.UserID)
	if err != nil {
		m.log.Warn("cannot load donor preferences, notifying anyway", logger.DonorID(d.ID), logger.Err(err))
		return true
	}
	return registration.ShouldSendNotification(u.Preferences, band, now)
}

// MarkNotificationViewed records that the donor opened the notification and,
// through it, the request.
func (m *LifecycleManager) MarkNotificationViewed(ctx context.Context, notificationID string) (*request.DonorNotification, error) {
	n, err := m.getNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.MarkViewed(m.clock.Now()) {
		if err := m.notifications.Update(ctx, n); err != nil {
			return nil, fmt.Errorf("update notification: %w", err)
		}
	}
	if _, err := m.MarkViewed(ctx, n.RequestID); err != nil {
		return nil, err
	}
	return n, nil
}

// RecordDonorResponse stores the donor's answer once. ACCEPTED also moves
// the request to DONOR_ACCEPTED, which fails if another donor got there first.
// Every answer lands in the donor's ledger.
func (m *LifecycleManager) RecordDonorResponse(ctx context.Context, notificationID string, rt request.ResponseType) (*request.DonorNotification, error) {
	n, err := m.getNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	if n.HasResponded() {
		return nil, request.ErrAlreadyResponded
	}

	var accepted *request.BloodRequest
	if rt == request.ResponseAccepted {
		r, err := m.GetRequest(ctx, n.RequestID)
		if err != nil {
			return nil, err
		}
		if err := r.Accept(now); err != nil {
			return nil, err
		}
		accepted = r
	}

	if err := n.Respond(rt, now); err != nil {
		return nil, err
	}
	if accepted != nil {
		if err := m.requests.Update(ctx, accepted, request.StatusPending); err != nil {
			return nil, fmt.Errorf("update request: %w", err)
		}
	}
	if err := m.notifications.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("update notification: %w", err)
	}

	status := donor.HistoryPending
	if accepted != nil {
		status = donor.HistoryAccepted
		m.log.Info("donor accepted request", logger.RequestID(accepted.ID), logger.DonorID(n.DonorID))
		m.publish(ctx, shared.NewRequestNoticeEvent(accepted.ID, "Donor accepted the request", false, now))
	}

	m.recordAction(ctx, n.DonorID, donor.Action{
		RequestID:    n.RequestID,
		Status:       status,
		ResponseType: rt,
		At:           now,
	})
	return n, nil
}

// ExpireNotifications marks unanswered notifications past their deadline as
// IGNORED and returns how many were marked.
func (m *LifecycleManager) ExpireNotifications(ctx context.Context) (int, error) {
	if m.notifications == nil {
		return 0, nil
	}
	now := m.clock.Now()
	due, err := m.notifications.ListTimedOut(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list timed out notifications: %w", err)
	}

	marked := 0
	var errs []error
	for _, n := range due {
		if !n.MarkTimedOut(now) {
			continue
		}
		if err := m.notifications.Update(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notification %s: %w", n.ID, err))
			continue
		}
		marked++
		m.recordAction(ctx, n.DonorID, donor.Action{
			RequestID:    n.RequestID,
			Status:       donor.HistoryPending,
			ResponseType: request.ResponseIgnored,
			At:           now,
		})
	}

	if marked > 0 {
		m.log.Info("donor notifications timed out", logger.Int("count", marked))
	}
	return marked, errors.Join(errs...)
}

func (m *LifecycleManager) getNotification(ctx context.Context, id string) (*request.DonorNotification, error) {
	if m.notifications == nil {
		return nil, errors.New("notification store not configured")
	}
	if id == "" {
		return nil, shared.NewValidationError("notification", "Get", "notification id is required")
	}
	return m.notifications.GetByID(ctx, id)
}

// ─────────────────────────────────────────────────────────────────────────────
// Side effects
// ─────────────────────────────────────────────────────────────────────────────

// recordAction updates the donor ledger. Score bookkeeping never fails the
// state change that triggered it.
func (m *LifecycleManager) recordAction(ctx context.Context, donorID string, a donor.Action) {
	if m.scores == nil {
		return
	}
	if _, err := m.scores.RecordAction(ctx, donorID, a); err != nil {
		m.log.Warn("cannot record donor action",
			logger.DonorID(donorID),
			logger.RequestID(a.RequestID),
			logger.Err(err))
	}
}

// publish hands the event to the notifiers. Delivery failures are logged.
func (m *LifecycleManager) publish(ctx context.Context, event shared.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.log.Warn("notice delivery failed",
			logger.RequestID(event.AggregateID()),
			logger.String("event_type", string(event.EventType())),
			logger.Err(err))
	}
}
