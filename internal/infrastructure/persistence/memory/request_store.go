package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST STORE
// ══════════════════════════════════════════════════════════════════════════════

// RequestStore keeps blood requests by id.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]*request.BloodRequest
}

// NewRequestStore creates an empty store.
func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]*request.BloodRequest)}
}

func (s *RequestStore) Create(_ context.Context, r *request.BloodRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; ok {
		return shared.NewDomainError("request", "Create", shared.ErrAlreadyExists, "blood request already exists")
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *RequestStore) GetByID(_ context.Context, id string) (*request.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, request.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

func (s *RequestStore) Update(_ context.Context, r *request.BloodRequest, from request.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[r.ID]
	if !ok {
		return request.ErrRequestNotFound
	}
	if stored.Status != from {
		return request.ErrStatusConflict
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

// ListPending returns PENDING requests of the band, oldest first.
func (s *RequestStore) ListPending(_ context.Context, band request.UrgencyBand) ([]*request.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*request.BloodRequest
	for _, r := range s.requests {
		if r.Status == request.StatusPending && r.UrgencyBand == band {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneRequest(r *request.BloodRequest) *request.BloodRequest {
	c := *r
	c.ViewedAt = cloneTime(r.ViewedAt)
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION STORE
// ══════════════════════════════════════════════════════════════════════════════

// NotificationStore keeps donor notifications, one per request and donor.
type NotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*request.DonorNotification
	pairs         map[[2]string]string
}

// NewNotificationStore creates an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		notifications: make(map[string]*request.DonorNotification),
		pairs:         make(map[[2]string]string),
	}
}

func (s *NotificationStore) Create(_ context.Context, n *request.DonorNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := [2]string{n.RequestID, n.DonorID}
	if _, ok := s.pairs[pair]; ok {
		return shared.NewDomainError("notification", "Create", shared.ErrAlreadyExists, "donor already notified for this request")
	}
	if _, ok := s.notifications[n.ID]; ok {
		return shared.NewDomainError("notification", "Create", shared.ErrAlreadyExists, "notification already exists")
	}
	s.notifications[n.ID] = cloneNotification(n)
	s.pairs[pair] = n.ID
	return nil
}

func (s *NotificationStore) GetByID(_ context.Context, id string) (*request.DonorNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, request.ErrNotificationNotFound
	}
	return cloneNotification(n), nil
}

func (s *NotificationStore) Update(_ context.Context, n *request.DonorNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; !ok {
		return request.ErrNotificationNotFound
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

// ListByRequest returns the request's notifications in send order.
func (s *NotificationStore) ListByRequest(_ context.Context, requestID string) ([]*request.DonorNotification, error) {
	return s.list(func(n *request.DonorNotification) bool { return n.RequestID == requestID },
		func(n *request.DonorNotification) time.Time { return n.SentAt }), nil
}

// ListTimedOut returns open notifications whose deadline is before now.
func (s *NotificationStore) ListTimedOut(_ context.Context, now time.Time) ([]*request.DonorNotification, error) {
	return s.list(func(n *request.DonorNotification) bool {
		return !n.HasResponded() && !n.IsExpired && n.TimeoutAt != nil && n.TimeoutAt.Before(now)
	}, func(n *request.DonorNotification) time.Time { return *n.TimeoutAt }), nil
}

func (s *NotificationStore) list(keep func(*request.DonorNotification) bool, key func(*request.DonorNotification) time.Time) []*request.DonorNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*request.DonorNotification
	for _, n := range s.notifications {
		if keep(n) {
			out = append(out, cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneNotification(n *request.DonorNotification) *request.DonorNotification {
	c := *n
	c.ViewedAt = cloneTime(n.ViewedAt)
	c.RespondedAt = cloneTime(n.RespondedAt)
	c.TimeoutAt = cloneTime(n.TimeoutAt)
	if n.ResponseType != nil {
		rt := *n.ResponseType
		c.ResponseType = &rt
	}
	return &c
}
