package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BLOOD REQUEST REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RequestRepository implements request.Repository for PostgreSQL.
type RequestRepository struct {
	db *sql.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, requester_id, blood_group, ST_AsText(location::geometry), required_timeframe,
	urgency_band, emergency_warning, hospital_name, status,
	created_at, viewed_at, expires_at, completed_at, updated_at
`

// Create inserts a new request.
func (r *RequestRepository) Create(ctx context.Context, br *request.BloodRequest) error {
	query := `
		INSERT INTO blood_requests (
			id, requester_id, blood_group, location, required_timeframe,
			urgency_band, emergency_warning, hospital_name, status,
			created_at, viewed_at, expires_at, completed_at, updated_at
		) VALUES ($1, $2, $3, ST_GeogFromText($4), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		br.ID,
		br.RequesterID,
		string(br.BloodGroup),
		br.Location.String(),
		br.RequiredTimeframe,
		string(br.UrgencyBand),
		br.EmergencyWarning,
		optionalText(br.HospitalName),
		string(br.Status),
		br.CreatedAt,
		nullTime(br.ViewedAt),
		nullTime(br.ExpiresAt),
		nullTime(br.CompletedAt),
		br.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("request", "Create", shared.ErrAlreadyExists, "blood request already exists")
		}
		return fmt.Errorf("failed to create blood request: %w", err)
	}
	return nil
}

// GetByID returns a request by id.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*request.BloodRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM blood_requests WHERE id = $1`

	br, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, request.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get blood request: %w", err)
	}
	return br, nil
}

// Update writes the mutable fields back if the row still has status from.
// Band, group and location never change.
func (r *RequestRepository) Update(ctx context.Context, br *request.BloodRequest, from request.Status) error {
	query := `
		UPDATE blood_requests SET
			status = $1,
			viewed_at = $2,
			expires_at = $3,
			completed_at = $4,
			updated_at = $5
		WHERE id = $6 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		string(br.Status),
		nullTime(br.ViewedAt),
		nullTime(br.ExpiresAt),
		nullTime(br.CompletedAt),
		br.UpdatedAt,
		br.ID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update blood request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update blood request: %w", err)
	}
	if n == 0 {
		return r.missOrConflict(ctx, br.ID)
	}
	return nil
}

// missOrConflict explains an update that matched no row.
func (r *RequestRepository) missOrConflict(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM blood_requests WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if IsNoRows(err) {
			return request.ErrRequestNotFound
		}
		return fmt.Errorf("failed to update blood request: %w", err)
	}
	return request.ErrStatusConflict
}

// ListPending returns PENDING requests of a band, oldest first.
func (r *RequestRepository) ListPending(ctx context.Context, band request.UrgencyBand) ([]*request.BloodRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM blood_requests
		WHERE status = 'PENDING' AND urgency_band = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, string(band))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	defer rows.Close()

	var out []*request.BloodRequest
	for rows.Next() {
		br, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blood request: %w", err)
		}
		out = append(out, br)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*request.BloodRequest, error) {
	var (
		br                               request.BloodRequest
		group, location, band, status    string
		hospital                         sql.NullString
		viewedAt, expiresAt, completedAt sql.NullTime
		createdAt, updatedAt             time.Time
	)

	err := row.Scan(
		&br.ID, &br.RequesterID, &group, &location, &br.RequiredTimeframe,
		&band, &br.EmergencyWarning, &hospital, &status,
		&createdAt, &viewedAt, &expiresAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p, err := geo.ParsePoint(location)
	if err != nil {
		return nil, err
	}

	br.BloodGroup = shared.BloodGroup(group)
	br.Location = p
	br.UrgencyBand = request.UrgencyBand(band)
	br.HospitalName = hospital.String
	br.Status = request.Status(status)
	br.CreatedAt = createdAt.UTC()
	br.UpdatedAt = updatedAt.UTC()
	br.ViewedAt = timePtr(viewedAt)
	br.ExpiresAt = timePtr(expiresAt)
	br.CompletedAt = timePtr(completedAt)
	return &br, nil
}

func optionalText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
