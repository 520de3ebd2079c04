package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DONOR REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DonorRepository implements donor.Repository for PostgreSQL. Group, name,
// medical history and the active/notification flags live on users and are
// joined in.
type DonorRepository struct {
	db *sql.DB
}

// NewDonorRepository creates a new DonorRepository.
func NewDonorRepository(db *sql.DB) *DonorRepository {
	return &DonorRepository{db: db}
}

const donorColumns = `
	d.id, d.user_id, u.full_name, u.blood_group,
	ST_AsText(d.current_location::geometry), d.location_updated_at,
	d.eligibility_score, d.reliability_score,
	d.total_donations, d.completed_donations, d.cancelled_donations,
	d.last_donation_date, u.medical_history, u.is_active, u.notification_enabled
`

const donorFrom = `
	FROM donors d
	JOIN users u ON u.id = d.user_id
`

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a donor by id.
func (r *DonorRepository) GetByID(ctx context.Context, id string) (*donor.Donor, error) {
	query := `SELECT ` + donorColumns + donorFrom + ` WHERE d.id = $1`

	d, err := scanDonor(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, donor.ErrDonorNotFound
		}
		return nil, fmt.Errorf("failed to get donor: %w", err)
	}
	return d, nil
}

// FindCandidates returns matching candidates ordered by creation, then id.
func (r *DonorRepository) FindCandidates(ctx context.Context, group shared.BloodGroup) ([]*donor.Donor, error) {
	query := `SELECT ` + donorColumns + donorFrom + `
		WHERE u.blood_group = $1
		  AND u.is_active = TRUE
		  AND u.notification_enabled = TRUE
		  AND d.eligibility_score > 0
		ORDER BY d.created_at, d.id
	`
	return r.queryDonors(ctx, query, string(group))
}

// ListActive returns all donors of active users.
func (r *DonorRepository) ListActive(ctx context.Context) ([]*donor.Donor, error) {
	query := `SELECT ` + donorColumns + donorFrom + `
		WHERE u.is_active = TRUE
		ORDER BY d.created_at, d.id
	`
	return r.queryDonors(ctx, query)
}

func (r *DonorRepository) queryDonors(ctx context.Context, query string, args ...any) ([]*donor.Donor, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query donors: %w", err)
	}
	defer rows.Close()

	var donors []*donor.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donor: %w", err)
		}
		donors = append(donors, d)
	}
	return donors, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts the donor profile row.
func (r *DonorRepository) Create(ctx context.Context, d *donor.Donor) error {
	query := `
		INSERT INTO donors (
			id, user_id, current_location, location_updated_at, last_donation_date,
			eligibility_score, reliability_score
		) VALUES ($1, $2, ST_GeogFromText($3), $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.UserID,
		pointText(d.Location),
		nullTime(d.LocationUpdatedAt),
		nullTime(d.LastDonationDate),
		d.EligibilityScore,
		d.ReliabilityScore,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("donor", "Create", shared.ErrAlreadyExists, "donor profile already exists")
		}
		return fmt.Errorf("failed to create donor: %w", err)
	}
	return nil
}

// UpdateEligibilityScore writes eligibility_score only.
func (r *DonorRepository) UpdateEligibilityScore(ctx context.Context, id string, score float64) error {
	return r.execOne(ctx, "update eligibility score",
		`UPDATE donors SET eligibility_score = $1, updated_at = NOW() WHERE id = $2`, score, id)
}

// UpdateReliabilityScore writes reliability_score only.
func (r *DonorRepository) UpdateReliabilityScore(ctx context.Context, id string, score float64) error {
	return r.execOne(ctx, "update reliability score",
		`UPDATE donors SET reliability_score = $1, updated_at = NOW() WHERE id = $2`, score, id)
}

// UpdateLocation stores a new position.
func (r *DonorRepository) UpdateLocation(ctx context.Context, id string, p geo.Point, at time.Time) error {
	return r.execOne(ctx, "update location", `
		UPDATE donors
		SET current_location = ST_GeogFromText($1), location_updated_at = $2, updated_at = NOW()
		WHERE id = $3
	`, p.String(), at.UTC(), id)
}

// RecordDonation bumps the counters in one statement.
func (r *DonorRepository) RecordDonation(ctx context.Context, id string, completed bool, at time.Time) error {
	if completed {
		return r.execOne(ctx, "record donation", `
			UPDATE donors
			SET total_donations = total_donations + 1,
			    completed_donations = completed_donations + 1,
			    last_donation_date = $1,
			    updated_at = NOW()
			WHERE id = $2
		`, at.UTC(), id)
	}
	return r.execOne(ctx, "record donation", `
		UPDATE donors
		SET total_donations = total_donations + 1,
		    cancelled_donations = cancelled_donations + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (r *DonorRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n == 0 {
		return donor.ErrDonorNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Donation history
// ─────────────────────────────────────────────────────────────────────────────

// ListHistory returns the ledger oldest first.
func (r *DonorRepository) ListHistory(ctx context.Context, donorID string) ([]donor.HistoryEntry, error) {
	query := `
		SELECT id, donor_id, request_id, status, response_type,
		       accepted_at, completed_at, cancelled_at, created_at
		FROM donation_history
		WHERE donor_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, donorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query donation history: %w", err)
	}
	defer rows.Close()

	var entries []donor.HistoryEntry
	for rows.Next() {
		var (
			e                                 donor.HistoryEntry
			status                            string
			requestID, responseType           sql.NullString
			acceptedAt, completedAt, cancelAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.DonorID, &requestID, &status, &responseType,
			&acceptedAt, &completedAt, &cancelAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Status = donor.HistoryStatus(status)
		e.RequestID = stringPtr(requestID)
		if responseType.Valid {
			rt := request.ResponseType(responseType.String)
			e.ResponseType = &rt
		}
		e.AcceptedAt = timePtr(acceptedAt)
		e.CompletedAt = timePtr(completedAt)
		e.CancelledAt = timePtr(cancelAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendHistory inserts one ledger entry.
func (r *DonorRepository) AppendHistory(ctx context.Context, e donor.HistoryEntry) error {
	query := `
		INSERT INTO donation_history (
			id, donor_id, request_id, status, response_type,
			accepted_at, completed_at, cancelled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.DonorID,
		nullString(e.RequestID),
		string(e.Status),
		nullResponse(e.ResponseType),
		nullTime(e.AcceptedAt),
		nullTime(e.CompletedAt),
		nullTime(e.CancelledAt),
		e.CreatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return donor.ErrDonorNotFound
		}
		return fmt.Errorf("failed to append donation history: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonor(row rowScanner) (*donor.Donor, error) {
	var (
		d                 donor.Donor
		group             string
		location          sql.NullString
		locationUpdatedAt sql.NullTime
		lastDonation      sql.NullTime
		medicalHistory    []byte
	)

	err := row.Scan(
		&d.ID, &d.UserID, &d.FullName, &group,
		&location, &locationUpdatedAt,
		&d.EligibilityScore, &d.ReliabilityScore,
		&d.TotalDonations, &d.CompletedDonations, &d.CancelledDonations,
		&lastDonation, &medicalHistory, &d.IsActive, &d.NotificationEnabled,
	)
	if err != nil {
		return nil, err
	}

	d.BloodGroup = shared.BloodGroup(group)
	if location.Valid && location.String != "" {
		p, err := geo.ParsePoint(location.String)
		if err != nil {
			return nil, err
		}
		d.Location = &p
	}
	d.LocationUpdatedAt = timePtr(locationUpdatedAt)
	d.LastDonationDate = timePtr(lastDonation)

	if len(medicalHistory) > 0 {
		var h donor.MedicalHistory
		if err := json.Unmarshal(medicalHistory, &h); err != nil {
			return nil, fmt.Errorf("failed to decode medical history: %w", err)
		}
		d.MedicalHistory = &h
	}
	return &d, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Null helpers
// ─────────────────────────────────────────────────────────────────────────────

func pointText(p *geo.Point) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
