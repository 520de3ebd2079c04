package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// UserRepository implements registration.UserRepository.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Quiet hours are read back as HH:MM text so the TIME column never leaks
// driver-specific types.
const userColumns = `
	id, full_name, age, gender, mobile_number, mobile_verified, city, blood_group,
	medical_history, is_active, notification_enabled,
	to_char(quiet_hours_start, 'HH24:MI'), to_char(quiet_hours_end, 'HH24:MI'),
	created_at, updated_at
`

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, u *registration.User) error {
	history, err := json.Marshal(u.MedicalHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal medical history: %w", err)
	}

	query := `
		INSERT INTO users (
			id, full_name, age, gender, mobile_number, mobile_verified, city, blood_group,
			medical_history, is_active, notification_enabled, quiet_hours_start, quiet_hours_end,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		u.ID,
		u.FullName,
		u.Age,
		u.Gender,
		u.MobileNumber,
		u.MobileVerified,
		u.City,
		string(u.BloodGroup),
		history,
		u.IsActive,
		u.Preferences.NotificationEnabled,
		optionalText(u.Preferences.QuietHoursStart),
		optionalText(u.Preferences.QuietHoursEnd),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			return registration.ErrMobileAlreadyUsed
		case IsCheckViolation(err):
			return shared.WrapError("registration", "Register", shared.ErrValidation, "user violates a table constraint", err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*registration.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByMobile returns a user by mobile number.
func (r *UserRepository) GetByMobile(ctx context.Context, mobile string) (*registration.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE mobile_number = $1`, mobile)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (*registration.User, error) {
	var (
		u                    registration.User
		group                string
		history              []byte
		quietStart, quietEnd sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.FullName, &u.Age, &u.Gender, &u.MobileNumber, &u.MobileVerified, &u.City, &group,
		&history, &u.IsActive, &u.Preferences.NotificationEnabled,
		&quietStart, &quietEnd,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, registration.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.BloodGroup = shared.BloodGroup(group)
	u.Preferences.QuietHoursStart = quietStart.String
	u.Preferences.QuietHoursEnd = quietEnd.String
	if len(history) > 0 {
		if err := json.Unmarshal(history, &u.MedicalHistory); err != nil {
			return nil, fmt.Errorf("failed to decode medical history: %w", err)
		}
	}
	return &u, nil
}

// UpdatePreferences replaces the notification settings.
func (r *UserRepository) UpdatePreferences(ctx context.Context, userID string, p registration.Preferences) error {
	query := `
		UPDATE users SET
			notification_enabled = $1,
			quiet_hours_start = $2,
			quiet_hours_end = $3,
			updated_at = NOW()
		WHERE id = $4
	`
	return r.execOne(ctx, "update preferences", query,
		p.NotificationEnabled,
		optionalText(p.QuietHoursStart),
		optionalText(p.QuietHoursEnd),
		userID,
	)
}

// MarkMobileVerified flags the mobile number as verified.
func (r *UserRepository) MarkMobileVerified(ctx context.Context, mobile string) error {
	return r.execOne(ctx, "verify mobile",
		`UPDATE users SET mobile_verified = TRUE, updated_at = NOW() WHERE mobile_number = $1`, mobile)
}

func (r *UserRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n == 0 {
		return registration.ErrUserNotFound
	}
	return nil
}
