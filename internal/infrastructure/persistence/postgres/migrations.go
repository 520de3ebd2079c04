package postgres

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_users_and_donors",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_blood_requests",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_notifications_and_history",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS AND DONORS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    full_name VARCHAR(255) NOT NULL,
    age INTEGER NOT NULL,
    gender VARCHAR(20) NOT NULL,
    mobile_number VARCHAR(20) NOT NULL UNIQUE,
    mobile_verified BOOLEAN NOT NULL DEFAULT FALSE,
    city VARCHAR(100) NOT NULL,
    blood_group VARCHAR(5) NOT NULL,
    medical_history JSONB NOT NULL DEFAULT '{}'::jsonb,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    quiet_hours_start TIME,
    quiet_hours_end TIME,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_age CHECK (age BETWEEN 18 AND 60),
    CONSTRAINT valid_blood_group CHECK (blood_group IN ('A+','A-','B+','B-','AB+','AB-','O+','O-')),
    CONSTRAINT quiet_hours_pair CHECK ((quiet_hours_start IS NULL) = (quiet_hours_end IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_users_blood_group ON users(blood_group);
CREATE INDEX IF NOT EXISTS idx_users_is_active ON users(is_active);

CREATE TABLE IF NOT EXISTS donors (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
    current_location GEOGRAPHY(POINT, 4326),
    location_updated_at TIMESTAMP WITH TIME ZONE,
    last_donation_date DATE,
    eligibility_score DECIMAL(5,2) NOT NULL DEFAULT 100.00,
    reliability_score DECIMAL(5,2) NOT NULL DEFAULT 50.00,
    total_donations INTEGER NOT NULL DEFAULT 0,
    completed_donations INTEGER NOT NULL DEFAULT 0,
    cancelled_donations INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_eligibility CHECK (eligibility_score BETWEEN 0 AND 100),
    CONSTRAINT valid_reliability CHECK (reliability_score BETWEEN 0 AND 100)
);

CREATE INDEX IF NOT EXISTS idx_donors_location ON donors USING GIST(current_location);
`

const migration001Down = `
DROP TABLE IF EXISTS donors;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: BLOOD REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS blood_requests (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    requester_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    blood_group VARCHAR(5) NOT NULL,
    location GEOGRAPHY(POINT, 4326) NOT NULL,
    required_timeframe VARCHAR(50) NOT NULL,
    urgency_band VARCHAR(10) NOT NULL,
    emergency_warning BOOLEAN NOT NULL DEFAULT FALSE,
    hospital_name VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    viewed_at TIMESTAMP WITH TIME ZONE,
    expires_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_urgency_band CHECK (urgency_band IN ('RED', 'PINK', 'WHITE')),
    CONSTRAINT valid_request_status CHECK (status IN
        ('PENDING', 'DONOR_ACCEPTED', 'IN_PROGRESS', 'COMPLETED', 'CANCELLED', 'EXPIRED'))
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON blood_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_location ON blood_requests USING GIST(location);

-- Expiration sweep only looks at pending rows
CREATE INDEX IF NOT EXISTS idx_requests_pending_band
    ON blood_requests(urgency_band, created_at) WHERE status = 'PENDING';
`

const migration002Down = `
DROP TABLE IF EXISTS blood_requests;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: NOTIFICATIONS AND DONATION HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS donor_notifications (
    id UUID PRIMARY KEY,
    request_id UUID NOT NULL REFERENCES blood_requests(id) ON DELETE CASCADE,
    donor_id UUID NOT NULL REFERENCES donors(id) ON DELETE CASCADE,
    urgency_band VARCHAR(10) NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    viewed_at TIMESTAMP WITH TIME ZONE,
    responded_at TIMESTAMP WITH TIME ZONE,
    response_type VARCHAR(20),
    timeout_at TIMESTAMP WITH TIME ZONE,
    is_expired BOOLEAN NOT NULL DEFAULT FALSE,

    UNIQUE(request_id, donor_id),
    CONSTRAINT valid_response_type CHECK (response_type IS NULL OR response_type IN
        ('ACCEPTED', 'DECLINED', 'IGNORED', 'FUTURE_DONATION'))
);

CREATE INDEX IF NOT EXISTS idx_notifications_request ON donor_notifications(request_id);
CREATE INDEX IF NOT EXISTS idx_notifications_open_timeout
    ON donor_notifications(timeout_at) WHERE responded_at IS NULL AND is_expired = FALSE;

CREATE TABLE IF NOT EXISTS donation_history (
    id UUID PRIMARY KEY,
    request_id UUID REFERENCES blood_requests(id),
    donor_id UUID NOT NULL REFERENCES donors(id),
    status VARCHAR(20) NOT NULL,
    response_type VARCHAR(20),
    accepted_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    cancelled_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_history_status CHECK (status IN
        ('PENDING', 'ACCEPTED', 'IN_PROGRESS', 'COMPLETED', 'CANCELLED'))
);

CREATE INDEX IF NOT EXISTS idx_history_donor ON donation_history(donor_id, created_at);
`

const migration003Down = `
DROP TABLE IF EXISTS donation_history;
DROP TABLE IF EXISTS donor_notifications;
`
