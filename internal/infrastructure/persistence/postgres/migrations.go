package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// ErrMigrationFailed wraps any failure while applying or reverting a migration.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// migrationLockKey is the advisory lock held while migrating, so API replicas
// starting together apply each version once.
const migrationLockKey = 7_110_482

// Migration is one embedded schema step.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations returns the embedded schema steps in order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progression", Up: migration001Up, Down: migration001Down},
		{Version: 2, Name: "create_promotion_requests", Up: migration002Up, Down: migration002Down},
		{Version: 3, Name: "create_attendance_and_thresholds", Up: migration003Up, Down: migration003Down},
	}
}

// Migrator applies the embedded migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

// Migrate applies every migration not yet recorded. Each version runs in its
// own transaction under the advisory lock.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("%w: schema_migrations: %v", ErrMigrationFailed, err)
	}

	for _, mig := range m.migrations {
		err := m.inLockedTx(ctx, func(tx pgx.Tx) error {
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.inLockedTx(ctx, func(tx pgx.Tx) error {
		var version int
		err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		if version == 0 {
			return nil
		}
		for _, mig := range m.migrations {
			if mig.Version != version {
				continue
			}
			if _, err := tx.Exec(ctx, mig.Down); err != nil {
				return fmt.Errorf("%w: revert %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
			return err
		}
		return fmt.Errorf("%w: unknown applied version %d", ErrMigrationFailed, version)
	})
}

func (m *Migrator) inLockedTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := m.conn.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Progression state and promotion history
-- Version: 001

-- Progression columns colocated with the practitioner record.
CREATE TABLE IF NOT EXISTS practitioner_progression (
    practitioner_id TEXT PRIMARY KEY,
    academy_id TEXT NOT NULL DEFAULT '',
    date_of_birth DATE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    belt_code VARCHAR(32) NOT NULL,
    degree INTEGER NOT NULL DEFAULT 0,
    belt_since TIMESTAMP WITH TIME ZONE NOT NULL,
    last_degree_at TIMESTAMP WITH TIME ZONE,
    enrolled_belt VARCHAR(32) NOT NULL,
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_degree CHECK (degree >= 0),
    CONSTRAINT valid_version CHECK (version >= 0)
);

CREATE INDEX IF NOT EXISTS idx_progression_academy ON practitioner_progression(academy_id, practitioner_id);
CREATE INDEX IF NOT EXISTS idx_progression_active ON practitioner_progression(practitioner_id) WHERE active;

-- Append-only degree grants. Sequence is the practitioner version after the grant.
CREATE TABLE IF NOT EXISTS degree_grants (
    id UUID PRIMARY KEY,
    practitioner_id TEXT NOT NULL REFERENCES practitioner_progression(practitioner_id),
    sequence BIGINT NOT NULL,
    belt_code VARCHAR(32) NOT NULL,
    degree INTEGER NOT NULL,
    granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    granted_by TEXT NOT NULL,
    origin VARCHAR(16) NOT NULL,
    request_id UUID,
    note TEXT NOT NULL DEFAULT '',

    CONSTRAINT uq_degree_grants_sequence UNIQUE (practitioner_id, sequence),
    CONSTRAINT valid_grant_degree CHECK (degree > 0),
    CONSTRAINT valid_grant_origin CHECK (origin IN ('MANUAL', 'AUTOMATIC', 'APPROVAL'))
);

-- Append-only belt promotions.
CREATE TABLE IF NOT EXISTS belt_promotions (
    id UUID PRIMARY KEY,
    practitioner_id TEXT NOT NULL REFERENCES practitioner_progression(practitioner_id),
    sequence BIGINT NOT NULL,
    from_belt VARCHAR(32) NOT NULL,
    to_belt VARCHAR(32) NOT NULL,
    promoted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    promoted_by TEXT NOT NULL,
    origin VARCHAR(16) NOT NULL,
    request_id UUID,
    note TEXT NOT NULL DEFAULT '',

    CONSTRAINT uq_belt_promotions_sequence UNIQUE (practitioner_id, sequence),
    CONSTRAINT valid_promotion_belts CHECK (from_belt <> to_belt),
    CONSTRAINT valid_promotion_origin CHECK (origin IN ('MANUAL', 'AUTOMATIC', 'APPROVAL'))
);

-- History rows are never updated or deleted.
CREATE OR REPLACE FUNCTION reject_history_change() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'promotion history is append-only';
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER degree_grants_append_only
    BEFORE UPDATE OR DELETE ON degree_grants
    FOR EACH ROW EXECUTE FUNCTION reject_history_change();

CREATE TRIGGER belt_promotions_append_only
    BEFORE UPDATE OR DELETE ON belt_promotions
    FOR EACH ROW EXECUTE FUNCTION reject_history_change();
`

const migration001Down = `
DROP TABLE IF EXISTS belt_promotions;
DROP TABLE IF EXISTS degree_grants;
DROP FUNCTION IF EXISTS reject_history_change();
DROP TABLE IF EXISTS practitioner_progression;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PROMOTION REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Promotion approval workflow
-- Version: 002

CREATE TABLE IF NOT EXISTS promotion_requests (
    id UUID PRIMARY KEY,
    practitioner_id TEXT NOT NULL REFERENCES practitioner_progression(practitioner_id),
    academy_id TEXT NOT NULL DEFAULT '',
    kind VARCHAR(16) NOT NULL,
    target_belt VARCHAR(32) NOT NULL,
    target_degree INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    requested_by TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    decided_at TIMESTAMP WITH TIME ZONE,
    decided_by TEXT,
    decision_note TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_request_kind CHECK (kind IN ('DEGREE', 'BELT')),
    CONSTRAINT valid_request_status CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
    CONSTRAINT decided_requests_have_actor CHECK (status = 'PENDING' OR decided_by IS NOT NULL)
);

-- At most one pending request per practitioner.
CREATE UNIQUE INDEX IF NOT EXISTS uq_promotion_requests_pending
    ON promotion_requests(practitioner_id) WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS idx_promotion_requests_status ON promotion_requests(status, created_at);
CREATE INDEX IF NOT EXISTS idx_promotion_requests_academy ON promotion_requests(academy_id, status);
`

const migration002Down = `
DROP TABLE IF EXISTS promotion_requests;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE ATTENDANCE AND THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Attendance ledger and per-academy thresholds
-- Version: 003

-- One counted class per practitioner and day.
CREATE TABLE IF NOT EXISTS attendance_records (
    id UUID PRIMARY KEY,
    practitioner_id TEXT NOT NULL,
    attended_at TIMESTAMP WITH TIME ZONE NOT NULL,
    attended_on DATE NOT NULL,
    class_id TEXT NOT NULL DEFAULT '',
    recorded_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_attendance_day UNIQUE (practitioner_id, attended_on)
);

CREATE INDEX IF NOT EXISTS idx_attendance_practitioner_at ON attendance_records(practitioner_id, attended_at);

-- Zero columns inherit the belt or configured default.
CREATE TABLE IF NOT EXISTS academy_thresholds (
    academy_id TEXT NOT NULL,
    belt_code VARCHAR(32) NOT NULL,
    classes_per_degree INTEGER NOT NULL DEFAULT 0,
    classes_for_promotion INTEGER NOT NULL DEFAULT 0,
    min_months_per_degree INTEGER NOT NULL DEFAULT 0,
    min_months_in_belt INTEGER NOT NULL DEFAULT 0,
    degree_by_time BOOLEAN NOT NULL DEFAULT FALSE,
    months_per_degree INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (academy_id, belt_code),
    CONSTRAINT valid_thresholds CHECK (
        classes_per_degree >= 0 AND classes_for_promotion >= 0 AND
        min_months_per_degree >= 0 AND min_months_in_belt >= 0 AND months_per_degree >= 0
    )
);
`

const migration003Down = `
DROP TABLE IF EXISTS academy_thresholds;
DROP TABLE IF EXISTS attendance_records;
`
