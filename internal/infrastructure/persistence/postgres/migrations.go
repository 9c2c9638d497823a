package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Pool().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insert, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var last int
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_learners", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_lesson_catalog", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_lesson_progress", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_achievements_and_family", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "create_reset_audit", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS learners (
    id TEXT PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    total_lessons_completed INTEGER NOT NULL DEFAULT 0,
    last_lesson_completed_at TIMESTAMP WITH TIME ZONE,
    streak_freeze_balance INTEGER NOT NULL DEFAULT 0,
    last_freeze_granted_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT learners_counters_non_negative CHECK (
        total_xp >= 0 AND current_streak >= 0 AND total_lessons_completed >= 0 AND streak_freeze_balance >= 0
    ),
    CONSTRAINT learners_streak_bounded CHECK (current_streak <= longest_streak)
);

-- weekly freeze job scans recently active learners
CREATE INDEX IF NOT EXISTS idx_learners_last_completed ON learners(last_lesson_completed_at);
`

const migration001Down = `
DROP TABLE IF EXISTS learners;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LESSON CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    base_xp INTEGER NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT lessons_base_xp_positive CHECK (base_xp > 0)
);

CREATE INDEX IF NOT EXISTS idx_lessons_category ON lessons(category, position);
`

const migration002Down = `
DROP TABLE IF EXISTS lessons;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS lesson_progress (
    learner_id TEXT NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    lesson_id TEXT NOT NULL,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    score INTEGER NOT NULL DEFAULT 0,
    xp_earned INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 1,
    last_completed_phase TEXT NOT NULL DEFAULT '',
    hook_at TIMESTAMP WITH TIME ZONE,
    teach_at TIMESTAMP WITH TIME ZONE,
    practice_at TIMESTAMP WITH TIME ZONE,
    reward_at TIMESTAMP WITH TIME ZONE,
    last_accessed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (learner_id, lesson_id),
    CONSTRAINT progress_attempts_positive CHECK (attempts >= 1),
    CONSTRAINT progress_phase_known CHECK (last_completed_phase IN ('', 'hook', 'teach', 'practice', 'reward')),
    CONSTRAINT progress_completion_time CHECK (is_completed = (completed_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_progress_completed ON lesson_progress(learner_id) WHERE is_completed;
`

const migration003Down = `
DROP TABLE IF EXISTS lesson_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: ACHIEVEMENTS AND FAMILY ACTIVITIES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS achievements (
    id UUID PRIMARY KEY,
    learner_id TEXT NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL,
    seen BOOLEAN NOT NULL DEFAULT FALSE,

    -- one achievement of each kind per learner
    CONSTRAINT achievements_unique_kind UNIQUE (learner_id, kind)
);

CREATE TABLE IF NOT EXISTS family_activities (
    id UUID PRIMARY KEY,
    learner_id TEXT NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    activity_id TEXT NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT family_activities_unique UNIQUE (learner_id, activity_id)
);
`

const migration004Down = `
DROP TABLE IF EXISTS family_activities;
DROP TABLE IF EXISTS achievements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: RESET AUDIT
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
-- audit rows outlive the learner data they describe, no foreign key
CREATE TABLE IF NOT EXISTS reset_audit (
    id UUID PRIMARY KEY,
    learner_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    reason TEXT NOT NULL,
    progress_deleted INTEGER NOT NULL,
    achievements_deleted INTEGER NOT NULL,
    activities_deleted INTEGER NOT NULL,
    previous_profile JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reset_audit_learner ON reset_audit(learner_id, created_at DESC);
`

const migration005Down = `
DROP TABLE IF EXISTS reset_audit;
`
