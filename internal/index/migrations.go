package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all database migrations. They are applied in
// semver order regardless of their position in the slice.
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
	},
	{
		Version: "1.1.0",
		Up:      migrationV1_1Up,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS patients (
    patient_id TEXT NOT NULL PRIMARY KEY CHECK (length(patient_id) <= 64),
    birth_date TEXT,
    sex TEXT,
    age TEXT
);

CREATE TABLE IF NOT EXISTS studies (
    study_uid TEXT NOT NULL PRIMARY KEY CHECK (length(study_uid) <= 64),
    study_date TEXT,
    study_time TEXT,
    description TEXT,
    patient_id TEXT NOT NULL REFERENCES patients(patient_id)
);

CREATE INDEX IF NOT EXISTS idx_studies_patient ON studies(patient_id);

CREATE TABLE IF NOT EXISTS series (
    series_uid TEXT NOT NULL DEFAULT 'UIDNotSet' PRIMARY KEY CHECK (length(series_uid) <= 64),
    modality TEXT,
    instance_number TEXT,
    image_position_patient TEXT,
    image_orientation_patient TEXT,
    pixel_spacing TEXT,
    number_of_frames TEXT,
    xray_tube_current TEXT,
    kvp TEXT,
    filter_type TEXT,
    image_rows TEXT,
    image_columns TEXT,
    exposure_time TEXT,
    rescale_intercept TEXT,
    description TEXT,
    study_uid TEXT NOT NULL REFERENCES studies(study_uid)
);

CREATE INDEX IF NOT EXISTS idx_series_study ON series(study_uid);

-- series_uid is NULL for files whose hierarchy could not be resolved
CREATE TABLE IF NOT EXISTS paths (
    path TEXT NOT NULL PRIMARY KEY,
    series_uid TEXT REFERENCES series(series_uid)
);

CREATE INDEX IF NOT EXISTS idx_paths_series ON paths(series_uid);
`

const migrationV1_1Up = `
-- Next file number per output directory
CREATE TABLE IF NOT EXISTS output_slots (
    dir TEXT NOT NULL PRIMARY KEY,
    next_number INTEGER NOT NULL
);
`

// ApplyMigrations brings the schema up to CurrentSchemaVersion.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	migrations, err := sortedMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if !current.LessThan(m.version) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		current = m.version
	}

	return nil
}

// SchemaVersion returns the highest applied schema version, 0.0.0 when none.
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer rows.Close()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if current.LessThan(v) {
			current = v
		}
	}
	return current, rows.Err()
}

type versionedMigration struct {
	Migration
	version *semver.Version
}

func sortedMigrations() ([]versionedMigration, error) {
	out := make([]versionedMigration, 0, len(AllMigrations))
	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		out = append(out, versionedMigration{Migration: m, version: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].version.LessThan(out[j].version)
	})
	return out, nil
}
