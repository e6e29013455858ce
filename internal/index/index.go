package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	dcm "dcm-finder/internal/dicom"
)

// MemoryPath opens a private in-memory index.
const MemoryPath = ":memory:"

// ErrLockUnavailable is returned when the index lock cannot be acquired.
var ErrLockUnavailable = errors.New("index lock unavailable")

// Index is the patient → study → series → path store. Every operation runs
// under one process-wide lock, so a get-or-create chain is never interleaved
// with another writer.
type Index struct {
	db     *sql.DB
	lock   *semaphore.Weighted
	logger *slog.Logger
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection keeps an in-memory database alive and serializes
	// writers at the driver level as well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if dbPath != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open creates or opens the index at path. An empty path or MemoryPath
// gives a fresh in-memory index.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Index, error) {
	if path == "" {
		path = MemoryPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDatabase(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Debug("index opened", "path", path, "driver", DriverName, "build", BuildMode)

	return &Index{
		db:     db,
		lock:   semaphore.NewWeighted(1),
		logger: logger,
	}, nil
}

// Close closes the database connection
func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) acquire(ctx context.Context) error {
	if err := ix.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return nil
}

func (ix *Index) release() {
	ix.lock.Release(1)
}

// GetOrCreatePatient inserts the patient if its ID is new and returns the ID.
func (ix *Index) GetOrCreatePatient(ctx context.Context, p dcm.PatientMeta) (string, error) {
	if err := ix.acquire(ctx); err != nil {
		return "", err
	}
	defer ix.release()
	return getOrCreatePatient(ctx, ix.db, p)
}

// GetOrCreateStudy inserts the study under patientID if its UID is new and
// returns the UID.
func (ix *Index) GetOrCreateStudy(ctx context.Context, s dcm.StudyMeta, patientID string) (string, error) {
	if err := ix.acquire(ctx); err != nil {
		return "", err
	}
	defer ix.release()
	return getOrCreateStudy(ctx, ix.db, s, patientID)
}

// GetOrCreateSeries inserts the series under studyUID if its UID is new and
// returns the UID.
func (ix *Index) GetOrCreateSeries(ctx context.Context, s dcm.SeriesMeta, studyUID string) (string, error) {
	if err := ix.acquire(ctx); err != nil {
		return "", err
	}
	defer ix.release()
	return getOrCreateSeries(ctx, ix.db, s, studyUID)
}

// InsertPath links path to an existing series. Re-inserting a path is a no-op.
func (ix *Index) InsertPath(ctx context.Context, path, seriesUID string) error {
	if err := ix.acquire(ctx); err != nil {
		return err
	}
	defer ix.release()
	return insertPath(ctx, ix.db, path, seriesUID)
}

// InsertOrphanPath records path without a series.
func (ix *Index) InsertOrphanPath(ctx context.Context, path string) error {
	if err := ix.acquire(ctx); err != nil {
		return err
	}
	defer ix.release()
	return insertOrphanPath(ctx, ix.db, path)
}

// Insert stores a record as one patient → study → series → path chain.
// When any link fails the chain is rolled back and the path is stored as an
// orphan instead; linked reports which of the two happened. An error is
// returned only when the path could not be stored at all.
func (ix *Index) Insert(ctx context.Context, rec dcm.Record) (linked bool, err error) {
	if err := ix.acquire(ctx); err != nil {
		return false, err
	}
	defer ix.release()

	chainErr := ix.insertChain(ctx, rec)
	if chainErr == nil {
		return true, nil
	}

	ix.logger.Warn("could not link file to hierarchy, storing as orphan",
		"path", rec.Path, "error", chainErr)

	if err := insertOrphanPath(ctx, ix.db, rec.Path); err != nil {
		return false, fmt.Errorf("could not store orphan path: %w (chain: %v)", err, chainErr)
	}
	return false, nil
}

func (ix *Index) insertChain(ctx context.Context, rec dcm.Record) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	patientID, err := getOrCreatePatient(ctx, tx, rec.Patient)
	if err != nil {
		return err
	}
	studyUID, err := getOrCreateStudy(ctx, tx, rec.Study, patientID)
	if err != nil {
		return err
	}
	seriesUID, err := getOrCreateSeries(ctx, tx, rec.Series, studyUID)
	if err != nil {
		return err
	}
	if err := insertPath(ctx, tx, rec.Path, seriesUID); err != nil {
		return err
	}

	return tx.Commit()
}

// NextOutputNumber returns the next free file number for an output
// directory. seed is called once per directory, the first time it is seen,
// to account for entries written by earlier runs.
func (ix *Index) NextOutputNumber(ctx context.Context, dir string, seed func() int) (int, error) {
	if err := ix.acquire(ctx); err != nil {
		return 0, err
	}
	defer ix.release()

	var next int
	err := ix.db.QueryRowContext(ctx, "SELECT next_number FROM output_slots WHERE dir = ?", dir).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		next = 0
		if seed != nil {
			next = seed()
		}
	} else if err != nil {
		return 0, fmt.Errorf("failed to read output slot: %w", err)
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT INTO output_slots (dir, next_number) VALUES (?, ?)
		ON CONFLICT(dir) DO UPDATE SET next_number = excluded.next_number
	`, dir, next+1)
	if err != nil {
		return 0, fmt.Errorf("failed to update output slot: %w", err)
	}

	return next, nil
}

// Counts holds row totals per table.
type Counts struct {
	Patients int
	Studies  int
	Series   int
	Paths    int
	Orphans  int
}

// Counts returns the number of rows in each table.
func (ix *Index) Counts(ctx context.Context) (Counts, error) {
	if err := ix.acquire(ctx); err != nil {
		return Counts{}, err
	}
	defer ix.release()

	var c Counts
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM patients", &c.Patients},
		{"SELECT COUNT(*) FROM studies", &c.Studies},
		{"SELECT COUNT(*) FROM series", &c.Series},
		{"SELECT COUNT(*) FROM paths", &c.Paths},
		{"SELECT COUNT(*) FROM paths WHERE series_uid IS NULL", &c.Orphans},
	}
	for _, q := range queries {
		if err := ix.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Counts{}, fmt.Errorf("failed to count rows: %w", err)
		}
	}
	return c, nil
}

func getOrCreatePatient(ctx context.Context, q querier, p dcm.PatientMeta) (string, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO patients (patient_id, birth_date, sex, age)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(patient_id) DO NOTHING
	`, p.PatientID, p.BirthDate, p.Sex, p.Age)
	if err != nil {
		return "", fmt.Errorf("failed to insert patient %q: %w", p.PatientID, err)
	}
	return selectKey(ctx, q, "SELECT patient_id FROM patients WHERE patient_id = ?", p.PatientID)
}

func getOrCreateStudy(ctx context.Context, q querier, s dcm.StudyMeta, patientID string) (string, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO studies (study_uid, study_date, study_time, description, patient_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(study_uid) DO NOTHING
	`, s.StudyUID, s.StudyDate, s.StudyTime, s.Description, patientID)
	if err != nil {
		return "", fmt.Errorf("failed to insert study %q: %w", s.StudyUID, err)
	}
	return selectKey(ctx, q, "SELECT study_uid FROM studies WHERE study_uid = ?", s.StudyUID)
}

func getOrCreateSeries(ctx context.Context, q querier, s dcm.SeriesMeta, studyUID string) (string, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO series (
			series_uid, modality, instance_number, image_position_patient,
			image_orientation_patient, pixel_spacing, number_of_frames,
			xray_tube_current, kvp, filter_type, image_rows, image_columns,
			exposure_time, rescale_intercept, description, study_uid
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_uid) DO NOTHING
	`, s.SeriesUID, s.Modality, s.InstanceNumber, s.ImagePositionPatient,
		s.ImageOrientationPatient, s.PixelSpacing, s.NumberOfFrames,
		s.XRayTubeCurrent, s.KVP, s.FilterType, s.Rows, s.Columns,
		s.ExposureTime, s.RescaleIntercept, s.Description, studyUID)
	if err != nil {
		return "", fmt.Errorf("failed to insert series %q: %w", s.SeriesUID, err)
	}
	return selectKey(ctx, q, "SELECT series_uid FROM series WHERE series_uid = ?", s.SeriesUID)
}

func insertPath(ctx context.Context, q querier, path, seriesUID string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO paths (path, series_uid) VALUES (?, ?) ON CONFLICT(path) DO NOTHING",
		path, seriesUID)
	if err != nil {
		return fmt.Errorf("failed to insert path: %w", err)
	}
	return nil
}

func insertOrphanPath(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO paths (path) VALUES (?) ON CONFLICT(path) DO NOTHING", path)
	if err != nil {
		return fmt.Errorf("failed to insert path: %w", err)
	}
	return nil
}

func selectKey(ctx context.Context, q querier, query, key string) (string, error) {
	var out string
	if err := q.QueryRowContext(ctx, query, key).Scan(&out); err != nil {
		return "", fmt.Errorf("failed to read back %q: %w", key, err)
	}
	return out, nil
}
