package anonymizer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	dcm "dcm-finder/internal/dicom"
)

// FallbackDir receives output files whose hierarchy directory could not be
// created.
const FallbackDir = "out_data_dcm_finder"

// Default segment names for absent identifiers.
const (
	NoPatientID = "NoPatientID"
	NoStudyUID  = "NoStudyUID"
	NoSeriesUID = "NoSeriesUid"
)

// Allocator hands out file numbers per output directory.
type Allocator interface {
	NextOutputNumber(ctx context.Context, dir string, seed func() int) (int, error)
}

// PathBuilder derives output file paths from record metadata.
type PathBuilder struct {
	root   string
	alloc  Allocator
	logger *slog.Logger
}

// NewPathBuilder creates a PathBuilder writing under root. alloc may be nil,
// in which case the directory entry count names the file.
func NewPathBuilder(root string, alloc Allocator, logger *slog.Logger) *PathBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PathBuilder{root: root, alloc: alloc, logger: logger}
}

// Build returns <root>/<patient>/<study>/<series>/<n> for rec, creating the
// directory chain. When the chain cannot be created the file goes to
// <root>/out_data_dcm_finder instead.
func (b *PathBuilder) Build(ctx context.Context, rec dcm.Record) (string, error) {
	dir := filepath.Join(b.root,
		segment(rec.Patient.PatientID, NoPatientID),
		segment(rec.Study.StudyUID, NoStudyUID),
		segment(rec.Series.SeriesUID, NoSeriesUID),
	)

	if err := os.MkdirAll(dir, 0755); err != nil {
		b.logger.Warn("could not create output directory, using fallback",
			"dir", dir, "error", err)
		dir = filepath.Join(b.root, FallbackDir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}

	n := b.next(ctx, dir)
	return filepath.Join(dir, strconv.Itoa(n)), nil
}

func (b *PathBuilder) next(ctx context.Context, dir string) int {
	seed := func() int { return countEntries(dir) }
	if b.alloc == nil {
		return seed()
	}

	n, err := b.alloc.NextOutputNumber(ctx, dir, seed)
	if err != nil {
		b.logger.Warn("could not allocate output number", "dir", dir, "error", err)
		return seed()
	}
	return n
}

func countEntries(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	return len(entries)
}

// segment cleans one path component, falling back to def for absent values.
func segment(value, def string) string {
	v := strings.TrimSpace(value)
	switch v {
	case "", dcm.Placeholder, dcm.SeriesUIDNotSet, ".", "..":
		return def
	}
	return strings.NewReplacer("/", "_", "\\", "_").Replace(v)
}
