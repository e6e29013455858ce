// Package pipeline runs a scan over a directory tree: every file is decoded,
// indexed into the patient hierarchy and, when de-identifying, rewritten into
// an output tree. The index is exported once all workers are done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"dcm-finder/internal/anonymizer"
	dcm "dcm-finder/internal/dicom"
	"dcm-finder/internal/index"
	"dcm-finder/internal/metrics"
	"dcm-finder/internal/progress"
)

// Mode selects what a run does with each file.
type Mode string

const (
	ModeFind       Mode = "find"       // index only
	ModeDeidentify Mode = "deidentify" // index, rewrite and copy to the output tree
)

// ErrorLogName is the failure log written to the output root.
const ErrorLogName = "errors.log"

// Codec decodes and encodes DICOM files.
type Codec interface {
	Decode(path string) (*dcm.Dataset, error)
	Encode(ds *dcm.Dataset, path string) error
}

// Config holds the settings of a run.
type Config struct {
	Mode      Mode
	InputDir  string
	OutputDir string
	Workers   int

	IndexPath    string // empty for an in-memory index
	ReportPath   string // empty to skip the JSON report
	ManifestPath string
	MetricsPath  string

	Rewrite anonymizer.RewriteTable // nil for the default table
	Codec   Codec                   // nil for the suyashkumar/dicom codec
	Logger  *slog.Logger
	Output  io.Writer // header and summary lines, os.Stdout when nil
	Metrics *metrics.Metrics
}

// Stats holds processing statistics
type Stats struct {
	RunID       string
	Total       int
	Indexed     int
	Orphaned    int
	IndexFailed int
	Skipped     int
	Written     int
	WriteFailed int
	Patients    int
	Workers     int
	Index       index.Counts
	Report      *index.Report
}

// ProgressCallback is called after each file with the number of files done
// so far. Calls are serialized.
type ProgressCallback func(current, total int, path, status string)

type run struct {
	cfg      Config
	ix       *index.Index
	codec    Codec
	rewriter *anonymizer.Rewriter
	builder  *anonymizer.PathBuilder
	errLog   *progress.ErrorLogger
	manifest *progress.Manifest
	metrics  *metrics.Metrics
	logger   *slog.Logger
	onFile   ProgressCallback
	total    int

	mu    sync.Mutex
	done  int
	stats *Stats
}

// Run processes every file under cfg.InputDir. Only a failure to open the
// index or an invalid configuration aborts the run; per-file failures are
// counted in Stats.
func Run(ctx context.Context, cfg Config, progressCb ProgressCallback) (*Stats, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	out := cfg.Output

	ix, err := index.Open(ctx, cfg.IndexPath, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open index: %w", err)
	}
	defer ix.Close()

	files := dcm.FindFiles(cfg.InputDir)
	fmt.Fprintf(out, "Total files found: %d\n", len(files))
	cfg.Metrics.FilesScanned.Add(float64(len(files)))

	r := &run{
		cfg:      cfg,
		ix:       ix,
		codec:    cfg.Codec,
		logger:   logger,
		metrics:  cfg.Metrics,
		onFile:   progressCb,
		total:    len(files),
		manifest: progress.NewManifest(string(cfg.Mode), cfg.InputDir, cfg.OutputDir),
		errLog:   progress.NewErrorLogger(""),
		stats:    &Stats{Total: len(files), Workers: cfg.Workers},
	}
	r.stats.RunID = r.manifest.RunID()

	if cfg.Mode == ModeDeidentify {
		r.rewriter = anonymizer.NewRewriter(cfg.Rewrite)
		r.builder = anonymizer.NewPathBuilder(cfg.OutputDir, ix, logger)
		r.errLog = progress.NewErrorLogger(filepath.Join(cfg.OutputDir, ErrorLogName))
	}
	defer r.errLog.Close()

	logger.Info("run started", "run_id", r.stats.RunID, "mode", cfg.Mode,
		"input", cfg.InputDir, "files", len(files), "workers", cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			r.processFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	return r.finish(ctx)
}

// WorkerCount returns the pool size used for a requested worker count.
// Values below one select one worker per CPU.
func WorkerCount(n int) int {
	if n < 1 {
		return runtime.NumCPU()
	}
	return n
}

func (c *Config) normalize() error {
	if c.InputDir == "" {
		return errors.New("input directory is required")
	}

	switch c.Mode {
	case ModeFind:
	case ModeDeidentify:
		if c.OutputDir == "" {
			return errors.New("output directory is required for de-identification")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	c.Workers = WorkerCount(c.Workers)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	if c.Codec == nil {
		// Pixel data is only needed when the file is written back.
		c.Codec = dcm.Codec{MetadataOnly: c.Mode == ModeFind}
	}
	return nil
}

func (r *run) processFile(ctx context.Context, path string) {
	ds, err := r.codec.Decode(path)
	if err != nil {
		r.logger.Debug("skipping file", "path", path, "error", err)
		r.metrics.DecodeFailures.Inc()
		r.complete(path, progress.OutcomeSkipped, "", err, func(s *Stats) { s.Skipped++ })
		return
	}

	rec := dcm.Extract(ds, path)

	outcome := r.index(ctx, rec)
	if r.cfg.Mode != ModeDeidentify {
		r.complete(path, outcome, "", nil, nil)
		return
	}

	output, err := r.write(ctx, ds, rec)
	if err != nil {
		r.logger.Error("could not write de-identified file", "path", path, "error", err)
		if logErr := r.errLog.Log(path, err); logErr != nil {
			r.logger.Warn("could not append to error log", "error", logErr)
		}
		r.metrics.WriteFailures.Inc()
		r.complete(path, progress.OutcomeFailed, "", err, func(s *Stats) { s.WriteFailed++ })
		return
	}

	r.metrics.FilesWritten.Inc()
	r.complete(path, progress.OutcomeWritten, output, nil, func(s *Stats) { s.Written++ })
}

// index inserts rec and returns the outcome to record when nothing else
// happens to the file.
func (r *run) index(ctx context.Context, rec dcm.Record) progress.Outcome {
	linked, err := r.ix.Insert(ctx, rec)
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err != nil:
		r.logger.Error("could not index file", "path", rec.Path, "error", err)
		r.stats.IndexFailed++
		return progress.OutcomeFailed
	case linked:
		r.metrics.FilesIndexed.Inc()
		r.stats.Indexed++
		return progress.OutcomeIndexed
	default:
		r.metrics.FilesOrphaned.Inc()
		r.stats.Orphaned++
		return progress.OutcomeOrphaned
	}
}

func (r *run) write(ctx context.Context, ds *dcm.Dataset, rec dcm.Record) (string, error) {
	output, err := r.builder.Build(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("could not create output directory: %w", err)
	}
	if _, err := r.rewriter.Apply(ds); err != nil {
		return "", err
	}
	if err := r.codec.Encode(ds, output); err != nil {
		return "", err
	}
	return output, nil
}

func (r *run) complete(path string, outcome progress.Outcome, output string, cause error, update func(*Stats)) {
	r.manifest.Record(path, outcome, output, cause)

	r.mu.Lock()
	defer r.mu.Unlock()
	if update != nil {
		update(r.stats)
	}
	r.done++
	if r.onFile != nil {
		r.onFile(r.done, r.total, path, string(outcome))
	}
}

func (r *run) finish(ctx context.Context) (*Stats, error) {
	report, err := r.ix.Export(ctx)
	if err != nil {
		return r.stats, fmt.Errorf("could not export index: %w", err)
	}
	r.stats.Report = report
	r.stats.Patients = len(report.Result)
	r.metrics.Patients.Set(float64(len(report.Result)))

	counts, err := r.ix.Counts(ctx)
	if err != nil {
		return r.stats, fmt.Errorf("could not count index rows: %w", err)
	}
	r.stats.Index = counts

	report.PrintSummary(r.cfg.Output)
	if r.errLog.ErrorCount() > 0 {
		fmt.Fprintf(r.cfg.Output, "%s\n", r.errLog.Summary())
	}

	r.logger.Info("run finished", "run_id", r.stats.RunID,
		"indexed", r.stats.Indexed, "orphaned", r.stats.Orphaned,
		"skipped", r.stats.Skipped, "written", r.stats.Written,
		"write_failed", r.stats.WriteFailed, "patients", r.stats.Patients,
		"studies", counts.Studies, "series", counts.Series, "paths", counts.Paths)

	if r.cfg.ManifestPath != "" {
		if err := r.manifest.Save(r.cfg.ManifestPath); err != nil {
			r.logger.Warn("could not save manifest", "error", err)
		}
	}
	if r.cfg.MetricsPath != "" {
		if err := r.metrics.WriteTextfile(r.cfg.MetricsPath); err != nil {
			r.logger.Warn("could not write metrics", "error", err)
		}
	}

	if r.cfg.ReportPath != "" {
		if err := report.WriteJSON(r.cfg.ReportPath); err != nil {
			return r.stats, err
		}
	}
	return r.stats, nil
}
