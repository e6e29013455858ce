package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"dcm-finder/internal/anonymizer"
	"dcm-finder/internal/config"
	"dcm-finder/internal/pipeline"
)

// Options holds CLI configuration options
type Options struct {
	Mode      pipeline.Mode
	InputDir  string
	OutputDir string
	Config    *config.Config

	Stdout io.Writer // os.Stdout when nil
	Stderr io.Writer // os.Stderr when nil
}

// Run executes one find or de-identification run and prints its summary.
func Run(ctx context.Context, opts Options) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.InputDir == "" {
		return fmt.Errorf("input folder is required")
	}

	logger, err := NewLogger(cfg, opts.Stderr)
	if err != nil {
		return err
	}

	overrides, err := cfg.RewriteOverrides()
	if err != nil {
		return err
	}
	var table anonymizer.RewriteTable
	if len(overrides) > 0 {
		table = anonymizer.DefaultRewriteTable().Merge(overrides)
	}

	workers := pipeline.WorkerCount(cfg.Workers)
	printHeader(opts.Stdout, opts, cfg, workers)

	var progressCallback pipeline.ProgressCallback
	if cfg.Progress && isTerminal(opts.Stdout) {
		pb := newProgressBar(opts.Stdout, 50)
		progressCallback = func(current, total int, path, status string) {
			pb.update(current, total)
		}
	}

	stats, err := pipeline.Run(ctx, pipeline.Config{
		Mode:         opts.Mode,
		InputDir:     opts.InputDir,
		OutputDir:    opts.OutputDir,
		Workers:      workers,
		IndexPath:    cfg.IndexPath,
		ReportPath:   cfg.ReportPath,
		ManifestPath: cfg.ManifestPath,
		MetricsPath:  cfg.MetricsPath,
		Rewrite:      table,
		Logger:       logger,
		Output:       opts.Stdout,
	}, progressCallback)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	printSummary(opts.Stdout, opts, cfg, stats)
	return nil
}

// NewLogger builds the slog logger configured by cfg.
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), nil
}

// printHeader prints the CLI header with configuration
func printHeader(w io.Writer, opts Options, cfg *config.Config, workers int) {
	fmt.Fprintln(w, "DICOM Finder")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Mode:      %s\n", opts.Mode)
	fmt.Fprintf(w, "Input:     %s\n", opts.InputDir)
	if opts.Mode == pipeline.ModeDeidentify {
		fmt.Fprintf(w, "Output:    %s\n", opts.OutputDir)
	}
	fmt.Fprintf(w, "Workers:   %d\n", workers)
	fmt.Fprintf(w, "Index:     %s\n", cfg.IndexPath)
	fmt.Fprintln(w)
}

// printSummary prints the processing summary
func printSummary(w io.Writer, opts Options, cfg *config.Config, stats *pipeline.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Complete! %d indexed, %d orphaned, %d skipped\n",
		stats.Indexed, stats.Orphaned, stats.Skipped)
	fmt.Fprintf(w, "Indexed:   %d patients, %d studies, %d series, %d paths\n",
		stats.Index.Patients, stats.Index.Studies, stats.Index.Series, stats.Index.Paths)
	if stats.IndexFailed > 0 {
		fmt.Fprintf(w, "Index:     %d files could not be indexed\n", stats.IndexFailed)
	}
	if opts.Mode == pipeline.ModeDeidentify {
		fmt.Fprintf(w, "Written:   %d succeeded, %d failed\n", stats.Written, stats.WriteFailed)
		fmt.Fprintf(w, "Output:    %s\n", opts.OutputDir)
		if stats.WriteFailed > 0 {
			fmt.Fprintf(w, "Errors:    %s\n", filepath.Join(opts.OutputDir, pipeline.ErrorLogName))
		}
	}
	fmt.Fprintf(w, "Report:    %s\n", cfg.ReportPath)
	if cfg.ManifestPath != "" {
		fmt.Fprintf(w, "Manifest:  %s\n", cfg.ManifestPath)
	}
	fmt.Fprintf(w, "Run ID:    %s\n", stats.RunID)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progressBar represents a terminal progress bar
type progressBar struct {
	w     io.Writer
	width int
}

// newProgressBar creates a new progress bar with specified width
func newProgressBar(w io.Writer, width int) *progressBar {
	return &progressBar{w: w, width: width}
}

// update updates the progress bar display
func (pb *progressBar) update(current, total int) {
	if total == 0 {
		return
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}

	bar := strings.Repeat("#", filled) + strings.Repeat("-", pb.width-filled)
	fmt.Fprintf(pb.w, "\r[%s] %3.0f%%  (%d/%d)", bar, percent*100, current, total)
	if current >= total {
		fmt.Fprintln(pb.w)
	}
}
