package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcm-finder/internal/config"
	"dcm-finder/internal/dicom/dicomtest"
	"dcm-finder/internal/pipeline"
)

func TestRunFind(t *testing.T) {
	in := t.TempDir()
	dicomtest.WriteFile(t, filepath.Join(in, "1.dcm"), dicomtest.Study("P1", "S1", "SE1"))

	cfg := config.Default()
	cfg.ReportPath = filepath.Join(t.TempDir(), "result.json")

	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), Options{
		Mode:     pipeline.ModeFind,
		InputDir: in,
		Config:   cfg,
		Stdout:   &stdout,
		Stderr:   &stderr,
	})
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "DICOM Finder")
	assert.Contains(t, out, "Total files found: 1")
	assert.Contains(t, out, "Among them, patients were found: 1")
	assert.Contains(t, out, "Complete! 1 indexed, 0 orphaned, 0 skipped")
	assert.Contains(t, out, "Indexed:   1 patients, 1 studies, 1 series, 1 paths")
	assert.NotContains(t, out, "\r[", "no progress bar on a non-terminal writer")
	assert.FileExists(t, cfg.ReportPath)
}

func TestRunRequiresInput(t *testing.T) {
	err := Run(context.Background(), Options{Mode: pipeline.ModeFind, Stdout: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestRunMissingInputRoot(t *testing.T) {
	cfg := config.Default()
	cfg.ReportPath = filepath.Join(t.TempDir(), "result.json")

	var stdout bytes.Buffer
	err := Run(context.Background(), Options{
		Mode:     pipeline.ModeFind,
		InputDir: filepath.Join(t.TempDir(), "missing"),
		Config:   cfg,
		Stdout:   &stdout,
		Stderr:   &bytes.Buffer{},
	})
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "Total files found: 0")
	assert.Contains(t, out, "No patients found")

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":[]}`, string(data))
}

func TestPrintHeaderResolvedWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0

	var buf bytes.Buffer
	printHeader(&buf, Options{Mode: pipeline.ModeFind, InputDir: "/in"}, cfg, pipeline.WorkerCount(cfg.Workers))
	assert.Contains(t, buf.String(), fmt.Sprintf("Workers:   %d\n", runtime.NumCPU()))
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger, err := NewLogger(cfg, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "path", "/in/a")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"path":"/in/a"`)
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := newProgressBar(&buf, 10)
	pb.update(0, 0)
	assert.Empty(t, buf.String())

	pb.update(1, 2)
	assert.Contains(t, buf.String(), "[#####-----]  50%  (1/2)")
	pb.update(2, 2)
	assert.Contains(t, buf.String(), "[##########] 100%  (2/2)\n")
}
