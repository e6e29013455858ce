package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, "result.json", cfg.ReportPath)
	assert.True(t, cfg.Progress)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
index_path: /var/lib/dcmfinder/study.db
log_level: debug
progress: false
rewrite:
  "00100010": "REDACTED"
  "(0008,1030)": "Study"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "/var/lib/dcmfinder/study.db", cfg.IndexPath)
	assert.False(t, cfg.Progress)
	// Untouched keys keep their defaults.
	assert.Equal(t, "result.json", cfg.ReportPath)
	assert.Equal(t, "text", cfg.LogFormat)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	overrides, err := cfg.RewriteOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[tag.Tag]string{
		tag.PatientName:      "REDACTED",
		tag.StudyDescription: "Study",
	}, overrides)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [1"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"empty report", func(c *Config) { c.ReportPath = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad tag", func(c *Config) { c.Rewrite = map[string]string{"0010": "x"} }},
		{"bad hex", func(c *Config) { c.Rewrite = map[string]string{"0010ZZZZ": "x"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
