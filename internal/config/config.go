package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a run. Zero values in a file keep the
// defaults.
type Config struct {
	Workers      int               `yaml:"workers"`
	IndexPath    string            `yaml:"index_path"`
	ReportPath   string            `yaml:"report_path"`
	ManifestPath string            `yaml:"manifest_path"`
	MetricsPath  string            `yaml:"metrics_path"`
	LogLevel     string            `yaml:"log_level"`
	LogFormat    string            `yaml:"log_format"`
	Progress     bool              `yaml:"progress"`
	Rewrite      map[string]string `yaml:"rewrite"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers:    runtime.NumCPU(),
		IndexPath:  ":memory:",
		ReportPath: "result.json",
		LogLevel:   "info",
		LogFormat:  "text",
		Progress:   true,
	}
}

// Load reads a YAML file on top of Default. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ReportPath == "" {
		return fmt.Errorf("report_path must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want text or json)", c.LogFormat)
	}
	if _, err := c.RewriteOverrides(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("unknown log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// RewriteOverrides parses the rewrite map. Keys are tags written as eight
// hex digits (GGGGEEEE), optionally as "(GGGG,EEEE)".
func (c *Config) RewriteOverrides() (map[tag.Tag]string, error) {
	out := make(map[tag.Tag]string, len(c.Rewrite))
	for key, value := range c.Rewrite {
		t, err := parseTag(key)
		if err != nil {
			return nil, err
		}
		out[t] = value
	}
	return out, nil
}

func parseTag(s string) (tag.Tag, error) {
	hex := strings.NewReplacer("(", "", ")", "", ",", "", " ", "").Replace(s)
	if len(hex) != 8 {
		return tag.Tag{}, fmt.Errorf("invalid tag %q: want GGGGEEEE", s)
	}
	group, err := strconv.ParseUint(hex[:4], 16, 16)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("invalid tag group in %q: %w", s, err)
	}
	element, err := strconv.ParseUint(hex[4:], 16, 16)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("invalid tag element in %q: %w", s, err)
	}
	return tag.Tag{Group: uint16(group), Element: uint16(element)}, nil
}
