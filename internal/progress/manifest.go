package progress

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is what happened to one source file.
type Outcome string

const (
	OutcomeIndexed  Outcome = "indexed"
	OutcomeOrphaned Outcome = "orphaned"
	OutcomeWritten  Outcome = "written"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// FileEntry is the manifest record of a source file.
type FileEntry struct {
	Outcome   Outcome `json:"outcome"`
	Hash      string  `json:"hash"`
	Output    string  `json:"output,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// ManifestData is the JSON document written by Save.
type ManifestData struct {
	RunID    string                `json:"run_id"`
	Mode     string                `json:"mode"`
	Input    string                `json:"input"`
	Output   string                `json:"output,omitempty"`
	Started  string                `json:"started"`
	Finished string                `json:"finished"`
	Files    map[string]*FileEntry `json:"files"`
	Summary  map[Outcome]int       `json:"summary"`
}

// Manifest collects the outcome of every file of a run.
type Manifest struct {
	mu      sync.Mutex
	runID   string
	mode    string
	input   string
	output  string
	started time.Time
	files   map[string]*FileEntry
}

// NewManifest starts a manifest for a run with a fresh run id.
func NewManifest(mode, input, output string) *Manifest {
	return &Manifest{
		runID:   uuid.NewString(),
		mode:    mode,
		input:   input,
		output:  output,
		started: time.Now(),
		files:   make(map[string]*FileEntry),
	}
}

// RunID returns the identifier of the run.
func (m *Manifest) RunID() string {
	return m.runID
}

// Record stores the outcome for filePath, replacing any earlier one.
func (m *Manifest) Record(filePath string, outcome Outcome, output string, cause error) {
	entry := &FileEntry{
		Outcome:   outcome,
		Hash:      fileHash(filePath),
		Output:    output,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filePath] = entry
}

// Counts returns the number of files per outcome.
func (m *Manifest) Counts() map[Outcome]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countsLocked()
}

func (m *Manifest) countsLocked() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, e := range m.files {
		counts[e.Outcome]++
	}
	return counts
}

// Save writes the manifest as indented JSON to path.
func (m *Manifest) Save(path string) error {
	m.mu.Lock()
	data := ManifestData{
		RunID:    m.runID,
		Mode:     m.mode,
		Input:    m.input,
		Output:   m.output,
		Started:  m.started.Format(time.RFC3339),
		Finished: time.Now().Format(time.RFC3339),
		Files:    m.files,
		Summary:  m.countsLocked(),
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("could not marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("could not write manifest: %w", err)
	}
	return nil
}

// fileHash creates a quick hash based on file size and modification time
func fileHash(filePath string) string {
	info, err := os.Stat(filePath)
	if err != nil {
		return ""
	}
	hashInput := fmt.Sprintf("%d_%d", info.Size(), info.ModTime().Unix())
	hash := md5.Sum([]byte(hashInput))
	return fmt.Sprintf("%x", hash[:4])
}
