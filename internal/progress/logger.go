package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorEntry is one failed output write.
type ErrorEntry struct {
	File      string
	Error     string
	Timestamp time.Time
}

// ErrorLogger appends per-file failures to a log file as
// "timestamp | source path | cause" lines.
type ErrorLogger struct {
	mu      sync.Mutex
	logFile string
	entries []ErrorEntry
	file    *os.File
}

// NewErrorLogger creates an error logger. The file is opened lazily on the
// first entry, so a clean run leaves no log behind. An empty logFile keeps
// entries in memory only.
func NewErrorLogger(logFile string) *ErrorLogger {
	return &ErrorLogger{logFile: logFile}
}

// Log records a failure for the source file at filePath.
func (l *ErrorLogger) Log(filePath string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ErrorEntry{
		File:      filePath,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	}
	l.entries = append(l.entries, entry)

	if l.logFile == "" {
		return nil
	}
	if l.file == nil {
		if err := os.MkdirAll(filepath.Dir(l.logFile), 0755); err != nil {
			return fmt.Errorf("could not create log directory: %w", err)
		}
		file, err := os.OpenFile(l.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		l.file = file
	}

	_, err := fmt.Fprintf(l.file, "%s | %s | %s\n",
		entry.Timestamp.Format(time.RFC3339), entry.File, entry.Error)
	return err
}

// Summary returns a one-line summary of logged errors.
func (l *ErrorLogger) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return "No errors"
	}
	if l.logFile == "" {
		return fmt.Sprintf("%d errors", len(l.entries))
	}
	return fmt.Sprintf("%d errors logged to %s", len(l.entries), l.logFile)
}

// ErrorCount returns the number of logged errors.
func (l *ErrorLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close closes the log file.
func (l *ErrorLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
