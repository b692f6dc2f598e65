// Package eventlog records scoped state mutations to daily rotated JSONL audit files.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audited state mutation. OldValue is empty when the key was
// previously unset.
type Entry struct {
	Scope     string    `json:"scope"`
	OwnerID   string    `json:"owner_id"`
	Key       string    `json:"key"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	Actor     string    `json:"actor"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Writer appends audit entries to daily rotated JSONL files.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates an audit writer rooted at logDir, creating the directory
// if needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	writer := &Writer{logDir: logDir}
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit log file: %w", err)
	}
	return writer, nil
}

// Append writes one entry to the current audit file. The entry's timestamp is
// set to now when zero.
func (w *Writer) Append(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate audit log file: %w", err)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if _, err := w.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}
	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current audit file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("audit-%s.jsonl", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// Close closes the current audit file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close audit file: %w", err)
		}
	}
	return nil
}

// CurrentLogFile returns the path of the active audit file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("audit-%s.jsonl", w.currentDate))
}

// ReadEntries parses all entries from one audit file, oldest first.
func ReadEntries(logFilePath string) ([]*Entry, error) {
	data, err := os.ReadFile(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	var entries []*Entry
	line := []byte{}
	decode := func(b []byte) error {
		var entry Entry
		if err := json.Unmarshal(b, &entry); err != nil {
			return fmt.Errorf("failed to parse audit entry: %w", err)
		}
		entries = append(entries, &entry)
		return nil
	}

	for _, b := range data {
		if b == '\n' {
			if len(line) > 0 {
				if err := decode(line); err != nil {
					return nil, err
				}
				line = []byte{}
			}
		} else {
			line = append(line, b)
		}
	}
	if len(line) > 0 {
		if err := decode(line); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// ListLogFiles returns all audit files under logDir.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "audit-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit files: %w", err)
	}
	return files, nil
}
