// Package eventlog keeps a JSONL trail of every message accepted for dispatch, one file per day.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"switchboard/pkg/proto"
)

const (
	filePrefix = "events-"
	fileSuffix = ".jsonl"
	dateLayout = "2006-01-02"
)

// Entry is one accepted message as written to the log.
type Entry struct {
	AcceptedAt time.Time      `json:"accepted_at"`
	Message    *proto.Message `json:"message"`
	Tier       string         `json:"tier"`
}

// Writer appends accepted messages to daily rotated JSONL files.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the time source used for timestamps and rotation.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates the log directory if needed and opens today's file.
func NewWriter(logDir string, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{logDir: logDir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.rotateIfNeeded(w.now()); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return w, nil
}

// WriteAccepted records that msg was accepted into the dispatch queue.
func (w *Writer) WriteAccepted(msg *proto.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if err := w.rotateIfNeeded(now); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	line, err := json.Marshal(Entry{AcceptedAt: now.UTC(), Tier: msg.Tier().String(), Message: msg})
	if err != nil {
		return fmt.Errorf("failed to serialize entry for %s: %w", msg.ID, err)
	}
	line = append(line, '\n')

	if _, err := w.currentFile.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded(now time.Time) error {
	date := now.Format(dateLayout)
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, filePrefix+date+fileSuffix)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = date
	return nil
}

// Sync flushes the current file to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// Close closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}
	return nil
}

// CurrentLogFile returns the path of the active log file, or "" once closed.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, filePrefix+w.currentDate+fileSuffix)
}

// ReadEntries parses every entry in a log file.
func ReadEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse %s line %d: %w", filepath.Base(path), lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return entries, nil
}

// ListLogFiles returns all event log files in logDir, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
