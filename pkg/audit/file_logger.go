package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentFileName = "audit.log"

// FileLogger writes events as JSON lines, rotating by size
type FileLogger struct {
	basePath string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	now     func() time.Time
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // directory holding audit.log and rotated files
	MaxSize  int64  // bytes before rotation; 0 means 100MB
	MaxFiles int    // rotated files kept; 0 means 10
}

// NewFileLogger creates the directory and opens audit.log for appending
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		now:      time.Now,
	}
	if l.maxSize <= 0 {
		l.maxSize = 100 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}

	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(filepath.Join(l.basePath, currentFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotate renames the current file with a timestamp suffix and reopens
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}

	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(filepath.Join(l.basePath, currentFileName), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}
	if err := l.prune(); err != nil {
		return err
	}
	return l.open()
}

// prune removes the oldest rotated files beyond maxFiles. Rotated names sort
// chronologically.
func (l *FileLogger) prune() error {
	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for len(files) > l.maxFiles {
		if err := os.Remove(files[0]); err != nil {
			return fmt.Errorf("failed to remove rotated audit log: %w", err)
		}
		files = files[1:]
	}
	return nil
}

// Log appends an event
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log is closed")
	}
	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs reads up to count events from the current file; count <= 0 reads
// all of them
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	file, err := os.Open(filepath.Join(l.basePath, currentFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}
