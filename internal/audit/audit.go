// Package audit appends one JSON line per pipeline operation to a log file.
// The file is the durable trace of what happened to every candidate URL.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/globaltime"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Operation string         `json:"operation"`
	URL       string         `json:"url,omitempty"`
	Status    string         `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Sink records audit entries.
type Sink interface {
	LogOperation(entry Entry)
	Close() error
}

// Discard drops every entry. Used when no audit path is configured.
type Discard struct{}

func (Discard) LogOperation(Entry) {}
func (Discard) Close() error       { return nil }

// FileSink writes entries as JSON lines to an append-only file.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	writer zerolog.Logger
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{
		file:   file,
		writer: zerolog.New(file),
	}, nil
}

// LogOperation appends an entry. Auditing never fails the operation it
// records; a write error is silently dropped by the underlying writer.
func (s *FileSink) LogOperation(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = globaltime.Now().UTC().Format(time.RFC3339)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event := s.writer.Log().
		Str("timestamp", entry.Timestamp).
		Str("operation", entry.Operation).
		Str("status", entry.Status)
	if entry.RunID != "" {
		event = event.Str("run_id", entry.RunID)
	}
	if entry.URL != "" {
		event = event.Str("url", entry.URL)
	}
	if entry.Detail != "" {
		event = event.Str("detail", entry.Detail)
	}
	if len(entry.Extra) > 0 {
		event = event.Fields(entry.Extra)
	}
	event.Send()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
