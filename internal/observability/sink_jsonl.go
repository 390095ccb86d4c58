package observability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"
)

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewJSONLSink opens path for appending, creating it if needed.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl: path is required")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	return &JSONLSink{path: path, file: f}, nil
}

// Name returns "jsonl".
func (s *JSONLSink) Name() string { return "jsonl" }

// Path returns the file being written.
func (s *JSONLSink) Path() string { return s.path }

// Emit writes rec as a single line.
func (s *JSONLSink) Emit(_ context.Context, rec *Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jsonl: encode: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("jsonl: sink is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("jsonl: write: %w", err)
	}
	return nil
}

// Shutdown syncs and closes the file.
func (s *JSONLSink) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("jsonl: sync: %w", err)
	}
	return f.Close()
}
