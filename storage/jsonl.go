// Package storage persists benchmark run artifacts: append-only JSONL
// logs for responses, scores, and model calls, plus a NATS KV store for
// run manifests.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// maxLineSize bounds a single JSONL record (16MB).
const maxLineSize = 16 * 1024 * 1024

// Log is a single-writer append-only JSONL file. Append is safe for
// concurrent use; each record is written as one line in a single write
// so partially interleaved records cannot occur.
type Log[T any] struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	closed bool
}

// OpenLog opens the JSONL log at path for appending, creating the file
// and any parent directories if needed.
func OpenLog[T any](path string) (*Log[T], error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	return &Log[T]{f: f, path: path}, nil
}

// Path returns the file path backing the log.
func (l *Log[T]) Path() string {
	return l.path
}

// Append marshals rec and writes it as a single line.
func (l *Log[T]) Append(rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line := append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Sync flushes appended records to stable storage.
func (l *Log[T]) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	return l.f.Sync()
}

// Close syncs and closes the log. Further appends return ErrLogClosed.
func (l *Log[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return l.f.Close()
}

// ReadLog reads every record from the JSONL file at path, in file
// order. A missing file yields no records, mirroring an empty log.
// Blank lines are skipped; a malformed line fails the whole read.
func ReadLog[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), lineNum, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	return records, nil
}
