// Package resultlog implements the append-only text log of task results.
// Each record is one "name: result" line; the log is only ever appended to or
// truncated as a whole.
package resultlog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/seantiz/taskrunner/internal/model"
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("result log closed")

// Log is a file-backed result log. It is safe for concurrent use.
type Log struct {
	mu   sync.RWMutex
	path string
	f    *os.File
}

// Open opens the log at path, creating the file if needed. Existing content
// is kept; call Reset to start empty.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Path returns the file path backing the log.
func (l *Log) Path() string {
	return l.path
}

// Reset truncates the log, discarding every record.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return ErrClosed
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate result log: %w", err)
	}
	return nil
}

// Append writes rec as a single line. The whole line goes out in one write
// while the lock is held, so concurrent appends never interleave.
func (l *Log) Append(rec model.ResultRecord) error {
	line := sanitize(rec.String()) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return ErrClosed
	}
	if _, err := l.f.WriteString(line); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}
	return nil
}

// Latest returns the most recently appended record. ok is false when the log
// holds no records.
func (l *Log) Latest() (rec model.ResultRecord, ok bool, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.f == nil {
		return model.ResultRecord{}, false, ErrClosed
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return model.ResultRecord{}, false, fmt.Errorf("read result log: %w", err)
	}

	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return model.ResultRecord{}, false, nil
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return model.ParseResultRecord(strings.TrimRight(string(data), "\r")), true, nil
}

// Close releases the underlying file. Further operations return ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// sanitize folds embedded newlines so that a record always occupies exactly
// one line.
func sanitize(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
