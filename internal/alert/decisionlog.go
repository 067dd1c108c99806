package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DecisionLog is an append-only JSONL audit trail of every alert the
// dispatcher saw, dispatched or not. One JSON object per line; writes are
// mutex-serialized so concurrent emitters never interleave partial lines.
type DecisionLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenDecisionLog opens (creating if needed) the JSONL file at path,
// creating parent directories as required.
func OpenDecisionLog(path string) (*DecisionLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create decision log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	return &DecisionLog{file: f}, nil
}

// Append writes one alert as a single JSON line.
func (l *DecisionLog) Append(msg AlertMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("decision log closed")
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write decision record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Further appends fail.
func (l *DecisionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
