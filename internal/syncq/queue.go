// Package syncq keeps CLI writes that could not reach the server so they can
// be replayed later. Every command carries its idempotency key, so replaying
// one the server already applied is rejected instead of filled twice.
package syncq

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type Command struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

type Queue struct {
	path string
	mu   sync.Mutex
}

// DefaultDir is ~/.tycoon.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tycoon"), nil
}

func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, "queue.json")}, nil
}

func (q *Queue) Load() ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(commands)
}

func (q *Queue) save(commands []Command) error {
	if len(commands) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, raw, 0o600)
}

func (q *Queue) Push(cmd Command) error {
	if cmd.Method == "" || cmd.Path == "" {
		return errors.New("queued command needs a method and path")
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return err
	}
	return q.save(append(commands, cmd))
}

// Drain hands every queued command to send in order. Commands whose send
// returns an error stay queued; the rest are dropped. It reports how many
// were sent and the send errors in queue order.
func (q *Queue) Drain(send func(Command) error) (int, []error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return 0, nil, err
	}
	remaining := make([]Command, 0, len(commands))
	var failures []error
	sent := 0
	for _, c := range commands {
		if err := send(c); err != nil {
			remaining = append(remaining, c)
			failures = append(failures, err)
			continue
		}
		sent++
	}
	if err := q.save(remaining); err != nil {
		return sent, failures, err
	}
	return sent, failures, nil
}
