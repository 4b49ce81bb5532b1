// Package syncq keeps colonyctl writes that could not reach the API so
// `colonyctl sync` can replay them with their original idempotency keys.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".colonyctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
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

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Drain replays the queue in order. Failed commands for which keep returns
// true are saved back for the next run; the rest are dropped.
func Drain(replay func(Command) error, keep func(error) bool) (replayed, dropped int, remaining []Command, err error) {
	queue, err := Load()
	if err != nil {
		return 0, 0, nil, err
	}
	remaining = make([]Command, 0, len(queue))
	for _, q := range queue {
		rerr := replay(q)
		switch {
		case rerr == nil:
			replayed++
		case keep(rerr):
			remaining = append(remaining, q)
		default:
			dropped++
		}
	}
	if err := Save(remaining); err != nil {
		return replayed, dropped, remaining, err
	}
	return replayed, dropped, remaining, nil
}
