package syncq

import (
	"errors"
	"testing"
)

var errOffline = errors.New("connection refused")
var errRejected = errors.New("api status 422")

func TestPushAndDrain(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if q, err := Load(); err != nil || len(q) != 0 {
		t.Fatalf("fresh queue should be empty: %v %v", q, err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if err := Push(Command{Method: "POST", Path: "/v1/collect", IdempotencyKey: key}); err != nil {
			t.Fatalf("push %s: %v", key, err)
		}
	}

	replay := func(c Command) error {
		switch c.IdempotencyKey {
		case "b":
			return errOffline
		case "c":
			return errRejected
		}
		return nil
	}
	keep := func(err error) bool { return errors.Is(err, errOffline) }

	replayed, dropped, remaining, err := Drain(replay, keep)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if replayed != 1 || dropped != 1 || len(remaining) != 1 || remaining[0].IdempotencyKey != "b" {
		t.Fatalf("unexpected drain replayed=%d dropped=%d remaining=%v", replayed, dropped, remaining)
	}
	q, err := Load()
	if err != nil || len(q) != 1 || q[0].QueuedAt.IsZero() {
		t.Fatalf("queue not persisted: %v %v", q, err)
	}
}
