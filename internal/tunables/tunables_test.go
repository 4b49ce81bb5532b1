package tunables

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingSource struct {
	values map[string]float64
	calls  int
	err    error
}

func (s *countingSource) ConfigValue(_ context.Context, key string) (float64, bool, error) {
	s.calls++
	if s.err != nil {
		return 0, false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func TestCacheDefaultsAndTTL(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{values: map[string]float64{ModuleCostMultiplier: 1.2}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(src, time.Minute).WithClock(func() time.Time { return now })

	v, err := c.Float(ctx, ModuleCostMultiplier)
	if err != nil || v != 1.2 {
		t.Fatalf("got=%v err=%v want 1.2", v, err)
	}
	if _, err := c.Float(ctx, ModuleCostMultiplier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected one source read inside ttl, got %d", src.calls)
	}

	now = now.Add(2 * time.Minute)
	src.values[ModuleCostMultiplier] = 1.3
	v, _ = c.Float(ctx, ModuleCostMultiplier)
	if v != 1.3 || src.calls != 2 {
		t.Fatalf("expected refresh after ttl, got=%v calls=%d", v, src.calls)
	}

	def, err := c.Float(ctx, RepairRatePerPoint)
	if err != nil || def != 5 {
		t.Fatalf("default got=%v err=%v", def, err)
	}
}

func TestCacheStaleOnError(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{values: map[string]float64{MaxModules: 25}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(src, time.Second).WithClock(func() time.Time { return now })

	if v, _ := c.Int(ctx, MaxModules); v != 25 {
		t.Fatalf("got=%d want=25", v)
	}
	now = now.Add(time.Hour)
	src.err = errors.New("db down")
	if v, err := c.Int(ctx, MaxModules); err != nil || v != 25 {
		t.Fatalf("expected stale value, got=%d err=%v", v, err)
	}
	if _, err := c.Float(ctx, XPBase); err == nil {
		t.Fatalf("expected error without a cached value")
	}
}

func TestCacheUnknownKey(t *testing.T) {
	c := New(Static{}, time.Minute)
	if _, err := c.Float(context.Background(), "NOT_A_TUNABLE"); err == nil {
		t.Fatalf("expected unknown tunable error")
	}
}

func TestSeconds(t *testing.T) {
	c := New(Static{TickIntervalSeconds: 90}, time.Minute)
	d, err := c.Seconds(context.Background(), TickIntervalSeconds)
	if err != nil || d != 90*time.Second {
		t.Fatalf("got=%s err=%v", d, err)
	}
}
