// Package tunables serves numeric game tunables from the durable config
// table with a short in-process TTL cache and per-key defaults.
package tunables

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	TickIntervalSeconds      = "TICK_INTERVAL_SECONDS"
	MaxAccrualTicks          = "MAX_ACCRUAL_TICKS"
	ModuleCostMultiplier     = "MODULE_COST_MULTIPLIER"
	UpgradeCostMultiplier    = "UPGRADE_COST_MULTIPLIER"
	RepairRatePerPoint       = "REPAIR_RATE_PER_POINT"
	DemolishRefundFraction   = "DEMOLISH_REFUND_FRACTION"
	DailyRewardBase          = "DAILY_REWARD_BASE"
	DailyStreakMultiplier    = "DAILY_STREAK_MULTIPLIER"
	MaxStreak                = "MAX_STREAK"
	MaxModules               = "MAX_MODULES"
	MaxCrew                  = "MAX_CREW"
	RecruitBaseCost          = "RECRUIT_BASE_COST"
	RecruitCostMultiplier    = "RECRUIT_COST_MULTIPLIER"
	XPBase                   = "XP_BASE"
	XPExponent               = "XP_EXPONENT"
	AgingThreshold           = "AGING_THRESHOLD"
	AgingDecayPerCycle       = "AGING_DECAY_PER_CYCLE"
	AgingMinMultiplier       = "AGING_MIN_MULTIPLIER"
	EfficiencyWearPerCollect = "EFFICIENCY_WEAR_PER_COLLECT"
	MarketTickSeconds        = "MARKET_TICK_SECONDS"
	MaxMarketCatchUpSteps    = "MAX_MARKET_CATCHUP_STEPS"
)

// Defaults apply whenever the config table has no row for a key.
var Defaults = map[string]float64{
	TickIntervalSeconds:      3600,
	MaxAccrualTicks:          24,
	ModuleCostMultiplier:     1.15,
	UpgradeCostMultiplier:    1.5,
	RepairRatePerPoint:       5,
	DemolishRefundFraction:   0.25,
	DailyRewardBase:          100,
	DailyStreakMultiplier:    1.1,
	MaxStreak:                7,
	MaxModules:               20,
	MaxCrew:                  10,
	RecruitBaseCost:          150,
	RecruitCostMultiplier:    1.25,
	XPBase:                   100,
	XPExponent:               1.5,
	AgingThreshold:           30,
	AgingDecayPerCycle:       0.01,
	AgingMinMultiplier:       0.5,
	EfficiencyWearPerCollect: 1,
	MarketTickSeconds:        300,
	MaxMarketCatchUpSteps:    12,
}

// Source is the durable config store.
type Source interface {
	ConfigValue(ctx context.Context, key string) (float64, bool, error)
}

type entry struct {
	value     float64
	fetchedAt time.Time
}

// Cache owns {key -> (value, fetchedAt)}. Construct one per process and
// pass it to the components that read tunables.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func New(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// WithClock replaces the cache clock; used by tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Float returns the tunable for key. A source failure falls back to a stale
// cached value when one exists and is returned as an error otherwise.
func (c *Cache) Float(ctx context.Context, key string) (float64, error) {
	now := c.now()
	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < c.ttl {
		return cached.value, nil
	}

	value, err := c.fetch(ctx, key)
	if err != nil {
		if ok {
			return cached.value, nil
		}
		return 0, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, fetchedAt: now}
	c.mu.Unlock()
	return value, nil
}

func (c *Cache) fetch(ctx context.Context, key string) (float64, error) {
	if c.src == nil {
		return Defaults[key], nil
	}
	v, found, err := c.src.ConfigValue(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read tunable %s: %w", key, err)
	}
	if !found {
		def, known := Defaults[key]
		if !known {
			return 0, fmt.Errorf("unknown tunable %s", key)
		}
		return def, nil
	}
	return v, nil
}

func (c *Cache) Int(ctx context.Context, key string) (int, error) {
	v, err := c.Float(ctx, key)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Seconds reads a tunable expressed in seconds as a duration.
func (c *Cache) Seconds(ctx context.Context, key string) (time.Duration, error) {
	v, err := c.Float(ctx, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Static is an in-memory Source, handy for tests and local tools.
type Static map[string]float64

func (s Static) ConfigValue(_ context.Context, key string) (float64, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}
