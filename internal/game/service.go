// Package game is the mutation coordinator: every player action reads a
// colony snapshot, validates and computes in memory, then commits one
// version-conditioned write through the store.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"colonycore/internal/colony"
	"colonycore/internal/config"
	"colonycore/internal/events"
	"colonycore/internal/market"
	"colonycore/internal/production"
	"colonycore/internal/store"
	"colonycore/internal/tunables"
)

var playerIDRE = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)

const defaultTunablesTTL = 30 * time.Second

type Service struct {
	store   store.Store
	tun     *tunables.Cache
	catalog *events.Catalog
	market  market.Params
	log     *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	rand *mathrand.Rand
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithSeed(seed int64) Option {
	return func(s *Service) { s.rand = mathrand.New(mathrand.NewSource(seed)) }
}

func WithCatalog(c *events.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

func WithTunables(c *tunables.Cache) Option {
	return func(s *Service) { s.tun = c }
}

func WithMarketParams(p market.Params) Option {
	return func(s *Service) { s.market = p }
}

// ConfigOptions turns process configuration into service options.
func ConfigOptions(st store.Store, cfg config.GameConfig) []Option {
	opts := []Option{WithTunables(tunables.New(st, cfg.TunablesTTL))}
	if cfg.RNGSeed != 0 {
		opts = append(opts, WithSeed(cfg.RNGSeed))
	}
	return opts
}

func NewService(st store.Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  st,
		market: market.DefaultParams(),
		log:    logger,
		now:    time.Now,
		rand:   mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		c, err := events.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("load event catalog: %w", err)
		}
		s.catalog = c
	}
	if s.tun == nil {
		s.tun = tunables.New(st, defaultTunablesTTL)
	}
	return s, nil
}

// clock is truncated to microseconds so timestamps round-trip through
// postgres unchanged.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *Service) nextSeed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Int63()
}

type randFunc func() float64

func (f randFunc) Float64() float64 { return f() }

// EnsurePlayer creates the player with the starter balance when missing.
func (s *Service) EnsurePlayer(ctx context.Context, playerID string) (bool, error) {
	if err := validatePlayer(playerID); err != nil {
		return false, err
	}
	created, err := s.store.EnsurePlayer(ctx, playerID, colony.StarterBalanceMicros, s.clock())
	if err != nil {
		return false, fmt.Errorf("ensure player %s: %w", playerID, err)
	}
	if created {
		s.log.Info("player created", "player_id", playerID)
	}
	return created, nil
}

// SeedDefaults inserts the default resource prices that do not exist yet.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	n, err := s.store.SeedResourcePrices(ctx, market.DefaultResources(s.clock()))
	if err != nil {
		return 0, fmt.Errorf("seed resource prices: %w", err)
	}
	if n > 0 {
		s.log.Info("seeded resource prices", "count", n)
	}
	return n, nil
}

// SetTunable writes a game tunable to the config table and drops the cached
// value.
func (s *Service) SetTunable(ctx context.Context, key string, value float64) error {
	if _, known := tunables.Defaults[key]; !known {
		return invalid("unknown tunable %s", key)
	}
	if err := s.store.SetConfigValue(ctx, key, value); err != nil {
		return fmt.Errorf("set tunable %s: %w", key, err)
	}
	s.tun.Invalidate(key)
	return nil
}

func validatePlayer(playerID string) error {
	if !playerIDRE.MatchString(playerID) {
		return ErrInvalidPlayer
	}
	return nil
}

func (s *Service) load(ctx context.Context, playerID string) (colony.Colony, error) {
	if err := validatePlayer(playerID); err != nil {
		return colony.Colony{}, err
	}
	c, err := s.store.LoadColony(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return colony.Colony{}, ErrPlayerNotFound
	}
	if err != nil {
		return colony.Colony{}, fmt.Errorf("load colony %s: %w", playerID, err)
	}
	return c, nil
}

// modifiers resolves the events affecting playerID; an empty playerID
// resolves global events only.
func (s *Service) modifiers(ctx context.Context, playerID string, now time.Time) (events.ModifierSet, error) {
	active, err := s.store.ActiveEvents(ctx, now)
	if err != nil {
		return events.ModifierSet{}, fmt.Errorf("load active events: %w", err)
	}
	return events.Resolve(playerID, active, now), nil
}

type rules struct {
	tickInterval    time.Duration
	maxAccrualTicks int64
	moduleCostMult  float64
	upgradeCostMult float64
	repairRate      float64
	refundFraction  float64
	dailyBase       float64
	dailyMult       float64
	maxStreak       int
	maxModules      int
	maxCrew         int
	recruitBase     float64
	recruitMult     float64
	xpBase          float64
	xpExponent      float64
	wear            float64
	production      production.Params
	marketInterval  time.Duration
	maxMarketSteps  int
}

func (s *Service) rules(ctx context.Context) (rules, error) {
	rd := &tunableReader{ctx: ctx, cache: s.tun}
	r := rules{
		tickInterval:    rd.readSeconds(tunables.TickIntervalSeconds),
		maxAccrualTicks: int64(rd.readInt(tunables.MaxAccrualTicks)),
		moduleCostMult:  rd.readFloat(tunables.ModuleCostMultiplier),
		upgradeCostMult: rd.readFloat(tunables.UpgradeCostMultiplier),
		repairRate:      rd.readFloat(tunables.RepairRatePerPoint),
		refundFraction:  rd.readFloat(tunables.DemolishRefundFraction),
		dailyBase:       rd.readFloat(tunables.DailyRewardBase),
		dailyMult:       rd.readFloat(tunables.DailyStreakMultiplier),
		maxStreak:       rd.readInt(tunables.MaxStreak),
		maxModules:      rd.readInt(tunables.MaxModules),
		maxCrew:         rd.readInt(tunables.MaxCrew),
		recruitBase:     rd.readFloat(tunables.RecruitBaseCost),
		recruitMult:     rd.readFloat(tunables.RecruitCostMultiplier),
		xpBase:          rd.readFloat(tunables.XPBase),
		xpExponent:      rd.readFloat(tunables.XPExponent),
		wear:            rd.readFloat(tunables.EfficiencyWearPerCollect),
		production: production.Params{
			AgingThreshold:     int64(rd.readInt(tunables.AgingThreshold)),
			AgingDecayPerCycle: rd.readFloat(tunables.AgingDecayPerCycle),
			AgingMinMultiplier: rd.readFloat(tunables.AgingMinMultiplier),
		},
		marketInterval: rd.readSeconds(tunables.MarketTickSeconds),
		maxMarketSteps: rd.readInt(tunables.MaxMarketCatchUpSteps),
	}
	if rd.err != nil {
		return rules{}, rd.err
	}
	return r, nil
}

// tunableReader keeps the first cache error so rules can read every key
// in one expression.
type tunableReader struct {
	ctx   context.Context
	cache *tunables.Cache
	err   error
}

func (rd *tunableReader) readFloat(key string) float64 {
	if rd.err != nil {
		return 0
	}
	v, err := rd.cache.Float(rd.ctx, key)
	rd.err = err
	return v
}

func (rd *tunableReader) readInt(key string) int {
	if rd.err != nil {
		return 0
	}
	v, err := rd.cache.Int(rd.ctx, key)
	rd.err = err
	return v
}

func (rd *tunableReader) readSeconds(key string) time.Duration {
	if rd.err != nil {
		return 0
	}
	v, err := rd.cache.Seconds(rd.ctx, key)
	rd.err = err
	return v
}

// change accumulates the writes of one action against a snapshot.
type change struct {
	base     colony.Colony
	m        store.Mutation
	rules    rules
	xpGained int64
}

func newChange(c colony.Colony, action, key string, now time.Time, r rules) *change {
	return &change{
		base:  c,
		rules: r,
		m: store.Mutation{
			PlayerID:        c.Player.ID,
			ExpectedVersion: c.Player.Version,
			Player:          c.Player,
			Action:          action,
			IdempotencyKey:  strings.TrimSpace(key),
			At:              now,
		},
	}
}

// post moves amountMicros into the wallet (negative moves it out) against
// account, as one balanced ledger group.
func (ch *change) post(account string, amountMicros int64, meta map[string]any) {
	if amountMicros == 0 {
		return
	}
	group := uuid.NewString()
	ch.m.Player.BalanceMicros += amountMicros
	ch.m.Ledger = append(ch.m.Ledger,
		colony.LedgerEntry{
			TxGroupID:   group,
			PlayerID:    ch.m.PlayerID,
			Account:     "wallet",
			DeltaMicros: amountMicros,
			Action:      ch.m.Action,
			Metadata:    meta,
			CreatedAt:   ch.m.At,
		},
		colony.LedgerEntry{
			TxGroupID:   group,
			PlayerID:    ch.m.PlayerID,
			Account:     account,
			DeltaMicros: -amountMicros,
			Action:      ch.m.Action,
			Metadata:    meta,
			CreatedAt:   ch.m.At,
		},
	)
}

func (ch *change) grantXP(gain int64) {
	if gain <= 0 {
		return
	}
	p := &ch.m.Player
	p.Level, p.XP = colony.GrantXP(p.Level, p.XP, gain, ch.rules.xpBase, ch.rules.xpExponent)
	ch.xpGained += gain
}

func (ch *change) unlock(id string) {
	if ch.base.Achievements[id] {
		return
	}
	for _, got := range ch.m.Achievements {
		if got == id {
			return
		}
	}
	ch.m.Achievements = append(ch.m.Achievements, id)
}

// apply commits the change. Store conflicts surface as ErrConflict and are
// never retried here.
func (s *Service) apply(ctx context.Context, ch *change) (Progress, error) {
	err := s.store.Commit(ctx, ch.m)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrVersionConflict):
		s.log.Info("optimistic conflict", "player_id", ch.m.PlayerID, "action", ch.m.Action, "version", ch.m.ExpectedVersion)
		return Progress{}, ErrConflict
	case errors.Is(err, store.ErrDuplicateKey):
		s.log.Info("duplicate idempotency key", "player_id", ch.m.PlayerID, "action", ch.m.Action, "key", ch.m.IdempotencyKey)
		return Progress{}, ErrDuplicateIdempotency
	default:
		s.log.Error("commit failed", "player_id", ch.m.PlayerID, "action", ch.m.Action, "err", err)
		return Progress{}, fmt.Errorf("commit %s: %w", ch.m.Action, err)
	}

	p := ch.m.Player
	return Progress{
		BalanceMicros: p.BalanceMicros,
		Level:         p.Level,
		XP:            p.XP,
		XPGained:      ch.xpGained,
		LeveledUp:     p.Level > ch.base.Player.Level,
		Achievements:  ch.m.Achievements,
		Version:       ch.m.ExpectedVersion + 1,
	}, nil
}

func formatLunar(micros int64) string {
	return decimal.New(micros, -6).StringFixed(2) + " " + colony.Currency
}
