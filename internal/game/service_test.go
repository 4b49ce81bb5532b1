package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/store"
	"colonycore/internal/store/sqlite"
	"colonycore/internal/tunables"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *sqlite.Store
	clock *testClock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "game.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := &testClock{at: t0}
	svc, err := NewService(st, quietLogger(), append([]Option{WithClock(clock.Now), WithSeed(7)}, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &fixture{svc: svc, store: st, clock: clock}
}

// fund creates a player with balance whole LUNAR.
func (f *fixture) fund(t *testing.T, playerID string, lunar int64) {
	t.Helper()
	if _, err := f.store.EnsurePlayer(context.Background(), playerID, colony.WholeLunar(lunar), f.clock.Now()); err != nil {
		t.Fatalf("ensure player: %v", err)
	}
}

func (f *fixture) colony(t *testing.T, playerID string) ColonyView {
	t.Helper()
	v, err := f.svc.Colony(context.Background(), playerID)
	if err != nil {
		t.Fatalf("colony view: %v", err)
	}
	return v
}

func (f *fixture) build(t *testing.T, playerID string, typ colony.ModuleType, x, y int) ModuleResult {
	t.Helper()
	res, err := f.svc.BuildModule(context.Background(), BuildModuleInput{PlayerID: playerID, Type: string(typ), X: x, Y: y})
	if err != nil {
		t.Fatalf("build %s: %v", typ, err)
	}
	return res
}

func catalogFrom(t *testing.T, doc string) *events.Catalog {
	t.Helper()
	c, err := events.LoadCatalog([]byte(doc))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func TestEnsurePlayerStartsWithStarterBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.EnsurePlayer(ctx, "pilot-1")
	if err != nil || !created {
		t.Fatalf("ensure created=%v err=%v", created, err)
	}
	created, err = f.svc.EnsurePlayer(ctx, "pilot-1")
	if err != nil || created {
		t.Fatalf("second ensure created=%v err=%v", created, err)
	}
	v := f.colony(t, "pilot-1")
	if v.Player.BalanceMicros != colony.StarterBalanceMicros || v.Player.Level != 1 {
		t.Fatalf("unexpected starter player %+v", v.Player)
	}
	if !v.DailyAvailable {
		t.Fatalf("new player should be able to claim the daily reward")
	}

	if _, err := f.svc.EnsurePlayer(ctx, "bad id!"); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("expected invalid player, got %v", err)
	}
	if _, err := f.svc.Colony(ctx, "ghost"); !errors.Is(err, ErrPlayerNotFound) || KindOf(err) != KindNotFound {
		t.Fatalf("expected player not found, got %v", err)
	}
}

func TestStarterColonyProducesSixtyPerTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "p1", 10_000)

	starter := []colony.ModuleType{colony.SolarPanel, colony.MiningRig, colony.Habitat, colony.WaterExtractor}
	for i, typ := range starter {
		f.build(t, "p1", typ, i, 0)
	}
	v := f.colony(t, "p1")
	if v.OutputPerTick != 60 {
		t.Fatalf("expected 60 output per tick, got %v", v.OutputPerTick)
	}
	if v.Player.ModuleCount != 4 || v.Player.Level != 2 {
		t.Fatalf("unexpected player after builds %+v", v.Player)
	}

	f.clock.Advance(time.Hour)
	res, err := f.svc.CollectEarnings(ctx, PlayerInput{PlayerID: "p1"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.EarnedMicros != colony.WholeLunar(60) || res.XPGained != 6 {
		t.Fatalf("expected 60 LUNAR and 6 xp, got %+v", res)
	}

	again, err := f.svc.CollectEarnings(ctx, PlayerInput{PlayerID: "p1"})
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if again.EarnedMicros != 0 || again.Version != res.Version {
		t.Fatalf("second collect should credit nothing and not write, got %+v", again)
	}
}

type barrierStore struct {
	store.Store
	wg *sync.WaitGroup
}

func (b *barrierStore) LoadColony(ctx context.Context, playerID string) (colony.Colony, error) {
	c, err := b.Store.LoadColony(ctx, playerID)
	b.wg.Done()
	b.wg.Wait()
	return c, err
}

func TestConcurrentBuildsSucceedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "p1", 500)

	var wg sync.WaitGroup
	wg.Add(2)
	racer, err := NewService(&barrierStore{Store: f.store, wg: &wg}, quietLogger(), WithClock(f.clock.Now), WithSeed(1))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	errs := make([]error, 2)
	var done sync.WaitGroup
	for i := 0; i < 2; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			_, errs[i] = racer.BuildModule(ctx, BuildModuleInput{PlayerID: "p1", Type: "SOLAR_PANEL", X: i, Y: 0})
		}(i)
	}
	done.Wait()

	var won, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || conflicted != 1 {
		t.Fatalf("expected one winner and one conflict, got %v", errs)
	}

	v := f.colony(t, "p1")
	if v.Player.ModuleCount != 1 || len(v.Modules) != 1 || v.Player.BalanceMicros != colony.WholeLunar(400) {
		t.Fatalf("final state reflects more than the winner: %+v", v.Player)
	}
}

func TestDuplicateIdempotencyKeyIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "p1", 1_000)

	in := BuildModuleInput{PlayerID: "p1", Type: "HABITAT", X: 0, Y: 0, IdempotencyKey: "req-1"}
	if _, err := f.svc.BuildModule(ctx, in); err != nil {
		t.Fatalf("first build: %v", err)
	}
	in.X = 1
	_, err := f.svc.BuildModule(ctx, in)
	if !errors.Is(err, ErrDuplicateIdempotency) || KindOf(err) != KindConflict {
		t.Fatalf("expected duplicate idempotency, got %v", err)
	}
	if v := f.colony(t, "p1"); len(v.Modules) != 1 {
		t.Fatalf("replayed build leaked a module")
	}
}

func TestLedgerBalancesEveryAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "p1", 1_000)

	mod := f.build(t, "p1", colony.SolarPanel, 0, 0)
	if _, err := f.svc.UpgradeModule(ctx, ModuleInput{PlayerID: "p1", ModuleID: mod.Module.ID}); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if _, err := f.svc.ClaimDailyReward(ctx, PlayerInput{PlayerID: "p1"}); err != nil {
		t.Fatalf("daily: %v", err)
	}

	entries, err := f.svc.Ledger(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 3 balanced pairs, got %d entries", len(entries))
	}
	groups := map[string]int64{}
	var wallet int64
	for _, e := range entries {
		groups[e.TxGroupID] += e.DeltaMicros
		if e.Account == "wallet" {
			wallet += e.DeltaMicros
		}
	}
	for g, sum := range groups {
		if sum != 0 {
			t.Fatalf("ledger group %s does not balance: %d", g, sum)
		}
	}
	v := f.colony(t, "p1")
	if colony.WholeLunar(1_000)+wallet != v.Player.BalanceMicros {
		t.Fatalf("wallet entries %d do not explain balance %d", wallet, v.Player.BalanceMicros)
	}
}

func TestSetTunableRejectsUnknownKey(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.SetTunable(context.Background(), "NOT_A_KEY", 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRulesFollowStoredTunables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.SetTunable(ctx, tunables.TickIntervalSeconds, 1800); err != nil {
		t.Fatalf("set tick interval: %v", err)
	}
	if err := f.svc.SetTunable(ctx, tunables.MaxModules, 12); err != nil {
		t.Fatalf("set max modules: %v", err)
	}
	r, err := f.svc.rules(ctx)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if r.tickInterval != 30*time.Minute || r.maxModules != 12 {
		t.Fatalf("got tick=%s max modules=%d", r.tickInterval, r.maxModules)
	}
	if r.marketInterval != 5*time.Minute || r.maxMarketSteps != 12 {
		t.Fatalf("defaults not applied: market=%s steps=%d", r.marketInterval, r.maxMarketSteps)
	}
}
