package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"colonycore/internal/colony"
	"colonycore/internal/market"
	"colonycore/internal/store"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "colony.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReopenKeepsMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "colony.sqlite")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	c, err := s.LoadColony(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Player.BalanceMicros != 500*colony.MicrosPerLunar || c.Player.Version != 1 || c.Player.Level != 1 {
		t.Fatalf("unexpected player %+v", c.Player)
	}
}

func TestEnsurePlayerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	created, err := s.EnsurePlayer(ctx, "p1", 100, now)
	if err != nil || !created {
		t.Fatalf("first ensure created=%v err=%v", created, err)
	}
	created, err = s.EnsurePlayer(ctx, "p1", 999, now)
	if err != nil || created {
		t.Fatalf("second ensure created=%v err=%v", created, err)
	}
	c, _ := s.LoadColony(ctx, "p1")
	if c.Player.BalanceMicros != 100 {
		t.Fatalf("balance overwritten: %d", c.Player.BalanceMicros)
	}
	if _, err := s.LoadColony(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func buildMutation(c colony.Colony, key string, x int) store.Mutation {
	p := c.Player
	p.BalanceMicros -= 100 * colony.MicrosPerLunar
	p.ModuleCount++
	return store.Mutation{
		PlayerID:        p.ID,
		ExpectedVersion: c.Player.Version,
		Player:          p,
		Action:          "build_module",
		IdempotencyKey:  key,
		At:              now,
		NewModules: []colony.Module{{
			ID:              "m-" + key,
			PlayerID:        p.ID,
			Type:            colony.SolarPanel,
			Tier:            colony.Common,
			Level:           1,
			BaseOutput:      10,
			Efficiency:      100,
			IsActive:        true,
			Coordinates:     colony.Coordinates{X: x, Y: 0},
			LastCollectedAt: now,
			Version:         1,
			CreatedAt:       now,
		}},
		Ledger: []colony.LedgerEntry{
			{TxGroupID: "g-" + key, PlayerID: p.ID, Account: "wallet", DeltaMicros: -100 * colony.MicrosPerLunar, Action: "build_module", CreatedAt: now},
			{TxGroupID: "g-" + key, PlayerID: p.ID, Account: "colony", DeltaMicros: 100 * colony.MicrosPerLunar, Action: "build_module", Metadata: map[string]any{"type": "SOLAR_PANEL"}, CreatedAt: now},
		},
		Achievements: []string{"FIRST_MODULE"},
	}
}

func TestCommitAppliesMutation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")

	if err := s.Commit(ctx, buildMutation(c, "k1", 0)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	after, err := s.LoadColony(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if after.Player.Version != 2 || after.Player.ModuleCount != 1 || after.Player.BalanceMicros != 400*colony.MicrosPerLunar {
		t.Fatalf("unexpected player %+v", after.Player)
	}
	if len(after.Modules) != 1 || !after.Modules[0].LastCollectedAt.Equal(now) || !after.Modules[0].IsActive {
		t.Fatalf("unexpected modules %+v", after.Modules)
	}
	if !after.Achievements["FIRST_MODULE"] {
		t.Fatalf("achievement not stored")
	}
	ledger, err := s.LedgerEntries(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	var sum int64
	for _, e := range ledger {
		sum += e.DeltaMicros
	}
	if len(ledger) != 2 || sum != 0 {
		t.Fatalf("ledger not balanced: %+v", ledger)
	}
}

func TestLedgerMetadataErrorsSurface(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")

	bad := buildMutation(c, "k1", 0)
	bad.Ledger[1].Metadata = map[string]any{"ratio": math.Inf(1)}
	if err := s.Commit(ctx, bad); err == nil {
		t.Fatalf("expected metadata encode error")
	}
	after, _ := s.LoadColony(ctx, "p1")
	if after.Player.Version != 1 || len(after.Modules) != 0 {
		t.Fatalf("failed commit left writes behind: %+v", after.Player)
	}

	if err := s.Commit(ctx, buildMutation(c, "k2", 0)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	ledger, err := s.LedgerEntries(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	var found bool
	for _, e := range ledger {
		if e.Metadata["type"] == "SOLAR_PANEL" {
			found = true
		}
	}
	if !found {
		t.Fatalf("metadata not round-tripped: %+v", ledger)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE ledger_entries SET metadata = '{broken' WHERE account = 'colony'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}
	if _, err := s.LedgerEntries(ctx, "p1", 10); err == nil {
		t.Fatalf("expected metadata decode error")
	}
}

func TestStaleCommitConflicts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")

	if err := s.Commit(ctx, buildMutation(c, "k1", 0)); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := s.Commit(ctx, buildMutation(c, "k2", 1)); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	after, _ := s.LoadColony(ctx, "p1")
	if after.Player.ModuleCount != 1 || len(after.Modules) != 1 {
		t.Fatalf("stale commit leaked writes: %+v", after.Player)
	}
}

func TestDuplicateIdempotencyKeyRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")
	if err := s.Commit(ctx, buildMutation(c, "same", 0)); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	c, _ = s.LoadColony(ctx, "p1")
	m := buildMutation(c, "same", 1)
	m.NewModules[0].ID = "m-other"
	if err := s.Commit(ctx, m); !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	after, _ := s.LoadColony(ctx, "p1")
	if after.Player.Version != 2 || len(after.Modules) != 1 {
		t.Fatalf("duplicate commit was not rolled back: %+v", after.Player)
	}
}

func TestModuleVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")
	s.Commit(ctx, buildMutation(c, "k1", 0))
	c, _ = s.LoadColony(ctx, "p1")

	mod := c.Modules[0]
	mod.IsActive = false
	err := s.Commit(ctx, store.Mutation{PlayerID: "p1", ExpectedVersion: c.Player.Version, Player: c.Player, At: now, Modules: []colony.Module{mod}})
	if err != nil {
		t.Fatalf("toggle commit: %v", err)
	}

	c2, _ := s.LoadColony(ctx, "p1")
	if c2.Modules[0].IsActive || c2.Modules[0].Version != 2 {
		t.Fatalf("module not updated: %+v", c2.Modules[0])
	}
	stale := mod
	err = s.Commit(ctx, store.Mutation{PlayerID: "p1", ExpectedVersion: c2.Player.Version, Player: c2.Player, At: now, Modules: []colony.Module{stale}})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected module version conflict, got %v", err)
	}
}

func TestSoftDeleteHidesModule(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")
	s.Commit(ctx, buildMutation(c, "k1", 0))
	c, _ = s.LoadColony(ctx, "p1")

	mod := c.Modules[0]
	deleted := now
	mod.DeletedAt = &deleted
	p := c.Player
	p.ModuleCount--
	if err := s.Commit(ctx, store.Mutation{PlayerID: "p1", ExpectedVersion: p.Version, Player: p, At: now, Modules: []colony.Module{mod}}); err != nil {
		t.Fatalf("demolish commit: %v", err)
	}
	after, _ := s.LoadColony(ctx, "p1")
	if len(after.Modules) != 0 || after.Player.ModuleCount != 0 {
		t.Fatalf("demolished module still visible")
	}
	if err := s.Commit(ctx, buildMutation(after, "k2", 0)); err != nil {
		t.Fatalf("rebuild on freed cell: %v", err)
	}
}

func TestCrewAndHoldings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")
	s.Commit(ctx, buildMutation(c, "k1", 0))
	c, _ = s.LoadColony(ctx, "p1")

	p := c.Player
	p.CrewCount = 1
	err := s.Commit(ctx, store.Mutation{
		PlayerID: "p1", ExpectedVersion: c.Player.Version, Player: p, At: now,
		NewCrew:  []colony.CrewMember{{ID: "c1", PlayerID: "p1", Name: "Ada", Specialty: colony.SolarPanel, OutputBonus: 12, EfficiencyBonus: 4, HiredAt: now}},
		Holdings: map[string]int64{"ORE": 15},
	})
	if err != nil {
		t.Fatalf("recruit commit: %v", err)
	}
	c, _ = s.LoadColony(ctx, "p1")
	if len(c.Crew) != 1 || c.Crew[0].AssignedModuleID != "" || c.Holding("ORE") != 15 {
		t.Fatalf("unexpected colony %+v", c)
	}

	cm := c.Crew[0]
	cm.AssignedModuleID = c.Modules[0].ID
	if err := s.Commit(ctx, store.Mutation{PlayerID: "p1", ExpectedVersion: c.Player.Version, Player: c.Player, At: now, Crew: []colony.CrewMember{cm}, Holdings: map[string]int64{"ORE": 0}}); err != nil {
		t.Fatalf("assign commit: %v", err)
	}
	c, _ = s.LoadColony(ctx, "p1")
	if on, ok := c.CrewOn(c.Modules[0].ID); !ok || on.ID != "c1" {
		t.Fatalf("crew not assigned")
	}
	if c.Holding("ORE") != 0 {
		t.Fatalf("holding not cleared")
	}
}

func TestPricesAndGuard(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	n, err := s.SeedResourcePrices(ctx, market.DefaultResources(now))
	if err != nil || n != 6 {
		t.Fatalf("seed n=%d err=%v", n, err)
	}
	n, _ = s.SeedResourcePrices(ctx, market.DefaultResources(now))
	if n != 0 {
		t.Fatalf("reseed inserted %d rows", n)
	}

	ore, err := s.ResourcePrice(ctx, "ORE")
	if err != nil || ore.CurrentPrice != 25 || !ore.LastTickAt.Equal(now) {
		t.Fatalf("ore=%+v err=%v", ore, err)
	}
	if _, err := s.ResourcePrice(ctx, "GOLD"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	next := ore
	next.CurrentPrice = 26
	if err := s.UpdateResourcePrice(ctx, next, ore.Version); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateResourcePrice(ctx, next, ore.Version); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected price conflict, got %v", err)
	}

	s.EnsurePlayer(ctx, "p1", 500*colony.MicrosPerLunar, now)
	c, _ := s.LoadColony(ctx, "p1")
	err = s.Commit(ctx, store.Mutation{
		PlayerID: "p1", ExpectedVersion: c.Player.Version, Player: c.Player, At: now,
		PriceGuard: &store.PriceGuard{Resource: "ORE", Version: ore.Version},
		Trade:      &colony.Trade{ID: "t1", PlayerID: "p1", Resource: "ORE", Side: "buy", RequestedQty: 5, FilledQty: 5, AvgPrice: 25.1, CreatedAt: now},
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected guard conflict, got %v", err)
	}

	err = s.Commit(ctx, store.Mutation{
		PlayerID: "p1", ExpectedVersion: c.Player.Version, Player: c.Player, At: now,
		PriceGuard: &store.PriceGuard{Resource: "ORE", Version: ore.Version + 1},
		Trade:      &colony.Trade{ID: "t1", PlayerID: "p1", Resource: "ORE", Side: "buy", RequestedQty: 5, FilledQty: 5, AvgPrice: 25.1, CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("guarded trade: %v", err)
	}
	bought, sold, err := s.TradeVolume(ctx, "ORE", now.Add(-time.Minute), now)
	if err != nil || bought != 5 || sold != 0 {
		t.Fatalf("volume bought=%d sold=%d err=%v", bought, sold, err)
	}
	bought, _, _ = s.TradeVolume(ctx, "ORE", now, now.Add(time.Minute))
	if bought != 0 {
		t.Fatalf("volume should exclude trades at the cursor")
	}
}

func TestEventsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ev := colony.ActiveEvent{
		ID: "e1", DefinitionID: "solar_flare", Name: "Solar Flare", Type: colony.EventRandom,
		Modifiers: map[string]float64{"SOLAR_PANEL_OUTPUT": 1.5}, IsGlobal: false, TargetPlayerIDs: []string{"p1"},
		StartTime: now, EndTime: now.Add(time.Hour), Status: colony.EventActive,
	}
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.ActiveEvents(ctx, now.Add(time.Minute))
	if err != nil || len(got) != 1 {
		t.Fatalf("active got=%d err=%v", len(got), err)
	}
	if got[0].Modifiers["SOLAR_PANEL_OUTPUT"] != 1.5 || len(got[0].TargetPlayerIDs) != 1 || !got[0].EndTime.Equal(ev.EndTime) {
		t.Fatalf("event did not round trip: %+v", got[0])
	}

	n, err := s.ExpireEvents(ctx, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expire n=%d err=%v", n, err)
	}
	got, _ = s.ActiveEvents(ctx, now)
	if len(got) != 0 {
		t.Fatalf("expired event still active")
	}
}

func TestConfigAndCursor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, ok, err := s.ConfigValue(ctx, "MAX_MODULES"); ok || err != nil {
		t.Fatalf("expected missing config, ok=%v err=%v", ok, err)
	}
	s.SetConfigValue(ctx, "MAX_MODULES", 5)
	s.SetConfigValue(ctx, "MAX_MODULES", 6)
	if v, ok, _ := s.ConfigValue(ctx, "MAX_MODULES"); !ok || v != 6 {
		t.Fatalf("config got=%f ok=%v", v, ok)
	}

	if _, ok, _ := s.TickCursor(ctx, store.CursorProduction); ok {
		t.Fatalf("cursor should start unset")
	}
	if err := s.AdvanceTickCursor(ctx, store.CursorProduction, time.Time{}, now); err != nil {
		t.Fatalf("init cursor: %v", err)
	}
	if err := s.AdvanceTickCursor(ctx, store.CursorProduction, time.Time{}, now); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("second init should conflict, got %v", err)
	}
	next := now.Add(time.Hour)
	if err := s.AdvanceTickCursor(ctx, store.CursorProduction, now, next); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.AdvanceTickCursor(ctx, store.CursorProduction, now, next); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale advance should conflict, got %v", err)
	}
	at, ok, _ := s.TickCursor(ctx, store.CursorProduction)
	if !ok || !at.Equal(next) {
		t.Fatalf("cursor got=%s", at)
	}
}
