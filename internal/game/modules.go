package game

import (
	"context"
	"time"

	"github.com/google/uuid"

	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/production"
)

// Ledger counterparty accounts.
const (
	accountConstruction = "construction"
	accountProduction   = "production"
	accountMarket       = "market"
	accountCrew         = "crew"
	accountRewards      = "rewards"
)

func (s *Service) BuildModule(ctx context.Context, in BuildModuleInput) (ModuleResult, error) {
	typ, err := colony.ParseModuleType(in.Type)
	if err != nil {
		return ModuleResult{}, invalidFrom(err)
	}
	tier, err := colony.ParseTier(in.Tier)
	if err != nil {
		return ModuleResult{}, invalidFrom(err)
	}
	at := colony.Coordinates{X: in.X, Y: in.Y}
	if err := at.Validate(); err != nil {
		return ModuleResult{}, invalidFrom(err)
	}

	r, err := s.rules(ctx)
	if err != nil {
		return ModuleResult{}, err
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return ModuleResult{}, err
	}
	now := s.clock()

	if c.Player.ModuleCount >= r.maxModules || len(c.Modules) >= r.maxModules {
		return ModuleResult{}, ErrColonyFull
	}
	if c.CellTaken(at) {
		return ModuleResult{}, ErrCellOccupied
	}
	mods, err := s.modifiers(ctx, in.PlayerID, now)
	if err != nil {
		return ModuleResult{}, err
	}
	cost := buildCost(typ, tier, c.Player.ModuleCount, r, mods)
	if c.Player.BalanceMicros < cost {
		return ModuleResult{}, shortOf(ErrInsufficientFunds, cost, c.Player.BalanceMicros)
	}

	output, _ := colony.BlueprintBaseOutput(typ, tier)
	mod := colony.Module{
		ID:              uuid.NewString(),
		PlayerID:        c.Player.ID,
		Type:            typ,
		Tier:            tier,
		Level:           1,
		BaseOutput:      output,
		Efficiency:      colony.MaxEfficiency,
		IsActive:        true,
		Coordinates:     at,
		LastCollectedAt: now,
		Version:         1,
		CreatedAt:       now,
	}

	ch := newChange(c, "build_module", in.IdempotencyKey, now, r)
	ch.post(accountConstruction, -cost, map[string]any{"module_id": mod.ID, "type": typ, "tier": tier})
	ch.m.NewModules = append(ch.m.NewModules, mod)
	ch.m.Player.ModuleCount++
	ch.grantXP(xpBuild)
	ch.unlock(AchievementFirstModule)
	if ch.m.Player.ModuleCount >= r.maxModules {
		ch.unlock(AchievementFullColony)
	}

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return ModuleResult{}, err
	}
	return ModuleResult{Progress: prog, Module: mod, CostMicros: cost}, nil
}

func (s *Service) UpgradeModule(ctx context.Context, in ModuleInput) (ModuleResult, error) {
	return s.moduleAction(ctx, in, "upgrade_module", func(ch *change, mod *colony.Module, mods events.ModifierSet) (int64, error) {
		if mod.Level >= mod.Tier.MaxLevel() {
			return 0, ErrMaxLevel
		}
		cost := upgradeCost(*mod, ch.rules, mods)
		if ch.m.Player.BalanceMicros < cost {
			return 0, shortOf(ErrInsufficientFunds, cost, ch.m.Player.BalanceMicros)
		}
		ch.post(accountConstruction, -cost, map[string]any{"module_id": mod.ID, "level": mod.Level + 1})
		mod.Level++
		ch.grantXP(xpUpgrade)
		if mod.Level >= mod.Tier.MaxLevel() {
			ch.unlock(AchievementMaxLevelModule)
		}
		return cost, nil
	})
}

// ToggleModule flips a module on or off. Accrual is measured from the moment
// a module is switched on; ticks left uncollected when it is switched off
// are forfeited.
func (s *Service) ToggleModule(ctx context.Context, in ModuleInput) (ModuleResult, error) {
	return s.moduleAction(ctx, in, "toggle_module", func(ch *change, mod *colony.Module, _ events.ModifierSet) (int64, error) {
		mod.IsActive = !mod.IsActive
		mod.LastCollectedAt = ch.m.At
		return 0, nil
	})
}

func (s *Service) RepairModule(ctx context.Context, in ModuleInput) (ModuleResult, error) {
	return s.moduleAction(ctx, in, "repair_module", func(ch *change, mod *colony.Module, mods events.ModifierSet) (int64, error) {
		if mod.Efficiency >= colony.MaxEfficiency {
			return 0, ErrFullEfficiency
		}
		cost := repairCost(*mod, ch.rules, mods)
		if ch.m.Player.BalanceMicros < cost {
			return 0, shortOf(ErrInsufficientFunds, cost, ch.m.Player.BalanceMicros)
		}
		ch.post(accountConstruction, -cost, map[string]any{"module_id": mod.ID, "efficiency": mod.Efficiency})
		mod.Efficiency = colony.MaxEfficiency
		ch.grantXP(xpRepair)
		return cost, nil
	})
}

// DemolishModule soft-deletes a module, refunds part of its base cost and
// frees its crew. Uncollected accrual is forfeited.
func (s *Service) DemolishModule(ctx context.Context, in ModuleInput) (ModuleResult, error) {
	return s.moduleAction(ctx, in, "demolish_module", func(ch *change, mod *colony.Module, _ events.ModifierSet) (int64, error) {
		refund := colony.WholeLunar(colony.DemolishRefund(mod.Type, mod.Tier, ch.rules.refundFraction))
		ch.post(accountConstruction, refund, map[string]any{"module_id": mod.ID, "type": mod.Type, "tier": mod.Tier})
		at := ch.m.At
		mod.DeletedAt = &at
		mod.IsActive = false
		if cm, ok := ch.base.CrewOn(mod.ID); ok {
			cm.AssignedModuleID = ""
			ch.m.Crew = append(ch.m.Crew, cm)
		}
		if ch.m.Player.ModuleCount > 0 {
			ch.m.Player.ModuleCount--
		}
		return -refund, nil
	})
}

type moduleFunc func(ch *change, mod *colony.Module, mods events.ModifierSet) (int64, error)

func (s *Service) moduleAction(ctx context.Context, in ModuleInput, action string, fn moduleFunc) (ModuleResult, error) {
	if in.ModuleID == "" {
		return ModuleResult{}, invalid("module id is required")
	}
	r, err := s.rules(ctx)
	if err != nil {
		return ModuleResult{}, err
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return ModuleResult{}, err
	}
	mod, ok := c.Module(in.ModuleID)
	if !ok {
		return ModuleResult{}, ErrModuleNotFound
	}
	now := s.clock()
	mods, err := s.modifiers(ctx, in.PlayerID, now)
	if err != nil {
		return ModuleResult{}, err
	}

	ch := newChange(c, action, in.IdempotencyKey, now, r)
	cost, err := fn(ch, &mod, mods)
	if err != nil {
		return ModuleResult{}, err
	}
	ch.m.Modules = append(ch.m.Modules, mod)

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return ModuleResult{}, err
	}
	mod.Version++
	return ModuleResult{Progress: prog, Module: mod, CostMicros: cost}, nil
}

// CollectEarnings credits every whole tick accrued by active modules since
// their last collection. Collecting again before another tick elapses
// credits nothing and writes nothing.
func (s *Service) CollectEarnings(ctx context.Context, in PlayerInput) (CollectResult, error) {
	r, err := s.rules(ctx)
	if err != nil {
		return CollectResult{}, err
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return CollectResult{}, err
	}
	now := s.clock()
	mods, err := s.modifiers(ctx, in.PlayerID, now)
	if err != nil {
		return CollectResult{}, err
	}

	acc := production.Pending(c, mods, r.production, now, r.tickInterval, r.maxAccrualTicks)
	earned := colony.LunarToMicros(acc.Total)

	ch := newChange(c, "collect_earnings", in.IdempotencyKey, now, r)
	for i, m := range c.Modules {
		a := acc.Modules[i]
		switch {
		case !m.IsActive:
			if !m.LastCollectedAt.Before(now) {
				continue
			}
			m.LastCollectedAt = now
		case a.Ticks > 0:
			if a.Capped {
				m.LastCollectedAt = now
			} else {
				m.LastCollectedAt = m.LastCollectedAt.Add(time.Duration(a.Ticks) * r.tickInterval)
			}
			m.AgeInCycles++
			m.Efficiency = colony.ClampEfficiency(m.Efficiency - r.wear)
			m.BonusOutput = a.Output.CrewBonus
		default:
			continue
		}
		ch.m.Modules = append(ch.m.Modules, m)
	}

	result := CollectResult{EarnedMicros: earned, Modules: acc.Modules}
	if len(ch.m.Modules) == 0 && earned == 0 {
		p := c.Player
		result.Progress = Progress{BalanceMicros: p.BalanceMicros, Level: p.Level, XP: p.XP, Version: p.Version}
		return result, nil
	}
	ch.post(accountProduction, earned, map[string]any{"modules": len(ch.m.Modules)})
	ch.grantXP(collectXP(earned))

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return CollectResult{}, err
	}
	result.Progress = prog
	return result, nil
}

func buildCost(t colony.ModuleType, tier colony.Tier, existing int, r rules, mods events.ModifierSet) int64 {
	base, _ := colony.ModuleCost(t, tier, existing, r.moduleCostMult)
	return colony.WholeLunar(colony.ScaleCost(base, mods.Get(events.GlobalBuildCost)))
}

func upgradeCost(m colony.Module, r rules, mods events.ModifierSet) int64 {
	base, _ := colony.UpgradeCost(m.Type, m.Level, r.upgradeCostMult)
	return colony.WholeLunar(colony.ScaleCost(base, mods.Get(events.UpgradeCost)))
}

func repairCost(m colony.Module, r rules, mods events.ModifierSet) int64 {
	return colony.WholeLunar(colony.ScaleCost(colony.RepairCost(m.Efficiency, r.repairRate), mods.Get(events.RepairCost)))
}
