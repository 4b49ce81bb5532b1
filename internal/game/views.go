package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/market"
	"colonycore/internal/production"
	"colonycore/internal/store"
)

// Colony returns the player's colony with per-module output, pending
// earnings and the current action costs.
func (s *Service) Colony(ctx context.Context, playerID string) (ColonyView, error) {
	r, err := s.rules(ctx)
	if err != nil {
		return ColonyView{}, err
	}
	c, err := s.load(ctx, playerID)
	if err != nil {
		return ColonyView{}, err
	}
	now := s.clock()
	mods, err := s.modifiers(ctx, playerID, now)
	if err != nil {
		return ColonyView{}, err
	}

	acc := production.Pending(c, mods, r.production, now, r.tickInterval, r.maxAccrualTicks)
	v := ColonyView{
		Player:              c.Player,
		Crew:                c.Crew,
		Holdings:            c.Holdings,
		PendingMicros:       colony.LunarToMicros(acc.Total),
		TickIntervalSeconds: int64(r.tickInterval.Seconds()),
		BuildCostMicros:     make(map[colony.ModuleType]int64, len(colony.ModuleTypes)),
		RecruitCostMicros:   colony.WholeLunar(colony.RecruitCost(c.Player.CrewCount, r.recruitBase, r.recruitMult)),
		NextLevelXP:         colony.RequiredXP(c.Player.Level, r.xpBase, r.xpExponent),
		Modifiers:           mods,
	}
	_, v.DailyAvailable = colony.NextStreak(c.Player.DailyStreak, c.Player.LastDailyClaimAt, now)
	for _, t := range colony.ModuleTypes {
		v.BuildCostMicros[t] = buildCost(t, colony.Common, c.Player.ModuleCount, r, mods)
	}
	for id := range c.Achievements {
		v.Achievements = append(v.Achievements, id)
	}
	sort.Strings(v.Achievements)

	for i, m := range c.Modules {
		a := acc.Modules[i]
		mv := ModuleView{
			Module:           m,
			Output:           a.Output,
			PendingTicks:     a.Ticks,
			PendingMicros:    colony.LunarToMicros(a.Earned),
			Capped:           a.Capped,
			MaxLevel:         m.Tier.MaxLevel(),
			RepairCostMicros: repairCost(m, r, mods),
			RefundMicros:     colony.WholeLunar(colony.DemolishRefund(m.Type, m.Tier, r.refundFraction)),
		}
		if m.Level < mv.MaxLevel {
			mv.UpgradeCostMicros = upgradeCost(m, r, mods)
		}
		if cm, ok := c.CrewOn(m.ID); ok {
			mv.Crew = &cm
		}
		if m.IsActive {
			v.OutputPerTick += a.Output.Output
		}
		v.Modules = append(v.Modules, mv)
	}
	return v, nil
}

// Modifiers resolves the events currently affecting playerID.
func (s *Service) Modifiers(ctx context.Context, playerID string) (events.ModifierSet, error) {
	if err := validatePlayer(playerID); err != nil {
		return events.ModifierSet{}, err
	}
	return s.modifiers(ctx, playerID, s.clock())
}

func (s *Service) Market(ctx context.Context) ([]colony.ResourcePrice, error) {
	prices, err := s.store.ResourcePrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	return prices, nil
}

// Depth quotes the synthetic book a trade would execute against right now.
func (s *Service) Depth(ctx context.Context, resource string) (market.Book, error) {
	resource = strings.ToUpper(strings.TrimSpace(resource))
	p, err := s.store.ResourcePrice(ctx, resource)
	if errors.Is(err, store.ErrNotFound) {
		return market.Book{}, ErrResourceNotFound
	}
	if err != nil {
		return market.Book{}, fmt.Errorf("load price %s: %w", resource, err)
	}
	return market.Depth(p, market.QuoteRand(p)), nil
}

func (s *Service) Ledger(ctx context.Context, playerID string, limit int) ([]colony.LedgerEntry, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.store.LedgerEntries(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return entries, nil
}
