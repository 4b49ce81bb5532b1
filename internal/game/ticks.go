package game

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/market"
	"colonycore/internal/production"
	"colonycore/internal/store"
)

const marketTickParallelism = 4

// RunMarketTick advances every resource price by the whole market intervals
// elapsed since its last tick. Each resource is advanced independently and
// written with a compare-and-swap on its version; a resource another runner
// already advanced is skipped. Calling it again with the same now is a no-op.
func (s *Service) RunMarketTick(ctx context.Context, now time.Time) (MarketTickResult, error) {
	now = now.UTC().Truncate(time.Microsecond)
	r, err := s.rules(ctx)
	if err != nil {
		return MarketTickResult{}, err
	}

	var result MarketTickResult
	started, err := s.rollMarketEvents(ctx, now, r)
	if err != nil {
		return MarketTickResult{}, err
	}
	result.EventsStarted = started

	mods, err := s.modifiers(ctx, "", now)
	if err != nil {
		return MarketTickResult{}, err
	}
	params := s.market
	params.VolatilityMult *= mods.Get(events.MarketVolatility)

	prices, err := s.store.ResourcePrices(ctx)
	if err != nil {
		return MarketTickResult{}, fmt.Errorf("load prices: %w", err)
	}
	seeds := make([]int64, len(prices))
	for i := range prices {
		seeds[i] = s.nextSeed()
	}

	updates := make([]*PriceUpdate, len(prices))
	conflicts := make([]bool, len(prices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(marketTickParallelism)
	for i, p := range prices {
		g.Go(func() error {
			next, steps, err := s.advancePrice(gctx, p, now, r, params, seeds[i])
			if err != nil {
				return err
			}
			if next.LastTickAt.Equal(p.LastTickAt) {
				return nil
			}
			err = s.store.UpdateResourcePrice(gctx, next, p.Version)
			if errors.Is(err, store.ErrVersionConflict) {
				s.log.Info("price already advanced", "resource", p.Resource, "version", p.Version)
				conflicts[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("update price %s: %w", p.Resource, err)
			}
			updates[i] = &PriceUpdate{Resource: p.Resource, From: p.CurrentPrice, To: next.CurrentPrice, Steps: steps}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("market tick failed", "err", err)
		return MarketTickResult{}, err
	}

	for i := range prices {
		if updates[i] != nil {
			result.Updated = append(result.Updated, *updates[i])
		}
		if conflicts[i] {
			result.Conflicts++
		}
	}
	return result, nil
}

// advancePrice folds the trade flow of the elapsed intervals into the
// supply/demand signal, then steps the price once per interval.
func (s *Service) advancePrice(ctx context.Context, p colony.ResourcePrice, now time.Time, r rules, params market.Params, seed int64) (colony.ResourcePrice, int, error) {
	rng := mathrand.New(mathrand.NewSource(seed))
	if p.LastTickAt.IsZero() {
		next, steps := market.Advance(p, now, r.marketInterval, r.maxMarketSteps, rng, params)
		return next, steps, nil
	}
	due := production.TicksElapsed(p.LastTickAt, now, r.marketInterval, 0)
	if due == 0 {
		return p, 0, nil
	}
	until := p.LastTickAt.Add(time.Duration(due) * r.marketInterval)
	bought, sold, err := s.store.TradeVolume(ctx, p.Resource, p.LastTickAt, until)
	if err != nil {
		return p, 0, fmt.Errorf("trade volume %s: %w", p.Resource, err)
	}
	next := market.AbsorbFlow(p, bought, sold, params)
	next, steps := market.Advance(next, now, r.marketInterval, r.maxMarketSteps, rng, params)
	return next, steps, nil
}

// rollMarketEvents draws market-context RANDOM events once per elapsed
// market interval, guarded by the market cursor.
func (s *Service) rollMarketEvents(ctx context.Context, now time.Time, r rules) ([]string, error) {
	last, due, ok, err := s.claimCursor(ctx, store.CursorMarket, now, r.marketInterval)
	if err != nil || !ok {
		return nil, err
	}
	rolls := capTicks(due, int64(r.maxMarketSteps))
	return s.startRandom(ctx, events.ContextMarket, last, due, rolls, r.marketInterval, now)
}

// RunProductionTick expires ended events, starts the SCHEDULED events whose
// boundaries fell inside the elapsed window and rolls global production
// events once per elapsed tick. The window is claimed with a
// compare-and-swap on the production cursor, so concurrent or duplicate
// invocations never start the same window twice. Player earnings accrue
// from elapsed time and are credited on collect.
func (s *Service) RunProductionTick(ctx context.Context, now time.Time) (ProductionTickResult, error) {
	now = now.UTC().Truncate(time.Microsecond)
	r, err := s.rules(ctx)
	if err != nil {
		return ProductionTickResult{}, err
	}

	var result ProductionTickResult
	expired, err := s.store.ExpireEvents(ctx, now)
	if err != nil {
		return ProductionTickResult{}, fmt.Errorf("expire events: %w", err)
	}
	result.Expired = expired

	last, due, ok, err := s.claimCursor(ctx, store.CursorProduction, now, r.tickInterval)
	if err != nil {
		return ProductionTickResult{}, err
	}
	if !ok {
		result.Skipped = true
		return result, nil
	}
	result.Ticks = due
	to := last.Add(time.Duration(due) * r.tickInterval)

	active, err := s.activeDefinitions(ctx, now)
	if err != nil {
		return ProductionTickResult{}, err
	}
	for _, st := range s.catalog.DueScheduled(last, to) {
		ev := st.Definition.Instantiate(st.Start, nil)
		if ev.EndTime.Before(now) || active[ev.DefinitionID] {
			continue
		}
		if err := s.store.InsertEvent(ctx, ev); err != nil {
			return ProductionTickResult{}, err
		}
		active[ev.DefinitionID] = true
		result.EventsStarted = append(result.EventsStarted, ev.DefinitionID)
		s.log.Info("scheduled event started", "event", ev.DefinitionID, "start", ev.StartTime, "end", ev.EndTime)
	}

	started, err := s.startRandom(ctx, events.ContextProduction, last, due, capTicks(due, r.maxAccrualTicks), r.tickInterval, now)
	if err != nil {
		return ProductionTickResult{}, err
	}
	result.EventsStarted = append(result.EventsStarted, started...)
	return result, nil
}

// claimCursor moves the named cursor forward by whole intervals. ok is false
// when nothing is due, when the cursor was just initialised, or when another
// runner claimed the window first.
func (s *Service) claimCursor(ctx context.Context, name string, now time.Time, interval time.Duration) (last time.Time, due int64, ok bool, err error) {
	last, found, err := s.store.TickCursor(ctx, name)
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("read %s cursor: %w", name, err)
	}
	if !found {
		err := s.store.AdvanceTickCursor(ctx, name, time.Time{}, now)
		if err != nil && !errors.Is(err, store.ErrVersionConflict) {
			return time.Time{}, 0, false, fmt.Errorf("init %s cursor: %w", name, err)
		}
		return now, 0, false, nil
	}
	due = production.TicksElapsed(last, now, interval, 0)
	if due == 0 {
		return last, 0, false, nil
	}
	to := last.Add(time.Duration(due) * interval)
	err = s.store.AdvanceTickCursor(ctx, name, last, to)
	if errors.Is(err, store.ErrVersionConflict) {
		s.log.Info("tick window already claimed", "cursor", name, "from", last)
		return last, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("advance %s cursor: %w", name, err)
	}
	return last, due, true, nil
}

// startRandom rolls global RANDOM events of triggerContext at the last
// `rolls` tick boundaries of the window (last, last+due*interval]. An event
// that would already have ended, or whose definition is still active, is
// not started.
func (s *Service) startRandom(ctx context.Context, triggerContext string, last time.Time, due, rolls int64, interval time.Duration, now time.Time) ([]string, error) {
	if rolls <= 0 {
		return nil, nil
	}
	active, err := s.activeDefinitions(ctx, now)
	if err != nil {
		return nil, err
	}
	var started []string
	for k := due - rolls + 1; k <= due; k++ {
		start := last.Add(time.Duration(k) * interval)
		for _, def := range s.catalog.Roll(triggerContext, randFunc(s.nextFloat)) {
			if !def.Global || active[def.ID] {
				continue
			}
			ev := def.Instantiate(start, nil)
			if ev.EndTime.Before(now) {
				continue
			}
			if err := s.store.InsertEvent(ctx, ev); err != nil {
				return started, err
			}
			active[def.ID] = true
			started = append(started, def.ID)
			s.log.Info("random event started", "event", def.ID, "context", triggerContext, "start", ev.StartTime)
		}
	}
	return started, nil
}

func (s *Service) activeDefinitions(ctx context.Context, now time.Time) (map[string]bool, error) {
	evs, err := s.store.ActiveEvents(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load active events: %w", err)
	}
	out := make(map[string]bool, len(evs))
	for _, ev := range evs {
		if ev.IsGlobal {
			out[ev.DefinitionID] = true
		}
	}
	return out, nil
}

// RollPlayerEvents draws the player-targeted RANDOM events bound to a
// player-facing context such as opening the shop or viewing the colony.
func (s *Service) RollPlayerEvents(ctx context.Context, playerID, triggerContext string) ([]colony.ActiveEvent, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	if triggerContext != events.ContextColonyView && triggerContext != events.ContextShopOpen {
		return nil, invalid("unknown player trigger context %q", triggerContext)
	}
	now := s.clock()
	evs, err := s.store.ActiveEvents(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load active events: %w", err)
	}
	running := map[string]bool{}
	for _, ev := range evs {
		if ev.Affects(playerID, now) {
			running[ev.DefinitionID] = true
		}
	}

	var started []colony.ActiveEvent
	for _, def := range s.catalog.Roll(triggerContext, randFunc(s.nextFloat)) {
		if running[def.ID] {
			continue
		}
		ev := def.Instantiate(now, []string{playerID})
		if err := s.store.InsertEvent(ctx, ev); err != nil {
			return started, fmt.Errorf("start event %s: %w", def.ID, err)
		}
		running[def.ID] = true
		started = append(started, ev)
		s.log.Info("player event started", "event", def.ID, "player_id", playerID, "context", triggerContext)
	}
	return started, nil
}

func capTicks(due, limit int64) int64 {
	if limit > 0 && due > limit {
		return limit
	}
	return due
}
