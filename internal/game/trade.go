package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/market"
	"colonycore/internal/store"
)

// ExecuteTrade fills a market order against the synthetic depth of the
// current price snapshot. The commit is pinned to the snapshot's version, so
// a fill never lands against a price that ticked after it was read.
func (s *Service) ExecuteTrade(ctx context.Context, in TradeInput) (TradeResult, error) {
	side, err := market.ParseSide(in.Side)
	if err != nil {
		return TradeResult{}, invalidFrom(err)
	}
	resource := strings.ToUpper(strings.TrimSpace(in.Resource))
	if err := market.ValidateTrade(resource, in.Quantity, nil); err != nil {
		return TradeResult{}, tradeError(err)
	}

	r, err := s.rules(ctx)
	if err != nil {
		return TradeResult{}, err
	}
	price, err := s.store.ResourcePrice(ctx, resource)
	if errors.Is(err, store.ErrNotFound) {
		return TradeResult{}, fmt.Errorf("%w: %s", ErrResourceNotFound, resource)
	}
	if err != nil {
		return TradeResult{}, fmt.Errorf("load price %s: %w", resource, err)
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return TradeResult{}, err
	}
	held := c.Holding(resource)
	if side == market.Sell && held < in.Quantity {
		return TradeResult{}, fmt.Errorf("%w: need %d %s, have %d", ErrInsufficientHolding, in.Quantity, resource, held)
	}

	now := s.clock()
	mods, err := s.modifiers(ctx, in.PlayerID, now)
	if err != nil {
		return TradeResult{}, err
	}
	fill, err := market.Execute(market.Depth(price, market.QuoteRand(price)), side, in.Quantity)
	if err != nil {
		return TradeResult{}, tradeError(err)
	}

	notional := decimal.NewFromFloat(fill.Notional).Mul(decimal.NewFromInt(colony.MicrosPerLunar))
	var total int64
	if side == market.Buy {
		total = notional.Mul(decimal.NewFromFloat(mods.Get(events.BuyPriceMultiplier))).Ceil().IntPart()
		if c.Player.BalanceMicros < total {
			return TradeResult{}, shortOf(ErrInsufficientFunds, total, c.Player.BalanceMicros)
		}
		held += fill.Filled
	} else {
		total = notional.Mul(decimal.NewFromFloat(mods.Get(events.SellPriceMultiplier))).Floor().IntPart()
		held -= fill.Filled
	}

	trade := colony.Trade{
		ID:           uuid.NewString(),
		PlayerID:     c.Player.ID,
		Resource:     resource,
		Side:         string(side),
		RequestedQty: in.Quantity,
		FilledQty:    fill.Filled,
		AvgPrice:     market.Round(colony.MicrosToLunar(total) / float64(fill.Filled)),
		TotalMicros:  total,
		SlippagePct:  fill.SlippagePct,
		CreatedAt:    now,
	}

	ch := newChange(c, "trade", in.IdempotencyKey, now, r)
	meta := map[string]any{"trade_id": trade.ID, "resource": resource, "side": side, "qty": fill.Filled}
	if side == market.Buy {
		ch.post(accountMarket, -total, meta)
	} else {
		ch.post(accountMarket, total, meta)
	}
	ch.m.Holdings = map[string]int64{resource: held}
	ch.m.Trade = &trade
	ch.m.PriceGuard = &store.PriceGuard{Resource: resource, Version: price.Version}
	ch.grantXP(xpTrade)
	ch.unlock(AchievementFirstTrade)

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return TradeResult{}, err
	}
	return TradeResult{Progress: prog, Trade: trade, Fill: fill, Partial: fill.Partial(), Holding: held}, nil
}

func tradeError(err error) error {
	switch {
	case errors.Is(err, market.ErrInvalidQuantity):
		return ErrInvalidQuantity
	case errors.Is(err, market.ErrBaseCurrency):
		return ErrInvalidResource
	case errors.Is(err, market.ErrUnknownResource):
		return ErrResourceNotFound
	case errors.Is(err, market.ErrNoLiquidity):
		return ErrNoLiquidity
	default:
		return invalidFrom(err)
	}
}
