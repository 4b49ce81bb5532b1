package market

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"colonycore/internal/colony"
)

const (
	DepthLevels = 8
	halfSpread  = 0.005
	levelStep   = 0.0025
)

var (
	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrBaseCurrency    = errors.New("cannot trade the base currency")
	ErrUnknownResource = errors.New("resource not found")
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrNoLiquidity     = errors.New("no liquidity on requested side")
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", ErrInvalidSide
	}
}

type Level struct {
	Price      float64 `json:"price"`
	Quantity   int64   `json:"quantity"`
	Cumulative int64   `json:"cumulative"`
}

type Book struct {
	Resource  string  `json:"resource"`
	Mid       float64 `json:"mid"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	SpreadPct float64 `json:"spread_pct"`
}

func (b Book) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

func (b Book) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

func depthUnit(base float64) int64 {
	if base <= 0 {
		return 10
	}
	u := int64(math.Round(2000 / base))
	if u < 10 {
		return 10
	}
	return u
}

// Depth generates the synthetic book around the current price. Bids are
// floored and asks ceiled to PricePlaces so the spread never closes. Near a
// rail the ladder on that side is compressed to fit between the price and
// the rail; levels are dropped only when fewer price steps than levels
// remain.
func Depth(p colony.ResourcePrice, r Rand) Book {
	b := Book{Resource: p.Resource, Mid: p.CurrentPrice}
	unit := depthUnit(p.BasePrice)

	// Quantities are drawn up front, bids first, so a dropped level does
	// not shift the jitter of the levels after it.
	bidQty := make([]int64, DepthLevels)
	askQty := make([]int64, DepthLevels)
	for i := 0; i < DepthLevels; i++ {
		bidQty[i] = levelQuantity(unit, i, r)
	}
	for i := 0; i < DepthLevels; i++ {
		askQty[i] = levelQuantity(unit, i, r)
	}

	var cum int64
	for i, t := range bidTicks(p) {
		if t < 0 {
			continue
		}
		cum += bidQty[i]
		b.Bids = append(b.Bids, Level{Price: fromTicks(t), Quantity: bidQty[i], Cumulative: cum})
	}
	cum = 0
	for i, t := range askTicks(p) {
		if t < 0 {
			continue
		}
		cum += askQty[i]
		b.Asks = append(b.Asks, Level{Price: fromTicks(t), Quantity: askQty[i], Cumulative: cum})
	}

	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && p.CurrentPrice > 0 {
		b.SpreadPct = (ask.Price - bid.Price) / p.CurrentPrice * 100
	}
	return b
}

// outerOffset is the distance of the last level from the price as a
// fraction of it.
const outerOffset = halfSpread + (DepthLevels-1)*levelStep

// ladderScale shrinks the level offsets so the outermost one lands on the
// rail when room (as a fraction of the price) is tighter than outerOffset.
func ladderScale(room float64) float64 {
	if room >= outerOffset {
		return 1
	}
	if room <= 0 {
		return 0
	}
	return room / outerOffset
}

// askTicks returns the ask price of each level in 10^-PricePlaces units,
// strictly ascending above the price and no higher than MaxPrice. A level
// with no room left is -1.
func askTicks(p colony.ResourcePrice) []int64 {
	out := make([]int64, DepthLevels)
	if p.CurrentPrice <= 0 {
		for i := range out {
			out[i] = -1
		}
		return out
	}
	prev := toTicks(p.CurrentPrice).Floor().IntPart()
	hi := toTicks(p.MaxPrice).Floor().IntPart()
	scale := ladderScale((p.MaxPrice - p.CurrentPrice) / p.CurrentPrice)
	for i := 0; i < DepthLevels; i++ {
		off := (halfSpread + float64(i)*levelStep) * scale
		t := toTicks(p.CurrentPrice * (1 + off)).Ceil().IntPart()
		t = max(t, prev+1)
		// leave one step for every level still to come
		t = min(t, hi-int64(DepthLevels-1-i))
		if t <= prev {
			out[i] = -1
			continue
		}
		out[i] = t
		prev = t
	}
	return out
}

// bidTicks mirrors askTicks below the price, no lower than MinPrice.
func bidTicks(p colony.ResourcePrice) []int64 {
	out := make([]int64, DepthLevels)
	if p.CurrentPrice <= 0 {
		for i := range out {
			out[i] = -1
		}
		return out
	}
	prev := toTicks(p.CurrentPrice).Ceil().IntPart()
	lo := toTicks(p.MinPrice).Ceil().IntPart()
	if lo < 1 {
		lo = 1
	}
	scale := ladderScale((p.CurrentPrice - p.MinPrice) / p.CurrentPrice)
	for i := 0; i < DepthLevels; i++ {
		off := (halfSpread + float64(i)*levelStep) * scale
		t := toTicks(p.CurrentPrice * (1 - off)).Floor().IntPart()
		t = min(t, prev-1)
		t = max(t, lo+int64(DepthLevels-1-i))
		if t >= prev {
			out[i] = -1
			continue
		}
		out[i] = t
		prev = t
	}
	return out
}

// toTicks snaps float noise below 10^-(PricePlaces+4) before the caller
// floors or ceils.
func toTicks(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(PricePlaces + 4).Shift(PricePlaces)
}

func fromTicks(t int64) float64 {
	return decimal.New(t, -PricePlaces).InexactFloat64()
}

// QuoteRand is the jitter source for a price snapshot. The same
// (resource, version) always yields the same book, so a quoted book and
// the one a trade executes against agree until the next tick.
func QuoteRand(p colony.ResourcePrice) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(p.Resource))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(p.Version, 10)))
	return rand.New(rand.NewSource(int64(h.Sum64() >> 1)))
}

// levelQuantity grows with distance from the mid and carries ±25% jitter.
func levelQuantity(unit int64, i int, r Rand) int64 {
	q := float64(unit) * (1 + float64(i)/2) * (0.75 + 0.5*r.Float64())
	if q < 1 {
		return 1
	}
	return int64(q)
}

type Fill struct {
	Side        Side    `json:"side"`
	Requested   int64   `json:"requested"`
	Filled      int64   `json:"filled"`
	AvgPrice    float64 `json:"avg_price"`
	Notional    float64 `json:"notional"`
	QuotedPrice float64 `json:"quoted_price"`
	SlippagePct float64 `json:"slippage_pct"`
	Levels      int     `json:"levels"`
}

func (f Fill) Partial() bool {
	return f.Filled < f.Requested
}

// Execute walks the asks (buy) or bids (sell) until qty is filled or the
// book is exhausted.
func Execute(b Book, side Side, qty int64) (Fill, error) {
	if qty <= 0 {
		return Fill{}, ErrInvalidQuantity
	}
	var levels []Level
	switch side {
	case Buy:
		levels = b.Asks
	case Sell:
		levels = b.Bids
	default:
		return Fill{}, ErrInvalidSide
	}

	f := Fill{Side: side, Requested: qty, QuotedPrice: b.Mid}
	remaining := qty
	for _, lvl := range levels {
		if remaining == 0 {
			break
		}
		take := lvl.Quantity
		if take > remaining {
			take = remaining
		}
		f.Notional += float64(take) * lvl.Price
		f.Filled += take
		f.Levels++
		remaining -= take
	}
	if f.Filled == 0 {
		return Fill{}, ErrNoLiquidity
	}
	f.AvgPrice = f.Notional / float64(f.Filled)
	if b.Mid > 0 {
		f.SlippagePct = (f.AvgPrice - b.Mid) / b.Mid * 100
	}
	return f, nil
}

// ValidateTrade rejects currency-for-currency trades, non-positive
// quantities and unknown resources.
func ValidateTrade(resource string, qty int64, known func(string) bool) error {
	resource = strings.ToUpper(strings.TrimSpace(resource))
	if resource == colony.Currency {
		return ErrBaseCurrency
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if resource == "" || (known != nil && !known(resource)) {
		return fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	return nil
}
