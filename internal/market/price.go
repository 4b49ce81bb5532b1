// Package market simulates commodity prices as a bounded, mean-reverting
// stochastic process and executes trades against synthetic depth.
package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"colonycore/internal/colony"
)

// PricePlaces is the decimal precision every price is rounded to.
const PricePlaces = 4

// Rand is the injectable uniform source; *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type Params struct {
	WalkWeight         float64
	DemandWeight       float64
	SeasonalWeight     float64
	DemandSensitivity  float64
	SeasonalFactor     float64
	PhaseStep          float64
	ReversionThreshold float64
	ReversionRate      float64
	VolatilityMult     float64
	FlowDecay          float64
}

func DefaultParams() Params {
	return Params{
		WalkWeight:         0.7,
		DemandWeight:       0.2,
		SeasonalWeight:     0.1,
		DemandSensitivity:  0.05,
		SeasonalFactor:     0.02,
		PhaseStep:          0.0654,
		ReversionThreshold: 0.3,
		ReversionRate:      0.02,
		VolatilityMult:     1.0,
		FlowDecay:          0.9,
	}
}

// Gaussian draws a standard normal sample with the Box–Muller transform.
func Gaussian(r Rand) float64 {
	u1 := 1 - r.Float64() // (0,1], keeps the log finite
	u2 := r.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

type Delta struct {
	Walk      float64 `json:"walk"`
	Demand    float64 `json:"demand"`
	Seasonal  float64 `json:"seasonal"`
	Reversion float64 `json:"reversion"`
	Total     float64 `json:"total"`
}

func delta(p colony.ResourcePrice, gaussian float64, params Params) Delta {
	var d Delta
	d.Walk = gaussian * p.Volatility * params.VolatilityMult
	if flow := p.Demand + p.Supply; flow > 0 {
		d.Demand = (p.Demand - p.Supply) / flow * params.DemandSensitivity
	}
	d.Seasonal = math.Sin(p.SeasonalPhase) * params.SeasonalFactor
	if p.BasePrice > 0 {
		dev := (p.CurrentPrice - p.BasePrice) / p.BasePrice
		if math.Abs(dev) > params.ReversionThreshold {
			d.Reversion = -dev * params.ReversionRate
		}
	}
	d.Total = params.WalkWeight*d.Walk + params.DemandWeight*d.Demand + params.SeasonalWeight*d.Seasonal + d.Reversion
	return d
}

// Step advances a price by one tick. The result is clamped into
// [MinPrice, MaxPrice] and rounded to PricePlaces.
func Step(p colony.ResourcePrice, r Rand, params Params) colony.ResourcePrice {
	d := delta(p, Gaussian(r), params)
	p.CurrentPrice = Bound(p.CurrentPrice*(1+d.Total), p.MinPrice, p.MaxPrice)
	p.SeasonalPhase = math.Mod(p.SeasonalPhase+params.PhaseStep, 2*math.Pi)
	return p
}

// Advance applies one Step per whole interval elapsed since LastTickAt, at
// most maxSteps, and moves LastTickAt forward by whole intervals only. A
// zero LastTickAt initialises the cursor without stepping.
func Advance(p colony.ResourcePrice, now time.Time, interval time.Duration, maxSteps int, r Rand, params Params) (colony.ResourcePrice, int) {
	if interval <= 0 {
		return p, 0
	}
	if p.LastTickAt.IsZero() {
		p.LastTickAt = now.UTC()
		return p, 0
	}
	elapsed := now.Sub(p.LastTickAt)
	if elapsed < interval {
		return p, 0
	}
	due := int(elapsed / interval)
	steps := due
	if maxSteps > 0 && steps > maxSteps {
		steps = maxSteps
	}
	for i := 0; i < steps; i++ {
		p = Step(p, r, params)
	}
	p.LastTickAt = p.LastTickAt.Add(time.Duration(due) * interval)
	return p, steps
}

// AbsorbFlow folds traded volume since the last tick into the slow
// supply/demand signal.
func AbsorbFlow(p colony.ResourcePrice, bought, sold int64, params Params) colony.ResourcePrice {
	p.Demand = p.Demand*params.FlowDecay + float64(bought)
	p.Supply = p.Supply*params.FlowDecay + float64(sold)
	return p
}

// Round rounds a price half away from zero to PricePlaces.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(PricePlaces).InexactFloat64()
}

// Bound clamps v into [lo,hi] and rounds, keeping the rounded value inside
// the rails.
func Bound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = lo
	}
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	out := Round(v)
	if out > hi {
		out = decimal.NewFromFloat(hi).RoundFloor(PricePlaces).InexactFloat64()
	}
	if out < lo {
		out = decimal.NewFromFloat(lo).RoundCeil(PricePlaces).InexactFloat64()
	}
	return out
}

type resourceSeed struct {
	Resource   string
	BasePrice  float64
	Volatility float64
}

var defaultResources = []resourceSeed{
	{"ENERGY", 12, 0.020},
	{"ORE", 25, 0.025},
	{"WATER", 8, 0.015},
	{"OXYGEN", 15, 0.020},
	{"HELIUM3", 120, 0.040},
	{"REGOLITH", 3, 0.030},
}

// DefaultResources is the seed market: prices start at base with rails at
// 0.3x and 3x.
func DefaultResources(now time.Time) []colony.ResourcePrice {
	out := make([]colony.ResourcePrice, 0, len(defaultResources))
	for _, s := range defaultResources {
		out = append(out, colony.ResourcePrice{
			Resource:     s.Resource,
			CurrentPrice: s.BasePrice,
			BasePrice:    s.BasePrice,
			Volatility:   s.Volatility,
			MinPrice:     Round(s.BasePrice * 0.3),
			MaxPrice:     Round(s.BasePrice * 3),
			LastTickAt:   now.UTC(),
			Version:      1,
		})
	}
	return out
}
