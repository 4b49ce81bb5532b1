// Package production turns module state, crew and event modifiers into
// per-tick output and pending earnings. It performs no I/O.
package production

import (
	"math"
	"time"

	"colonycore/internal/colony"
	"colonycore/internal/events"
)

type Params struct {
	AgingThreshold     int64
	AgingDecayPerCycle float64
	AgingMinMultiplier float64
}

func DefaultParams() Params {
	return Params{
		AgingThreshold:     30,
		AgingDecayPerCycle: 0.01,
		AgingMinMultiplier: 0.5,
	}
}

// Crew carries the bonus fields of the crew member assigned to a module.
type Crew struct {
	Specialty       colony.ModuleType
	OutputBonus     float64
	EfficiencyBonus float64
}

func CrewFrom(cm colony.CrewMember) *Crew {
	return &Crew{
		Specialty:       cm.Specialty,
		OutputBonus:     cm.OutputBonus,
		EfficiencyBonus: cm.EfficiencyBonus,
	}
}

type Input struct {
	Module    colony.Module
	Crew      *Crew
	Modifiers events.ModifierSet
}

type Breakdown struct {
	Base           float64 `json:"base"`
	CrewBonus      float64 `json:"crew_bonus"`
	AgingPenalty   float64 `json:"aging_penalty"`
	EfficiencyMult float64 `json:"efficiency_mult"`
	Raw            float64 `json:"raw"`
	EventMult      float64 `json:"event_mult"`
	Output         float64 `json:"output"`
}

// Output computes one production tick for a module. Unknown type or tier
// falls back to the row's stored base output.
func Output(in Input, p Params) Breakdown {
	m := in.Module
	perLevel, ok := colony.BlueprintBaseOutput(m.Type, m.Tier)
	if !ok {
		perLevel = m.BaseOutput
	}
	level := m.Level
	if level < 1 {
		level = 1
	}

	var b Breakdown
	base := perLevel * float64(level)
	if c := in.Crew; c != nil {
		if c.Specialty != "" && c.Specialty == m.Type {
			b.CrewBonus = base * (c.OutputBonus / 100)
			base *= 1 + c.EfficiencyBonus/100
		} else {
			b.CrewBonus = base * (c.OutputBonus / 100 * 0.5)
		}
	}
	b.Base = base

	b.AgingPenalty = (b.Base + b.CrewBonus) * (1 - DecayFactor(m.AgeInCycles, p))
	b.EfficiencyMult = colony.ClampEfficiency(m.Efficiency) / 100
	b.Raw = math.Max(0, (b.Base+b.CrewBonus-b.AgingPenalty)*b.EfficiencyMult)
	b.EventMult = in.Modifiers.ProductionMultiplier(m.Type)
	b.Output = b.Raw * b.EventMult
	return b
}

// DecayFactor is 1 up to the aging threshold, then declines linearly and
// never drops below AgingMinMultiplier.
func DecayFactor(age int64, p Params) float64 {
	if age <= p.AgingThreshold {
		return 1
	}
	return math.Max(p.AgingMinMultiplier, 1-float64(age-p.AgingThreshold)*p.AgingDecayPerCycle)
}

// TicksElapsed is floor((now-last)/interval), zero on clock skew, capped at
// maxTicks when maxTicks > 0.
func TicksElapsed(last, now time.Time, interval time.Duration, maxTicks int64) int64 {
	if interval <= 0 {
		return 0
	}
	d := now.Sub(last)
	if d <= 0 {
		return 0
	}
	n := int64(d / interval)
	if maxTicks > 0 && n > maxTicks {
		return maxTicks
	}
	return n
}

type ModuleAccrual struct {
	ModuleID string    `json:"module_id"`
	Ticks    int64     `json:"ticks"`
	Capped   bool      `json:"capped"`
	Output   Breakdown `json:"output"`
	Earned   float64   `json:"earned"`
}

type Accrual struct {
	Total   float64         `json:"total"`
	Modules []ModuleAccrual `json:"modules"`
}

// Pending sums ticksElapsed * output over the colony's active modules.
// Inactive modules are listed with zero earnings.
func Pending(c colony.Colony, mods events.ModifierSet, p Params, now time.Time, interval time.Duration, maxTicks int64) Accrual {
	var out Accrual
	for _, m := range c.Modules {
		in := Input{Module: m, Modifiers: mods}
		if cm, ok := c.CrewOn(m.ID); ok {
			in.Crew = CrewFrom(cm)
		}
		acc := ModuleAccrual{ModuleID: m.ID, Output: Output(in, p)}
		if m.IsActive {
			acc.Ticks = TicksElapsed(m.LastCollectedAt, now, interval, maxTicks)
			if maxTicks > 0 && acc.Ticks == maxTicks {
				acc.Capped = TicksElapsed(m.LastCollectedAt, now, interval, 0) > maxTicks
			}
			acc.Earned = float64(acc.Ticks) * acc.Output.Output
		}
		out.Total += acc.Earned
		out.Modules = append(out.Modules, acc)
	}
	return out
}
