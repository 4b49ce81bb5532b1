// Package events resolves time-boxed event modifiers for a player and holds
// the catalog of event definitions the world can start.
package events

import (
	"sort"
	"strings"
	"time"

	"colonycore/internal/colony"
)

// Modifier keys. The set is closed: catalog loading rejects anything else.
const (
	GlobalProduction    = "GLOBAL_PRODUCTION"
	GlobalBuildCost     = "GLOBAL_BUILD_COST"
	UpgradeCost         = "UPGRADE_COST"
	RepairCost          = "REPAIR_COST"
	SellPriceMultiplier = "SELL_PRICE_MULTIPLIER"
	BuyPriceMultiplier  = "BUY_PRICE_MULTIPLIER"
	MarketVolatility    = "MARKET_VOLATILITY"
	DailyReward         = "DAILY_REWARD"

	outputSuffix = "_OUTPUT"
)

var staticKeys = map[string]bool{
	GlobalProduction:    true,
	GlobalBuildCost:     true,
	UpgradeCost:         true,
	RepairCost:          true,
	SellPriceMultiplier: true,
	BuyPriceMultiplier:  true,
	MarketVolatility:    true,
	DailyReward:         true,
}

// OutputKey is the per-type production modifier key, e.g. SOLAR_PANEL_OUTPUT.
func OutputKey(t colony.ModuleType) string {
	return string(t) + outputSuffix
}

func ValidKey(key string) bool {
	if staticKeys[key] {
		return true
	}
	if !strings.HasSuffix(key, outputSuffix) {
		return false
	}
	return colony.ModuleType(strings.TrimSuffix(key, outputSuffix)).Valid()
}

// Keys lists the full closed key set in stable order.
func Keys() []string {
	out := make([]string, 0, len(staticKeys)+len(colony.ModuleTypes))
	for k := range staticKeys {
		out = append(out, k)
	}
	for _, t := range colony.ModuleTypes {
		out = append(out, OutputKey(t))
	}
	sort.Strings(out)
	return out
}

// ModifierSet is the product of every qualifying event's multipliers. A
// missing key reads as 1.0, so the zero value is the identity set.
type ModifierSet struct {
	Values           map[string]float64 `json:"values"`
	ActiveCount      int                `json:"active_count"`
	ActiveEventNames []string           `json:"active_event_names"`
}

func Identity() ModifierSet {
	return ModifierSet{Values: map[string]float64{}}
}

func (m ModifierSet) Get(key string) float64 {
	if v, ok := m.Values[key]; ok {
		return v
	}
	return 1.0
}

// Apply multiplies every pair of an event's modifier map into the set.
func (m *ModifierSet) Apply(name string, modifiers map[string]float64) {
	if m.Values == nil {
		m.Values = map[string]float64{}
	}
	for key, mult := range modifiers {
		m.Values[key] = m.Get(key) * mult
	}
	m.ActiveCount++
	m.ActiveEventNames = append(m.ActiveEventNames, name)
}

// ProductionMultiplier is GLOBAL_PRODUCTION * <TYPE>_OUTPUT.
func (m ModifierSet) ProductionMultiplier(t colony.ModuleType) float64 {
	return m.Get(GlobalProduction) * m.Get(OutputKey(t))
}

// Resolve combines all active events that affect playerID at now.
// Pass an empty playerID to resolve global events only.
func Resolve(playerID string, active []colony.ActiveEvent, now time.Time) ModifierSet {
	set := Identity()
	for _, ev := range active {
		if !ev.Affects(playerID, now) {
			continue
		}
		set.Apply(ev.Name, ev.Modifiers)
	}
	return set
}
