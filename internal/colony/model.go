package colony

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	MicrosPerLunar = int64(1_000_000)

	// Currency is the base currency; it is never tradable against itself.
	Currency = "LUNAR"

	StarterBalanceMicros = int64(500) * MicrosPerLunar

	MaxModules    = 20
	MaxCrew       = 10
	GridWidth     = 10
	GridHeight    = 10
	MaxLevel      = 50
	MaxEfficiency = 100.0
)

var (
	ErrUnknownModuleType = errors.New("unknown module type")
	ErrUnknownTier       = errors.New("unknown tier")
	ErrOutOfGrid         = errors.New("coordinates outside colony grid")
)

type ModuleType string

const (
	SolarPanel      ModuleType = "SOLAR_PANEL"
	MiningRig       ModuleType = "MINING_RIG"
	Habitat         ModuleType = "HABITAT"
	WaterExtractor  ModuleType = "WATER_EXTRACTOR"
	OxygenGenerator ModuleType = "OXYGEN_GENERATOR"
	Greenhouse      ModuleType = "GREENHOUSE"
	ResearchLab     ModuleType = "RESEARCH_LAB"
	FusionReactor   ModuleType = "FUSION_REACTOR"
)

// ModuleTypes lists every module type in catalog order.
var ModuleTypes = []ModuleType{
	SolarPanel,
	MiningRig,
	Habitat,
	WaterExtractor,
	OxygenGenerator,
	Greenhouse,
	ResearchLab,
	FusionReactor,
}

func ParseModuleType(s string) (ModuleType, error) {
	t := ModuleType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ModuleTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModuleType, s)
}

func (t ModuleType) Valid() bool {
	_, err := ParseModuleType(string(t))
	return err == nil
}

type Tier string

const (
	Common    Tier = "COMMON"
	Uncommon  Tier = "UNCOMMON"
	Rare      Tier = "RARE"
	Epic      Tier = "EPIC"
	Legendary Tier = "LEGENDARY"
)

var Tiers = []Tier{Common, Uncommon, Rare, Epic, Legendary}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if t == "" {
		return Common, nil
	}
	if t.Index() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Index is the tier's position from COMMON (0) to LEGENDARY (4), or -1.
func (t Tier) Index() int {
	for i, known := range Tiers {
		if t == known {
			return i
		}
	}
	return -1
}

// MaxLevel is the upgrade cap for a module of this tier.
func (t Tier) MaxLevel() int {
	idx := t.Index()
	if idx < 0 {
		return 1
	}
	return 6 + idx
}

type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coordinates) Validate() error {
	if c.X < 0 || c.X >= GridWidth || c.Y < 0 || c.Y >= GridHeight {
		return fmt.Errorf("%w: (%d,%d)", ErrOutOfGrid, c.X, c.Y)
	}
	return nil
}

func LunarToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerLunar)))
}

func MicrosToLunar(v int64) float64 {
	return float64(v) / float64(MicrosPerLunar)
}

// WholeLunar converts an integer LUNAR amount to micros.
func WholeLunar(v int64) int64 {
	return v * MicrosPerLunar
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampEfficiency bounds an efficiency value to [0,100].
func ClampEfficiency(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clampFloat(v, 0, MaxEfficiency)
}
