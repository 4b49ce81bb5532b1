package colony

type blueprint struct {
	BuildCost int64
	Output    [5]float64
}

// Base output per tick at level 1 for each tier, COMMON first.
var blueprints = map[ModuleType]blueprint{
	SolarPanel:      {BuildCost: 100, Output: [5]float64{10, 16, 26, 42, 68}},
	MiningRig:       {BuildCost: 250, Output: [5]float64{25, 40, 64, 102, 164}},
	Habitat:         {BuildCost: 50, Output: [5]float64{5, 8, 13, 21, 34}},
	WaterExtractor:  {BuildCost: 200, Output: [5]float64{20, 32, 51, 82, 131}},
	OxygenGenerator: {BuildCost: 150, Output: [5]float64{15, 24, 38, 61, 98}},
	Greenhouse:      {BuildCost: 120, Output: [5]float64{12, 19, 31, 49, 79}},
	ResearchLab:     {BuildCost: 400, Output: [5]float64{30, 48, 77, 123, 197}},
	FusionReactor:   {BuildCost: 1000, Output: [5]float64{50, 80, 128, 205, 328}},
}

var tierCostMultiplier = [5]int64{1, 2, 4, 8, 16}

// BlueprintBaseOutput looks up the level-1 output for a type and tier.
func BlueprintBaseOutput(t ModuleType, tier Tier) (float64, bool) {
	bp, ok := blueprints[t]
	idx := tier.Index()
	if !ok || idx < 0 {
		return 0, false
	}
	return bp.Output[idx], true
}

// BuildBaseCost is the whole-LUNAR cost of the first module of a type and tier.
func BuildBaseCost(t ModuleType, tier Tier) (int64, bool) {
	bp, ok := blueprints[t]
	idx := tier.Index()
	if !ok || idx < 0 {
		return 0, false
	}
	return bp.BuildCost * tierCostMultiplier[idx], true
}

func UpgradeBaseCost(t ModuleType) (int64, bool) {
	bp, ok := blueprints[t]
	if !ok {
		return 0, false
	}
	return bp.BuildCost / 2, true
}
