package colony

import (
	"math"
	"time"
)

// Costs are whole LUNAR; callers convert with WholeLunar.

// ModuleCost is floor(baseCost * multiplier^existing). The cost of the next
// slot grows with colony size regardless of the type mix.
func ModuleCost(t ModuleType, tier Tier, existing int, multiplier float64) (int64, bool) {
	base, ok := BuildBaseCost(t, tier)
	if !ok {
		return 0, false
	}
	if existing < 0 {
		existing = 0
	}
	return int64(math.Floor(float64(base) * math.Pow(multiplier, float64(existing)))), true
}

// UpgradeCost is floor(upgradeBase * multiplier^(level-1)).
func UpgradeCost(t ModuleType, currentLevel int, multiplier float64) (int64, bool) {
	base, ok := UpgradeBaseCost(t)
	if !ok {
		return 0, false
	}
	if currentLevel < 1 {
		currentLevel = 1
	}
	return int64(math.Floor(float64(base) * math.Pow(multiplier, float64(currentLevel-1)))), true
}

func RepairCost(efficiency, ratePerPoint float64) int64 {
	damage := MaxEfficiency - ClampEfficiency(efficiency)
	return int64(math.Floor(damage * ratePerPoint))
}

func DemolishRefund(t ModuleType, tier Tier, fraction float64) int64 {
	base, ok := BuildBaseCost(t, tier)
	if !ok {
		return 0
	}
	return int64(math.Floor(float64(base) * fraction))
}

// ScaleCost applies an event multiplier to a whole-LUNAR cost.
func ScaleCost(cost int64, multiplier float64) int64 {
	if multiplier <= 0 {
		return cost
	}
	return int64(math.Floor(float64(cost) * multiplier))
}

// RecruitCost is floor(base * multiplier^crewCount).
func RecruitCost(crewCount int, base, multiplier float64) int64 {
	if crewCount < 0 {
		crewCount = 0
	}
	return int64(math.Floor(base * math.Pow(multiplier, float64(crewCount))))
}

func DailyReward(streak int, base, multiplier float64, maxStreak int) int64 {
	if streak > maxStreak {
		streak = maxStreak
	}
	if streak < 0 {
		streak = 0
	}
	return int64(math.Floor(base * math.Pow(multiplier, float64(streak))))
}

// NextStreak decides the streak after a claim at now. ok is false when the
// player already claimed on the same UTC calendar day.
func NextStreak(current int, last *time.Time, now time.Time) (streak int, ok bool) {
	if last == nil {
		return 1, true
	}
	days := calendarDaysBetween(*last, now)
	switch {
	case days <= 0:
		return current, false
	case days == 1:
		return current + 1, true
	default:
		return 1, true
	}
}

func calendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func RequiredXP(level int, base, exponent float64) int64 {
	if level < 1 {
		level = 1
	}
	return int64(math.Floor(base * math.Pow(float64(level), exponent)))
}

// GrantXP adds gain and carries over level-ups until the remaining XP no
// longer covers the next level or MaxLevel is reached.
func GrantXP(level int, xp, gain int64, base, exponent float64) (int, int64) {
	if level < 1 {
		level = 1
	}
	xp += gain
	for level < MaxLevel {
		need := RequiredXP(level, base, exponent)
		if need <= 0 || xp < need {
			break
		}
		xp -= need
		level++
	}
	return level, xp
}
