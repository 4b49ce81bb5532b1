package game

import "math"

// XP granted per action.
const (
	xpBuild      = 25
	xpUpgrade    = 20
	xpRepair     = 5
	xpTrade      = 5
	xpRecruit    = 10
	xpDaily      = 10
	xpCollectCap = 200
)

const (
	AchievementFirstModule    = "FIRST_MODULE"
	AchievementFullColony     = "FULL_COLONY"
	AchievementFirstTrade     = "FIRST_TRADE"
	AchievementFirstCrew      = "FIRST_CREW"
	AchievementStreak7        = "STREAK_7"
	AchievementMaxLevelModule = "MAX_LEVEL_MODULE"
)

// collectXP is one point per 10 LUNAR collected, capped.
func collectXP(earnedMicros int64) int64 {
	xp := int64(math.Floor(float64(earnedMicros) / 1e6 / 10))
	if xp > xpCollectCap {
		return xpCollectCap
	}
	if xp < 0 {
		return 0
	}
	return xp
}
