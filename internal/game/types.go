package game

import (
	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/market"
	"colonycore/internal/production"
)

// PlayerInput is the input of actions that take no parameters beyond the
// acting player.
type PlayerInput struct {
	PlayerID       string
	IdempotencyKey string
}

type BuildModuleInput struct {
	PlayerID       string
	Type           string
	Tier           string
	X              int
	Y              int
	IdempotencyKey string
}

type ModuleInput struct {
	PlayerID       string
	ModuleID       string
	IdempotencyKey string
}

type TradeInput struct {
	PlayerID       string
	Resource       string
	Side           string
	Quantity       int64
	IdempotencyKey string
}

type AssignCrewInput struct {
	PlayerID string
	CrewID   string
	// ModuleID empty unassigns the crew member.
	ModuleID       string
	IdempotencyKey string
}

// Progress is the player state after a committed action.
type Progress struct {
	BalanceMicros int64    `json:"balance_micros"`
	Level         int      `json:"level"`
	XP            int64    `json:"xp"`
	XPGained      int64    `json:"xp_gained"`
	LeveledUp     bool     `json:"leveled_up"`
	Achievements  []string `json:"achievements_unlocked,omitempty"`
	Version       int64    `json:"version"`
}

type ModuleResult struct {
	Progress
	Module colony.Module `json:"module"`
	// CostMicros is positive for spend and negative for a refund.
	CostMicros int64 `json:"cost_micros"`
}

type CollectResult struct {
	Progress
	EarnedMicros int64                      `json:"earned_micros"`
	Modules      []production.ModuleAccrual `json:"modules"`
}

type TradeResult struct {
	Progress
	Trade   colony.Trade `json:"trade"`
	Fill    market.Fill  `json:"fill"`
	Partial bool         `json:"partial"`
	Holding int64        `json:"holding"`
}

type CrewResult struct {
	Progress
	Crew       colony.CrewMember `json:"crew"`
	CostMicros int64             `json:"cost_micros"`
}

type DailyResult struct {
	Progress
	Streak       int   `json:"streak"`
	RewardMicros int64 `json:"reward_micros"`
}

type ModuleView struct {
	colony.Module
	Crew              *colony.CrewMember   `json:"crew,omitempty"`
	Output            production.Breakdown `json:"output"`
	PendingTicks      int64                `json:"pending_ticks"`
	PendingMicros     int64                `json:"pending_micros"`
	Capped            bool                 `json:"capped"`
	MaxLevel          int                  `json:"max_level"`
	UpgradeCostMicros int64                `json:"upgrade_cost_micros,omitempty"`
	RepairCostMicros  int64                `json:"repair_cost_micros"`
	RefundMicros      int64                `json:"refund_micros"`
}

type ColonyView struct {
	Player              colony.Player               `json:"player"`
	Modules             []ModuleView                `json:"modules"`
	Crew                []colony.CrewMember         `json:"crew"`
	Holdings            map[string]int64            `json:"holdings"`
	Achievements        []string                    `json:"achievements"`
	OutputPerTick       float64                     `json:"output_per_tick"`
	PendingMicros       int64                       `json:"pending_micros"`
	TickIntervalSeconds int64                       `json:"tick_interval_seconds"`
	BuildCostMicros     map[colony.ModuleType]int64 `json:"build_cost_micros"`
	RecruitCostMicros   int64                       `json:"recruit_cost_micros"`
	NextLevelXP         int64                       `json:"next_level_xp"`
	DailyAvailable      bool                        `json:"daily_available"`
	Modifiers           events.ModifierSet          `json:"modifiers"`
}

type PriceUpdate struct {
	Resource string  `json:"resource"`
	From     float64 `json:"from"`
	To       float64 `json:"to"`
	Steps    int     `json:"steps"`
}

type MarketTickResult struct {
	Updated       []PriceUpdate `json:"updated"`
	Conflicts     int           `json:"conflicts"`
	EventsStarted []string      `json:"events_started,omitempty"`
}

type ProductionTickResult struct {
	Ticks         int64    `json:"ticks"`
	Expired       int64    `json:"expired"`
	EventsStarted []string `json:"events_started,omitempty"`
	Skipped       bool     `json:"skipped"`
}
