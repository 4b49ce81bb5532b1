package colony

import "time"

type Module struct {
	ID              string      `json:"id"`
	PlayerID        string      `json:"player_id"`
	Type            ModuleType  `json:"type"`
	Tier            Tier        `json:"tier"`
	Level           int         `json:"level"`
	BaseOutput      float64     `json:"base_output"`
	BonusOutput     float64     `json:"bonus_output"`
	Efficiency      float64     `json:"efficiency"`
	AgeInCycles     int64       `json:"age_in_cycles"`
	IsActive        bool        `json:"is_active"`
	Coordinates     Coordinates `json:"coordinates"`
	LastCollectedAt time.Time   `json:"last_collected_at"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	DeletedAt       *time.Time  `json:"deleted_at,omitempty"`
}

type Player struct {
	ID               string     `json:"id"`
	BalanceMicros    int64      `json:"balance_micros"`
	Level            int        `json:"level"`
	XP               int64      `json:"xp"`
	ModuleCount      int        `json:"module_count"`
	CrewCount        int        `json:"crew_count"`
	DailyStreak      int        `json:"daily_streak"`
	LastDailyClaimAt *time.Time `json:"last_daily_claim_at,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CrewMember is bound to at most one module; an empty AssignedModuleID
// means unassigned and an empty Specialty means no specialty.
type CrewMember struct {
	ID               string     `json:"id"`
	PlayerID         string     `json:"player_id"`
	Name             string     `json:"name"`
	Specialty        ModuleType `json:"specialty,omitempty"`
	OutputBonus      float64    `json:"output_bonus"`
	EfficiencyBonus  float64    `json:"efficiency_bonus"`
	AssignedModuleID string     `json:"assigned_module_id,omitempty"`
	HiredAt          time.Time  `json:"hired_at"`
}

type ResourcePrice struct {
	Resource      string    `json:"resource"`
	CurrentPrice  float64   `json:"current_price"`
	BasePrice     float64   `json:"base_price"`
	Volatility    float64   `json:"volatility"`
	MinPrice      float64   `json:"min_price"`
	MaxPrice      float64   `json:"max_price"`
	SeasonalPhase float64   `json:"seasonal_phase"`
	Supply        float64   `json:"supply"`
	Demand        float64   `json:"demand"`
	LastTickAt    time.Time `json:"last_tick_at"`
	Version       int64     `json:"version"`
}

type EventCategory string

const (
	EventScheduled EventCategory = "SCHEDULED"
	EventRandom    EventCategory = "RANDOM"
	EventTriggered EventCategory = "TRIGGERED"
)

type EventStatus string

const (
	EventActive  EventStatus = "ACTIVE"
	EventExpired EventStatus = "EXPIRED"
)

type ActiveEvent struct {
	ID              string             `json:"id"`
	DefinitionID    string             `json:"definition_id"`
	Name            string             `json:"name"`
	Type            EventCategory      `json:"type"`
	Modifiers       map[string]float64 `json:"modifiers"`
	IsGlobal        bool               `json:"is_global"`
	TargetPlayerIDs []string           `json:"target_player_ids,omitempty"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
	Status          EventStatus        `json:"status"`
}

// Affects reports whether the event applies to playerID at now.
func (e ActiveEvent) Affects(playerID string, now time.Time) bool {
	if e.Status != EventActive {
		return false
	}
	if now.Before(e.StartTime) || now.After(e.EndTime) {
		return false
	}
	if e.IsGlobal {
		return true
	}
	for _, id := range e.TargetPlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

type LedgerEntry struct {
	TxGroupID   string         `json:"tx_group_id"`
	PlayerID    string         `json:"player_id"`
	Account     string         `json:"account"`
	DeltaMicros int64          `json:"delta_micros"`
	Action      string         `json:"action"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Trade struct {
	ID           string    `json:"id"`
	PlayerID     string    `json:"player_id"`
	Resource     string    `json:"resource"`
	Side         string    `json:"side"`
	RequestedQty int64     `json:"requested_qty"`
	FilledQty    int64     `json:"filled_qty"`
	AvgPrice     float64   `json:"avg_price"`
	TotalMicros  int64     `json:"total_micros"`
	SlippagePct  float64   `json:"slippage_pct"`
	CreatedAt    time.Time `json:"created_at"`
}

// Colony is a consistent snapshot of everything a player owns, read with
// the player's version for optimistic commits.
type Colony struct {
	Player       Player           `json:"player"`
	Modules      []Module         `json:"modules"`
	Crew         []CrewMember     `json:"crew"`
	Holdings     map[string]int64 `json:"holdings"`
	Achievements map[string]bool  `json:"achievements"`
}

func (c Colony) Module(id string) (Module, bool) {
	for _, m := range c.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}

func (c Colony) CrewMember(id string) (CrewMember, bool) {
	for _, cm := range c.Crew {
		if cm.ID == id {
			return cm, true
		}
	}
	return CrewMember{}, false
}

// CrewOn returns the crew member assigned to moduleID, if any.
func (c Colony) CrewOn(moduleID string) (CrewMember, bool) {
	for _, cm := range c.Crew {
		if cm.AssignedModuleID != "" && cm.AssignedModuleID == moduleID {
			return cm, true
		}
	}
	return CrewMember{}, false
}

func (c Colony) CellTaken(at Coordinates) bool {
	for _, m := range c.Modules {
		if m.Coordinates == at {
			return true
		}
	}
	return false
}

func (c Colony) Holding(resource string) int64 {
	if c.Holdings == nil {
		return 0
	}
	return c.Holdings[resource]
}
