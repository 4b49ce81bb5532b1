package game

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"colonycore/internal/colony"
	"colonycore/internal/events"
)

const specialtyChance = 0.8

var (
	crewFirstNames = []string{"Ada", "Bram", "Chen", "Dara", "Emeka", "Freya", "Goran", "Hana", "Ines", "Jonah", "Kira", "Luis"}
	crewLastNames  = []string{"Armstrong", "Bean", "Conrad", "Duke", "Irwin", "Mitchell", "Schmitt", "Scott", "Shepard", "Young"}
)

// RecruitCrew hires a crew member with a rolled name, specialty and bonuses.
func (s *Service) RecruitCrew(ctx context.Context, in PlayerInput) (CrewResult, error) {
	r, err := s.rules(ctx)
	if err != nil {
		return CrewResult{}, err
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return CrewResult{}, err
	}
	if c.Player.CrewCount >= r.maxCrew || len(c.Crew) >= r.maxCrew {
		return CrewResult{}, ErrCrewRosterFull
	}
	cost := colony.WholeLunar(colony.RecruitCost(c.Player.CrewCount, r.recruitBase, r.recruitMult))
	if c.Player.BalanceMicros < cost {
		return CrewResult{}, shortOf(ErrInsufficientFunds, cost, c.Player.BalanceMicros)
	}

	now := s.clock()
	cm := s.rollCrew(c.Player.ID, now)
	ch := newChange(c, "recruit_crew", in.IdempotencyKey, now, r)
	ch.post(accountCrew, -cost, map[string]any{"crew_id": cm.ID, "name": cm.Name})
	ch.m.NewCrew = append(ch.m.NewCrew, cm)
	ch.m.Player.CrewCount++
	ch.grantXP(xpRecruit)
	ch.unlock(AchievementFirstCrew)

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return CrewResult{}, err
	}
	return CrewResult{Progress: prog, Crew: cm, CostMicros: cost}, nil
}

func (s *Service) rollCrew(playerID string, now time.Time) colony.CrewMember {
	cm := colony.CrewMember{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		Name:     pick(crewFirstNames, s.nextFloat()) + " " + pick(crewLastNames, s.nextFloat()),
		HiredAt:  now,
	}
	if s.nextFloat() < specialtyChance {
		cm.Specialty = pick(colony.ModuleTypes, s.nextFloat())
	}
	cm.OutputBonus = round2(5 + 15*s.nextFloat())
	cm.EfficiencyBonus = round2(10 * s.nextFloat())
	return cm
}

func pick[T any](items []T, f float64) T {
	i := int(f * float64(len(items)))
	if i >= len(items) {
		i = len(items) - 1
	}
	return items[i]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AssignCrew binds a crew member to a module, or unassigns it when ModuleID
// is empty. A crew member must be unassigned before moving to another module.
func (s *Service) AssignCrew(ctx context.Context, in AssignCrewInput) (CrewResult, error) {
	if in.CrewID == "" {
		return CrewResult{}, invalid("crew id is required")
	}
	r, err := s.rules(ctx)
	if err != nil {
		return CrewResult{}, err
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return CrewResult{}, err
	}
	cm, ok := c.CrewMember(in.CrewID)
	if !ok {
		return CrewResult{}, ErrCrewNotFound
	}
	if in.ModuleID != "" {
		if _, ok := c.Module(in.ModuleID); !ok {
			return CrewResult{}, ErrModuleNotFound
		}
		if cm.AssignedModuleID != "" && cm.AssignedModuleID != in.ModuleID {
			return CrewResult{}, ErrCrewAssigned
		}
		if other, staffed := c.CrewOn(in.ModuleID); staffed && other.ID != cm.ID {
			return CrewResult{}, ErrModuleStaffed
		}
	}

	now := s.clock()
	cm.AssignedModuleID = in.ModuleID
	ch := newChange(c, "assign_crew", in.IdempotencyKey, now, r)
	ch.m.Crew = append(ch.m.Crew, cm)

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return CrewResult{}, err
	}
	return CrewResult{Progress: prog, Crew: cm}, nil
}

// ClaimDailyReward pays the streak reward once per UTC calendar day.
func (s *Service) ClaimDailyReward(ctx context.Context, in PlayerInput) (DailyResult, error) {
	r, err := s.rules(ctx)
	if err != nil {
		return DailyResult{}, err
	}
	c, err := s.load(ctx, in.PlayerID)
	if err != nil {
		return DailyResult{}, err
	}
	now := s.clock()
	streak, ok := colony.NextStreak(c.Player.DailyStreak, c.Player.LastDailyClaimAt, now)
	if !ok {
		return DailyResult{}, ErrAlreadyClaimed
	}
	mods, err := s.modifiers(ctx, in.PlayerID, now)
	if err != nil {
		return DailyResult{}, err
	}
	base := colony.DailyReward(streak, r.dailyBase, r.dailyMult, r.maxStreak)
	reward := colony.WholeLunar(colony.ScaleCost(base, mods.Get(events.DailyReward)))

	ch := newChange(c, "daily_reward", in.IdempotencyKey, now, r)
	ch.post(accountRewards, reward, map[string]any{"streak": streak})
	ch.m.Player.DailyStreak = streak
	ch.m.Player.LastDailyClaimAt = &now
	ch.grantXP(xpDaily)
	if streak >= 7 {
		ch.unlock(AchievementStreak7)
	}

	prog, err := s.apply(ctx, ch)
	if err != nil {
		return DailyResult{}, err
	}
	return DailyResult{Progress: prog, Streak: streak, RewardMicros: reward}, nil
}
