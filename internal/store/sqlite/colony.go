package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"colonycore/internal/colony"
	"colonycore/internal/store"
)

type playerRow struct {
	ID               string        `db:"id"`
	BalanceMicros    int64         `db:"balance_micros"`
	Level            int           `db:"level"`
	XP               int64         `db:"xp"`
	ModuleCount      int           `db:"module_count"`
	CrewCount        int           `db:"crew_count"`
	DailyStreak      int           `db:"daily_streak"`
	LastDailyClaimAt sql.NullInt64 `db:"last_daily_claim_at"`
	Version          int64         `db:"version"`
	CreatedAt        int64         `db:"created_at"`
}

func (r playerRow) player() colony.Player {
	return colony.Player{
		ID:               r.ID,
		BalanceMicros:    r.BalanceMicros,
		Level:            r.Level,
		XP:               r.XP,
		ModuleCount:      r.ModuleCount,
		CrewCount:        r.CrewCount,
		DailyStreak:      r.DailyStreak,
		LastDailyClaimAt: fromNullNanos(r.LastDailyClaimAt),
		Version:          r.Version,
		CreatedAt:        fromNanos(r.CreatedAt),
	}
}

type moduleRow struct {
	ID              string        `db:"id"`
	PlayerID        string        `db:"player_id"`
	Type            string        `db:"type"`
	Tier            string        `db:"tier"`
	Level           int           `db:"level"`
	BaseOutput      float64       `db:"base_output"`
	BonusOutput     float64       `db:"bonus_output"`
	Efficiency      float64       `db:"efficiency"`
	AgeInCycles     int64         `db:"age_in_cycles"`
	IsActive        bool          `db:"is_active"`
	X               int           `db:"x"`
	Y               int           `db:"y"`
	LastCollectedAt int64         `db:"last_collected_at"`
	Version         int64         `db:"version"`
	CreatedAt       int64         `db:"created_at"`
	DeletedAt       sql.NullInt64 `db:"deleted_at"`
}

func newModuleRow(m colony.Module) moduleRow {
	return moduleRow{
		ID:              m.ID,
		PlayerID:        m.PlayerID,
		Type:            string(m.Type),
		Tier:            string(m.Tier),
		Level:           m.Level,
		BaseOutput:      m.BaseOutput,
		BonusOutput:     m.BonusOutput,
		Efficiency:      m.Efficiency,
		AgeInCycles:     m.AgeInCycles,
		IsActive:        m.IsActive,
		X:               m.Coordinates.X,
		Y:               m.Coordinates.Y,
		LastCollectedAt: nanos(m.LastCollectedAt),
		Version:         m.Version,
		CreatedAt:       nanos(m.CreatedAt),
		DeletedAt:       nullNanos(m.DeletedAt),
	}
}

func (r moduleRow) module() colony.Module {
	return colony.Module{
		ID:              r.ID,
		PlayerID:        r.PlayerID,
		Type:            colony.ModuleType(r.Type),
		Tier:            colony.Tier(r.Tier),
		Level:           r.Level,
		BaseOutput:      r.BaseOutput,
		BonusOutput:     r.BonusOutput,
		Efficiency:      r.Efficiency,
		AgeInCycles:     r.AgeInCycles,
		IsActive:        r.IsActive,
		Coordinates:     colony.Coordinates{X: r.X, Y: r.Y},
		LastCollectedAt: fromNanos(r.LastCollectedAt),
		Version:         r.Version,
		CreatedAt:       fromNanos(r.CreatedAt),
		DeletedAt:       fromNullNanos(r.DeletedAt),
	}
}

type crewRow struct {
	ID               string         `db:"id"`
	PlayerID         string         `db:"player_id"`
	Name             string         `db:"name"`
	Specialty        sql.NullString `db:"specialty"`
	OutputBonus      float64        `db:"output_bonus"`
	EfficiencyBonus  float64        `db:"efficiency_bonus"`
	AssignedModuleID sql.NullString `db:"assigned_module_id"`
	HiredAt          int64          `db:"hired_at"`
}

func newCrewRow(c colony.CrewMember) crewRow {
	return crewRow{
		ID:               c.ID,
		PlayerID:         c.PlayerID,
		Name:             c.Name,
		Specialty:        nullString(string(c.Specialty)),
		OutputBonus:      c.OutputBonus,
		EfficiencyBonus:  c.EfficiencyBonus,
		AssignedModuleID: nullString(c.AssignedModuleID),
		HiredAt:          nanos(c.HiredAt),
	}
}

func (r crewRow) member() colony.CrewMember {
	return colony.CrewMember{
		ID:               r.ID,
		PlayerID:         r.PlayerID,
		Name:             r.Name,
		Specialty:        colony.ModuleType(r.Specialty.String),
		OutputBonus:      r.OutputBonus,
		EfficiencyBonus:  r.EfficiencyBonus,
		AssignedModuleID: r.AssignedModuleID.String,
		HiredAt:          fromNanos(r.HiredAt),
	}
}

type holdingRow struct {
	Resource string `db:"resource"`
	Quantity int64  `db:"quantity"`
}

type ledgerRow struct {
	TxGroupID   string `db:"tx_group_id"`
	PlayerID    string `db:"player_id"`
	Account     string `db:"account"`
	DeltaMicros int64  `db:"delta_micros"`
	Action      string `db:"action"`
	Metadata    string `db:"metadata"`
	CreatedAt   int64  `db:"created_at"`
}

func (s *Store) EnsurePlayer(ctx context.Context, playerID string, starterMicros int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, balance_micros, level, xp, module_count, crew_count, daily_streak, version, created_at, updated_at)
		VALUES (?, ?, 1, 0, 0, 0, 0, 1, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, playerID, starterMicros, nanos(now), nanos(now))
	if err != nil {
		return false, fmt.Errorf("ensure player: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) LoadColony(ctx context.Context, playerID string) (colony.Colony, error) {
	var out colony.Colony
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	var p playerRow
	if err := tx.GetContext(ctx, &p, `
		SELECT id, balance_micros, level, xp, module_count, crew_count, daily_streak,
		       last_daily_claim_at, version, created_at
		FROM players
		WHERE id = ?
	`, playerID); err != nil {
		return out, notFound(err)
	}
	out.Player = p.player()

	var mods []moduleRow
	if err := tx.SelectContext(ctx, &mods, `
		SELECT id, player_id, type, tier, level, base_output, bonus_output, efficiency,
		       age_in_cycles, is_active, x, y, last_collected_at, version, created_at, deleted_at
		FROM modules
		WHERE player_id = ? AND deleted_at IS NULL
		ORDER BY created_at, id
	`, playerID); err != nil {
		return out, fmt.Errorf("load modules: %w", err)
	}
	for _, m := range mods {
		out.Modules = append(out.Modules, m.module())
	}

	var crew []crewRow
	if err := tx.SelectContext(ctx, &crew, `
		SELECT id, player_id, name, specialty, output_bonus, efficiency_bonus, assigned_module_id, hired_at
		FROM crew_members
		WHERE player_id = ?
		ORDER BY hired_at, id
	`, playerID); err != nil {
		return out, fmt.Errorf("load crew: %w", err)
	}
	for _, c := range crew {
		out.Crew = append(out.Crew, c.member())
	}

	var holdings []holdingRow
	if err := tx.SelectContext(ctx, &holdings, `
		SELECT resource, quantity FROM holdings WHERE player_id = ? AND quantity <> 0
	`, playerID); err != nil {
		return out, fmt.Errorf("load holdings: %w", err)
	}
	out.Holdings = make(map[string]int64, len(holdings))
	for _, h := range holdings {
		out.Holdings[h.Resource] = h.Quantity
	}

	var achievements []string
	if err := tx.SelectContext(ctx, &achievements, `
		SELECT achievement_id FROM achievements WHERE player_id = ?
	`, playerID); err != nil {
		return out, fmt.Errorf("load achievements: %w", err)
	}
	out.Achievements = make(map[string]bool, len(achievements))
	for _, a := range achievements {
		out.Achievements[a] = true
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, m store.Mutation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	at := nanos(m.At)
	p := m.Player
	if err := expectRow(tx.ExecContext(ctx, `
		UPDATE players
		SET balance_micros = ?, level = ?, xp = ?, module_count = ?, crew_count = ?,
		    daily_streak = ?, last_daily_claim_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, p.BalanceMicros, p.Level, p.XP, p.ModuleCount, p.CrewCount,
		p.DailyStreak, nullNanos(p.LastDailyClaimAt), at, m.PlayerID, m.ExpectedVersion)); err != nil {
		return err
	}

	if m.IdempotencyKey != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (player_id, key, action, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (player_id, key) DO NOTHING
		`, m.PlayerID, m.IdempotencyKey, m.Action, at)
		if err != nil {
			return fmt.Errorf("claim idempotency key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrDuplicateKey
		}
	}

	if g := m.PriceGuard; g != nil {
		var version int64
		if err := tx.GetContext(ctx, &version, `SELECT version FROM resource_prices WHERE resource = ?`, g.Resource); err != nil {
			return notFound(err)
		}
		if version != g.Version {
			return store.ErrVersionConflict
		}
	}

	for _, mod := range m.NewModules {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO modules (id, player_id, type, tier, level, base_output, bonus_output, efficiency,
			                     age_in_cycles, is_active, x, y, last_collected_at, version, created_at, deleted_at)
			VALUES (:id, :player_id, :type, :tier, :level, :base_output, :bonus_output, :efficiency,
			        :age_in_cycles, :is_active, :x, :y, :last_collected_at, :version, :created_at, :deleted_at)
		`, newModuleRow(mod)); err != nil {
			return fmt.Errorf("insert module: %w", err)
		}
	}
	for _, mod := range m.Modules {
		r := newModuleRow(mod)
		if err := expectRow(tx.ExecContext(ctx, `
			UPDATE modules
			SET level = ?, base_output = ?, bonus_output = ?, efficiency = ?, age_in_cycles = ?,
			    is_active = ?, last_collected_at = ?, deleted_at = ?, version = version + 1
			WHERE id = ? AND player_id = ? AND version = ?
		`, r.Level, r.BaseOutput, r.BonusOutput, r.Efficiency, r.AgeInCycles,
			r.IsActive, r.LastCollectedAt, r.DeletedAt, r.ID, m.PlayerID, r.Version)); err != nil {
			return err
		}
	}

	for _, c := range m.NewCrew {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO crew_members (id, player_id, name, specialty, output_bonus, efficiency_bonus, assigned_module_id, hired_at)
			VALUES (:id, :player_id, :name, :specialty, :output_bonus, :efficiency_bonus, :assigned_module_id, :hired_at)
		`, newCrewRow(c)); err != nil {
			return fmt.Errorf("insert crew: %w", err)
		}
	}
	for _, c := range m.Crew {
		if err := expectRow(tx.ExecContext(ctx, `
			UPDATE crew_members SET assigned_module_id = ? WHERE id = ? AND player_id = ?
		`, nullString(c.AssignedModuleID), c.ID, m.PlayerID)); err != nil {
			return err
		}
	}

	for resource, qty := range m.Holdings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holdings (player_id, resource, quantity)
			VALUES (?, ?, ?)
			ON CONFLICT (player_id, resource) DO UPDATE SET quantity = excluded.quantity
		`, m.PlayerID, resource, qty); err != nil {
			return fmt.Errorf("write holding %s: %w", resource, err)
		}
	}

	for _, id := range m.Achievements {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO achievements (player_id, achievement_id, unlocked_at)
			VALUES (?, ?, ?)
			ON CONFLICT (player_id, achievement_id) DO NOTHING
		`, m.PlayerID, id, at); err != nil {
			return fmt.Errorf("unlock achievement %s: %w", id, err)
		}
	}

	for _, e := range m.Ledger {
		meta := []byte("{}")
		if e.Metadata != nil {
			var err error
			if meta, err = json.Marshal(e.Metadata); err != nil {
				return fmt.Errorf("encode ledger metadata: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (tx_group_id, player_id, account, delta_micros, action, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.TxGroupID, e.PlayerID, e.Account, e.DeltaMicros, e.Action, string(meta), nanos(e.CreatedAt)); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
	}

	if t := m.Trade; t != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trades (id, player_id, resource, side, requested_qty, filled_qty, avg_price, total_micros, slippage_pct, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.PlayerID, t.Resource, t.Side, t.RequestedQty, t.FilledQty, t.AvgPrice, t.TotalMicros, t.SlippagePct, nanos(t.CreatedAt)); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) LedgerEntries(ctx context.Context, playerID string, limit int) ([]colony.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ledgerRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT tx_group_id, player_id, account, delta_micros, action, metadata, created_at
		FROM ledger_entries
		WHERE player_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, playerID, limit); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	out := make([]colony.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		e := colony.LedgerEntry{
			TxGroupID:   r.TxGroupID,
			PlayerID:    r.PlayerID,
			Account:     r.Account,
			DeltaMicros: r.DeltaMicros,
			Action:      r.Action,
			CreatedAt:   fromNanos(r.CreatedAt),
		}
		if r.Metadata != "" && r.Metadata != "{}" {
			if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode ledger metadata for %s: %w", r.TxGroupID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
