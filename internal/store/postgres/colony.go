package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"colonycore/internal/colony"
	"colonycore/internal/store"
)

func (s *Store) EnsurePlayer(ctx context.Context, playerID string, starterMicros int64, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO game.players (id, balance_micros, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING
	`, playerID, starterMicros, now)
	if err != nil {
		return false, fmt.Errorf("ensure player: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LoadColony reads the whole colony inside one repeatable-read snapshot.
func (s *Store) LoadColony(ctx context.Context, playerID string) (colony.Colony, error) {
	var out colony.Colony
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return out, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback(ctx)

	p := &out.Player
	if err := tx.QueryRow(ctx, `
		SELECT id, balance_micros, level, xp, module_count, crew_count, daily_streak,
		       last_daily_claim_at, version, created_at
		FROM game.players
		WHERE id = $1
	`, playerID).Scan(&p.ID, &p.BalanceMicros, &p.Level, &p.XP, &p.ModuleCount, &p.CrewCount,
		&p.DailyStreak, &p.LastDailyClaimAt, &p.Version, &p.CreatedAt); err != nil {
		return out, notFound(err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, player_id, type, tier, level, base_output, bonus_output, efficiency,
		       age_in_cycles, is_active, x, y, last_collected_at, version, created_at, deleted_at
		FROM game.modules
		WHERE player_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
	`, playerID)
	if err != nil {
		return out, fmt.Errorf("load modules: %w", err)
	}
	for rows.Next() {
		var m colony.Module
		if err := rows.Scan(&m.ID, &m.PlayerID, &m.Type, &m.Tier, &m.Level, &m.BaseOutput, &m.BonusOutput,
			&m.Efficiency, &m.AgeInCycles, &m.IsActive, &m.Coordinates.X, &m.Coordinates.Y,
			&m.LastCollectedAt, &m.Version, &m.CreatedAt, &m.DeletedAt); err != nil {
			rows.Close()
			return out, err
		}
		out.Modules = append(out.Modules, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = tx.Query(ctx, `
		SELECT id, player_id, name, specialty, output_bonus, efficiency_bonus, assigned_module_id, hired_at
		FROM game.crew_members
		WHERE player_id = $1
		ORDER BY hired_at, id
	`, playerID)
	if err != nil {
		return out, fmt.Errorf("load crew: %w", err)
	}
	for rows.Next() {
		var c colony.CrewMember
		var specialty, assigned *string
		if err := rows.Scan(&c.ID, &c.PlayerID, &c.Name, &specialty, &c.OutputBonus, &c.EfficiencyBonus, &assigned, &c.HiredAt); err != nil {
			rows.Close()
			return out, err
		}
		c.Specialty = colony.ModuleType(deref(specialty))
		c.AssignedModuleID = deref(assigned)
		out.Crew = append(out.Crew, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	out.Holdings = map[string]int64{}
	rows, err = tx.Query(ctx, `
		SELECT resource, quantity FROM game.holdings WHERE player_id = $1 AND quantity <> 0
	`, playerID)
	if err != nil {
		return out, fmt.Errorf("load holdings: %w", err)
	}
	for rows.Next() {
		var resource string
		var qty int64
		if err := rows.Scan(&resource, &qty); err != nil {
			rows.Close()
			return out, err
		}
		out.Holdings[resource] = qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	out.Achievements = map[string]bool{}
	rows, err = tx.Query(ctx, `SELECT achievement_id FROM game.achievements WHERE player_id = $1`, playerID)
	if err != nil {
		return out, fmt.Errorf("load achievements: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return out, err
		}
		out.Achievements[id] = true
	}
	rows.Close()
	return out, rows.Err()
}

// Commit applies m in one read-committed transaction. The player update
// runs first and takes the row lock, so a concurrent commit against the
// same version re-evaluates its WHERE clause and affects zero rows.
func (s *Store) Commit(ctx context.Context, m store.Mutation) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p := m.Player
	if err := expectRow(tx.Exec(ctx, `
		UPDATE game.players
		SET balance_micros = $1, level = $2, xp = $3, module_count = $4, crew_count = $5,
		    daily_streak = $6, last_daily_claim_at = $7, version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10
	`, p.BalanceMicros, p.Level, p.XP, p.ModuleCount, p.CrewCount,
		p.DailyStreak, p.LastDailyClaimAt, m.At, m.PlayerID, m.ExpectedVersion)); err != nil {
		return err
	}

	if m.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO game.idempotency_keys (player_id, key, action, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (player_id, key) DO NOTHING
		`, m.PlayerID, m.IdempotencyKey, m.Action, m.At)
		if err != nil {
			return conflictOr(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrDuplicateKey
		}
	}

	if g := m.PriceGuard; g != nil {
		var version int64
		if err := tx.QueryRow(ctx, `
			SELECT version FROM game.resource_prices WHERE resource = $1 FOR SHARE
		`, g.Resource).Scan(&version); err != nil {
			return notFound(err)
		}
		if version != g.Version {
			return store.ErrVersionConflict
		}
	}

	for _, mod := range m.NewModules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.modules (id, player_id, type, tier, level, base_output, bonus_output, efficiency,
			                          age_in_cycles, is_active, x, y, last_collected_at, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, mod.ID, mod.PlayerID, string(mod.Type), string(mod.Tier), mod.Level, mod.BaseOutput, mod.BonusOutput,
			mod.Efficiency, mod.AgeInCycles, mod.IsActive, mod.Coordinates.X, mod.Coordinates.Y,
			mod.LastCollectedAt, mod.Version, mod.CreatedAt); err != nil {
			return fmt.Errorf("insert module: %w", conflictOr(err))
		}
	}
	for _, mod := range m.Modules {
		if err := expectRow(tx.Exec(ctx, `
			UPDATE game.modules
			SET level = $1, base_output = $2, bonus_output = $3, efficiency = $4, age_in_cycles = $5,
			    is_active = $6, last_collected_at = $7, deleted_at = $8, version = version + 1
			WHERE id = $9 AND player_id = $10 AND version = $11
		`, mod.Level, mod.BaseOutput, mod.BonusOutput, mod.Efficiency, mod.AgeInCycles,
			mod.IsActive, mod.LastCollectedAt, mod.DeletedAt, mod.ID, m.PlayerID, mod.Version)); err != nil {
			return err
		}
	}

	for _, c := range m.NewCrew {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.crew_members (id, player_id, name, specialty, output_bonus, efficiency_bonus, assigned_module_id, hired_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.ID, c.PlayerID, c.Name, nullable(string(c.Specialty)), c.OutputBonus, c.EfficiencyBonus,
			nullable(c.AssignedModuleID), c.HiredAt); err != nil {
			return fmt.Errorf("insert crew: %w", conflictOr(err))
		}
	}
	for _, c := range m.Crew {
		if err := expectRow(tx.Exec(ctx, `
			UPDATE game.crew_members SET assigned_module_id = $1 WHERE id = $2 AND player_id = $3
		`, nullable(c.AssignedModuleID), c.ID, m.PlayerID)); err != nil {
			return err
		}
	}

	for resource, qty := range m.Holdings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.holdings (player_id, resource, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (player_id, resource) DO UPDATE SET quantity = EXCLUDED.quantity
		`, m.PlayerID, resource, qty); err != nil {
			return fmt.Errorf("write holding %s: %w", resource, conflictOr(err))
		}
	}

	for _, id := range m.Achievements {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.achievements (player_id, achievement_id, unlocked_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (player_id, achievement_id) DO NOTHING
		`, m.PlayerID, id, m.At); err != nil {
			return fmt.Errorf("unlock achievement %s: %w", id, err)
		}
	}

	if len(m.Ledger) > 0 {
		batch := &pgx.Batch{}
		for _, e := range m.Ledger {
			meta := e.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			batch.Queue(`
				INSERT INTO game.ledger_entries (tx_group_id, player_id, account, delta_micros, action, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, e.TxGroupID, e.PlayerID, e.Account, e.DeltaMicros, e.Action, meta, e.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
	}

	if t := m.Trade; t != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.trades (id, player_id, resource, side, requested_qty, filled_qty, avg_price, total_micros, slippage_pct, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, t.ID, t.PlayerID, t.Resource, t.Side, t.RequestedQty, t.FilledQty, t.AvgPrice, t.TotalMicros, t.SlippagePct, t.CreatedAt); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}

	return conflictOr(tx.Commit(ctx))
}

func (s *Store) LedgerEntries(ctx context.Context, playerID string, limit int) ([]colony.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT tx_group_id, player_id, account, delta_micros, action, metadata, created_at
		FROM game.ledger_entries
		WHERE player_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	var out []colony.LedgerEntry
	for rows.Next() {
		var e colony.LedgerEntry
		if err := rows.Scan(&e.TxGroupID, &e.PlayerID, &e.Account, &e.DeltaMicros, &e.Action, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
