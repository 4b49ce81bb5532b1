package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"colonycore/internal/colony"
)

const priceColumns = `resource, current_price, base_price, volatility, min_price, max_price,
	seasonal_phase, supply, demand, last_tick_at, version`

func scanPrice(row pgx.Row) (colony.ResourcePrice, error) {
	var p colony.ResourcePrice
	err := row.Scan(&p.Resource, &p.CurrentPrice, &p.BasePrice, &p.Volatility, &p.MinPrice, &p.MaxPrice,
		&p.SeasonalPhase, &p.Supply, &p.Demand, &p.LastTickAt, &p.Version)
	return p, err
}

func (s *Store) ResourcePrices(ctx context.Context) ([]colony.ResourcePrice, error) {
	rows, err := s.db.Query(ctx, `SELECT `+priceColumns+` FROM game.resource_prices ORDER BY resource`)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	defer rows.Close()

	var out []colony.ResourcePrice
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ResourcePrice(ctx context.Context, resource string) (colony.ResourcePrice, error) {
	p, err := scanPrice(s.db.QueryRow(ctx, `SELECT `+priceColumns+` FROM game.resource_prices WHERE resource = $1`, resource))
	if err != nil {
		return colony.ResourcePrice{}, notFound(err)
	}
	return p, nil
}

func (s *Store) SeedResourcePrices(ctx context.Context, prices []colony.ResourcePrice) (int, error) {
	inserted := 0
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, p := range prices {
			tag, err := tx.Exec(ctx, `
				INSERT INTO game.resource_prices (`+priceColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (resource) DO NOTHING
			`, p.Resource, p.CurrentPrice, p.BasePrice, p.Volatility, p.MinPrice, p.MaxPrice,
				p.SeasonalPhase, p.Supply, p.Demand, p.LastTickAt, p.Version)
			if err != nil {
				return fmt.Errorf("seed %s: %w", p.Resource, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) UpdateResourcePrice(ctx context.Context, p colony.ResourcePrice, expectedVersion int64) error {
	return expectRow(s.db.Exec(ctx, `
		UPDATE game.resource_prices
		SET current_price = $1, seasonal_phase = $2, supply = $3, demand = $4, last_tick_at = $5, version = $6
		WHERE resource = $7 AND version = $8
	`, p.CurrentPrice, p.SeasonalPhase, p.Supply, p.Demand, p.LastTickAt, expectedVersion+1, p.Resource, expectedVersion))
}

func (s *Store) TradeVolume(ctx context.Context, resource string, since, until time.Time) (int64, int64, error) {
	var bought, sold int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(filled_qty) FILTER (WHERE side = 'buy'), 0),
		       COALESCE(SUM(filled_qty) FILTER (WHERE side = 'sell'), 0)
		FROM game.trades
		WHERE resource = $1 AND created_at > $2 AND created_at <= $3
	`, resource, since, until).Scan(&bought, &sold)
	if err != nil {
		return 0, 0, fmt.Errorf("trade volume %s: %w", resource, err)
	}
	return bought, sold, nil
}

func (s *Store) ActiveEvents(ctx context.Context, now time.Time) ([]colony.ActiveEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, definition_id, name, type, modifiers, is_global, target_player_ids, start_time, end_time, status
		FROM game.active_events
		WHERE status = $1 AND end_time >= $2
		ORDER BY start_time, id
	`, string(colony.EventActive), now)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []colony.ActiveEvent
	for rows.Next() {
		var ev colony.ActiveEvent
		if err := rows.Scan(&ev.ID, &ev.DefinitionID, &ev.Name, &ev.Type, &ev.Modifiers, &ev.IsGlobal,
			&ev.TargetPlayerIDs, &ev.StartTime, &ev.EndTime, &ev.Status); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) InsertEvent(ctx context.Context, ev colony.ActiveEvent) error {
	targets := ev.TargetPlayerIDs
	if targets == nil {
		targets = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO game.active_events (id, definition_id, name, type, modifiers, is_global, target_player_ids, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, ev.DefinitionID, ev.Name, string(ev.Type), ev.Modifiers, ev.IsGlobal, targets,
		ev.StartTime, ev.EndTime, string(ev.Status))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.DefinitionID, err)
	}
	return nil
}

func (s *Store) ExpireEvents(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE game.active_events SET status = $1 WHERE status = $2 AND end_time < $3
	`, string(colony.EventExpired), string(colony.EventActive), now)
	if err != nil {
		return 0, fmt.Errorf("expire events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ConfigValue(ctx context.Context, key string) (float64, bool, error) {
	var v float64
	err := s.db.QueryRow(ctx, `SELECT value FROM game.game_config WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key string, value float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO game.game_config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	return err
}

func (s *Store) TickCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.QueryRow(ctx, `SELECT at FROM game.tick_cursors WHERE name = $1`, name).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at.UTC(), true, nil
}

func (s *Store) AdvanceTickCursor(ctx context.Context, name string, from, to time.Time) error {
	if from.IsZero() {
		return expectRow(s.db.Exec(ctx, `
			INSERT INTO game.tick_cursors (name, at) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, name, to))
	}
	return expectRow(s.db.Exec(ctx, `
		UPDATE game.tick_cursors SET at = $1 WHERE name = $2 AND at = $3
	`, to, name, from))
}
