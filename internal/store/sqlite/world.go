package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"colonycore/internal/colony"
)

type priceRow struct {
	Resource      string  `db:"resource"`
	CurrentPrice  float64 `db:"current_price"`
	BasePrice     float64 `db:"base_price"`
	Volatility    float64 `db:"volatility"`
	MinPrice      float64 `db:"min_price"`
	MaxPrice      float64 `db:"max_price"`
	SeasonalPhase float64 `db:"seasonal_phase"`
	Supply        float64 `db:"supply"`
	Demand        float64 `db:"demand"`
	LastTickAt    int64   `db:"last_tick_at"`
	Version       int64   `db:"version"`
}

func newPriceRow(p colony.ResourcePrice) priceRow {
	return priceRow{
		Resource:      p.Resource,
		CurrentPrice:  p.CurrentPrice,
		BasePrice:     p.BasePrice,
		Volatility:    p.Volatility,
		MinPrice:      p.MinPrice,
		MaxPrice:      p.MaxPrice,
		SeasonalPhase: p.SeasonalPhase,
		Supply:        p.Supply,
		Demand:        p.Demand,
		LastTickAt:    nanos(p.LastTickAt),
		Version:       p.Version,
	}
}

func (r priceRow) price() colony.ResourcePrice {
	return colony.ResourcePrice{
		Resource:      r.Resource,
		CurrentPrice:  r.CurrentPrice,
		BasePrice:     r.BasePrice,
		Volatility:    r.Volatility,
		MinPrice:      r.MinPrice,
		MaxPrice:      r.MaxPrice,
		SeasonalPhase: r.SeasonalPhase,
		Supply:        r.Supply,
		Demand:        r.Demand,
		LastTickAt:    fromNanos(r.LastTickAt),
		Version:       r.Version,
	}
}

const priceColumns = `resource, current_price, base_price, volatility, min_price, max_price,
	seasonal_phase, supply, demand, last_tick_at, version`

func (s *Store) ResourcePrices(ctx context.Context) ([]colony.ResourcePrice, error) {
	var rows []priceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+priceColumns+` FROM resource_prices ORDER BY resource`); err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	out := make([]colony.ResourcePrice, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.price())
	}
	return out, nil
}

func (s *Store) ResourcePrice(ctx context.Context, resource string) (colony.ResourcePrice, error) {
	var r priceRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+priceColumns+` FROM resource_prices WHERE resource = ?`, resource); err != nil {
		return colony.ResourcePrice{}, notFound(err)
	}
	return r.price(), nil
}

func (s *Store) SeedResourcePrices(ctx context.Context, prices []colony.ResourcePrice) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range prices {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO resource_prices (`+priceColumns+`)
			VALUES (:resource, :current_price, :base_price, :volatility, :min_price, :max_price,
			        :seasonal_phase, :supply, :demand, :last_tick_at, :version)
			ON CONFLICT (resource) DO NOTHING
		`, newPriceRow(p))
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", p.Resource, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

func (s *Store) UpdateResourcePrice(ctx context.Context, p colony.ResourcePrice, expectedVersion int64) error {
	r := newPriceRow(p)
	return expectRow(s.db.ExecContext(ctx, `
		UPDATE resource_prices
		SET current_price = ?, seasonal_phase = ?, supply = ?, demand = ?, last_tick_at = ?, version = ?
		WHERE resource = ? AND version = ?
	`, r.CurrentPrice, r.SeasonalPhase, r.Supply, r.Demand, r.LastTickAt, expectedVersion+1, r.Resource, expectedVersion))
}

func (s *Store) TradeVolume(ctx context.Context, resource string, since, until time.Time) (int64, int64, error) {
	var v struct {
		Bought int64 `db:"bought"`
		Sold   int64 `db:"sold"`
	}
	if err := s.db.GetContext(ctx, &v, `
		SELECT COALESCE(SUM(CASE WHEN side = 'buy' THEN filled_qty ELSE 0 END), 0) AS bought,
		       COALESCE(SUM(CASE WHEN side = 'sell' THEN filled_qty ELSE 0 END), 0) AS sold
		FROM trades
		WHERE resource = ? AND created_at > ? AND created_at <= ?
	`, resource, nanos(since), nanos(until)); err != nil {
		return 0, 0, fmt.Errorf("trade volume %s: %w", resource, err)
	}
	return v.Bought, v.Sold, nil
}

type eventRow struct {
	ID              string `db:"id"`
	DefinitionID    string `db:"definition_id"`
	Name            string `db:"name"`
	Type            string `db:"type"`
	Modifiers       string `db:"modifiers"`
	IsGlobal        bool   `db:"is_global"`
	TargetPlayerIDs string `db:"target_player_ids"`
	StartTime       int64  `db:"start_time"`
	EndTime         int64  `db:"end_time"`
	Status          string `db:"status"`
}

func (r eventRow) event() (colony.ActiveEvent, error) {
	ev := colony.ActiveEvent{
		ID:           r.ID,
		DefinitionID: r.DefinitionID,
		Name:         r.Name,
		Type:         colony.EventCategory(r.Type),
		IsGlobal:     r.IsGlobal,
		StartTime:    fromNanos(r.StartTime),
		EndTime:      fromNanos(r.EndTime),
		Status:       colony.EventStatus(r.Status),
	}
	if err := json.Unmarshal([]byte(r.Modifiers), &ev.Modifiers); err != nil {
		return ev, fmt.Errorf("decode modifiers of event %s: %w", r.ID, err)
	}
	if r.TargetPlayerIDs != "" {
		if err := json.Unmarshal([]byte(r.TargetPlayerIDs), &ev.TargetPlayerIDs); err != nil {
			return ev, fmt.Errorf("decode targets of event %s: %w", r.ID, err)
		}
	}
	return ev, nil
}

func (s *Store) ActiveEvents(ctx context.Context, now time.Time) ([]colony.ActiveEvent, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, definition_id, name, type, modifiers, is_global, target_player_ids, start_time, end_time, status
		FROM active_events
		WHERE status = ? AND end_time >= ?
		ORDER BY start_time, id
	`, string(colony.EventActive), nanos(now)); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	out := make([]colony.ActiveEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.event()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev colony.ActiveEvent) error {
	mods, err := json.Marshal(ev.Modifiers)
	if err != nil {
		return fmt.Errorf("encode modifiers: %w", err)
	}
	targets := ev.TargetPlayerIDs
	if targets == nil {
		targets = []string{}
	}
	ids, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO active_events (id, definition_id, name, type, modifiers, is_global, target_player_ids, start_time, end_time, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.DefinitionID, ev.Name, string(ev.Type), string(mods), ev.IsGlobal, string(ids),
		nanos(ev.StartTime), nanos(ev.EndTime), string(ev.Status))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.DefinitionID, err)
	}
	return nil
}

func (s *Store) ExpireEvents(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE active_events SET status = ? WHERE status = ? AND end_time < ?
	`, string(colony.EventExpired), string(colony.EventActive), nanos(now))
	if err != nil {
		return 0, fmt.Errorf("expire events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) ConfigValue(ctx context.Context, key string) (float64, bool, error) {
	var v float64
	err := s.db.GetContext(ctx, &v, `SELECT value FROM game_config WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, nanos(time.Now()))
	return err
}

func (s *Store) TickCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var at int64
	err := s.db.GetContext(ctx, &at, `SELECT at FROM tick_cursors WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return fromNanos(at), true, nil
}

func (s *Store) AdvanceTickCursor(ctx context.Context, name string, from, to time.Time) error {
	if from.IsZero() {
		return expectRow(s.db.ExecContext(ctx, `
			INSERT INTO tick_cursors (name, at) VALUES (?, ?)
			ON CONFLICT (name) DO NOTHING
		`, name, nanos(to)))
	}
	return expectRow(s.db.ExecContext(ctx, `
		UPDATE tick_cursors SET at = ? WHERE name = ? AND at = ?
	`, nanos(to), name, nanos(from)))
}
