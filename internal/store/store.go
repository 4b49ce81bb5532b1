// Package store defines the persistence contract the coordinator commits
// through. A Mutation is applied atomically and is conditioned on the
// player's version at read time.
package store

import (
	"context"
	"errors"
	"time"

	"colonycore/internal/colony"
)

var (
	ErrVersionConflict = errors.New("version conflict")
	ErrNotFound        = errors.New("not found")
	ErrDuplicateKey    = errors.New("duplicate idempotency key")
)

// Cursor names for the scheduler-facing ticks.
const (
	CursorProduction = "production"
	CursorMarket     = "market"
)

// PriceGuard pins a trade to the resource price version it was filled at.
type PriceGuard struct {
	Resource string
	Version  int64
}

// Mutation is every write one action produces. Player is written with
// version ExpectedVersion+1; Modules are updated only if their stored
// version still equals Module.Version.
type Mutation struct {
	PlayerID        string
	ExpectedVersion int64
	Player          colony.Player
	Action          string
	IdempotencyKey  string
	At              time.Time

	NewModules   []colony.Module
	Modules      []colony.Module
	NewCrew      []colony.CrewMember
	Crew         []colony.CrewMember
	Holdings     map[string]int64
	Ledger       []colony.LedgerEntry
	Trade        *colony.Trade
	PriceGuard   *PriceGuard
	Achievements []string
}

type Store interface {
	// EnsurePlayer creates the player with starterMicros if missing and
	// reports whether a row was created.
	EnsurePlayer(ctx context.Context, playerID string, starterMicros int64, now time.Time) (bool, error)
	// LoadColony returns ErrNotFound for an unknown player. Demolished
	// modules are not included.
	LoadColony(ctx context.Context, playerID string) (colony.Colony, error)
	Commit(ctx context.Context, m Mutation) error
	LedgerEntries(ctx context.Context, playerID string, limit int) ([]colony.LedgerEntry, error)

	ResourcePrices(ctx context.Context) ([]colony.ResourcePrice, error)
	ResourcePrice(ctx context.Context, resource string) (colony.ResourcePrice, error)
	// SeedResourcePrices inserts the rows that do not exist yet.
	SeedResourcePrices(ctx context.Context, prices []colony.ResourcePrice) (int, error)
	// UpdateResourcePrice writes p with version expectedVersion+1.
	UpdateResourcePrice(ctx context.Context, p colony.ResourcePrice, expectedVersion int64) error
	// TradeVolume sums filled quantities per side over (since, until].
	TradeVolume(ctx context.Context, resource string, since, until time.Time) (bought, sold int64, err error)

	ActiveEvents(ctx context.Context, now time.Time) ([]colony.ActiveEvent, error)
	InsertEvent(ctx context.Context, ev colony.ActiveEvent) error
	ExpireEvents(ctx context.Context, now time.Time) (int64, error)

	ConfigValue(ctx context.Context, key string) (float64, bool, error)
	SetConfigValue(ctx context.Context, key string, value float64) error

	// TickCursor returns the zero time and false when the cursor is unset.
	TickCursor(ctx context.Context, name string) (time.Time, bool, error)
	// AdvanceTickCursor moves the cursor from -> to and fails with
	// ErrVersionConflict when another runner moved it first.
	AdvanceTickCursor(ctx context.Context, name string, from, to time.Time) error

	Close() error
}
