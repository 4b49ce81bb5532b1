// Package backend opens the store implementation selected by configuration.
package backend

import (
	"context"
	"fmt"

	"colonycore/internal/config"
	"colonycore/internal/db"
	"colonycore/internal/store"
	"colonycore/internal/store/postgres"
	"colonycore/internal/store/sqlite"
)

func Open(ctx context.Context, cfg config.StoreConfig, appName string) (store.Store, error) {
	switch cfg.Dialect {
	case config.DialectPostgres:
		pc := db.DefaultPoolConfig()
		pc.ApplicationName = appName
		st, err := postgres.Open(ctx, cfg.DatabaseURL, pc)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DialectSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store dialect %q", cfg.Dialect)
	}
}
