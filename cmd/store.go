package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/movedash/reconcile-cli/internal/crm"
	"github.com/movedash/reconcile-cli/internal/reconcile"
)

// initStore opens the configured storage driver with the reactive link hook
// attached, so every hooked insert links on the way in regardless of which
// command performed it.
func initStore(ctx context.Context) (crm.Store, error) {
	st, err := openDriver(ctx)
	if err != nil {
		return nil, err
	}
	st.SetLinkHook(reconcile.NewHook())
	return st, nil
}

func openDriver(ctx context.Context) (crm.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return crm.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return crm.NewPostgres(ctx, cfg.Store.DatabaseURL, &crm.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
