package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

// addDBFlag registers --db, which points the command at a sqlite file and
// overrides the configured database.
func addDBFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "db", "",
		"sqlite database file (overrides the configured database)")
}

// openStore starts the configured store, honoring a --db override.
func openStore(ctx context.Context, dbPath string) (store.Store, error) {
	dbCfg := cfg.Database
	if dbPath != "" {
		dbCfg.Driver = "sqlite"
		dbCfg.SQLite.Path = dbPath
	}

	st := store.NewStore(log, &dbCfg)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	return st, nil
}

func stopStore(st store.Store) {
	if err := st.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}
