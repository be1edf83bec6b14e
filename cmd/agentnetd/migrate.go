package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentnet/kernel/internal/agentnet/store"
)

// migrateCmd wraps the store's own embedded-migration runner (store.New
// and postgres.New both apply pending migrations on open); "up" exists as
// an explicit operator action that doesn't also stand up the gateway, and
// "version" reports the schema_migrations high-water mark, mirroring
// goclaw's migrate subcommand tree against a self-migrating store instead
// of a separately-invoked golang-migrate runner.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			defer st.Close()
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("migrate version: %w", err)
			}
			defer st.Close()

			v, err := schemaVersion(ctx, st)
			if err != nil {
				return fmt.Errorf("migrate version: %w", err)
			}
			fmt.Printf("version: %d\n", v)
			return nil
		},
	}
}

// versionedStore is satisfied by both backends' concrete types, each of
// which exposes its own current-version query without widening
// store.Store's interface for a debugging-only concern.
type versionedStore interface {
	SchemaVersion(ctx context.Context) (int, error)
}

func schemaVersion(ctx context.Context, st store.Store) (int, error) {
	vs, ok := st.(versionedStore)
	if !ok {
		return 0, fmt.Errorf("backend does not report a schema version")
	}
	return vs.SchemaVersion(ctx)
}
