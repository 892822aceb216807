package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fintech-crm/lead-engine/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, db.PoolConfig{MaxConns: 2, MinConns: 1})
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}

		files, err := db.MigrationFiles()
		if err != nil {
			return err
		}
		for _, f := range files {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migration", f, "ok")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
