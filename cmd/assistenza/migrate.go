package main

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/richiesta-assistenza/service_layer/internal/app/runtime"
	"github.com/richiesta-assistenza/service_layer/internal/platform/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := runtime.OpenDatabase(cfg.Database)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := migrations.Up(db); err != nil {
					return err
				}
				return printVersion(cmd, db)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default one step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer")
					}
					steps = n
				}
				db, err := runtime.OpenDatabase(cfg.Database)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := migrations.Down(db, steps); err != nil {
					return err
				}
				return printVersion(cmd, db)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := runtime.OpenDatabase(cfg.Database)
				if err != nil {
					return err
				}
				defer db.Close()
				return printVersion(cmd, db)
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	v, dirty, err := migrations.Version(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", v, dirty)
	return nil
}
