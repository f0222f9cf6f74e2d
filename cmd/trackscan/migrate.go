package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/trackscan/internal/db"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the database schema version",
	}

	// withDB opens the configured database without migrating it.
	withDB := func(cmd *cobra.Command, fn func(*db.DB) error) error {
		cfg, err := loadConfig(flags, cmd.Flags(), envLookup)
		if err != nil {
			return err
		}
		database, err := db.Open(cfg.GetDBPath())
		if err != nil {
			return err
		}
		defer database.Close()
		return fn(database)
	}

	status := func(cmd *cobra.Command, database *db.DB) error {
		v, dirty, err := database.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
		return nil
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd, func(database *db.DB) error {
					if err := database.MigrateUp(); err != nil {
						return err
					}
					return status(cmd, database)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd, func(database *db.DB) error {
					if err := database.MigrateDown(); err != nil {
						return err
					}
					return status(cmd, database)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd, func(database *db.DB) error {
					return status(cmd, database)
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("version must be an integer: %w", err)
				}
				return withDB(cmd, func(database *db.DB) error {
					if err := database.MigrateForce(v); err != nil {
						return err
					}
					return status(cmd, database)
				})
			},
		},
	)
	return migrateCmd
}
