package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/security"
)

func newBackupCmd(flags *globalFlags) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, cmd.Flags(), envLookup)
			if err != nil {
				return err
			}
			if err := security.ValidateBackupDir(outDir, cfg.GetDBPath()); err != nil {
				return fmt.Errorf("invalid backup directory: %w", err)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create backup directory: %w", err)
			}

			database, err := db.Open(cfg.GetDBPath())
			if err != nil {
				return err
			}
			defer database.Close()

			path, err := database.Backup(cmd.Context(), outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "backups", "Directory to write the backup into")
	return cmd
}
