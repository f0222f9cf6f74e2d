package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/trackscan/internal/config"
	"github.com/banshee-data/trackscan/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	listen     string
	dbPath     string
	sweep      bool
}

func (f *globalFlags) register(set *pflag.FlagSet) {
	set.StringVar(&f.configPath, "config", config.DefaultConfigPath, "Path to a JSON or JSONC config file")
	set.StringVar(&f.envFile, "env-file", ".env", "Optional dotenv file read before the environment")
	set.StringVar(&f.listen, "listen", "", "HTTP listen address (overrides config and LISTEN)")
	set.StringVar(&f.dbPath, "db-path", "", "Path to the sqlite database (overrides config and DB_PATH)")
	set.BoolVar(&f.sweep, "sweep", false, "Run a decision sweep from the configured start position on boot")
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "trackscan",
		Short:         "Track inspection and tamping decision service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newMigrateCmd(flags))
	rootCmd.AddCommand(newBackupCmd(flags))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})

	return rootCmd
}

// loadConfig resolves the effective configuration. Later sources win: the
// config file, then the dotenv file, then the process environment, then
// command-line flags that were set explicitly.
func loadConfig(flags *globalFlags, set *pflag.FlagSet, lookup func(string) (string, bool)) (*config.ServiceConfig, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		// The default file is optional; an explicitly named one is not.
		if !errors.Is(err, fs.ErrNotExist) || set.Changed("config") {
			return nil, err
		}
		cfg = &config.ServiceConfig{}
	}

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if set.Changed("listen") {
		cfg.Listen = &flags.listen
	}
	if set.Changed("db-path") {
		cfg.DBPath = &flags.dbPath
	}
	if set.Changed("sweep") {
		cfg.SweepEnabled = &flags.sweep
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
