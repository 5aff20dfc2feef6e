package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/flightstatus-harvester/pkg/config"
	"github.com/Sternrassler/flightstatus-harvester/pkg/logging"
)

// rootOptions is shared by all subcommands.
type rootOptions struct {
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
	pretty     bool

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Incrementally harvest the flight-status API",
		Long: `harvester downloads every page of every query listed in the matrix CSV
files, stores each page as a compressed JSON artifact and records progress
in the matrix files, so an interrupted run resumes where it stopped.

Configuration is read from an optional YAML file, an optional .env file and
HARVEST_* environment variables, in that order.

Examples:
  # Harvest everything with keys from the environment
  API_KEYS=primary:xxxx harvester run

  # Append new date windows without fetching
  harvester roll --lookahead 14

  # Show progress per matrix file
  harvester status`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "env file to load (default .env when present)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "storage root (overrides HARVEST_DATA_DIR)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newRollCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))

	return cmd
}

// load builds the configuration and the logger. Flags win over every
// other source.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = o.dataDir
	}
	if flags.Changed("log-level") {
		if !logging.ValidLevel(o.logLevel) {
			return fmt.Errorf("unknown log level %q", o.logLevel)
		}
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = o.pretty
	}

	o.cfg = cfg
	o.logger = logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}
