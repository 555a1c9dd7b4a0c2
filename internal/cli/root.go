package cli

import (
	"github.com/joho/godotenv"
	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supportchat",
		Short: "supportchat, a customer support chat engine",
		Long:  "supportchat serves an embeddable support chat widget backed by persona agents and an LLM, with an admin inbox for human takeover.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// Secrets may live next to the config or in the working directory.
			// Neither file is required and existing variables win.
			_ = godotenv.Load(paths.Env)
			_ = godotenv.Load()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				cfg = config.Defaults()
			}
			opts := logging.Options{
				Level:        cfg.Logging.Level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
				MaxSizeMB:    cfg.Logging.MaxSizeMB,
				MaxBackups:   cfg.Logging.MaxBackups,
				MaxAgeDays:   cfg.Logging.MaxAgeDays,
			}
			if logLevel != "" {
				opts.Level = logLevel
			}
			log = logging.NewWithOptions(opts)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.supportchat/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
