package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "personasim",
		Short:         "Synthetic persona and product feedback service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./config.yaml or /etc/personasim/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newDLQCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// load reads the configuration and installs the process logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWithOptions(config.Options{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Debug("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("llm_provider", cfg.LLM.Provider))
	return cfg, log, nil
}
