package main

import (
	"os"

	"github.com/MrEthical07/hrauth/internal/appconfig"
	"github.com/MrEthical07/hrauth/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hrauthd",
		Short:         "HR authentication service",
		Long:          "hrauthd runs the multi-tenant authentication API backed by Postgres, Redis and Kratos.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./hrauth.yaml or /etc/hrauth/hrauth.yaml)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, ".env files to load before reading the config (default ./.env)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// load reads .env files, the config file and the environment, then builds
// the process logger.
func (o *rootOptions) load() (*appconfig.Config, zerolog.Logger, error) {
	if err := appconfig.LoadDotEnv(o.envFiles...); err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg, err := appconfig.Load(o.configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
