package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/defgrid/tunnelrotor/internal/config"
	"github.com/defgrid/tunnelrotor/internal/logging"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the rotation supervisor and run until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor()
		},
	}
}

func runSupervisor() error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, logFile, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	dep, err := buildDeployment(cfg, logger)
	if err != nil {
		logging.Critical(logger).Err(err).Msg("failed to build deployment")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dep.manager.Startup(ctx); err != nil {
		logging.Critical(logger).Err(err).Msg("startup failed")
		return err
	}

	logger.Info().Msg("rotation supervisor started")

	runErr := dep.manager.Run(ctx)

	logger.Info().Msg("shutting down")
	if err := dep.manager.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown encountered errors")
	}

	return runErr
}
