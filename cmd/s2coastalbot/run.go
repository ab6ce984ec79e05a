package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"S2CoastalBot/internal/app"
	"S2CoastalBot/internal/infrastructure/scheduler"
	"S2CoastalBot/internal/usecase"
)

var runMode string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long:  "Select, process and publish one acquisition. Exits 0 when nothing is selectable or another run holds the lock.",
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on the configured cron schedule",
	Long:  "Long-running mode: triggers the pipeline per scheduler.cron_expression and serves /healthz and /status.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "cli", "Execution mode: cli or lambda")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	if runMode != "cli" && runMode != "lambda" {
		return fmt.Errorf("unknown mode %q (use cli or lambda)", runMode)
	}

	cfg, logger, closer, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closer.Close()

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	if runMode == "lambda" {
		application.RunLambda()
		return nil
	}

	result, err := application.Run(cmd.Context())
	return reportRun(logger, result, err)
}

func reportRun(logger *slog.Logger, result usecase.RunResult, err error) error {
	log := logger.With("run_id", result.RunID)
	switch {
	case err == nil:
		for _, record := range result.Records {
			log.Info("posted", "platform", record.Platform, "url", record.PostURL)
		}
		return nil
	case errors.Is(err, usecase.ErrNothingToPost):
		log.Info(usecase.ErrNothingToPost.Error())
		return nil
	case errors.Is(err, usecase.ErrLockHeld):
		log.Warn(usecase.ErrLockHeld.Error(), "error", err)
		return nil
	default:
		log.Error("run failed", "error", err)
		return err
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := scheduler.Validate(cfg.Scheduler.CronExpression); err != nil {
		return err
	}

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	if err := application.Serve(cmd.Context()); err != nil {
		logger.Error("serve stopped", "error", err)
		return err
	}
	logger.Info("serve stopped")
	return nil
}
