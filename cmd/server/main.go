// intakeflow - conversational learner-profile interview server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/intakeflow/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		logLevel string
	)

	root := &cobra.Command{
		Use:           "intakeflow",
		Short:         "Multi-turn interview engine that builds a learner profile",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	setup := func() (*config.Config, *slog.Logger, error) {
		logger := newLogger(logLevel)
		slog.SetDefault(logger)

		if err := godotenv.Load(envFile); err != nil {
			slog.Info("No .env file found, using environment variables", "path", envFile)
		}

		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("load configuration: %w", err)
		}
		return cfg, logger, nil
	}

	root.AddCommand(newServeCmd(setup), newChatCmd(setup))
	return root
}

type setupFunc func() (*config.Config, *slog.Logger, error)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
