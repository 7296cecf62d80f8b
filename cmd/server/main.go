package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/config"
	"github.com/DoyleJ11/quiz-arena-backend/internal/server"
)

func main() {
	cobra.CheckErr(newCmd().ExecuteContext(context.Background()))
}

func newCmd() *cobra.Command {
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:   "quiz-server",
		Short: "Multiplayer team quiz server.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			}

			c := server.DefaultConfig()
			if err := config.Load(configFile, &c); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, err := server.NewLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return run(cmd.Context(), c, log)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_PATH"), "path to a yaml/json config file (env: CONFIG_PATH)")
	fs.StringVar(&envFile, "env-file", "", "dotenv file loaded before reading QUIZ_* variables")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func run(parent context.Context, c server.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.Init(ctx, c, log)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	select {
	case <-ctx.Done():
		log.Info("server: signal received, shutting down")
	case err = <-errc:
		if err != nil {
			log.Error("server: stopped", zap.Error(err))
		}
	}

	return multierr.Append(err, s.Shutdown())
}
