package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/studyhub/schedule-sync/config"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Keep student timetables in sync with the school portal",
		Long: `worker mirrors student timetables from the school portal.

It fans out one refresh job per active student on a cron schedule, consumes
those jobs from Redis, and stores each day of the schedule in PostgreSQL
only when its content changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format override: json or text")

	cmd.AddCommand(
		newRunCmd(opts),
		newFanoutCmd(opts),
		newScrapeCmd(opts),
		newParseCmd(opts),
		newEnrollCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

// loadConfig loads the environment configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Observability.LogFormat = o.logFormat
	}
	return cfg, o.newLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, cfg.App.Name, cfg.App.Version), nil
}

func (o *rootOptions) newLogger(level, format, service, version string) *slog.Logger {
	log := logger.New(logger.Options{
		Output:  os.Stderr,
		Level:   logger.ParseLevel(level),
		Format:  logger.Format(format),
		Service: service,
		Version: version,
	})
	slog.SetDefault(log)
	return log
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
