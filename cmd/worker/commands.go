package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyhub/schedule-sync/internal/application/command"
	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/infrastructure/external/portal"
	"github.com/studyhub/schedule-sync/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/schedule-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FANOUT
// ══════════════════════════════════════════════════════════════════════════════

func newFanoutCmd(opts *rootOptions) *cobra.Command {
	var week string

	cmd := &cobra.Command{
		Use:   "fanout",
		Short: "Enqueue one refresh job per active student and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if week != "" && !timeutil.IsValidWeekKey(week) {
				return fmt.Errorf("invalid --week %q (want WWYYYY)", week)
			}
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, true)
			if err != nil {
				return err
			}
			defer a.close()

			result, runErr := a.fanoutHandler().RunForWeek(cmd.Context(), week)
			if result != nil {
				out := map[string]any{
					"status":          result.Status(),
					"total_scheduled": result.TotalScheduled,
					"batch_count":     result.BatchCount,
					"skipped_count":   result.SkippedCount,
					"failed_batches":  result.FailedBatches,
					"failed_jobs":     result.FailedJobs,
					"duration_ms":     result.Duration.Milliseconds(),
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&week, "week", "", "ISO week to refresh as WWYYYY (default: current week)")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// SCRAPE
// ══════════════════════════════════════════════════════════════════════════════

func newScrapeCmd(opts *rootOptions) *cobra.Command {
	var studentID, week string

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Refresh one student's schedule synchronously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close()

			handler, err := a.scrapeHandler()
			if err != nil {
				return err
			}
			result, err := handler.Handle(cmd.Context(), command.ScrapeStudentCommand{StudentID: studentID, WeekKey: week})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&studentID, "student", "", "Student id (required)")
	cmd.Flags().StringVar(&week, "week", "", "ISO week as WWYYYY (default: current week)")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// PARSE
// ══════════════════════════════════════════════════════════════════════════════

type parsedDay struct {
	Date    string           `json:"date"`
	Hash    string           `json:"hash"`
	Skipped int              `json:"skipped,omitempty"`
	Events  []schedule.Event `json:"events,omitempty"`
}

func newParseCmd(opts *rootOptions) *cobra.Command {
	var (
		timezone   string
		withEvents bool
	)

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a saved schedule page and print what would be stored",
		Long: `parse runs the schedule parser on a saved HTML page without touching
the network or the database. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.newLogger(opts.logLevel, "text", "", "")

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			parser := portal.NewParser(portal.ParserConfig{Location: timeutil.LoadLocation(timezone)})
			result, err := parser.Parse(in)
			if err != nil {
				return err
			}

			dates := make([]string, 0, len(result.Days))
			for date := range result.Days {
				dates = append(dates, date)
			}
			for date := range result.Skipped {
				if _, ok := result.Days[date]; !ok {
					dates = append(dates, date)
				}
			}
			sort.Strings(dates)

			days := make([]parsedDay, 0, len(dates))
			for _, date := range dates {
				events := result.Days[date]
				hash, err := schedule.Digest(events)
				if err != nil {
					return fmt.Errorf("digest %s: %w", date, err)
				}
				day := parsedDay{Date: date, Hash: hash, Skipped: result.Skipped[date]}
				if withEvents {
					day.Events = events
				}
				days = append(days, day)
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"events":  result.EventCount(),
				"skipped": result.SkippedCount(),
				"days":    days,
			})
		},
	}

	cmd.Flags().StringVar(&timezone, "timezone", "Europe/Copenhagen", "School timezone of tooltip times")
	cmd.Flags().BoolVar(&withEvents, "events", false, "Include parsed events in the output")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL
// ══════════════════════════════════════════════════════════════════════════════

func newEnrollCmd(opts *rootOptions) *cobra.Command {
	var (
		studentID string
		schoolID  string
		cookies   []string
	)

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Register or update a student credential from captured cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jar, err := parseCookieFlags(cookies)
			if err != nil {
				return err
			}

			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close()

			cred := session.NewStudentCredential(studentID, schoolID, jar, time.Now().UTC())
			if err := a.creds.Register(cmd.Context(), cred); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enrolled student %s at school %s with %d cookies\n",
				cred.StudentID, cred.SchoolID, jar.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&studentID, "student", "", "Student id (required)")
	cmd.Flags().StringVar(&schoolID, "school", "", "School id (required)")
	cmd.Flags().StringArrayVar(&cookies, "cookie", nil, "Cookie as name=value, repeatable (at least one)")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("school")
	return cmd
}

// parseCookieFlags turns name=value pairs into a jar. Values may contain '='.
func parseCookieFlags(pairs []string) (session.CookieJar, error) {
	if len(pairs) == 0 {
		return nil, errors.New("at least one --cookie is required")
	}
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("invalid --cookie %q (want name=value)", pair)
		}
		values[name] = value
	}
	return session.NewCookieJar(values), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var status, rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close()

			migrator := postgres.NewMigrator(a.db)
			switch {
			case status:
				migrations, err := migrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				for _, m := range migrations {
					state := "pending"
					if m.IsApplied {
						state = "applied " + m.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%03d %-32s %s\n", m.Version, m.Name, state)
				}
				return nil
			case rollback:
				return migrator.Rollback(cmd.Context())
			default:
				return a.migrate(cmd.Context())
			}
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "Show migration status instead of migrating")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Roll back the most recent migration")
	cmd.MarkFlagsMutuallyExclusive("status", "rollback")
	return cmd
}
