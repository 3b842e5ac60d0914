// Command appgen-cli submits generation jobs to an app generator server and
// follows their progress.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Johnshah/My/internal/client"
)

const (
	defaultServerURL        = "http://localhost:8080"
	defaultMigrationTimeout = 5 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := newApp(logger).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var jobErr *client.JobFailedError
		if errors.As(err, &jobErr) {
			os.Exit(3) //nolint:forbidigo // distinguishes a failed job from a CLI or transport error
		}
		os.Exit(1) //nolint:forbidigo // CLI must exit with failure status on errors
	}
}

func newApp(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "appgen-cli",
		Usage: "Submit app generation jobs and follow their progress",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "app generator server base URL",
				Value:   defaultServerURL,
				Sources: cli.EnvVars("APPGEN_URL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "Submit a generation job and print its id",
				ArgsUsage: "[prompt]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prompt", Usage: "description of the app to generate"},
					&cli.StringFlag{Name: "app-name", Usage: "name of the generated app"},
					&cli.StringFlag{Name: "mode", Usage: "phase table: standard or deep", Value: "standard"},
					&cli.StringSliceFlag{Name: "platform", Usage: "target platform, repeatable (web, android, ios, desktop)"},
					&cli.StringFlag{Name: "source-url", Usage: "git repository to analyze before generating"},
					&cli.StringFlag{Name: "source-ref", Usage: "branch or tag of --source-url"},
					&cli.BoolFlag{Name: "watch", Usage: "follow the job until it finishes"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return submitAction(ctx, cmd, logger)
				},
			},
			{
				Name:      "status",
				Usage:     "Print the current snapshot of a job as JSON",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Usage: "JMESPath expression applied to the snapshot"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return statusAction(ctx, cmd, logger)
				},
			},
			{
				Name:  "list",
				Usage: "List recent jobs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "maximum number of jobs", Value: 20},
					&cli.IntFlag{Name: "offset", Usage: "number of jobs to skip"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return listAction(ctx, cmd, logger)
				},
			},
			{
				Name:      "watch",
				Usage:     "Follow a job until it finishes",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "poll", Usage: "poll snapshots instead of subscribing"},
					&cli.DurationFlag{Name: "poll-interval", Usage: "snapshot polling interval", Value: 2 * time.Second},
					&cli.IntFlag{Name: "retries", Usage: "websocket reconnect attempts before polling", Value: client.DefaultMaxRetries},
					&cli.DurationFlag{Name: "retry-delay", Usage: "delay between reconnect attempts", Value: client.DefaultRetryDelay},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return watchAction(ctx, cmd, logger)
				},
			},
			{
				Name:      "download",
				Usage:     "Download the packaged artifact of a finished job",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "platform", Usage: "platform artifact to fetch; defaults to the first requested"},
					&cli.StringFlag{Name: "out", Usage: "output file, - for stdout; defaults to <job-id>[-<platform>].zip"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return downloadAction(ctx, cmd, logger)
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations using the server configuration",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Usage: "maximum duration to wait for migrations", Value: defaultMigrationTimeout},
					&cli.BoolFlag{Name: "status", Usage: "list pending migrations without applying them"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return migrateAction(ctx, cmd, logger)
				},
			},
		},
	}
}
