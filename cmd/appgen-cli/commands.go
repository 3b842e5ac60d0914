package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/jmespath-community/go-jmespath"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/Johnshah/My/internal/bootstrap"
	"github.com/Johnshah/My/internal/client"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/migrate"
)

func newClient(cmd *cli.Command, logger *slog.Logger) (*client.Client, error) {
	return client.New(client.Options{BaseURL: cmd.String("url"), Logger: logger})
}

func jobIDArg(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", errors.New("job id is required")
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func submitAction(ctx context.Context, cmd *cli.Command, logger *slog.Logger) error {
	c, err := newClient(cmd, logger)
	if err != nil {
		return err
	}

	prompt := cmd.String("prompt")
	if prompt == "" {
		prompt = strings.Join(cmd.Args().Slice(), " ")
	}
	req := model.SubmitRequest{
		Prompt:  prompt,
		AppName: cmd.String("app-name"),
		Mode:    model.JobMode(strings.ToLower(cmd.String("mode"))),
	}
	for _, p := range cmd.StringSlice("platform") {
		for _, part := range strings.Split(p, ",") {
			if part = strings.TrimSpace(part); part != "" {
				req.Platforms = append(req.Platforms, model.Platform(strings.ToLower(part)))
			}
		}
	}
	if u := cmd.String("source-url"); u != "" {
		req.Source = &model.SourceRef{URL: u, Ref: cmd.String("source-ref")}
	}

	id, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if _, err := fmt.Fprintln(out, id); err != nil {
		return err
	}
	if !cmd.Bool("watch") {
		return nil
	}
	return follow(ctx, out, c, id, client.WatchOptions{}, false)
}

func statusAction(ctx context.Context, cmd *cli.Command, logger *slog.Logger) error {
	id, err := jobIDArg(cmd)
	if err != nil {
		return err
	}
	c, err := newClient(cmd, logger)
	if err != nil {
		return err
	}
	job, err := c.Snapshot(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	expr := strings.TrimSpace(cmd.String("query"))
	if expr == "" {
		return writeJSON(out, job)
	}
	result, err := queryJob(job, expr)
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

// queryJob evaluates a JMESPath expression against the JSON form of job.
func queryJob(job *model.Job, expr string) (any, error) {
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return jmespath.Search(expr, doc)
}

func listAction(ctx context.Context, cmd *cli.Command, logger *slog.Logger) error {
	c, err := newClient(cmd, logger)
	if err != nil {
		return err
	}
	jobs, err := c.List(ctx, model.JobListOptions{Limit: cmd.Int("limit"), Offset: cmd.Int("offset")})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.Root().Writer)
	table.Header("ID", "Mode", "Status", "Progress", "Platforms", "Updated")
	for _, job := range jobs {
		platforms := make([]string, len(job.Platforms))
		for i, p := range job.Platforms {
			platforms[i] = string(p)
		}
		if err := table.Append(
			job.ID,
			string(job.Mode),
			string(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			strings.Join(platforms, ","),
			job.UpdatedAt.Format("2006-01-02 15:04:05"),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func watchAction(ctx context.Context, cmd *cli.Command, logger *slog.Logger) error {
	id, err := jobIDArg(cmd)
	if err != nil {
		return err
	}
	c, err := newClient(cmd, logger)
	if err != nil {
		return err
	}
	opts := client.WatchOptions{
		Subscriber: client.SubscriberOptions{
			MaxRetries: cmd.Int("retries"),
			RetryDelay: cmd.Duration("retry-delay"),
			Logger:     logger,
		},
		PollInterval: cmd.Duration("poll-interval"),
		OnPollError: func(err error) {
			logger.WarnContext(ctx, "poll snapshot failed", "job_id", id, "error", err)
		},
	}
	return follow(ctx, cmd.Root().Writer, c, id, opts, cmd.Bool("poll"))
}

// follow prints one line per snapshot until the job finishes.
func follow(ctx context.Context, out io.Writer, c *client.Client, id string, opts client.WatchOptions, poll bool) error {
	printProgress := func(job *model.Job) {
		line := fmt.Sprintf("[%3d%%] %s", job.Progress, job.Status)
		if job.Message != "" {
			line += ": " + job.Message
		}
		fmt.Fprintln(out, line)
	}

	var job *model.Job
	var err error
	if poll {
		job, err = client.NewPoller(c, id, client.PollerOptions{
			Interval: opts.PollInterval,
			OnUpdate: printProgress,
			OnError:  opts.OnPollError,
		}).Run(ctx)
		if err == nil && job.Status == model.JobStatusFailed {
			failed := &client.JobFailedError{JobID: job.ID}
			if job.Error != nil {
				failed.Cause = *job.Error
			}
			err = failed
		}
	} else {
		opts.OnProgress = printProgress
		opts.OnFallback = func(cause error) {
			fmt.Fprintf(out, "progress channel unavailable, polling: %v\n", cause)
		}
		job, err = c.Watch(ctx, id, opts)
	}
	if err != nil {
		return err
	}

	for _, platform := range slices.Sorted(maps.Keys(job.Artifacts)) {
		fmt.Fprintf(out, "artifact %s: %s\n", platform, job.Artifacts[platform])
	}
	return nil
}

func downloadAction(ctx context.Context, cmd *cli.Command, logger *slog.Logger) (err error) {
	id, err := jobIDArg(cmd)
	if err != nil {
		return err
	}
	c, err := newClient(cmd, logger)
	if err != nil {
		return err
	}
	platform := model.Platform(strings.ToLower(cmd.String("platform")))

	target := cmd.String("out")
	if target == "" {
		target = id + ".zip"
		if platform != "" {
			target = fmt.Sprintf("%s-%s.zip", id, platform)
		}
	}
	if target == "-" {
		_, err = c.Download(ctx, id, platform, cmd.Root().Writer)
		return err
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	n, err := c.Download(ctx, id, platform, f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "wrote %d bytes to %s\n", n, target)
	return err
}

func migrateAction(ctx context.Context, cmd *cli.Command, logger *slog.Logger) error {
	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		return errors.New("--timeout must be greater than zero")
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("db close failed", "error", closeErr)
		}
	}()

	out := cmd.Root().Writer
	if cmd.Bool("status") {
		pending, err := migrate.Pending(ctx, db)
		if err != nil {
			return fmt.Errorf("list pending migrations: %w", err)
		}
		if len(pending) == 0 {
			_, err = fmt.Fprintln(out, "schema is up to date")
			return err
		}
		for _, v := range pending {
			if _, err := fmt.Fprintln(out, "pending", v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	_, err = fmt.Fprintln(out, "migrations applied")
	return err
}
