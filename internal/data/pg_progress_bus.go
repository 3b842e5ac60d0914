package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/data/pgxutil"
	"github.com/Johnshah/My/internal/domain/model"
)

// PGProgressBus carries progress between processes with LISTEN/NOTIFY. A
// notification only names the job; listeners re-read the snapshot, which keeps
// payloads under the NOTIFY size limit whatever the prompt length.
type PGProgressBus struct {
	db     *sql.DB
	jobs   core.JobRepository
	logger *slog.Logger
}

// NewPGProgressBus creates a PGProgressBus reading snapshots from jobs.
func NewPGProgressBus(db *sql.DB, jobs core.JobRepository, logger *slog.Logger) *PGProgressBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGProgressBus{db: db, jobs: jobs, logger: logger.With("component", "pg_progress_bus")}
}

func progressChannel(jobID string) string { return "appgen_progress_" + jobID }

// Publish notifies listeners of job.ID that a newer snapshot is stored.
func (b *PGProgressBus) Publish(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return nil
	}
	if _, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, progressChannel(job.ID), job.ID); err != nil {
		return fmt.Errorf("notify progress: %w", err)
	}
	return nil
}

// Listen holds a dedicated connection subscribed to jobID until ctx ends,
// delivering the stored snapshot for each notification. Once a terminal
// snapshot is delivered it stops reading and waits for ctx.
func (b *PGProgressBus) Listen(ctx context.Context, jobID string, deliver func(*model.Job)) error {
	return pgxutil.WithPgxConn(ctx, b.db, func(conn *pgx.Conn) error {
		quoted := pgx.Identifier{progressChannel(jobID)}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
			return fmt.Errorf("listen %s: %w", jobID, err)
		}
		defer func() {
			if _, err := conn.Exec(context.Background(), "UNLISTEN "+quoted); err != nil {
				b.logger.Debug("unlisten failed", "job_id", jobID, "error", err)
			}
		}()

		for {
			if _, err := conn.WaitForNotification(ctx); err != nil {
				return err
			}
			job, err := b.jobs.GetByID(ctx, jobID)
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			deliver(job)
			if job.IsTerminal() {
				<-ctx.Done()
				return ctx.Err()
			}
		}
	})
}
