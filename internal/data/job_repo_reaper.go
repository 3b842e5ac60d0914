package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/data/pgxutil"
	"github.com/Johnshah/My/internal/domain/model"
)

// Advisory lock namespace for reaper operations.
// Major key 2000 is reserved for generation job maintenance.
const (
	advisoryLockReaperMajor      = 2000
	advisoryLockReaperFailJobs   = 1 // minor key for FailInFlight
	advisoryLockReaperDeleteJobs = 2 // minor key for DeleteTerminalBefore
)

const defaultReaperBatchSize = 100

// FailInFlight marks non-terminal jobs as failed with params.Error. An empty
// Owner matches every owner and a zero UpdatedBefore matches every job.
// Concurrent reapers are serialised with an advisory lock; the loser updates nothing.
func (r *JobRepo) FailInFlight(ctx context.Context, params core.FailJobsParams) ([]*model.Job, error) {
	errJSON, err := json.Marshal(params.Error)
	if err != nil {
		return nil, fmt.Errorf("encode error: %w", err)
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReaperBatchSize
	}
	var updatedBefore sql.NullTime
	if !params.UpdatedBefore.IsZero() {
		updatedBefore = sql.NullTime{Time: params.UpdatedBefore.UTC(), Valid: true}
	}

	var jobs []*model.Job
	err = pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, lockErr := tryReaperLock(ctx, tx, advisoryLockReaperFailJobs)
			if lockErr != nil || !locked {
				return lockErr
			}

			now := r.timeProvider.Now().UTC()
			rows, qErr := tx.QueryContext(ctx, `
				UPDATE generation_jobs
				SET status = 'failed',
				    error = $1,
				    message = $2,
				    completed_at = $3,
				    updated_at = $3,
				    version = version + 1
				WHERE id IN (
					SELECT id FROM generation_jobs
					WHERE status NOT IN `+terminalStatusList+`
					  AND ($4 = '' OR owner = $4)
					  AND ($5::timestamptz IS NULL OR updated_at < $5)
					ORDER BY updated_at
					LIMIT $6
					FOR UPDATE SKIP LOCKED
				)
				RETURNING `+jobColumns,
				errJSON, params.Error.Detail, now, params.Owner, updatedBefore, batch,
			)
			if qErr != nil {
				return fmt.Errorf("fail in-flight jobs: %w", qErr)
			}
			var collectErr error
			jobs, collectErr = collectJobs(rows)
			return collectErr
		},
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteTerminalBefore deletes up to batch terminal jobs that completed before cutoff.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error) {
	if batch <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var ids []string
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, lockErr := tryReaperLock(ctx, tx, advisoryLockReaperDeleteJobs)
			if lockErr != nil || !locked {
				return lockErr
			}

			rows, qErr := tx.QueryContext(ctx, `
				DELETE FROM generation_jobs
				WHERE id IN (
					SELECT id FROM generation_jobs
					WHERE status IN `+terminalStatusList+`
					  AND completed_at < $1
					ORDER BY completed_at
					LIMIT $2
				)
				RETURNING id
			`, cutoff.UTC(), batch)
			if qErr != nil {
				return fmt.Errorf("delete terminal jobs: %w", qErr)
			}
			defer rows.Close()

			for rows.Next() {
				var id string
				if scanErr := rows.Scan(&id); scanErr != nil {
					return fmt.Errorf("scan id: %w", scanErr)
				}
				ids = append(ids, id)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func tryReaperLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}
