package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo stores Job Records in the generation_jobs table.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  mode,
  status,
  phase,
  progress,
  message,
  error,
  prompt,
  app_name,
  platforms,
  source,
  stats,
  artifacts,
  owner,
  version,
  created_at,
  updated_at,
  started_at,
  completed_at
`

const terminalStatusList = `('ready', 'completed', 'failed')`

// Create inserts a new Job Record. The record's Version must be positive.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return apperrors.ValidationField("id", "job id is required")
	}
	if job.Version <= 0 {
		job.Version = 1
	}
	now := r.timeProvider.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	cols, err := encodeJobColumns(job)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		job.ID, job.Mode, job.Status, job.Phase, job.Progress, job.Message, cols.errJSON,
		job.Prompt, job.AppName, cols.platforms, cols.source, cols.stats, cols.artifacts,
		job.Owner, job.Version, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("insert job: %w", err))
	}
	return nil
}

// GetByID returns the stored Job Record or a NotFound AppError.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	job, err := scanJobFromRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}

// Delete removes a terminal Job Record. In-flight records are left alone.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM generation_jobs WHERE id = $1 AND status IN `+terminalStatusList, id)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("delete job: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return core.ErrJobNotTerminal
}

// Save writes every mutable column of job when the stored version matches
// job.Version and the stored record is not terminal.
func (r *JobRepo) Save(ctx context.Context, job *model.Job) error {
	if job == nil {
		return apperrors.ValidationField("id", "job is required")
	}
	cols, err := encodeJobColumns(job)
	if err != nil {
		return err
	}
	now := r.timeProvider.Now().UTC()

	var (
		version   int64
		updatedAt sql.NullTime
	)
	err = r.DB.QueryRowContext(ctx, `
		UPDATE generation_jobs
		SET status = $3,
		    phase = $4,
		    progress = $5,
		    message = $6,
		    error = $7,
		    stats = $8,
		    artifacts = $9,
		    owner = $10,
		    started_at = $11,
		    completed_at = $12,
		    updated_at = $13,
		    version = version + 1
		WHERE id = $1
		  AND version = $2
		  AND status NOT IN `+terminalStatusList+`
		RETURNING version, updated_at
	`,
		job.ID, job.Version, job.Status, job.Phase, job.Progress, job.Message, cols.errJSON,
		cols.stats, cols.artifacts, job.Owner, job.StartedAt, job.CompletedAt, now,
	).Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.diagnoseRejectedSave(ctx, job)
	}
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("save job: %w", err))
	}

	job.Version = version
	job.UpdatedAt = updatedAt.Time.UTC()
	return nil
}

// diagnoseRejectedSave explains why the conditional update matched no rows.
func (r *JobRepo) diagnoseRejectedSave(ctx context.Context, job *model.Job) error {
	var (
		status  model.JobStatus
		version int64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT status, version FROM generation_jobs WHERE id = $1`, job.ID,
	).Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFoundf("job %s not found", job.ID)
	}
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("inspect job: %w", err))
	}
	if status.IsTerminal() {
		return fmt.Errorf("save job %s: %w", job.ID, core.ErrJobTerminal)
	}
	return fmt.Errorf("save job %s at version %d (stored %d): %w", job.ID, job.Version, version, core.ErrStaleWrite)
}

// List returns recent jobs, newest first.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	limit, offset := normalizeListOptions(opts)
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list jobs: %w", err))
	}
	return collectJobs(rows)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func normalizeListOptions(opts model.JobListOptions) (int, int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(opts.Offset, 0)
	return limit, offset
}

func collectJobs(rows *sql.Rows) (jobs []*model.Job, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	jobs = make([]*model.Job, 0)
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return jobs, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	errJSON, platforms, source, stats, artifacts []byte
	startedAt, completedAt                       sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Mode,
		&job.Status,
		&job.Phase,
		&job.Progress,
		&job.Message,
		&d.errJSON,
		&job.Prompt,
		&job.AppName,
		&d.platforms,
		&d.source,
		&d.stats,
		&d.artifacts,
		&job.Owner,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.startedAt,
		&d.completedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	if err := unmarshalOptional(d.errJSON, &job.Error); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	if err := unmarshalOptional(d.platforms, &job.Platforms); err != nil {
		return fmt.Errorf("decode platforms: %w", err)
	}
	if err := unmarshalOptional(d.source, &job.Source); err != nil {
		return fmt.Errorf("decode source: %w", err)
	}
	if err := unmarshalOptional(d.stats, &job.Stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}
	if err := unmarshalOptional(d.artifacts, &job.Artifacts); err != nil {
		return fmt.Errorf("decode artifacts: %w", err)
	}
	if len(job.Artifacts) == 0 {
		job.Artifacts = nil
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

type encodedJobColumns struct {
	errJSON, source             []byte
	platforms, stats, artifacts []byte
}

func encodeJobColumns(job *model.Job) (*encodedJobColumns, error) {
	var (
		cols encodedJobColumns
		err  error
	)
	if job.Error != nil {
		if cols.errJSON, err = json.Marshal(job.Error); err != nil {
			return nil, fmt.Errorf("encode error: %w", err)
		}
	}
	if job.Source != nil {
		if cols.source, err = json.Marshal(job.Source); err != nil {
			return nil, fmt.Errorf("encode source: %w", err)
		}
	}
	platforms := job.Platforms
	if platforms == nil {
		platforms = []model.Platform{}
	}
	if cols.platforms, err = json.Marshal(platforms); err != nil {
		return nil, fmt.Errorf("encode platforms: %w", err)
	}
	if cols.stats, err = json.Marshal(job.Stats); err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	artifacts := job.Artifacts
	if artifacts == nil {
		artifacts = map[model.Platform]string{}
	}
	if cols.artifacts, err = json.Marshal(artifacts); err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	return &cols, nil
}

func unmarshalOptional(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
