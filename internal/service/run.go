package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/phase"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// collaborator names which external capability produced an error.
type collaborator string

const (
	collabAnalyzer  collaborator = "analyzer"
	collabGenerator collaborator = "generator"
	collabBuilder   collaborator = "builder"
)

// runFailure carries the structured cause recorded on a failed job.
type runFailure struct {
	err      error
	jobError model.JobError
}

// run is the state of one job execution. It lives on a single goroutine.
type run struct {
	e       *Executor
	w       *jobWriter
	table   *phase.Table
	project *core.Project
	report  *core.SourceReport
	logger  *slog.Logger
}

// execute walks the table and returns nil once the job is terminal and
// successful.
func (r *run) execute(ctx context.Context) *runFailure {
	for i := range r.table.Len() {
		ph := r.table.Phase(i)
		if err := r.w.enterPhase(ctx, i); err != nil {
			return r.writeFailure(ctx, err)
		}
		r.logger.InfoContext(ctx, "phase started", "phase", ph.Name, "action", ph.Action)

		if f := r.runPhase(ctx, i, ph); f != nil {
			return f
		}
		if err := r.w.finishPhase(ctx, i, r.project.Stats()); err != nil {
			return r.writeFailure(ctx, err)
		}
	}
	if err := r.w.complete(ctx, r.project.Stats()); err != nil {
		return r.writeFailure(ctx, err)
	}
	return nil
}

func (r *run) runPhase(ctx context.Context, i int, ph phase.Phase) *runFailure {
	switch ph.Action {
	case phase.ActionAnalyze:
		if f := r.analyze(ctx); f != nil {
			return f
		}
		return r.generate(ctx, i, ph)
	case phase.ActionGenerate:
		return r.generate(ctx, i, ph)
	case phase.ActionBuild:
		return r.build(ctx, i)
	default:
		return r.failure(ctx, collabGenerator, fmt.Errorf("phase %q has unknown action %q", ph.Name, ph.Action))
	}
}

// analyze inspects the job's source repository once per run.
func (r *run) analyze(ctx context.Context) *runFailure {
	job := r.w.snapshot()
	if job.Source == nil || r.report != nil {
		return nil
	}
	if r.e.collab.Analyzer == nil {
		return r.failure(ctx, collabAnalyzer, apperrors.SourceUnavailable("no source analyzer configured", nil))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.e.cfg.CollaboratorTimeout)
	defer cancel()
	report, err := r.e.collab.Analyzer.Analyze(callCtx, *job.Source)
	if err != nil {
		return r.failure(ctx, collabAnalyzer, err)
	}
	r.report = report
	r.logger.InfoContext(ctx, "source analyzed",
		"commit", report.Commit,
		"files", report.Files,
		"primary_language", report.Primary)
	return nil
}

func (r *run) generate(ctx context.Context, i int, ph phase.Phase) *runFailure {
	job := r.w.snapshot()
	req := core.GenerateRequest{
		JobID:     job.ID,
		Mode:      job.Mode,
		Phase:     ph,
		Prompt:    job.Prompt,
		AppName:   job.AppName,
		Platforms: job.Platforms,
		Source:    r.report,
	}

	var tickErr error
	onUnit := func(done, total int) {
		if tickErr != nil {
			return
		}
		if err := r.w.advance(ctx, i, done, total); err != nil {
			tickErr = err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.e.cfg.CollaboratorTimeout)
	defer cancel()
	if err := r.e.collab.Generator.Generate(callCtx, req, r.project, onUnit); err != nil {
		return r.failure(ctx, collabGenerator, err)
	}
	if tickErr != nil {
		return r.writeFailure(ctx, tickErr)
	}
	return nil
}

// build packages every platform in turn; each finished package advances
// progress inside the phase band.
func (r *run) build(ctx context.Context, i int) *runFailure {
	job := r.w.snapshot()
	total := len(job.Platforms)
	for n, platform := range job.Platforms {
		callCtx, cancel := context.WithTimeout(ctx, r.e.cfg.CollaboratorTimeout)
		key, err := r.e.collab.Builder.Build(callCtx, core.BuildRequest{
			JobID:    job.ID,
			Platform: platform,
			Project:  r.project,
		})
		cancel()
		if err != nil {
			return r.failure(ctx, collabBuilder, err)
		}
		r.w.addArtifact(platform, key)
		if err = r.w.advance(ctx, i, n+1, total); err != nil {
			return r.writeFailure(ctx, err)
		}
	}
	return nil
}

// failure maps a collaborator error to the job's structured cause. Typed
// errors keep their code; anything else takes the code of the collaborator
// that returned it.
func (r *run) failure(ctx context.Context, c collaborator, err error) *runFailure {
	if ctx.Err() != nil {
		return &runFailure{err: err, jobError: interruptedError()}
	}

	code := apperrors.GetCode(err)
	switch code {
	case apperrors.ErrCodeSourceUnavailable, apperrors.ErrCodeGenerationFailed,
		apperrors.ErrCodeBuildFailed, apperrors.ErrCodeInvalidRequest:
	default:
		code = defaultCode(c)
	}

	detail := apperrors.GetMessage(err)
	if errors.Is(err, context.DeadlineExceeded) {
		detail = fmt.Sprintf("%s timed out after %s", c, r.e.cfg.CollaboratorTimeout)
	}
	return &runFailure{err: err, jobError: model.JobError{Code: string(code), Detail: detail}}
}

// writeFailure handles errors from the job writer itself.
func (r *run) writeFailure(ctx context.Context, err error) *runFailure {
	if errors.Is(err, errRunAborted) {
		return &runFailure{err: errRunAborted}
	}
	if ctx.Err() != nil {
		return &runFailure{err: err, jobError: interruptedError()}
	}
	return &runFailure{err: err, jobError: model.JobError{
		Code:   string(apperrors.ErrCodeInternal),
		Detail: "job record could not be updated",
	}}
}

func defaultCode(c collaborator) apperrors.ErrorCode {
	switch c {
	case collabAnalyzer:
		return apperrors.ErrCodeSourceUnavailable
	case collabBuilder:
		return apperrors.ErrCodeBuildFailed
	default:
		return apperrors.ErrCodeGenerationFailed
	}
}
