// Package httpx provides the HTTP API of the app generator: job submission,
// snapshots, artifact downloads and live progress.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// JobSubmitter accepts generation requests.
type JobSubmitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.Job, error)
}

// JobReader is the read side used by the handlers.
type JobReader interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Subscribe(jobID string) (func(), <-chan *model.Job)
	OpenArtifact(ctx context.Context, id string, platform model.Platform) (io.ReadCloser, *core.ArtifactInfo, error)
}

// JobManager adds removal of finished jobs to the read side.
type JobManager interface {
	JobReader
	Delete(ctx context.Context, id string) error
}

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Submitter JobSubmitter
	Jobs      JobManager
	Logger    *slog.Logger
}

func (h *JobHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// CreateJob handles POST /api/jobs. The mode comes from the body and
// defaults to standard.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "")
}

// CreatePromptJob handles POST /api/generate/prompt.
func (h *JobHandlers) CreatePromptJob(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.JobModeStandard)
}

// CreateDeepJob handles POST /api/generate/deep-mode.
func (h *JobHandlers) CreateDeepJob(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.JobModeDeep)
}

func (h *JobHandlers) submit(w http.ResponseWriter, r *http.Request, mode model.JobMode) {
	var req model.SubmitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if mode != "" {
		req.Mode = mode
	}

	job, err := h.Submitter.Submit(r.Context(), req)
	if err != nil {
		h.logger().DebugContext(r.Context(), "submit rejected", "error", err)
		WriteServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+job.ID)
	WriteJSON(w, http.StatusAccepted, model.SubmitResponse{JobID: job.ID})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// DeleteJob handles DELETE /api/jobs/{id}. Only terminal jobs can be
// deleted; running jobs answer 409 not_ready.
func (h *JobHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Jobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /api/jobs, newest first.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	jobs, err := h.Jobs.List(r.Context(), model.JobListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.logger().ErrorContext(r.Context(), "list jobs failed", "error", err)
		WriteServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// DownloadArtifact handles GET /api/jobs/{id}/artifact?platform=.
func (h *JobHandlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	platform := model.Platform(r.URL.Query().Get("platform"))

	rc, info, err := h.Jobs.OpenArtifact(r.Context(), id, platform)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": fmt.Sprintf("%s-%s", id, path.Base(info.Key)),
	}))
	if !info.ModTime.IsZero() {
		w.Header().Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err = io.Copy(w, rc); err != nil {
		h.logger().WarnContext(r.Context(), "artifact download interrupted", "job_id", id, "error", err)
	}
}
