package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// SourceAnalyzer summarises a repository without starting a job.
type SourceAnalyzer interface {
	Analyze(ctx context.Context, ref model.SourceRef) (*core.SourceReport, error)
}

// SourceHandlers serves repository analysis.
type SourceHandlers struct {
	Analyzer SourceAnalyzer
	Logger   *slog.Logger
}

// Analyze handles POST /api/sources/analyze with a {"url","ref"} body and
// returns the language summary the executor would feed to generation.
func (h *SourceHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var ref model.SourceRef
	if !DecodeJSON(w, r, &ref) {
		return
	}
	ref.URL = strings.TrimSpace(ref.URL)
	ref.Ref = strings.TrimSpace(ref.Ref)
	if ref.URL == "" {
		WriteServiceError(w, apperrors.InvalidRequest("url", "repository url is required"))
		return
	}

	report, err := h.Analyzer.Analyze(r.Context(), ref)
	if err != nil {
		if h.Logger != nil {
			h.Logger.DebugContext(r.Context(), "source analysis failed", "url", ref.URL, "error", err)
		}
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
