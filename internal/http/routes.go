package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Submitter JobSubmitter
	Jobs      JobManager
	// Sources serves repository analysis; nil leaves the route unregistered.
	Sources SourceAnalyzer
	// Readiness gates /readyz; nil always reports ready.
	Readiness ReadinessChecker
	// AllowedOrigins lists browser origins accepted on the progress websocket.
	AllowedOrigins []string
	PingInterval   time.Duration
	ResyncInterval time.Duration
	Logger         *slog.Logger // Optional: defaults to slog.Default()
}

// NewRouter creates and configures the API router with its middleware.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Submitter: services.Submitter, Jobs: services.Jobs, Logger: logger}
	progressHandlers := NewProgressHandlers(ProgressHandlersOptions{
		Jobs:           services.Jobs,
		AllowedOrigins: services.AllowedOrigins,
		PingInterval:   services.PingInterval,
		ResyncInterval: services.ResyncInterval,
		Logger:         logger,
	})

	registerJobRoutes(mux, jobHandlers, progressHandlers)
	if services.Sources != nil {
		sourceHandlers := &SourceHandlers{Analyzer: services.Sources, Logger: logger}
		mux.HandleFunc("POST /api/sources/analyze", sourceHandlers.Analyze)
	}
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	ready := readyHandler(services.Readiness)
	mux.Handle("GET /readyz", ready)
	mux.Handle("HEAD /readyz", ready)

	return Recover(logger)(Logging(logger)(mux))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers, p *ProgressHandlers) {
	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("POST /api/generate/prompt", h.CreatePromptJob)
	mux.HandleFunc("POST /api/generate/deep-mode", h.CreateDeepJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/jobs/{id}/artifact", h.DownloadArtifact)
	mux.HandleFunc("GET /api/jobs/{id}/progress", p.WebSocket)
	mux.HandleFunc("GET /api/jobs/{id}/events", p.Events)
}
