package httpx

import (
	"context"
	"net/http"
	"time"
)

// ReadinessChecker reports whether the service should receive new jobs.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

const readyProbeTimeout = 2 * time.Second

type healthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthHandler reports liveness. It never touches dependencies.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, r, http.StatusOK, healthStatus{Status: "ok"})
}

// readyHandler reports 503 once the checker fails, e.g. while the executor
// is draining during shutdown.
func readyHandler(checker ReadinessChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeHealth(w, r, http.StatusOK, healthStatus{Status: "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()
		if err := checker.Ready(ctx); err != nil {
			writeHealth(w, r, http.StatusServiceUnavailable, healthStatus{Status: "unavailable", Error: err.Error()})
			return
		}
		writeHealth(w, r, http.StatusOK, healthStatus{Status: "ready"})
	})
}

func writeHealth(w http.ResponseWriter, r *http.Request, code int, body healthStatus) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		return
	}
	WriteJSON(w, code, body)
}
