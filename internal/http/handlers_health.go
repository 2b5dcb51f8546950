package httpx

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthCheck reports whether one optional dependency is reachable.
type HealthCheck func(ctx context.Context) error

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler answers liveness probes. Dependency failures are reported as
// "degraded" but still return 200: every dependency has a fallback.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}

		resp := healthResponse{Status: "ok"}
		if len(names) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(names))
			for _, name := range names {
				if err := checks[name](ctx); err != nil {
					resp.Checks[name] = "error"
					resp.Status = "degraded"
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
