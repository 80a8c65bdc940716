package hc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

func Handler(version, network string, checks map[string]Check) http.Handler {
	t := time.Now()
	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		failures := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failures[name] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		body := map[string]any{
			"version": version,
			"network": network,
			"uptime":  time.Since(t).String(),
		}
		if len(failures) > 0 {
			body["failures"] = failures
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}

	return http.HandlerFunc(fn)
}
