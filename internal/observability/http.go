package observability

import (
	"encoding/json"
	"net/http"
)

// Handler serves the collector's current snapshot as JSON: gateway call
// spans, per-step attempt stats, and saga outcome and signal counters.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := metrics.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}
