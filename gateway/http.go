package gateway

import (
	"chat-hub/observability"
	"encoding/json"
	"net/http"
)

// NewMux exposes the WebSocket endpoint along with health and Prometheus metrics.
func NewMux(ws http.Handler, health *observability.Health, metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health.Latest())
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
