package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var one int
			return h.db.QueryRowContext(r.Context(),
				"SELECT 1 FROM information_schema.tables WHERE table_name='queue_items'").Scan(&one)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus summarizes the service state for dashboards.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts := h.pipe.CurrentOptions()
	type status struct {
		QueueDepth     int       `json:"queue_depth"`
		Paused         bool      `json:"paused"`
		PlayedCount    int       `json:"played_count"`
		BanFeedEntries int       `json:"ban_feed_entries"`
		BanFeedRefresh time.Time `json:"ban_feed_last_refresh"`
		UserQuota      int       `json:"user_quota"`
		RejectFlagged  bool      `json:"reject_flagged"`
		IgnorePlayed   bool      `json:"ignore_played"`
	}
	writeJSON(w, http.StatusOK, status{
		QueueDepth:     h.queue.Len(),
		Paused:         h.pipe.Paused(),
		PlayedCount:    len(h.queue.PlayedIDs()),
		BanFeedEntries: h.feed.Len(),
		BanFeedRefresh: h.feed.LastRefresh(),
		UserQuota:      opts.Quota,
		RejectFlagged:  opts.RejectFlagged,
		IgnorePlayed:   opts.IgnorePlayed,
	})
}
