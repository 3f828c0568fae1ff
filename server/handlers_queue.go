package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/request-tender/queue"
)

type queuePayload struct {
	Items  []queue.Item `json:"items"`
	Total  int          `json:"total"`
	Paused bool         `json:"paused"`
}

func (h *Handlers) queueSnapshot() queuePayload {
	items := h.queue.Snapshot()
	return queuePayload{Items: items, Total: len(items), Paused: h.pipe.Paused()}
}

// HandleQueue returns the current queue contents in order.
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.queueSnapshot())
}

// HandleQueueEvents streams queue snapshots over Server-Sent Events. An event
// is pushed immediately on connect and again on every queue change.
func (h *Handlers) HandleQueueEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.queue.Notifier().Subscribe()
	defer cancel()

	ctx := r.Context()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	send := func() bool {
		var buf bytes.Buffer
		buf.WriteString("data: ")
		if err := json.NewEncoder(&buf).Encode(h.queueSnapshot()); err != nil {
			return false
		}
		buf.WriteString("\n")
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Debug("sse write failed", slog.Any("err", err))
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if !send() {
				return
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleQueueDispatcher routes requests under /queue/{id}/* to sub-handlers.
func (h *Handlers) HandleQueueDispatcher(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/queue/")
	parts := strings.Split(path, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch {
	case id == "":
		http.NotFound(w, r)
	case tail == "attempts":
		h.handleAttempts(w, r, id)
	case tail == "report":
		h.handleReport(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// handleAttempts reads (GET) or increments (POST) the attempt counter of a
// queued level.
func (h *Handlers) handleAttempts(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		if !h.queue.IncrementAttempts(id) {
			http.Error(w, "level not in queue", http.StatusNotFound)
			return
		}
	case http.MethodGet:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	for _, it := range h.queue.Snapshot() {
		if it.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"level_id": id, "attempts": it.Attempts})
			return
		}
	}
	http.Error(w, "level not in queue", http.StatusNotFound)
}

// handleReport forwards a viewer report about a queued level to the
// configured upstream collector. Without REPORT_URL the endpoint is disabled.
func (h *Handlers) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.ReportURL == "" {
		http.Error(w, "reporting not configured", http.StatusServiceUnavailable)
		return
	}

	var item *queue.Item
	for _, it := range h.queue.Snapshot() {
		if it.ID == id {
			item = &it
			break
		}
	}
	if item == nil {
		http.Error(w, "level not in queue", http.StatusNotFound)
		return
	}

	var body struct {
		Reason   string `json:"reason"`
		Reporter string `json:"reporter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	report := map[string]any{
		"content_id":  id,
		"title":       item.Name,
		"creator":     item.Author,
		"reason":      body.Reason,
		"reporter":    body.Reporter,
		"reported_at": time.Now().UTC(),
	}
	payload, _ := json.Marshal(report)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.cfg.ReportURL, bytes.NewReader(payload))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Warn("report forward failed", slog.String("level_id", id), slog.Any("err", err))
		http.Error(w, "report forwarding failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("report collector rejected", slog.String("level_id", id), slog.Int("status", resp.StatusCode))
		http.Error(w, "report collector rejected", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "forwarded"})
}
