package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/request-tender/automod"
	"github.com/onnwee/request-tender/db"
	"github.com/onnwee/request-tender/pipeline"
)

// HandleAdminPause closes the queue to new submissions.
func (h *Handlers) HandleAdminPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.pipe.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

// HandleAdminResume reopens the queue.
func (h *Handlers) HandleAdminResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.pipe.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

// HandleAdminSkip removes a level from the queue without marking it played.
func (h *Handlers) HandleAdminSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	removed := h.pipe.Skip(id)
	writeJSON(w, http.StatusOK, map[string]any{"level_id": id, "removed": removed})
}

// HandleAdminPlayed marks a level as played for the session.
func (h *Handlers) HandleAdminPlayed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	removed := h.pipe.MarkPlayed(id)
	writeJSON(w, http.StatusOK, map[string]any{"level_id": id, "removed_from_queue": removed})
}

// HandleAdminPlayedReset clears the session played set.
func (h *Handlers) HandleAdminPlayedReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.pipe.ResetPlayed()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleAdminQueueClear empties the queue and resets per-user counts.
func (h *Handlers) HandleAdminQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.pipe.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleAdminBans lists, adds, or removes deny-list entries. Adding a ban
// also evicts matching queued items.
func (h *Handlers) HandleAdminBans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.pipe.DenyList().Entries())
	case http.MethodPost, http.MethodDelete:
		var body struct {
			Kind  string `json:"kind"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		kind, err := automod.ParseDenyKind(body.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Value == "" {
			http.Error(w, "missing value", http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPost {
			err = h.pipe.Ban(r.Context(), kind, body.Value)
		} else {
			err = h.pipe.Unban(r.Context(), kind, body.Value)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "value": body.Value})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminCacheClear drops all cached level metadata.
func (h *Handlers) HandleAdminCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.cache.ClearCache(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// optionsPayload is the JSON shape of the runtime-tunable admission options.
type optionsPayload struct {
	UserQuota           int      `json:"user_quota"`
	RejectFlagged       bool     `json:"reject_flagged"`
	IgnorePlayed        bool     `json:"ignore_played"`
	FilterDisliked      bool     `json:"filter_disliked"`
	FilterLarge         bool     `json:"filter_large"`
	RatedFilter         string   `json:"rated_filter"`
	AllowedLengths      []string `json:"allowed_lengths"`
	AllowedDifficulties []string `json:"allowed_difficulties"`
}

const optionsKVKey = "cfg:options"

// HandleAdminConfig reads (GET) or replaces (POST) the runtime admission
// options. Posted options are persisted to the kv table so they survive
// restarts.
func (h *Handlers) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		opts := h.pipe.CurrentOptions()
		writeJSON(w, http.StatusOK, optionsPayload{
			UserQuota:           opts.Quota,
			RejectFlagged:       opts.RejectFlagged,
			IgnorePlayed:        opts.IgnorePlayed,
			FilterDisliked:      opts.Filters.RejectDisliked,
			FilterLarge:         opts.Filters.RejectLarge,
			RatedFilter:         string(opts.Filters.Rated),
			AllowedLengths:      opts.Filters.LengthNames(),
			AllowedDifficulties: opts.Filters.DifficultyNames(),
		})
	case http.MethodPost:
		var body optionsPayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		opts, err := optionsFromPayload(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.pipe.ApplyOptions(opts)
		raw, _ := json.Marshal(body)
		if err := db.SetKV(r.Context(), h.db, optionsKVKey, string(raw)); err != nil {
			slog.Warn("failed to persist options", slog.Any("err", err))
		}
		writeJSON(w, http.StatusOK, body)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// optionsFromPayload validates and converts the wire shape into pipeline options.
func optionsFromPayload(p optionsPayload) (pipeline.Options, error) {
	rated, err := automod.ParseRatedMode(p.RatedFilter)
	if err != nil {
		return pipeline.Options{}, err
	}
	filters, err := automod.NewFilterPolicy(p.AllowedLengths, p.AllowedDifficulties, p.FilterDisliked, rated, p.FilterLarge)
	if err != nil {
		return pipeline.Options{}, err
	}
	if p.UserQuota < 0 {
		p.UserQuota = 0
	}
	return pipeline.Options{
		Quota:         p.UserQuota,
		RejectFlagged: p.RejectFlagged,
		IgnorePlayed:  p.IgnorePlayed,
		Filters:       filters,
	}, nil
}

// RestoreOptions applies options previously persisted by HandleAdminConfig.
// Missing or malformed saved options leave the defaults untouched.
func RestoreOptions(ctx context.Context, dbx *sql.DB, pipe *pipeline.Pipeline) {
	raw, err := db.GetKV(ctx, dbx, optionsKVKey)
	if err != nil || raw == "" {
		return
	}
	var body optionsPayload
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		slog.Warn("ignoring malformed persisted options", slog.Any("err", err))
		return
	}
	opts, err := optionsFromPayload(body)
	if err != nil {
		slog.Warn("ignoring invalid persisted options", slog.Any("err", err))
		return
	}
	pipe.ApplyOptions(opts)
	slog.Info("restored persisted admission options")
}
