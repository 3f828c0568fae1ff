// Package server exposes the HTTP API: health, status, metrics, the queue
// surface consumed by the overlay and frontend, and the admin surface. It
// includes permissive CORS for development and injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/onnwee/request-tender/banfeed"
	"github.com/onnwee/request-tender/config"
	"github.com/onnwee/request-tender/levelapi"
	"github.com/onnwee/request-tender/pipeline"
	"github.com/onnwee/request-tender/queue"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db          *sql.DB
	pipe        *pipeline.Pipeline
	queue       *queue.Queue
	feed        *banfeed.Feed
	cache       *levelapi.Client
	cfg         *config.Config
	overlayPage func() (string, error)
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, pipe *pipeline.Pipeline, feed *banfeed.Feed, cache *levelapi.Client, cfg *config.Config) *Handlers {
	return &Handlers{
		db:    db,
		pipe:  pipe,
		queue: pipe.Queue(),
		feed:  feed,
		cache: cache,
		cfg:   cfg,
		overlayPage: sync.OnceValues(func() (string, error) {
			return buildOverlayPage(cfg.OverlayTemplate)
		}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
