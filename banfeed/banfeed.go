// Package banfeed maintains the externally curated list of flagged level IDs.
// The feed is a JSON mapping from category (e.g. crash-trigger, nsfw) to
// entries of {level_id, note}. Refresh is best-effort: on any failure the last
// successfully fetched table stays in place, because a stale table is always
// preferable to blocking admissions.
package banfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/request-tender/telemetry"
)

// Entry is a single flagged level within a category.
type Entry struct {
	ID   string `json:"level_id"`
	Note string `json:"note"`
}

// Flag is the lookup result for a flagged level.
type Flag struct {
	Category string
	Note     string
}

// Reason renders the flag the way operators see it.
func (f Flag) Reason() string {
	note := f.Note
	if note == "" {
		note = "this level is banned"
	}
	return fmt.Sprintf("[%s] %s", f.Category, note)
}

// Feed holds the in-memory flagged-ID table.
type Feed struct {
	URL        string
	HTTPClient *http.Client

	mu        sync.RWMutex
	byID      map[string]Flag
	entries   int
	fetchedAt time.Time
}

func (f *Feed) http() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Refresh fetches the feed and atomically replaces the table. On failure the
// previous table is retained and the error returned for logging only.
func (f *Feed) Refresh(ctx context.Context) error {
	if f.URL == "" {
		return fmt.Errorf("ban feed url empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return err
	}
	resp, err := f.http().Do(req)
	if err != nil {
		return fmt.Errorf("ban feed fetch: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ban feed fetch: upstream status %d", resp.StatusCode)
	}
	var table map[string][]Entry
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return fmt.Errorf("ban feed decode: %w", err)
	}

	byID := make(map[string]Flag)
	n := 0
	for category, entries := range table {
		for _, e := range entries {
			if e.ID == "" {
				continue
			}
			// first category wins on duplicate IDs
			if _, ok := byID[e.ID]; !ok {
				byID[e.ID] = Flag{Category: category, Note: e.Note}
			}
			n++
		}
	}

	f.mu.Lock()
	f.byID = byID
	f.entries = n
	f.fetchedAt = time.Now().UTC()
	f.mu.Unlock()
	telemetry.SetBanFeedEntries(n)
	return nil
}

// Lookup reports whether the level ID is flagged. It never fails; absence of
// data simply means not flagged.
func (f *Feed) Lookup(id string) (Flag, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	flag, ok := f.byID[id]
	return flag, ok
}

// Len returns the number of flagged entries currently loaded.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entries
}

// LastRefresh returns when the table was last successfully replaced, zero if never.
func (f *Feed) LastRefresh() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fetchedAt
}

// StartRefresher refreshes immediately and then on every tick until ctx is
// cancelled. Failures are logged and counted but never propagate.
func (f *Feed) StartRefresher(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Minute
	}
	refresh := func() {
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := f.Refresh(rctx); err != nil {
			telemetry.BanFeedRefreshFailed()
			slog.Warn("ban feed refresh failed; keeping previous table", slog.Any("err", err), slog.Int("entries", f.Len()))
			return
		}
		slog.Info("ban feed refreshed", slog.Int("entries", f.Len()))
	}
	refresh()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
