// Package automod holds the moderation building blocks consulted by the
// admission pipeline: the deny-list store, the per-user rate/spam guard, and
// the metadata filter policy.
package automod

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DenyKind selects one of the three disjoint deny-list sets.
type DenyKind string

const (
	DenyRequester DenyKind = "requester"
	DenyCreator   DenyKind = "creator"
	DenyID        DenyKind = "id"
)

// ParseDenyKind validates a kind string from external input.
func ParseDenyKind(s string) (DenyKind, error) {
	switch DenyKind(s) {
	case DenyRequester, DenyCreator, DenyID:
		return DenyKind(s), nil
	}
	return "", fmt.Errorf("unknown deny-list kind %q", s)
}

// DenyList holds banned requester keys, creator names, and level IDs.
// Requester keys match exactly; creator names match case-insensitively.
// Mutations are persisted to the denylist_entries table when a DB is attached.
type DenyList struct {
	mu         sync.RWMutex
	requesters map[string]struct{}
	creators   map[string]struct{}
	ids        map[string]struct{}
	db         *sql.DB
}

// NewDenyList returns an empty deny list. db may be nil for tests.
func NewDenyList(db *sql.DB) *DenyList {
	return &DenyList{
		requesters: make(map[string]struct{}),
		creators:   make(map[string]struct{}),
		ids:        make(map[string]struct{}),
		db:         db,
	}
}

// Load replaces the in-memory sets from the database.
func (d *DenyList) Load(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	rows, err := d.db.QueryContext(ctx, `SELECT kind, value FROM denylist_entries`)
	if err != nil {
		return fmt.Errorf("load denylist: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	requesters := make(map[string]struct{})
	creators := make(map[string]struct{})
	ids := make(map[string]struct{})
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return fmt.Errorf("load denylist: %w", err)
		}
		switch DenyKind(kind) {
		case DenyRequester:
			requesters[value] = struct{}{}
		case DenyCreator:
			creators[strings.ToLower(value)] = struct{}{}
		case DenyID:
			ids[value] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load denylist: %w", err)
	}
	d.mu.Lock()
	d.requesters, d.creators, d.ids = requesters, creators, ids
	d.mu.Unlock()
	return nil
}

func (d *DenyList) set(kind DenyKind) map[string]struct{} {
	switch kind {
	case DenyRequester:
		return d.requesters
	case DenyCreator:
		return d.creators
	default:
		return d.ids
	}
}

func normalize(kind DenyKind, value string) string {
	if kind == DenyCreator {
		return strings.ToLower(value)
	}
	return value
}

// Add bans a value. Idempotent.
func (d *DenyList) Add(ctx context.Context, kind DenyKind, value string) error {
	value = normalize(kind, value)
	if value == "" {
		return fmt.Errorf("deny value empty")
	}
	d.mu.Lock()
	d.set(kind)[value] = struct{}{}
	d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO denylist_entries (kind, value, created_at) VALUES ($1,$2,NOW())
		ON CONFLICT (kind, value) DO NOTHING`, string(kind), value)
	if err != nil {
		return fmt.Errorf("persist denylist add: %w", err)
	}
	return nil
}

// Remove lifts a ban. Removing an absent value is a no-op.
func (d *DenyList) Remove(ctx context.Context, kind DenyKind, value string) error {
	value = normalize(kind, value)
	d.mu.Lock()
	delete(d.set(kind), value)
	d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	_, err := d.db.ExecContext(ctx, `DELETE FROM denylist_entries WHERE kind=$1 AND value=$2`, string(kind), value)
	if err != nil {
		return fmt.Errorf("persist denylist remove: %w", err)
	}
	return nil
}

// RequesterBanned reports whether a requester key is banned.
func (d *DenyList) RequesterBanned(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.requesters[key]
	return ok
}

// CreatorBanned reports whether a creator name is banned (case-insensitive).
func (d *DenyList) CreatorBanned(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.creators[strings.ToLower(name)]
	return ok
}

// IDBanned reports whether a level ID is banned.
func (d *DenyList) IDBanned(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[id]
	return ok
}

// Entries returns a copy of all three sets, keyed by kind.
func (d *DenyList) Entries() map[DenyKind][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[DenyKind][]string, 3)
	for kind, set := range map[DenyKind]map[string]struct{}{
		DenyRequester: d.requesters,
		DenyCreator:   d.creators,
		DenyID:        d.ids,
	} {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		out[kind] = values
	}
	return out
}
