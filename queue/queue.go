// Package queue implements the ordered, deduplicated level queue, the
// session-scoped played set, and the change notifier that wakes the overlay
// and UI observers.
package queue

import (
	"strings"
	"sync"
	"time"

	"github.com/onnwee/request-tender/levelapi"
	"github.com/onnwee/request-tender/telemetry"
)

// Item is one admitted level request. Display fields are frozen at admission.
type Item struct {
	ID          string              `json:"level_id"`
	Name        string              `json:"level_name"`
	Author      string              `json:"author"`
	Song        string              `json:"song"`
	Difficulty  levelapi.Difficulty `json:"difficulty"`
	Length      levelapi.Length     `json:"length"`
	Downloads   int                 `json:"downloads"`
	Likes       int                 `json:"likes"`
	Rated       bool                `json:"is_rated"`
	Disliked    bool                `json:"is_disliked"`
	Large       bool                `json:"is_large"`
	Requester   string              `json:"requester"`
	Platform    string              `json:"platform"`
	SubmittedAt time.Time           `json:"timestamp"`
	Attempts    int                 `json:"attempts"`
	Flagged     bool                `json:"flagged,omitempty"`
	FlagNote    string              `json:"flag_note,omitempty"`
}

// RequesterKey is the identity used for all per-user bookkeeping. Requester
// names compare case-insensitively.
func (it Item) RequesterKey() string { return strings.ToLower(it.Requester) + "@" + it.Platform }

// Queue is the FIFO of admitted items plus the played set. All methods are
// safe for concurrent use; mutation ordering is the caller's (the admission
// pipeline's) responsibility.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	played   map[string]struct{}
	notifier *Notifier
	store    *Store // optional write-through persistence
}

// New returns an empty queue. store may be nil (tests, ephemeral runs).
func New(store *Store) *Queue {
	return &Queue{
		played:   make(map[string]struct{}),
		notifier: NewNotifier(),
		store:    store,
	}
}

// Notifier returns the queue-changed notifier for subscribers.
func (q *Queue) Notifier() *Notifier { return q.notifier }

// changed persists and signals after a mutation. Called with q.mu held.
func (q *Queue) changed() {
	telemetry.SetQueueDepth(len(q.items))
	if q.store != nil {
		q.store.saveQueueAsync(q.copyItems())
	}
	q.notifier.Notify()
}

func (q *Queue) copyItems() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Append adds an item unless its ID is already queued. Returns false on duplicate.
func (q *Queue) Append(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.items {
		if e.ID == it.ID {
			return false
		}
	}
	q.items = append(q.items, it)
	q.changed()
	return true
}

// Contains reports whether the ID is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.items {
		if e.ID == id {
			return true
		}
	}
	return false
}

// RemoveByID removes the item with the given ID. Removing an absent ID is a
// no-op, not an error.
func (q *Queue) RemoveByID(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.items {
		if e.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.changed()
			return e, true
		}
	}
	return Item{}, false
}

// RemoveLastBy removes the most recently queued item from the given requester
// key, scanning from the tail.
func (q *Queue) RemoveLastBy(key string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].RequesterKey() == key {
			it := q.items[i]
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.changed()
			return it, true
		}
	}
	return Item{}, false
}

// EvictWhere removes every item matching pred in one batch and emits exactly
// one change notification. Returns the removed items in queue order.
func (q *Queue) EvictWhere(pred func(Item) bool) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []Item
	kept := q.items[:0]
	for _, e := range q.items {
		if pred(e) {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	q.items = kept
	q.changed()
	return removed
}

// MarkPlayed removes the item and records its ID into the played set. From
// the caller's perspective this is atomic: observers never see the item gone
// but unplayed. Marking an absent or already-played ID is idempotent.
func (q *Queue) MarkPlayed(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.played[id] = struct{}{}
	if q.store != nil {
		q.store.savePlayedAsync(q.playedIDs())
	}
	for i, e := range q.items {
		if e.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.changed()
			return e, true
		}
	}
	q.notifier.Notify()
	return Item{}, false
}

// IsPlayed reports whether the ID was served this session.
func (q *Queue) IsPlayed(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.played[id]
	return ok
}

// ResetPlayed clears the played set. Operator action only.
func (q *Queue) ResetPlayed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.played = make(map[string]struct{})
	if q.store != nil {
		q.store.savePlayedAsync(nil)
	}
}

func (q *Queue) playedIDs() []string {
	ids := make([]string, 0, len(q.played))
	for id := range q.played {
		ids = append(ids, id)
	}
	return ids
}

// PlayedIDs returns a copy of the played set.
func (q *Queue) PlayedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playedIDs()
}

// IncrementAttempts bumps the retry counter on a queued item.
func (q *Queue) IncrementAttempts(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].Attempts++
			q.changed()
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the queue in order. Callers never observe
// in-flight mutation.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.copyItems()
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue (not the played set).
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items = nil
	q.changed()
}

// Restore replaces queue contents and played set, preserving order and
// attempts exactly. Used at startup before any worker runs.
func (q *Queue) Restore(items []Item, played []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]Item, len(items))
	copy(q.items, items)
	q.played = make(map[string]struct{}, len(played))
	for _, id := range played {
		q.played[id] = struct{}{}
	}
	telemetry.SetQueueDepth(len(q.items))
	q.notifier.Notify()
}
