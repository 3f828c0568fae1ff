package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/request-tender/automod"
	"github.com/onnwee/request-tender/queue"
)

// Ban adds a deny-list entry and evicts every matching queued item in one
// batch: exactly one queue-changed notification fires regardless of how many
// items fall, and each eviction decrements the owner's submission count.
// UI- and chat-triggered bans both land here; there is no other mutation path.
func (p *Pipeline) Ban(ctx context.Context, kind automod.DenyKind, value string) error {
	if err := p.deny.Add(ctx, kind, value); err != nil {
		return fmt.Errorf("ban %s %q: %w", kind, value, err)
	}

	var pred func(queue.Item) bool
	switch kind {
	case automod.DenyRequester:
		pred = func(it queue.Item) bool { return it.RequesterKey() == value }
	case automod.DenyCreator:
		pred = func(it queue.Item) bool { return strings.EqualFold(it.Author, value) }
	case automod.DenyID:
		pred = func(it queue.Item) bool { return it.ID == value }
	default:
		return fmt.Errorf("unknown deny-list kind %q", kind)
	}

	p.mu.Lock()
	removed := p.queue.EvictWhere(pred)
	for _, it := range removed {
		p.decrement(it.RequesterKey())
	}
	p.mu.Unlock()

	if len(removed) > 0 {
		slog.Info("ban evicted queued items",
			slog.String("kind", string(kind)),
			slog.String("value", value),
			slog.Int("evicted", len(removed)))
	}
	return nil
}

// Unban removes a deny-list entry. No queue changes result.
func (p *Pipeline) Unban(ctx context.Context, kind automod.DenyKind, value string) error {
	if err := p.deny.Remove(ctx, kind, value); err != nil {
		return fmt.Errorf("unban %s %q: %w", kind, value, err)
	}
	return nil
}

// Skip removes a queued item without marking it played.
func (p *Pipeline) Skip(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.queue.RemoveByID(id)
	if !ok {
		return false
	}
	p.decrement(it.RequesterKey())
	return true
}

// MarkPlayed records the item as served and removes it from the queue.
func (p *Pipeline) MarkPlayed(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, removed := p.queue.MarkPlayed(id)
	if removed {
		p.decrement(it.RequesterKey())
	}
	return removed
}

// ResetPlayed clears the session played set.
func (p *Pipeline) ResetPlayed() {
	p.queue.ResetPlayed()
}

// Clear empties the queue and all submission counts.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Clear()
	p.counts = make(map[string]int)
}
