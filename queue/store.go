package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Store persists queue snapshots and the played set to Postgres. Items are
// stored as JSON records with stable field names so a snapshot plus the
// played-ID list reconstructs identical state, including order and attempts.
type Store struct {
	DB *sql.DB

	mu sync.Mutex // serializes writes so async saves cannot interleave

	// Async write-through saves carry a sequence number assigned under the
	// queue lock, so it follows mutation order. A save whose sequence is
	// older than the last persisted one is dropped instead of clobbering a
	// newer snapshot.
	queueSeq    atomic.Uint64
	playedSeq   atomic.Uint64
	queueSaved  uint64 // guarded by mu
	playedSaved uint64 // guarded by mu
}

// SaveQueue replaces the persisted snapshot with the given items in order.
func (s *Store) SaveQueue(ctx context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeQueue(ctx, items)
}

// writeQueue performs the snapshot write. Callers hold s.mu.
func (s *Store) writeQueue(ctx context.Context, items []Item) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save queue: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save queue: clear: %w", err)
	}
	for i, it := range items {
		payload, err := json.Marshal(it)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save queue: marshal %s: %w", it.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO queue_items (position, level_id, payload, updated_at) VALUES ($1,$2,$3,NOW())`, i, it.ID, string(payload)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save queue: insert %s: %w", it.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save queue: commit: %w", err)
	}
	return nil
}

// LoadQueue returns the persisted snapshot in order.
func (s *Store) LoadQueue(ctx context.Context) ([]Item, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT payload FROM queue_items ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var items []Item
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("load queue: %w", err)
		}
		var it Item
		if err := json.Unmarshal([]byte(payload), &it); err != nil {
			return nil, fmt.Errorf("load queue: decode: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SavePlayed replaces the persisted played-ID list.
func (s *Store) SavePlayed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePlayed(ctx, ids)
}

// writePlayed performs the played-list write. Callers hold s.mu.
func (s *Store) writePlayed(ctx context.Context, ids []string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save played: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM played_levels`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save played: clear: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO played_levels (level_id, played_at) VALUES ($1,NOW()) ON CONFLICT (level_id) DO NOTHING`, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save played: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save played: commit: %w", err)
	}
	return nil
}

// LoadPlayed returns the persisted played-ID list.
func (s *Store) LoadPlayed(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT level_id FROM played_levels`)
	if err != nil {
		return nil, fmt.Errorf("load played: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("load played: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// saveQueueAsync persists a snapshot off the queue's lock. Best-effort; a
// failed write is picked up by the periodic snapshot job. Called with the
// queue lock held, which fixes the sequence order.
func (s *Store) saveQueueAsync(items []Item) {
	seq := s.queueSeq.Add(1)
	go s.saveQueueAt(seq, items)
}

func (s *Store) saveQueueAt(seq uint64, items []Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.queueSaved {
		return // a newer snapshot already landed
	}
	if err := s.writeQueue(ctx, items); err != nil {
		slog.Warn("queue snapshot write failed", slog.Any("err", err))
		return
	}
	s.queueSaved = seq
}

func (s *Store) savePlayedAsync(ids []string) {
	seq := s.playedSeq.Add(1)
	go s.savePlayedAt(seq, ids)
}

func (s *Store) savePlayedAt(seq uint64, ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.playedSaved {
		return
	}
	if err := s.writePlayed(ctx, ids); err != nil {
		slog.Warn("played snapshot write failed", slog.Any("err", err))
		return
	}
	s.playedSaved = seq
}

// StartSnapshotJob periodically re-persists queue and played state as a
// fallback for any write-through save that failed.
func StartSnapshotJob(ctx context.Context, q *Queue, s *Store, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.SaveQueue(sctx, q.Snapshot()); err != nil {
				slog.Warn("periodic queue snapshot failed", slog.Any("err", err))
			}
			if err := s.SavePlayed(sctx, q.PlayedIDs()); err != nil {
				slog.Warn("periodic played snapshot failed", slog.Any("err", err))
			}
			cancel()
		}
	}
}
