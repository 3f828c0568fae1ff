// Package pipeline implements the admission pipeline: the ordered
// check-and-commit procedure that decides, for every incoming chat event,
// whether a level enters the queue. All queue mutation funnels through this
// package: chat workers, the HTTP admin surface, and operator tooling share
// the same entry points, which keeps the single-writer discipline intact.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/request-tender/automod"
	"github.com/onnwee/request-tender/banfeed"
	"github.com/onnwee/request-tender/levelapi"
	"github.com/onnwee/request-tender/queue"
	"github.com/onnwee/request-tender/telemetry"
)

const (
	PlatformTwitch  = "twitch"
	PlatformYouTube = "youtube"
)

// Key builds the requester key used for all per-user bookkeeping.
func Key(requester, platform string) string {
	return strings.ToLower(requester) + "@" + platform
}

// SubmitEvent is a parsed submit command from a chat transport.
type SubmitEvent struct {
	ID        string
	Requester string
	Platform  string
}

// DeleteEvent asks to remove the sender's most recent queued item.
type DeleteEvent struct {
	Requester string
	Platform  string
}

// Code identifies the outcome of a pipeline operation.
type Code string

const (
	CodeAdmitted        Code = "admitted"
	CodeRemoved         Code = "removed"
	CodePaused          Code = "paused"
	CodeAlreadyQueued   Code = "already_queued"
	CodeRequesterBanned Code = "requester_banned"
	CodeIDBanned        Code = "id_banned"
	CodeCreatorBanned   Code = "creator_banned"
	CodeQuotaExceeded   Code = "quota_exceeded"
	CodeOnCooldown      Code = "on_cooldown"
	CodeSpamDetected    Code = "spam_detected"
	CodeNotFound        Code = "not_found"
	CodeAlreadyPlayed   Code = "already_played"
	CodeFlagged         Code = "flagged"
	CodeFiltered        Code = "filtered"
)

// Result is the synchronous outcome returned to the transport worker.
// Rejections are expected, frequent, non-exceptional outcomes; they are never
// surfaced as errors.
type Result struct {
	Code   Code
	Reason string
	Item   *queue.Item // set when Code is CodeAdmitted or CodeRemoved
}

// Admitted reports whether the submission entered the queue.
func (r Result) Admitted() bool { return r.Code == CodeAdmitted }

func reject(code Code, reason string) Result {
	telemetry.SubmissionRejected(string(code))
	return Result{Code: code, Reason: reason}
}

// Resolver is the metadata-cache collaborator.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*levelapi.Metadata, error)
}

// FlagLookup is the remote ban feed collaborator.
type FlagLookup interface {
	Lookup(id string) (banfeed.Flag, bool)
}

// Options carries the operator-tunable admission knobs. Update them at
// runtime through ApplyOptions; the rest of the pipeline's collaborators are
// fixed at construction.
type Options struct {
	Quota         int // per-requester concurrently-queued max; 0 = unlimited
	RejectFlagged bool
	IgnorePlayed  bool
	Filters       automod.FilterPolicy
}

// Pipeline orchestrates admission. It is the single writer for the queue,
// the deny list, the rate guard state, and the submission counts.
type Pipeline struct {
	queue    *queue.Queue
	deny     *automod.DenyList
	guard    *automod.Guard
	feed     FlagLookup
	resolver Resolver

	mu     sync.Mutex // guards counts, paused, opts, and commit ordering
	counts map[string]int
	paused bool
	opts   Options
}

// New wires a pipeline. Submission counts are rebuilt from the queue's
// current contents so a restored snapshot keeps quotas consistent.
func New(q *queue.Queue, deny *automod.DenyList, guard *automod.Guard, feed FlagLookup, resolver Resolver, opts Options) *Pipeline {
	p := &Pipeline{
		queue:    q,
		deny:     deny,
		guard:    guard,
		feed:     feed,
		resolver: resolver,
		counts:   make(map[string]int),
		opts:     opts,
	}
	for _, it := range q.Snapshot() {
		p.counts[it.RequesterKey()]++
	}
	return p
}

// Queue exposes the underlying queue for read-only observers.
func (p *Pipeline) Queue() *queue.Queue { return p.queue }

// DenyList exposes the deny list for read-only listing.
func (p *Pipeline) DenyList() *automod.DenyList { return p.deny }

// Pause stops intake; submissions are rejected immediately.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-opens intake.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Paused reports the intake state.
func (p *Pipeline) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// ApplyOptions swaps the admission knobs. Takes effect for the next
// submission; in-flight submissions keep the options they started with.
func (p *Pipeline) ApplyOptions(opts Options) {
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	slog.Info("pipeline options updated",
		slog.Int("quota", opts.Quota),
		slog.Bool("reject_flagged", opts.RejectFlagged),
		slog.Bool("ignore_played", opts.IgnorePlayed))
}

// CurrentOptions returns a copy of the active knobs.
func (p *Pipeline) CurrentOptions() Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts
}

// Count returns the live submission count for a requester key.
func (p *Pipeline) Count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[key]
}

// Submit runs the full admission sequence. Checks that need only local state
// run first under the lock; the metadata fetch happens with the lock
// released; the final commit re-validates uniqueness so two racing
// submissions of the same ID resolve to exactly one admission.
func (p *Pipeline) Submit(ctx context.Context, ev SubmitEvent) Result {
	ctx, span := telemetry.StartSpan(ctx, "pipeline", "submit",
		telemetry.LevelIDAttr(ev.ID), telemetry.PlatformAttr(ev.Platform))
	defer span.End()

	key := Key(ev.Requester, ev.Platform)
	now := time.Now().UTC()

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return reject(CodePaused, "queue is closed")
	}
	opts := p.opts
	if p.queue.Contains(ev.ID) {
		p.mu.Unlock()
		return reject(CodeAlreadyQueued, "level already in queue")
	}
	if p.deny.RequesterBanned(key) {
		p.mu.Unlock()
		return reject(CodeRequesterBanned, fmt.Sprintf("requester %s is banned", ev.Requester))
	}
	if p.deny.IDBanned(ev.ID) {
		p.mu.Unlock()
		return reject(CodeIDBanned, fmt.Sprintf("level %s is banned", ev.ID))
	}
	if opts.Quota > 0 && p.counts[key] >= opts.Quota {
		p.mu.Unlock()
		return reject(CodeQuotaExceeded, fmt.Sprintf("request limit of %d reached", opts.Quota))
	}
	rate := p.guard.Check(key, ev.ID, now)
	p.mu.Unlock()

	if rate.Spam {
		return reject(CodeSpamDetected, fmt.Sprintf("level %s submitted too many times", ev.ID))
	}
	if rate.OnCooldown {
		return reject(CodeOnCooldown, fmt.Sprintf("on cooldown for %d more seconds", int(rate.Remaining.Seconds())))
	}

	// The only blocking step; the queue lock is not held here.
	meta, err := p.resolver.Resolve(ctx, ev.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Debug("metadata resolution failed",
			slog.String("level_id", ev.ID),
			slog.String("class", levelapi.ClassifyFetchError(err).String()),
			slog.Any("err", err))
		return reject(CodeNotFound, fmt.Sprintf("level %s not found", ev.ID))
	}

	if p.deny.CreatorBanned(meta.Author) {
		return reject(CodeCreatorBanned, fmt.Sprintf("creator %s is banned", meta.Author))
	}
	if opts.IgnorePlayed && p.queue.IsPlayed(ev.ID) {
		return reject(CodeAlreadyPlayed, "level already played this session")
	}

	flag, flagged := p.feed.Lookup(ev.ID)
	if flagged && opts.RejectFlagged {
		return reject(CodeFlagged, flag.Reason())
	}
	if ok, reason := opts.Filters.Evaluate(meta); !ok {
		return reject(CodeFiltered, reason)
	}

	item := queue.Item{
		ID:          ev.ID,
		Name:        meta.Name,
		Author:      meta.Author,
		Song:        meta.Song,
		Difficulty:  meta.Difficulty,
		Length:      meta.Length,
		Downloads:   meta.Downloads,
		Likes:       meta.Likes,
		Rated:       meta.Rated,
		Disliked:    meta.Disliked,
		Large:       meta.Large,
		Requester:   ev.Requester,
		Platform:    ev.Platform,
		SubmittedAt: now,
	}
	if flagged {
		item.Flagged = true
		item.FlagNote = flag.Reason()
	}

	p.mu.Lock()
	// A racing duplicate may have committed while the fetch was outstanding.
	if !p.queue.Append(item) {
		p.mu.Unlock()
		return reject(CodeAlreadyQueued, "level already in queue")
	}
	p.counts[key]++
	p.guard.RecordAdmission(key, time.Now().UTC())
	p.mu.Unlock()

	telemetry.SubmissionAdmitted()
	telemetry.SetSpanSuccess(span)
	slog.Info("level admitted",
		slog.String("level_id", item.ID),
		slog.String("name", item.Name),
		slog.String("requester", key),
		slog.Bool("flagged", item.Flagged))
	return Result{Code: CodeAdmitted, Item: &item}
}

// Delete removes the sender's most recent queued item. A miss is a normal,
// non-erroring outcome since users invoke delete speculatively.
func (p *Pipeline) Delete(ev DeleteEvent) Result {
	key := Key(ev.Requester, ev.Platform)
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.queue.RemoveLastBy(key)
	if !ok {
		return Result{Code: CodeNotFound, Reason: "nothing queued to remove"}
	}
	p.decrement(key)
	slog.Info("level removed by requester", slog.String("level_id", it.ID), slog.String("requester", key))
	return Result{Code: CodeRemoved, Item: &it}
}

// decrement floors a submission count at zero. Called with p.mu held.
func (p *Pipeline) decrement(key string) {
	if p.counts[key] > 0 {
		p.counts[key]--
	}
}
