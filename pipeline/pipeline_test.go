package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/request-tender/automod"
	"github.com/onnwee/request-tender/levelapi"
	"github.com/onnwee/request-tender/queue"
	"github.com/onnwee/request-tender/testutil"
)

// newTestPipeline wires a pipeline with permissive rate limits so tests can
// submit repeatedly without tripping the guard.
func newTestPipeline(opts Options) (*Pipeline, *testutil.StubResolver, *testutil.StubFlags) {
	resolver := testutil.NewStubResolver()
	flags := testutil.NewStubFlags()
	guard := automod.NewGuard(time.Nanosecond, time.Minute, 100)
	p := New(queue.New(nil), automod.NewDenyList(nil), guard, flags, resolver, opts)
	return p, resolver, flags
}

func submit(t *testing.T, p *Pipeline, id, requester, platform string) Result {
	t.Helper()
	return p.Submit(context.Background(), SubmitEvent{ID: id, Requester: requester, Platform: platform})
}

func TestSubmitAdmits(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{})
	resolver.Add(testutil.Level("128", "Stereo Madness", "robtop"))

	res := submit(t, p, "128", "alice", PlatformTwitch)
	if !res.Admitted() {
		t.Fatalf("expected admission, got %+v", res)
	}
	if res.Item == nil || res.Item.Name != "Stereo Madness" || res.Item.Requester != "alice" {
		t.Errorf("admitted item = %+v", res.Item)
	}
	if p.Queue().Len() != 1 {
		t.Errorf("queue len = %d, want 1", p.Queue().Len())
	}
	if p.Count(Key("alice", PlatformTwitch)) != 1 {
		t.Errorf("count = %d, want 1", p.Count(Key("alice", PlatformTwitch)))
	}
}

func TestSubmitPaused(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{})
	resolver.Add(testutil.Level("1", "A", "x"))

	p.Pause()
	if res := submit(t, p, "1", "alice", PlatformTwitch); res.Code != CodePaused {
		t.Errorf("code = %s, want paused", res.Code)
	}
	p.Resume()
	if res := submit(t, p, "1", "alice", PlatformTwitch); !res.Admitted() {
		t.Errorf("after resume, got %+v", res)
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{})
	resolver.Add(testutil.Level("7", "A", "x"))

	submit(t, p, "7", "alice", PlatformTwitch)
	res := submit(t, p, "7", "bob", PlatformTwitch)
	if res.Code != CodeAlreadyQueued {
		t.Errorf("code = %s, want already_queued", res.Code)
	}
}

// slowResolver lets two submissions of the same ID pass the pre-checks before
// either commits, forcing the race onto the commit-time re-check.
type slowResolver struct {
	meta    *levelapi.Metadata
	barrier *sync.WaitGroup
}

func (r *slowResolver) Resolve(context.Context, string) (*levelapi.Metadata, error) {
	r.barrier.Done()
	r.barrier.Wait()
	cp := *r.meta
	return &cp, nil
}

func TestSubmitConcurrentDuplicateAdmitsOnce(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	resolver := &slowResolver{meta: testutil.Level("9", "Race", "x"), barrier: &barrier}
	guard := automod.NewGuard(time.Nanosecond, time.Minute, 100)
	p := New(queue.New(nil), automod.NewDenyList(nil), guard, testutil.NewStubFlags(), resolver, Options{})

	results := make(chan Result, 2)
	for _, user := range []string{"alice", "bob"} {
		go func(u string) {
			results <- p.Submit(context.Background(), SubmitEvent{ID: "9", Requester: u, Platform: PlatformTwitch})
		}(user)
	}

	admitted, duped := 0, 0
	for i := 0; i < 2; i++ {
		switch r := <-results; r.Code {
		case CodeAdmitted:
			admitted++
		case CodeAlreadyQueued:
			duped++
		default:
			t.Fatalf("unexpected code %s", r.Code)
		}
	}
	if admitted != 1 || duped != 1 {
		t.Errorf("admitted=%d duped=%d, want exactly one of each", admitted, duped)
	}
	if p.Queue().Len() != 1 {
		t.Errorf("queue len = %d, want 1", p.Queue().Len())
	}
}

func TestSubmitDenyListChecks(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{})
	resolver.Add(testutil.Level("1", "A", "badauthor"))
	resolver.Add(testutil.Level("2", "B", "goodauthor"))
	resolver.Add(testutil.Level("3", "C", "goodauthor"))
	ctx := context.Background()

	_ = p.DenyList().Add(ctx, automod.DenyRequester, Key("troll", PlatformTwitch))
	_ = p.DenyList().Add(ctx, automod.DenyCreator, "BadAuthor")
	_ = p.DenyList().Add(ctx, automod.DenyID, "3")

	if res := submit(t, p, "2", "troll", PlatformTwitch); res.Code != CodeRequesterBanned {
		t.Errorf("banned requester: code = %s", res.Code)
	}
	// Requester bans are platform-scoped.
	if res := submit(t, p, "2", "troll", PlatformYouTube); !res.Admitted() {
		t.Errorf("same name on youtube should pass, got %+v", res)
	}
	if res := submit(t, p, "1", "alice", PlatformTwitch); res.Code != CodeCreatorBanned {
		t.Errorf("banned creator: code = %s", res.Code)
	}
	if res := submit(t, p, "3", "alice", PlatformTwitch); res.Code != CodeIDBanned {
		t.Errorf("banned id: code = %s", res.Code)
	}
}

func TestSubmitQuota(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{Quota: 2})
	for _, id := range []string{"1", "2", "3", "4"} {
		resolver.Add(testutil.Level(id, "L"+id, "x"))
	}

	submit(t, p, "1", "alice", PlatformTwitch)
	submit(t, p, "2", "alice", PlatformTwitch)
	if res := submit(t, p, "3", "alice", PlatformTwitch); res.Code != CodeQuotaExceeded {
		t.Fatalf("third submission: code = %s, want quota_exceeded", res.Code)
	}

	// Removal frees a slot: quota counts live items, not lifetime submissions.
	p.Delete(DeleteEvent{Requester: "alice", Platform: PlatformTwitch})
	if res := submit(t, p, "3", "alice", PlatformTwitch); !res.Admitted() {
		t.Errorf("after delete, got %+v", res)
	}

	// Other users are unaffected.
	if res := submit(t, p, "4", "bob", PlatformTwitch); !res.Admitted() {
		t.Errorf("bob blocked by alice's quota: %+v", res)
	}
}

func TestSubmitQuotaZeroUnlimited(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{Quota: 0})
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		resolver.Add(testutil.Level(id, "L"+id, "x"))
		if res := submit(t, p, id, "alice", PlatformTwitch); !res.Admitted() {
			t.Fatalf("id %s: %+v", id, res)
		}
	}
}

func TestSubmitCooldown(t *testing.T) {
	resolver := testutil.NewStubResolver(testutil.Level("1", "A", "x"), testutil.Level("2", "B", "x"))
	guard := automod.NewGuard(time.Hour, time.Minute, 100)
	p := New(queue.New(nil), automod.NewDenyList(nil), guard, testutil.NewStubFlags(), resolver, Options{})

	if res := submit(t, p, "1", "alice", PlatformTwitch); !res.Admitted() {
		t.Fatalf("first: %+v", res)
	}
	res := submit(t, p, "2", "alice", PlatformTwitch)
	if res.Code != CodeOnCooldown {
		t.Errorf("code = %s, want on_cooldown", res.Code)
	}
	if res.Reason == "" {
		t.Error("cooldown rejection should say how long remains")
	}
}

func TestSubmitRejectionDoesNotStartCooldown(t *testing.T) {
	resolver := testutil.NewStubResolver(testutil.Level("1", "A", "x"))
	guard := automod.NewGuard(time.Hour, time.Minute, 100)
	p := New(queue.New(nil), automod.NewDenyList(nil), guard, testutil.NewStubFlags(), resolver, Options{})

	// Unknown level: rejected downstream of the guard, so no admission is
	// recorded and the next attempt is not on cooldown.
	if res := submit(t, p, "404", "alice", PlatformTwitch); res.Code != CodeNotFound {
		t.Fatalf("unknown level: %+v", res)
	}
	if res := submit(t, p, "1", "alice", PlatformTwitch); !res.Admitted() {
		t.Errorf("cooldown should only start on admission, got %+v", res)
	}
}

func TestSubmitSpam(t *testing.T) {
	resolver := testutil.NewStubResolver()
	guard := automod.NewGuard(time.Nanosecond, time.Minute, 3)
	p := New(queue.New(nil), automod.NewDenyList(nil), guard, testutil.NewStubFlags(), resolver, Options{})

	// Repeated attempts at a nonexistent level: each rejection still counts.
	submit(t, p, "404", "alice", PlatformTwitch)
	submit(t, p, "404", "alice", PlatformTwitch)
	res := submit(t, p, "404", "alice", PlatformTwitch)
	if res.Code != CodeSpamDetected {
		t.Errorf("code = %s, want spam_detected", res.Code)
	}
}

func TestSubmitNotFound(t *testing.T) {
	p, _, _ := newTestPipeline(Options{})
	if res := submit(t, p, "404", "alice", PlatformTwitch); res.Code != CodeNotFound {
		t.Errorf("code = %s, want not_found", res.Code)
	}
	if p.Queue().Len() != 0 {
		t.Error("nothing should be queued")
	}
}

func TestSubmitAlreadyPlayed(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{IgnorePlayed: true})
	resolver.Add(testutil.Level("5", "A", "x"))

	submit(t, p, "5", "alice", PlatformTwitch)
	p.MarkPlayed("5")

	if res := submit(t, p, "5", "alice", PlatformTwitch); res.Code != CodeAlreadyPlayed {
		t.Fatalf("code = %s, want already_played", res.Code)
	}

	// With the knob off, replays are allowed.
	p.ApplyOptions(Options{IgnorePlayed: false})
	if res := submit(t, p, "5", "alice", PlatformTwitch); !res.Admitted() {
		t.Errorf("replay with ignore_played off: %+v", res)
	}
}

func TestSubmitFlagged(t *testing.T) {
	p, resolver, flags := newTestPipeline(Options{RejectFlagged: true})
	resolver.Add(testutil.Level("66", "Sketchy", "x"))
	flags.FlagLevel("66", "stolen", "reuploaded without credit")

	res := submit(t, p, "66", "alice", PlatformTwitch)
	if res.Code != CodeFlagged {
		t.Fatalf("code = %s, want flagged", res.Code)
	}
	if res.Reason == "" {
		t.Error("flag rejection should carry the feed's reason")
	}

	// Annotate-only mode admits the level but marks it for the overlay.
	p.ApplyOptions(Options{RejectFlagged: false})
	res = submit(t, p, "66", "alice", PlatformTwitch)
	if !res.Admitted() {
		t.Fatalf("annotate mode: %+v", res)
	}
	if !res.Item.Flagged || res.Item.FlagNote == "" {
		t.Errorf("admitted item should carry the flag annotation, got %+v", res.Item)
	}
}

func TestSubmitFiltered(t *testing.T) {
	filters, err := automod.NewFilterPolicy([]string{"tiny"}, nil, false, automod.RatedAny, false)
	if err != nil {
		t.Fatal(err)
	}
	p, resolver, _ := newTestPipeline(Options{Filters: filters})
	resolver.Add(testutil.Level("1", "A", "x")) // medium length

	res := submit(t, p, "1", "alice", PlatformTwitch)
	if res.Code != CodeFiltered {
		t.Errorf("code = %s, want filtered", res.Code)
	}
	if res.Reason == "" {
		t.Error("filter rejection should name the failing criterion")
	}
}

func TestDeleteRemovesMostRecent(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{})
	resolver.Add(testutil.Level("1", "A", "x"))
	resolver.Add(testutil.Level("2", "B", "x"))
	submit(t, p, "1", "alice", PlatformTwitch)
	submit(t, p, "2", "alice", PlatformTwitch)

	res := p.Delete(DeleteEvent{Requester: "Alice", Platform: PlatformTwitch})
	if res.Code != CodeRemoved || res.Item.ID != "2" {
		t.Fatalf("delete = %+v, want most recent item 2 (case-insensitive)", res)
	}
	if p.Count(Key("alice", PlatformTwitch)) != 1 {
		t.Errorf("count = %d after delete, want 1", p.Count(Key("alice", PlatformTwitch)))
	}

	p.Delete(DeleteEvent{Requester: "alice", Platform: PlatformTwitch})
	if res := p.Delete(DeleteEvent{Requester: "alice", Platform: PlatformTwitch}); res.Code != CodeNotFound {
		t.Errorf("empty delete = %+v, want not_found", res)
	}
}

func TestBanEvictsAndDecrements(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{Quota: 5})
	resolver.Add(testutil.Level("1", "A", "evil"))
	resolver.Add(testutil.Level("2", "B", "evil"))
	resolver.Add(testutil.Level("3", "C", "nice"))
	submit(t, p, "1", "alice", PlatformTwitch)
	submit(t, p, "2", "bob", PlatformTwitch)
	submit(t, p, "3", "alice", PlatformTwitch)

	if err := p.Ban(context.Background(), automod.DenyCreator, "Evil"); err != nil {
		t.Fatal(err)
	}
	if p.Queue().Len() != 1 {
		t.Errorf("queue len = %d after creator ban, want 1", p.Queue().Len())
	}
	if p.Count(Key("alice", PlatformTwitch)) != 1 {
		t.Errorf("alice count = %d, want 1", p.Count(Key("alice", PlatformTwitch)))
	}
	if p.Count(Key("bob", PlatformTwitch)) != 0 {
		t.Errorf("bob count = %d, want 0", p.Count(Key("bob", PlatformTwitch)))
	}

	// New submissions from the banned creator are rejected.
	resolver.Add(testutil.Level("4", "D", "evil"))
	if res := submit(t, p, "4", "carol", PlatformTwitch); res.Code != CodeCreatorBanned {
		t.Errorf("post-ban submission: code = %s", res.Code)
	}

	if err := p.Unban(context.Background(), automod.DenyCreator, "evil"); err != nil {
		t.Fatal(err)
	}
	if res := submit(t, p, "4", "carol", PlatformTwitch); !res.Admitted() {
		t.Errorf("post-unban submission: %+v", res)
	}
}

func TestBanRequesterEvictsTheirItems(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{})
	resolver.Add(testutil.Level("1", "A", "x"))
	resolver.Add(testutil.Level("2", "B", "x"))
	submit(t, p, "1", "troll", PlatformTwitch)
	submit(t, p, "2", "alice", PlatformTwitch)

	if err := p.Ban(context.Background(), automod.DenyRequester, Key("troll", PlatformTwitch)); err != nil {
		t.Fatal(err)
	}
	snap := p.Queue().Snapshot()
	if len(snap) != 1 || snap[0].ID != "2" {
		t.Errorf("snapshot after ban = %v", snap)
	}
}

func TestSkipAndMarkPlayedDecrement(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{Quota: 1})
	resolver.Add(testutil.Level("1", "A", "x"))
	resolver.Add(testutil.Level("2", "B", "x"))

	submit(t, p, "1", "alice", PlatformTwitch)
	if !p.Skip("1") {
		t.Fatal("skip of queued item should succeed")
	}
	if p.Skip("1") {
		t.Error("second skip should report false")
	}
	// Slot freed by the skip.
	if res := submit(t, p, "2", "alice", PlatformTwitch); !res.Admitted() {
		t.Fatalf("after skip: %+v", res)
	}
	if !p.MarkPlayed("2") {
		t.Fatal("mark played should succeed")
	}
	if p.Count(Key("alice", PlatformTwitch)) != 0 {
		t.Errorf("count = %d, want 0", p.Count(Key("alice", PlatformTwitch)))
	}
	if !p.Queue().IsPlayed("2") {
		t.Error("played set missing entry")
	}

	p.ResetPlayed()
	if p.Queue().IsPlayed("2") {
		t.Error("reset should clear the played set")
	}
}

func TestClearResetsCounts(t *testing.T) {
	p, resolver, _ := newTestPipeline(Options{Quota: 1})
	resolver.Add(testutil.Level("1", "A", "x"))
	resolver.Add(testutil.Level("2", "B", "x"))
	submit(t, p, "1", "alice", PlatformTwitch)

	p.Clear()
	if p.Queue().Len() != 0 {
		t.Error("clear should empty the queue")
	}
	if res := submit(t, p, "2", "alice", PlatformTwitch); !res.Admitted() {
		t.Errorf("quota should reset with the queue, got %+v", res)
	}
}

func TestNewRebuildsCountsFromRestoredQueue(t *testing.T) {
	q := queue.New(nil)
	q.Restore([]queue.Item{
		{ID: "1", Requester: "Alice", Platform: PlatformTwitch},
		{ID: "2", Requester: "alice", Platform: PlatformTwitch},
		{ID: "3", Requester: "bob", Platform: PlatformYouTube},
	}, nil)
	guard := automod.NewGuard(time.Nanosecond, time.Minute, 100)
	p := New(q, automod.NewDenyList(nil), guard, testutil.NewStubFlags(), testutil.NewStubResolver(), Options{Quota: 2})

	if got := p.Count(Key("alice", PlatformTwitch)); got != 2 {
		t.Errorf("alice count = %d, want 2 (case-insensitive)", got)
	}
	if got := p.Count(Key("bob", PlatformYouTube)); got != 1 {
		t.Errorf("bob count = %d, want 1", got)
	}
}
