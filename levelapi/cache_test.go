package levelapi_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/request-tender/levelapi"
	"github.com/onnwee/request-tender/testutil"
)

func TestResolveCacheRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if _, err := database.Exec(`DELETE FROM level_cache`); err != nil {
		t.Fatal(err)
	}

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"id": 42, "name": "Cached", "author": "ca", "difficulty": 10, "length": 1, "stars": 2}`)
	}))
	t.Cleanup(srv.Close)

	c := &levelapi.Client{BaseURL: srv.URL, DB: database, TTL: time.Hour}
	ctx := context.Background()

	first, err := c.Resolve(ctx, "42")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := c.Resolve(ctx, "42")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1 (second lookup should be cached)", hits.Load())
	}
	if *first != *second {
		t.Errorf("cached metadata differs:\n got %+v\nwant %+v", second, first)
	}

	if err := c.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if _, err := c.Resolve(ctx, "42"); err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hit %d times after cache clear, want 2", hits.Load())
	}
}

func TestResolveCacheExpiry(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if _, err := database.Exec(`DELETE FROM level_cache`); err != nil {
		t.Fatal(err)
	}

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"id": 7, "name": "Stale", "author": "sa"}`)
	}))
	t.Cleanup(srv.Close)

	c := &levelapi.Client{BaseURL: srv.URL, DB: database, TTL: time.Nanosecond}
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := c.Resolve(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hit %d times, want 2 (entry past TTL must refetch)", hits.Load())
	}
}
