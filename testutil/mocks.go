package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/request-tender/banfeed"
	"github.com/onnwee/request-tender/levelapi"
)

// StubResolver serves canned level metadata keyed by level id, with optional
// per-id errors. It satisfies the admission pipeline's Resolver interface.
type StubResolver struct {
	Levels map[string]*levelapi.Metadata
	Errs   map[string]error
}

// NewStubResolver returns a resolver preloaded with the given levels.
func NewStubResolver(levels ...*levelapi.Metadata) *StubResolver {
	r := &StubResolver{Levels: make(map[string]*levelapi.Metadata), Errs: make(map[string]error)}
	for _, m := range levels {
		r.Levels[m.ID] = m
	}
	return r
}

// Add registers another level.
func (r *StubResolver) Add(m *levelapi.Metadata) { r.Levels[m.ID] = m }

// Fail makes lookups of id return err.
func (r *StubResolver) Fail(id string, err error) { r.Errs[id] = err }

// Resolve returns the canned metadata or levelapi.ErrNotFound.
func (r *StubResolver) Resolve(_ context.Context, id string) (*levelapi.Metadata, error) {
	if err, ok := r.Errs[id]; ok {
		return nil, err
	}
	if m, ok := r.Levels[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, levelapi.ErrNotFound
}

// Level builds minimal metadata for pipeline tests.
func Level(id, name, author string) *levelapi.Metadata {
	return &levelapi.Metadata{
		ID:         id,
		Name:       name,
		Author:     author,
		Difficulty: levelapi.DifficultyHarder,
		Length:     levelapi.LengthMedium,
	}
}

// StubFlags is an in-memory stand-in for the remote ban feed lookup.
type StubFlags struct {
	Flags map[string]banfeed.Flag
}

// NewStubFlags returns an empty flag table.
func NewStubFlags() *StubFlags {
	return &StubFlags{Flags: make(map[string]banfeed.Flag)}
}

// FlagLevel marks id as flagged under the given category.
func (s *StubFlags) FlagLevel(id, category, note string) {
	s.Flags[id] = banfeed.Flag{Category: category, Note: note}
}

// Lookup implements the pipeline's FlagLookup interface.
func (s *StubFlags) Lookup(id string) (banfeed.Flag, bool) {
	f, ok := s.Flags[id]
	return f, ok
}

// MockLevelServer serves fake level metadata in the upstream API's wire shape.
type MockLevelServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockLevelServer creates a test server answering /api/level/{id} requests.
// Unregistered ids get the upstream's bare "-1" not-found body.
func NewMockLevelServer(t *testing.T) *MockLevelServer {
	t.Helper()
	m := &MockLevelServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		_, _ = w.Write([]byte("-1"))
	}))
	t.Cleanup(m.Close)
	return m
}

// MockLevel registers a JSON response for one level id.
func (m *MockLevelServer) MockLevel(id string, body map[string]any) {
	m.Handlers["/api/level/"+id] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// MockBanFeed returns a test server serving a ban feed document of the wire
// shape {"category": [{"level_id": "...", "note": "..."}]}.
func MockBanFeed(t *testing.T, doc map[string][]banfeed.Entry) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc) //nolint:errcheck // test mock response
	}))
	t.Cleanup(srv.Close)
	return srv
}

// FailingBanFeed returns a test server that always errors, for fallback tests.
func FailingBanFeed(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}
