// Package levelapi resolves level IDs to descriptive metadata using a
// GDBrowser-compatible HTTP API. Results are cached in Postgres with a TTL so
// repeated requests for popular levels do not hammer the upstream.
package levelapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/request-tender/telemetry"
)

// Difficulty is one of the eleven tiers a level can carry.
type Difficulty string

const (
	DifficultyAuto        Difficulty = "auto"
	DifficultyEasy        Difficulty = "easy"
	DifficultyNormal      Difficulty = "normal"
	DifficultyHard        Difficulty = "hard"
	DifficultyHarder      Difficulty = "harder"
	DifficultyInsane      Difficulty = "insane"
	DifficultyDemonEasy   Difficulty = "demon-easy"
	DifficultyDemonMedium Difficulty = "demon-medium"
	DifficultyDemonHard   Difficulty = "demon-hard"
	DifficultyDemonInsane Difficulty = "demon-insane"
	DifficultyDemonXtreme Difficulty = "demon-extreme"
)

// Length is the level length tier.
type Length string

const (
	LengthTiny   Length = "tiny"
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
	LengthXL     Length = "xl"
)

// Difficulties lists all tiers in ascending order.
func Difficulties() []Difficulty {
	return []Difficulty{
		DifficultyAuto, DifficultyEasy, DifficultyNormal, DifficultyHard,
		DifficultyHarder, DifficultyInsane, DifficultyDemonEasy,
		DifficultyDemonMedium, DifficultyDemonHard, DifficultyDemonInsane,
		DifficultyDemonXtreme,
	}
}

// Lengths lists all length tiers in ascending order.
func Lengths() []Length {
	return []Length{LengthTiny, LengthShort, LengthMedium, LengthLong, LengthXL}
}

// Metadata is the resolved description for a level ID. Fields are frozen at
// resolution time; queued items never re-fetch.
type Metadata struct {
	ID         string     `json:"level_id"`
	Name       string     `json:"level_name"`
	Author     string     `json:"author"`
	Song       string     `json:"song"`
	Difficulty Difficulty `json:"difficulty"`
	Length     Length     `json:"length"`
	Downloads  int        `json:"downloads"`
	Likes      int        `json:"likes"`
	Dislikes   int        `json:"dislikes"`
	Rated      bool       `json:"is_rated"`
	Disliked   bool       `json:"is_disliked"`
	Large      bool       `json:"is_large"`
}

// ErrNotFound is returned when the upstream confirms the level does not exist
// (deleted, private, or never existed).
var ErrNotFound = errors.New("level not found")

// largeObjectThreshold marks a level as "large" when its object count reaches it.
const largeObjectThreshold = 40000

// Client fetches level metadata with a DB-backed cache.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	DB         *sql.DB       // optional; nil disables caching
	TTL        time.Duration // cache freshness window
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return 24 * time.Hour
}

// Resolve returns metadata for the given level ID, consulting the cache first.
// A stale or missing cache entry triggers an upstream fetch; the result is
// written back best-effort.
func (c *Client) Resolve(ctx context.Context, id string) (*Metadata, error) {
	if id == "" {
		return nil, fmt.Errorf("level id empty")
	}
	if m := c.cached(ctx, id); m != nil {
		telemetry.MetadataCacheHit()
		return m, nil
	}
	telemetry.MetadataCacheMiss()

	start := time.Now()
	m, err := c.fetch(ctx, id)
	telemetry.ObserveMetadataFetch(time.Since(start))
	if err != nil {
		return nil, err
	}
	c.store(ctx, id, m)
	return m, nil
}

// cached returns a fresh cache entry or nil.
func (c *Client) cached(ctx context.Context, id string) *Metadata {
	if c.DB == nil {
		return nil
	}
	var payload string
	var cachedAt time.Time
	err := c.DB.QueryRowContext(ctx, `SELECT payload, cached_at FROM level_cache WHERE level_id=$1`, id).Scan(&payload, &cachedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("level cache read failed", slog.String("level_id", id), slog.Any("err", err))
		}
		return nil
	}
	if time.Since(cachedAt) > c.ttl() {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		slog.Warn("level cache entry corrupt", slog.String("level_id", id), slog.Any("err", err))
		return nil
	}
	return &m
}

func (c *Client) store(ctx context.Context, id string, m *Metadata) {
	if c.DB == nil {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	_, err = c.DB.ExecContext(ctx, `INSERT INTO level_cache (level_id, payload, cached_at) VALUES ($1,$2,NOW())
		ON CONFLICT (level_id) DO UPDATE SET payload=EXCLUDED.payload, cached_at=NOW()`, id, string(payload))
	if err != nil {
		slog.Warn("level cache write failed", slog.String("level_id", id), slog.Any("err", err))
	}
}

// ClearCache drops all cached entries.
func (c *Client) ClearCache(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	_, err := c.DB.ExecContext(ctx, `DELETE FROM level_cache`)
	return err
}

func (c *Client) fetch(ctx context.Context, id string) (*Metadata, error) {
	url := c.BaseURL + "/api/level/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("level fetch: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("level fetch: upstream status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("level fetch: read body: %w", err)
	}
	// The upstream answers a bare -1 for levels that do not exist.
	if bytes.Equal(bytes.TrimSpace(body), []byte("-1")) {
		return nil, ErrNotFound
	}
	var raw apiLevel
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("level fetch: decode: %w", err)
	}
	if len(raw.Error) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Error), []byte("null")) {
		return nil, ErrNotFound
	}
	return parseLevel(id, &raw), nil
}

// apiLevel mirrors the subset of the upstream response we consume.
type apiLevel struct {
	ID              json.Number     `json:"id"`
	Name            string          `json:"name"`
	Author          string          `json:"author"`
	Difficulty      int             `json:"difficulty"`
	IsDemon         bool            `json:"isDemon"`
	DemonDifficulty int             `json:"demonDifficulty"`
	Length          int             `json:"length"`
	Stars           int             `json:"stars"`
	Featured        bool            `json:"featured"`
	Epic            bool            `json:"epic"`
	Downloads       int             `json:"downloads"`
	Likes           int             `json:"likes"`
	Dislikes        int             `json:"dislikes"`
	Objects         int             `json:"objects"`
	SongName        string          `json:"songName"`
	CustomSong      *apiCustomSong  `json:"customSong"`
	Error           json.RawMessage `json:"error"`
}

type apiCustomSong struct {
	Name string `json:"name"`
}

func parseLevel(id string, raw *apiLevel) *Metadata {
	m := &Metadata{
		ID:        id,
		Name:      raw.Name,
		Author:    raw.Author,
		Song:      "Unknown",
		Downloads: raw.Downloads,
		Likes:     raw.Likes,
		Dislikes:  raw.Dislikes,
	}
	if m.Name == "" {
		m.Name = "Unknown"
	}
	if m.Author == "" {
		m.Author = "Unknown"
	}
	if raw.SongName != "" {
		m.Song = raw.SongName
	} else if raw.CustomSong != nil && raw.CustomSong.Name != "" {
		m.Song = raw.CustomSong.Name
	}
	m.Difficulty = parseDifficulty(raw)
	m.Length = parseLength(raw.Length)
	m.Rated = raw.Stars > 0 || raw.Featured || raw.Epic
	m.Disliked = raw.Dislikes > raw.Likes
	m.Large = raw.Objects >= largeObjectThreshold
	return m
}

func parseDifficulty(raw *apiLevel) Difficulty {
	if raw.IsDemon {
		switch raw.DemonDifficulty {
		case 3:
			return DifficultyDemonEasy
		case 4:
			return DifficultyDemonMedium
		case 5:
			return DifficultyDemonInsane
		case 6:
			return DifficultyDemonXtreme
		default:
			return DifficultyDemonHard
		}
	}
	switch raw.Difficulty {
	case 0:
		return DifficultyAuto
	case 10:
		return DifficultyEasy
	case 20:
		return DifficultyNormal
	case 30:
		return DifficultyHard
	case 40:
		return DifficultyHarder
	case 50:
		return DifficultyInsane
	default:
		return DifficultyNormal
	}
}

func parseLength(n int) Length {
	switch n {
	case 0:
		return LengthTiny
	case 1:
		return LengthShort
	case 2:
		return LengthMedium
	case 3:
		return LengthLong
	case 4:
		return LengthXL
	default:
		return LengthMedium
	}
}
