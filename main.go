// Command request-tender is the main entrypoint for the level request queue
// service. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs idempotent migrations, and restores the
//     persisted queue snapshot and played set.
//   - Starts background jobs: chat workers (Twitch IRC, YouTube live chat),
//     the remote ban feed refresher, and the periodic queue snapshot job.
//   - Exposes an HTTP server with the queue API, SSE events, overlay,
//     admin endpoints, /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/request-tender/automod"
	"github.com/onnwee/request-tender/banfeed"
	"github.com/onnwee/request-tender/chat"
	"github.com/onnwee/request-tender/config"
	"github.com/onnwee/request-tender/db"
	"github.com/onnwee/request-tender/levelapi"
	"github.com/onnwee/request-tender/pipeline"
	"github.com/onnwee/request-tender/queue"
	"github.com/onnwee/request-tender/server"
	"github.com/onnwee/request-tender/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("request-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for backward compatibility
	//
	// New deployments use versioned migrations with proper version tracking.
	// Old deployments without schema_migrations table fall back to embedded SQL.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Queue: restore the persisted snapshot and played set before admitting
	// anything so quotas and duplicate checks see the pre-restart state.
	store := &queue.Store{DB: database}
	q := queue.New(store)
	items, err := store.LoadQueue(ctx)
	if err != nil {
		slog.Warn("queue snapshot load failed, starting empty", slog.Any("err", err))
	}
	played, err := store.LoadPlayed(ctx)
	if err != nil {
		slog.Warn("played set load failed, starting empty", slog.Any("err", err))
	}
	q.Restore(items, played)
	slog.Info("queue restored", slog.Int("items", len(items)), slog.Int("played", len(played)))

	// Deny list + rate guard
	deny := automod.NewDenyList(database)
	if err := deny.Load(ctx); err != nil {
		slog.Error("deny list load failed", slog.Any("err", err))
		os.Exit(1)
	}
	guard := automod.NewGuard(cfg.SubmitCooldown, cfg.SpamWindow, cfg.SpamThreshold)

	// Remote ban feed: refresh eagerly once, then on an interval. A failed
	// first refresh is tolerated; the feed stays empty until a fetch succeeds.
	feed := &banfeed.Feed{URL: cfg.BanFeedURL}
	if cfg.BanFeedURL != "" {
		if err := feed.Refresh(ctx); err != nil {
			slog.Warn("initial ban feed refresh failed", slog.Any("err", err))
		}
		go feed.StartRefresher(ctx, cfg.BanFeedRefresh)
	}

	// Level metadata resolver with DB-backed cache
	resolver := &levelapi.Client{BaseURL: cfg.LevelAPIBase, DB: database, TTL: cfg.LevelCacheTTL}

	// Admission pipeline
	rated, err := automod.ParseRatedMode(cfg.RatedFilter)
	if err != nil {
		slog.Error("invalid rated filter", slog.Any("err", err))
		os.Exit(1)
	}
	filters, err := automod.NewFilterPolicy(cfg.AllowedLengths, cfg.AllowedDifficulties, cfg.FilterDisliked, rated, cfg.FilterLarge)
	if err != nil {
		slog.Error("invalid filter policy", slog.Any("err", err))
		os.Exit(1)
	}
	pipe := pipeline.New(q, deny, guard, feed, resolver, pipeline.Options{
		Quota:         cfg.UserQuota,
		RejectFlagged: cfg.RejectFlagged,
		IgnorePlayed:  cfg.IgnorePlayed,
		Filters:       filters,
	})

	// Options persisted through the admin API override the env defaults.
	server.RestoreOptions(ctx, database, pipe)

	// Periodic queue snapshot
	go queue.StartSnapshotJob(ctx, q, store, cfg.SnapshotInterval)

	// Chat workers. Each validates its own config and returns immediately
	// when the platform is not configured. Tokens absent from the env fall
	// back to encrypted credentials stored through migrate-credentials.
	if cfg.TwitchOAuthToken == "" {
		if tok, _, _, _, err := db.GetCredential(ctx, database, "twitch"); err == nil && tok != "" {
			cfg.TwitchOAuthToken = tok
			slog.Info("twitch oauth token loaded from stored credentials")
		}
	}
	if cfg.YTAccessToken == "" && cfg.YTAPIKey == "" {
		if tok, _, _, _, err := db.GetCredential(ctx, database, "youtube"); err == nil && tok != "" {
			cfg.YTAccessToken = tok
			slog.Info("youtube access token loaded from stored credentials")
		}
	}
	go chat.StartTwitchWorker(ctx, cfg, pipe)
	go chat.StartYouTubeWorker(ctx, cfg, pipe)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (queue API, SSE, overlay, admin, health, metrics)
	h := server.NewHandlers(database, pipe, feed, resolver, cfg)
	go func() {
		if err := server.Start(ctx, h, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")

	// Final snapshot so a restart resumes from the freshest state.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := store.SaveQueue(saveCtx, q.Snapshot()); err != nil {
		slog.Error("final queue snapshot failed", slog.Any("err", err))
	}
	if err := store.SavePlayed(saveCtx, q.PlayedIDs()); err != nil {
		slog.Error("final played snapshot failed", slog.Any("err", err))
	}
}
