package chat

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/request-tender/config"
	"github.com/onnwee/request-tender/pipeline"
)

// StartYouTubeWorker polls the live chat of the configured video and feeds
// parsed request commands into the pipeline. It blocks until ctx is cancelled.
// Missing credentials disable the worker rather than failing startup.
func StartYouTubeWorker(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline) {
	if err := cfg.ValidateYouTubeReady(); err != nil {
		slog.Info("youtube creds not set; skipping youtube chat worker", slog.Any("reason", err))
		return
	}

	var opts []option.ClientOption
	if cfg.YTAPIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.YTAPIKey))
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.YTAccessToken})
		opts = append(opts, option.WithTokenSource(ts))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		slog.Error("youtube service init failed", slog.Any("err", err))
		return
	}

	chatID, err := liveChatID(ctx, svc, cfg.YTVideoID)
	if err != nil {
		slog.Error("youtube live chat lookup failed", slog.String("video_id", cfg.YTVideoID), slog.Any("err", err))
		return
	}

	slog.Info("youtube chat worker started",
		slog.String("video_id", cfg.YTVideoID),
		slog.String("prefix", cfg.RequestPrefix))

	var pageToken string
	primed := false // the first page is history; prime the cursor without replaying it
	wait := cfg.YTPollInterval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("youtube chat poll failed", slog.Any("err", err))
			wait = cfg.YTPollInterval
			continue
		}
		pageToken = resp.NextPageToken
		if d := time.Duration(resp.PollingIntervalMillis) * time.Millisecond; d > 0 {
			wait = d
		} else {
			wait = cfg.YTPollInterval
		}
		if !primed {
			primed = true
			continue
		}

		for _, m := range resp.Items {
			if m.Snippet == nil || m.AuthorDetails == nil {
				continue
			}
			handleYouTubeMessage(ctx, pipe, cfg.RequestPrefix, m.AuthorDetails.DisplayName, m.Snippet.DisplayMessage)
		}
	}
}

func handleYouTubeMessage(ctx context.Context, pipe *pipeline.Pipeline, prefix, author, text string) {
	cmd := ParseCommand(prefix, text)
	switch cmd.Kind {
	case KindSubmit:
		res := pipe.Submit(ctx, pipeline.SubmitEvent{
			ID:        cmd.ID,
			Requester: author,
			Platform:  pipeline.PlatformYouTube,
		})
		slog.Info("youtube submission handled",
			slog.String("level_id", cmd.ID),
			slog.String("author", author),
			slog.String("code", string(res.Code)))
	case KindDelete:
		res := pipe.Delete(pipeline.DeleteEvent{
			Requester: author,
			Platform:  pipeline.PlatformYouTube,
		})
		slog.Info("youtube delete handled",
			slog.String("author", author),
			slog.String("code", string(res.Code)))
	}
}

// liveChatID resolves the active live chat for a video.
func liveChatID(ctx context.Context, svc *yt.Service, videoID string) (string, error) {
	resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails == nil ||
		resp.Items[0].LiveStreamingDetails.ActiveLiveChatId == "" {
		return "", errNoActiveChat
	}
	return resp.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}
