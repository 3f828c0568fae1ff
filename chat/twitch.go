package chat

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/request-tender/config"
	"github.com/onnwee/request-tender/pipeline"
)

// StartTwitchWorker connects to Twitch IRC and feeds parsed request commands
// into the pipeline. It blocks until ctx is cancelled. Missing credentials
// disable the worker rather than failing startup.
func StartTwitchWorker(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline) {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch creds not set; skipping twitch chat worker", slog.Any("reason", err))
		return
	}
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		cmd := ParseCommand(cfg.RequestPrefix, msg.Message)
		switch cmd.Kind {
		case KindSubmit:
			res := pipe.Submit(ctx, pipeline.SubmitEvent{
				ID:        cmd.ID,
				Requester: msg.User.Name,
				Platform:  pipeline.PlatformTwitch,
			})
			client.Say(cfg.TwitchChannel, FormatResult(msg.User.DisplayName, res))
		case KindDelete:
			res := pipe.Delete(pipeline.DeleteEvent{
				Requester: msg.User.Name,
				Platform:  pipeline.PlatformTwitch,
			})
			client.Say(cfg.TwitchChannel, FormatResult(msg.User.DisplayName, res))
		}
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(cfg.TwitchChannel)
	slog.Info("twitch chat worker connecting",
		slog.String("channel", cfg.TwitchChannel),
		slog.String("prefix", cfg.RequestPrefix))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
