// Package chat contains the chat transport workers that feed the admission
// pipeline.
//
// It provides two entrypoints:
//   - StartTwitchWorker: connects to Twitch IRC for TWITCH_CHANNEL, parses
//     request commands from messages, submits them to the pipeline, and echoes
//     the outcome back into chat.
//   - StartYouTubeWorker: polls the live chat of YT_VIDEO_ID via the YouTube
//     Data API and submits parsed commands the same way. YouTube chat has no
//     bot reply path, so outcomes are only logged.
//
// Both workers are line protocol adapters: all admission decisions live in the
// pipeline package. Credentials: the IRC client requires a bot username and an
// OAuth token with chat:read/chat:edit scopes; the YouTube poller needs either
// an API key or an OAuth access token.
package chat
