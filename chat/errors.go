package chat

import "errors"

var errNoActiveChat = errors.New("video has no active live chat")
