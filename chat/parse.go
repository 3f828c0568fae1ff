package chat

import (
	"regexp"
	"strings"
)

// CommandKind classifies a parsed chat line.
type CommandKind int

const (
	KindNone CommandKind = iota
	KindSubmit
	KindDelete
)

// Command is a parsed request command.
type Command struct {
	Kind CommandKind
	ID   string
}

var leadingDigits = regexp.MustCompile(`^[0-9]+`)

// ParseCommand interprets a chat line against the configured request prefix.
// "<prefix> <digits>" submits the level (trailing non-digit characters after
// the digits are stripped), the bare prefix deletes the sender's most recent
// queued item, and anything else, including a submit argument with no leading
// digits, parses to KindNone.
func ParseCommand(prefix, message string) Command {
	msg := strings.TrimSpace(message)
	if msg == "" || prefix == "" {
		return Command{Kind: KindNone}
	}

	if len(msg) < len(prefix) || !strings.EqualFold(msg[:len(prefix)], prefix) {
		return Command{Kind: KindNone}
	}
	rest := msg[len(prefix):]
	if rest == "" {
		return Command{Kind: KindDelete}
	}
	// Reject things like "!poster": the prefix must end at a word boundary.
	if rest[0] != ' ' && rest[0] != '\t' {
		return Command{Kind: KindNone}
	}

	arg := strings.Fields(rest)
	if len(arg) == 0 {
		return Command{Kind: KindDelete}
	}
	id := leadingDigits.FindString(arg[0])
	if id == "" {
		return Command{Kind: KindNone}
	}
	return Command{Kind: KindSubmit, ID: id}
}
