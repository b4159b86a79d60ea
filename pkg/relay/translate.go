// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"strings"

	"github.com/aiku/mattermost-irc-relay/pkg/ircfmt"
)

// DefaultIRCNick is used when an IRC sender has no usable nick.
const DefaultIRCNick = "IRC"

// minChunkBytes bounds the body share of a line for very long sender names.
const minChunkBytes = 64

// FormatForIRC renders a platform message as IRC text. The converted body is
// split into lines that fit ircfmt.MaxLineBytes together with their
// "<sender> " prefix, and every line carries that prefix. Attachment links
// follow on an "[attachments]" line. It returns false when nothing is left
// to send.
func FormatForIRC(msg *RelayMessage) (string, bool) {
	if msg == nil {
		return "", false
	}
	body := ircfmt.FromMarkdown(msg.Body)
	if len(msg.Attachments) > 0 {
		body += "\n[attachments] " + strings.Join(msg.Attachments, " ")
	}
	prefix := "<" + msg.Sender + "> "
	budget := max(ircfmt.MaxLineBytes-len(prefix), minChunkBytes)
	var lines []string
	for line := range strings.SplitSeq(body, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, chunk := range ircfmt.SplitLines(line, budget) {
			lines = append(lines, prefix+chunk)
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// mentionBreaker follows every "@" in text relayed from IRC so the platform
// never parses it as a user or group mention.
const mentionBreaker = "\u200b"

// NeutralizeMentions keeps text from pinging platform users. It inserts a
// zero-width space after every "@" and is idempotent.
func NeutralizeMentions(text string) string {
	text = strings.ReplaceAll(text, "@"+mentionBreaker, "@")
	return strings.ReplaceAll(text, "@", "@"+mentionBreaker)
}

// PlatformIdentity is the display identity of an IRC sender on the platform.
// The network address is only shown when more than one network is configured.
func PlatformIdentity(nick, networkAddress string, multiNetwork bool) string {
	nick = NeutralizeMentions(strings.TrimSpace(nick))
	if nick == "" {
		nick = DefaultIRCNick
	}
	if multiNetwork && networkAddress != "" {
		return fmt.Sprintf("%s [%s]", nick, networkAddress)
	}
	return nick
}

// FormatForPlatform converts an IRC message body to markdown with mentions
// neutralized. Action messages are rendered in italics. It returns false
// when nothing is left to send.
func FormatForPlatform(msg *RelayMessage) (string, bool) {
	if msg == nil {
		return "", false
	}
	body := strings.TrimSpace(ircfmt.ToMarkdown(msg.Body))
	if body == "" {
		return "", false
	}
	body = NeutralizeMentions(body)
	if msg.Action {
		body = "_" + body + "_"
	}
	return body, true
}

// PlainPlatformText is the fallback rendering used when a message cannot be
// posted under the sender's identity.
func PlainPlatformText(identity, body string) string {
	return fmt.Sprintf("**<%s>** %s", NeutralizeMentions(identity), body)
}

// QuitNotice renders an IRC user's departure for the platform.
func QuitNotice(identity, reason string) string {
	reason = NeutralizeMentions(strings.TrimSpace(ircfmt.StripCodes(reason)))
	if reason == "" {
		return fmt.Sprintf("🔌 **%s** left IRC", identity)
	}
	return fmt.Sprintf("🔌 **%s** left IRC (%s)", identity, reason)
}
