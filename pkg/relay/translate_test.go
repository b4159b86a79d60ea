// Copyright 2024-2026 Aiku AI

package relay

import (
	"slices"
	"strings"
	"testing"

	"github.com/aiku/mattermost-irc-relay/pkg/ircfmt"
)

func TestFormatForIRC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		sender string
		body   string
		want   string
		ok     bool
	}{
		{"plain", "Alice", "hello", "<Alice> hello", true},
		{"bold", "Alice", "**hi**", "<Alice> \x02hi\x02", true},
		{"multiline", "Alice", "a\n\nb  ", "<Alice> a\n<Alice> b", true},
		{"empty", "Alice", "", "", false},
		{"whitespace", "Alice", " \n\t ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := FormatForIRC(&RelayMessage{Sender: tt.sender, Body: tt.body})
			if ok != tt.ok || got != tt.want {
				t.Errorf("FormatForIRC(%q) = (%q, %v), want (%q, %v)", tt.body, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFormatForIRCLongBodyKeepsSender(t *testing.T) {
	t.Parallel()
	body := strings.TrimSpace(strings.Repeat("word ", 120))
	got, ok := FormatForIRC(&RelayMessage{Sender: "Alice", Body: body + "\nshort"})
	if !ok {
		t.Fatal("FormatForIRC returned nothing")
	}
	lines := strings.Split(got, "\n")
	if len(lines) < 3 {
		t.Fatalf("expected the long line to be split, got %d lines", len(lines))
	}
	var words []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "<Alice> ") {
			t.Errorf("line without sender: %q", line)
		}
		if len(line) > ircfmt.MaxLineBytes {
			t.Errorf("line over budget (%d bytes): %q", len(line), line)
		}
		words = append(words, strings.Fields(strings.TrimPrefix(line, "<Alice> "))...)
	}
	if want := append(strings.Fields(body), "short"); !slices.Equal(words, want) {
		t.Errorf("words changed by splitting: got %d words, want %d", len(words), len(want))
	}
	if wire := ircfmt.SplitLines(got, ircfmt.MaxLineBytes); !slices.Equal(wire, lines) {
		t.Errorf("session split changed the lines:\n%q\n%q", wire, lines)
	}
}

func TestFormatForIRCAttachments(t *testing.T) {
	t.Parallel()
	msg := &RelayMessage{
		Sender:      "Alice",
		Body:        "look",
		Attachments: []string{"https://mm.example/files/a_b_c", "https://mm.example/files/d"},
	}
	got, ok := FormatForIRC(msg)
	want := "<Alice> look\n<Alice> [attachments] https://mm.example/files/a_b_c https://mm.example/files/d"
	if !ok || got != want {
		t.Errorf("FormatForIRC = (%q, %v), want %q", got, ok, want)
	}

	msg.Body = ""
	got, ok = FormatForIRC(msg)
	if !ok || got != "<Alice> [attachments] https://mm.example/files/a_b_c https://mm.example/files/d" {
		t.Errorf("attachment-only message = (%q, %v)", got, ok)
	}
}

func TestPlatformIdentity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		nick    string
		address string
		multi   bool
		want    string
	}{
		{"bob", "irc.a.net", true, "bob [irc.a.net]"},
		{"bob", "irc.a.net", false, "bob"},
		{"  ", "irc.a.net", false, DefaultIRCNick},
		{"bob", "", true, "bob"},
	}
	for _, tt := range tests {
		if got := PlatformIdentity(tt.nick, tt.address, tt.multi); got != tt.want {
			t.Errorf("PlatformIdentity(%q, %q, %v) = %q, want %q", tt.nick, tt.address, tt.multi, got, tt.want)
		}
	}
}

func TestFormatForPlatform(t *testing.T) {
	t.Parallel()
	got, ok := FormatForPlatform(&RelayMessage{Body: "\x02loud\x02 words"})
	if !ok || got != "**loud** words" {
		t.Errorf("bold: got (%q, %v)", got, ok)
	}
	got, ok = FormatForPlatform(&RelayMessage{Body: "dances", Action: true})
	if !ok || got != "_dances_" {
		t.Errorf("action: got (%q, %v)", got, ok)
	}
	if _, ok := FormatForPlatform(&RelayMessage{Body: "\x02\x02 "}); ok {
		t.Error("formatting-only body should be dropped")
	}
}

func TestPlainPlatformText(t *testing.T) {
	t.Parallel()
	if got := PlainPlatformText("bob [irc.a.net]", "hi"); got != "**<bob [irc.a.net]>** hi" {
		t.Errorf("PlainPlatformText: got %q", got)
	}
}

func TestQuitNotice(t *testing.T) {
	t.Parallel()
	if got := QuitNotice("bob", ""); got != "🔌 **bob** left IRC" {
		t.Errorf("no reason: got %q", got)
	}
	if got := QuitNotice("bob", "\x02Quit\x02: bye"); got != "🔌 **bob** left IRC (Quit: bye)" {
		t.Errorf("with reason: got %q", got)
	}
}

func TestMentionsNeutralized(t *testing.T) {
	t.Parallel()
	const zw = "\u200b"

	got, ok := FormatForPlatform(&RelayMessage{Body: "@channel @all wake up, @alice"})
	if want := "@" + zw + "channel @" + zw + "all wake up, @" + zw + "alice"; !ok || got != want {
		t.Errorf("FormatForPlatform: got %q, want %q", got, want)
	}
	got, _ = FormatForPlatform(&RelayMessage{Body: "pings @here", Action: true})
	if want := "_pings @" + zw + "here_"; got != want {
		t.Errorf("action: got %q, want %q", got, want)
	}

	identity := PlatformIdentity("@here", "irc.a.net", true)
	if want := "@" + zw + "here [irc.a.net]"; identity != want {
		t.Errorf("PlatformIdentity: got %q, want %q", identity, want)
	}
	if got, want := PlainPlatformText(identity, "hi"), "**<@"+zw+"here [irc.a.net]>** hi"; got != want {
		t.Errorf("PlainPlatformText: got %q, want %q", got, want)
	}
	if got, want := QuitNotice("bob", "bye @channel"), "🔌 **bob** left IRC (bye @"+zw+"channel)"; got != want {
		t.Errorf("QuitNotice: got %q, want %q", got, want)
	}
	if once := NeutralizeMentions("@all"); NeutralizeMentions(once) != once {
		t.Errorf("NeutralizeMentions is not idempotent: %q", NeutralizeMentions(once))
	}
}
