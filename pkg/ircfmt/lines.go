// Copyright 2024-2026 Aiku AI

package ircfmt

import (
	"strings"
	"unicode/utf8"
)

// MaxLineBytes is the outbound text budget per PRIVMSG line. It leaves room
// for the command, target and the server-added prefix within the 512-byte
// IRC line limit.
const MaxLineBytes = 400

const actionPrefix = "\x01ACTION "

// ParseAction unwraps a CTCP ACTION (/me) message.
func ParseAction(text string) (string, bool) {
	if !strings.HasPrefix(text, actionPrefix) {
		return text, false
	}
	return strings.TrimSuffix(strings.TrimPrefix(text, actionPrefix), "\x01"), true
}

// SplitLines splits text on newlines and then on the byte budget, preferring
// to break at spaces and never inside a UTF-8 sequence. Blank lines are
// dropped.
func SplitLines(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxLineBytes
	}
	var out []string
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for len(line) > limit {
			cut := strings.LastIndexByte(line[:limit+1], ' ')
			if cut <= 0 {
				cut = limit
				for cut > 0 && !utf8.RuneStart(line[cut]) {
					cut--
				}
				if cut == 0 {
					_, cut = utf8.DecodeRuneInString(line)
				}
			}
			if head := strings.TrimRight(line[:cut], " "); head != "" {
				out = append(out, head)
			}
			line = strings.TrimLeft(line[cut:], " ")
		}
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
