// Copyright 2024-2026 Aiku AI

// Package ircfmt converts between Mattermost markdown and IRC formatting codes.
package ircfmt

import (
	"regexp"
	"strconv"
	"strings"
)

// IRC formatting control characters.
const (
	Bold          = '\x02'
	Color         = '\x03'
	HexColor      = '\x04'
	Monospace     = '\x11'
	Reverse       = '\x16'
	Italic        = '\x1D'
	Strikethrough = '\x1E'
	Underline     = '\x1F'
	Reset         = '\x0F'
)

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldAltRe    = regexp.MustCompile(`\b__(.+?)__\b`)
	italicStarRe = regexp.MustCompile(`\*([^*\s][^*]*?)\*`)
	italicRe     = regexp.MustCompile(`\b_([^_]+?)_\b`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`\n]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`^(\s*)[-*+]\s+(.+)$`)
)

func placeholder(kind string, idx int) string {
	return "\x00" + kind + strconv.Itoa(idx) + "\x00"
}

// FromMarkdown converts Mattermost markdown to IRC-formatted text. Code spans
// are protected from inline conversion, links become "text (url)" and lines
// are kept as-is so the caller can split them.
func FromMarkdown(text string) string {
	if text == "" {
		return ""
	}

	// Step 1: Extract code blocks and inline code into placeholders.
	var blocks []string
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		blocks = append(blocks, strings.TrimRight(parts[2], "\n"))
		return placeholder("CODEBLOCK", len(blocks)-1)
	})
	var spans []string
	processed = codeRe.ReplaceAllStringFunc(processed, func(match string) string {
		spans = append(spans, codeRe.FindStringSubmatch(match)[1])
		return placeholder("CODE", len(spans)-1)
	})

	// Step 2: Line structure.
	lines := strings.Split(processed, "\n")
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			lines[i] = string(Bold) + m[2] + string(Bold)
			continue
		}
		if m := ulRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + "• " + m[2]
		}
	}
	processed = strings.Join(lines, "\n")

	// Step 3: Inline formatting.
	processed = boldRe.ReplaceAllString(processed, "\x02$1\x02")
	processed = boldAltRe.ReplaceAllString(processed, "\x02$1\x02")
	processed = italicStarRe.ReplaceAllString(processed, "\x1D$1\x1D")
	processed = italicRe.ReplaceAllString(processed, "\x1D$1\x1D")
	processed = strikeRe.ReplaceAllString(processed, "\x1E$1\x1E")
	processed = linkRe.ReplaceAllStringFunc(processed, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(href)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "mailto:") {
			return label
		}
		if label == href {
			return href
		}
		return label + " (" + href + ")"
	})

	// Step 4: Restore code.
	for i, span := range spans {
		processed = strings.Replace(processed, placeholder("CODE", i), string(Monospace)+span+string(Monospace), 1)
	}
	for i, block := range blocks {
		processed = strings.Replace(processed, placeholder("CODEBLOCK", i), block, 1)
	}
	return processed
}
