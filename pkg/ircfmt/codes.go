// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package ircfmt

import (
	"strings"
)

var markers = map[byte]string{
	Bold:          "**",
	Italic:        "_",
	Strikethrough: "~~",
	Monospace:     "`",
}

func isControl(r rune) bool {
	switch r {
	case Bold, Color, HexColor, Monospace, Reverse, Italic, Strikethrough, Underline, Reset:
		return true
	}
	return false
}

// skipColor returns the index just past the color arguments that follow a
// color control character at text[i].
func skipColor(text string, i int) int {
	digits := func(j, limit int) int {
		n := 0
		for j < len(text) && n < limit && text[j] >= '0' && text[j] <= '9' {
			j++
			n++
		}
		return j
	}
	j := digits(i+1, 2)
	if j == i+1 {
		return j
	}
	if j+1 < len(text) && text[j] == ',' && text[j+1] >= '0' && text[j+1] <= '9' {
		j = digits(j+1, 2)
	}
	return j
}

func skipHexColor(text string, i int) int {
	hex := func(j int) int {
		n := 0
		for j < len(text) && n < 6 && strings.IndexByte("0123456789abcdefABCDEF", text[j]) >= 0 {
			j++
			n++
		}
		return j
	}
	j := hex(i + 1)
	if j == i+1 {
		return j
	}
	if j+1 < len(text) && text[j] == ',' {
		if k := hex(j + 1); k > j+1 {
			j = k
		}
	}
	return j
}

// StripCodes removes all IRC formatting and color codes.
func StripCodes(text string) string {
	if strings.IndexFunc(text, isControl) < 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		switch c := text[i]; c {
		case Color:
			i = skipColor(text, i)
		case HexColor:
			i = skipHexColor(text, i)
		case Bold, Monospace, Reverse, Italic, Strikethrough, Underline, Reset:
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

type openStyle struct {
	code byte
	pos  int
}

type mdWriter struct {
	out  []byte
	open []openStyle
}

func (w *mdWriter) isOpen(code byte) bool {
	for _, s := range w.open {
		if s.code == code {
			return true
		}
	}
	return false
}

func (w *mdWriter) push(code byte) {
	w.open = append(w.open, openStyle{code: code, pos: len(w.out)})
	w.out = append(w.out, markers[code]...)
}

// pop closes the innermost style. A span with no content is removed instead
// of emitting an empty marker pair.
func (w *mdWriter) pop() byte {
	top := w.open[len(w.open)-1]
	w.open = w.open[:len(w.open)-1]
	marker := markers[top.code]
	if len(w.out) == top.pos+len(marker) {
		w.out = w.out[:top.pos]
	} else {
		w.out = append(w.out, marker...)
	}
	return top.code
}

// close ends the given style, reopening any styles nested inside it so the
// emitted markdown stays properly nested.
func (w *mdWriter) close(code byte) {
	var reopen []byte
	for len(w.open) > 0 {
		popped := w.pop()
		if popped == code {
			break
		}
		reopen = append(reopen, popped)
	}
	for i := len(reopen) - 1; i >= 0; i-- {
		w.push(reopen[i])
	}
}

func (w *mdWriter) closeAll() {
	for len(w.open) > 0 {
		w.pop()
	}
}

// ToMarkdown converts IRC formatting codes to Mattermost markdown. Colors,
// underline and reverse have no markdown equivalent and are dropped.
func ToMarkdown(text string) string {
	if strings.IndexFunc(text, isControl) < 0 {
		return text
	}
	w := &mdWriter{out: make([]byte, 0, len(text)+8)}
	for i := 0; i < len(text); {
		c := text[i]
		switch c {
		case Bold, Italic, Strikethrough, Monospace:
			if w.isOpen(c) {
				w.close(c)
			} else {
				w.push(c)
			}
			i++
		case Color:
			i = skipColor(text, i)
		case HexColor:
			i = skipHexColor(text, i)
		case Reset:
			w.closeAll()
			i++
		case Reverse, Underline:
			i++
		default:
			w.out = append(w.out, c)
			i++
		}
	}
	w.closeAll()
	return string(w.out)
}
