package relay

import (
	"strings"
	"unicode/utf16"
)

// Telegram limits, in UTF-16 code units of the text left after the markup is
// parsed.
const (
	MaxCaptionLength = 1024
	MaxTextLength    = 4096
)

const headerPrefix = "New post from channel "

// Caption builds the message body relayed for a post: a bold line naming the
// channel, a blank line and the post text. Markdown control characters are
// escaped and the text is cut so that the parsed message fits limit.
func Caption(channelName, text string, limit int) string {
	header := "*" + headerPrefix + escapeMarkdown(channelName) + "*"
	if text == "" {
		return header
	}

	budget := limit - utf16Len(headerPrefix+channelName) - 2
	if budget <= 0 {
		return header
	}

	return header + "\n\n" + escapeTruncated(text, budget)
}

// escapeTruncated escapes s and cuts it so that the parsed result, including
// a trailing ellipsis when cut, is at most budget UTF-16 units long. Escape
// backslashes are dropped by the parser and do not count.
func escapeTruncated(s string, budget int) string {
	if utf16Len(s) <= budget {
		return escapeMarkdown(s)
	}

	var sb strings.Builder
	n := 0
	for _, r := range s {
		w := runeLen(r)
		if n+w > budget-1 {
			break
		}
		if isMarkdownSpecial(r) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
		n += w
	}
	sb.WriteRune('…')

	return sb.String()
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

// runeLen is the number of UTF-16 units of r. Invalid runes are sent as
// U+FFFD.
func runeLen(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1
}

func escapeMarkdown(s string) string {
	if !strings.ContainsFunc(s, isMarkdownSpecial) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if isMarkdownSpecial(r) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isMarkdownSpecial(r rune) bool {
	switch r {
	case '_', '*', '`', '[':
		return true
	}
	return false
}
