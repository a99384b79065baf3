package discord

import (
	"strings"
	"unicode"
)

// maxMessageLength is Discord's hard cap per message.
const maxMessageLength = 2000

// chunkMessage splits text into pieces that fit Discord's limit, breaking
// at paragraph, newline, sentence, and word boundaries in that order, with
// a hard break as the last resort.
func chunkMessage(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxMessageLength {
		idx := breakPoint(remaining)
		chunk := strings.TrimRightFunc(remaining[:idx], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[idx:], unicode.IsSpace)
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func breakPoint(text string) int {
	window := text[:maxMessageLength]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return maxMessageLength
}
