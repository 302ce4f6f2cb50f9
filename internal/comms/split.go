package comms

import "strings"

// Split breaks text into chunks no longer than limit runes, preferring
// paragraph then line then word boundaries. Code fences broken by a split
// are closed at the chunk end and reopened in the next chunk so every chunk
// renders standalone.
func Split(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len([]rune(remaining)) > limit {
		runes := []rune(remaining)
		// Leave room for a closing fence when a fence is open at the cut.
		cut := findCut(runes, limit-4)
		head := strings.TrimRight(string(runes[:cut]), "\n")
		tail := strings.TrimLeft(string(runes[cut:]), "\n")

		if fence := openFence(head); fence != "" {
			head += "\n```"
			tail = fence + "\n" + tail
		}
		chunks = append(chunks, head)
		remaining = tail
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// findCut picks the best split point at or before max.
func findCut(runes []rune, max int) int {
	if max < 1 {
		max = 1
	}
	window := string(runes[:max])
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i > max/2 {
			return len([]rune(window[:i+len(sep)]))
		}
	}
	return max
}

// openFence returns the fence line to reopen when the text ends inside a
// code block, or "" when all fences are balanced.
func openFence(text string) string {
	open := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if open == "" {
				open = trimmed
			} else {
				open = ""
			}
		}
	}
	return open
}
