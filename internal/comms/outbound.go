package comms

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Outbound is the normalized result of processing raw model output before a
// channel sends it.
type Outbound struct {
	Text       string
	MediaPaths []string
	Directives Directives
}

var (
	mediaLineRe = regexp.MustCompile(`(?m)^MEDIA:\s*(\S+)\s*$`)
	// Internal narration some models prepend despite instructions.
	narrationRe = regexp.MustCompile(`(?im)^(okay|sure|alright)[,.]?\s+(i('| a)m (going to|gonna)|i will|let me)\s+[^\n]*\n+`)
	workspaceRe = regexp.MustCompile(`(/[\w./-]*/(workspace|syne)/)[\w./-]+`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// Normalize turns raw model output into a sendable message: extracts
// directive tags and MEDIA lines, rewrites absolute workspace paths to their
// basenames, strips leading narration, and collapses blank runs.
func Normalize(raw string) Outbound {
	text, directives := ExtractTags(raw)

	var media []string
	text = mediaLineRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := mediaLineRe.FindStringSubmatch(m)
		media = append(media, sub[1])
		return ""
	})

	text = narrationRe.ReplaceAllString(text, "")
	text = workspaceRe.ReplaceAllStringFunc(text, func(m string) string {
		return filepath.Base(m)
	})
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	return Outbound{
		Text:       strings.TrimSpace(text),
		MediaPaths: media,
		Directives: directives,
	}
}
