package comms

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// ToTelegramHTML converts the markdown subset models reliably produce into
// Telegram's HTML flavor. Unknown markdown passes through escaped; senders
// fall back to plain text when Telegram still rejects the result.
func ToTelegramHTML(md string) string {
	var out strings.Builder
	lines := strings.Split(md, "\n")
	inFence := false
	var fenceLang string
	var fenceBody []string

	flushFence := func() {
		code := html.EscapeString(strings.Join(fenceBody, "\n"))
		if fenceLang != "" {
			fmt.Fprintf(&out, `<pre><code class="language-%s">%s</code></pre>`, fenceLang, code)
		} else {
			fmt.Fprintf(&out, "<pre>%s</pre>", code)
		}
		out.WriteString("\n")
		fenceBody = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				flushFence()
				inFence = false
			} else {
				inFence = true
				fenceLang = strings.TrimPrefix(trimmed, "```")
			}
			continue
		}
		if inFence {
			fenceBody = append(fenceBody, line)
			continue
		}
		out.WriteString(inlineHTML(line))
		out.WriteString("\n")
	}
	if inFence {
		flushFence()
	}
	return strings.TrimRight(out.String(), "\n")
}

var (
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe     = regexp.MustCompile(`(^|[^*])\*([^*]+)\*`)
	strikeRe     = regexp.MustCompile(`~~([^~]+)~~`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	headingRe    = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
)

func inlineHTML(line string) string {
	if m := headingRe.FindStringSubmatch(line); m != nil {
		line = "**" + m[1] + "**"
	}

	// Protect inline code spans from entity markup, then escape everything.
	type span struct{ placeholder, html string }
	var spans []span
	line = inlineCodeRe.ReplaceAllStringFunc(line, func(m string) string {
		sub := inlineCodeRe.FindStringSubmatch(m)
		ph := fmt.Sprintf("\x00code%d\x00", len(spans))
		spans = append(spans, span{ph, "<code>" + html.EscapeString(sub[1]) + "</code>"})
		return ph
	})

	line = html.EscapeString(line)
	line = linkRe.ReplaceAllString(line, `<a href="$2">$1</a>`)
	line = boldRe.ReplaceAllString(line, "<b>$1</b>")
	line = italicRe.ReplaceAllString(line, "$1<i>$2</i>")
	line = strikeRe.ReplaceAllString(line, "<s>$1</s>")

	for _, s := range spans {
		line = strings.Replace(line, s.placeholder, s.html, 1)
	}
	return line
}
