package comms

import (
	"regexp"
	"strings"
)

// Directives are parsed from inline tags the model emits and stripped from
// the visible text. Supported tags:
//
//	[[reply_to_current]]   reply to the message that triggered this turn
//	[[reply_to:<id>]]      reply to a specific platform message id
//	[[react:<emoji>]]      attach an emoji reaction instead of, or with, text
type Directives struct {
	ReplyToCurrent bool
	ReplyToID      string
	Reactions      []string
}

var tagRe = regexp.MustCompile(`\[\[(reply_to_current|reply_to:([^\]\s]+)|react:([^\]\s]+))\]\]`)

// ExtractTags parses and removes directive tags from text. Unknown
// double-bracket sequences are left untouched.
func ExtractTags(text string) (string, Directives) {
	var d Directives
	cleaned := tagRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := tagRe.FindStringSubmatch(m)
		switch {
		case sub[1] == "reply_to_current":
			d.ReplyToCurrent = true
		case sub[2] != "":
			d.ReplyToID = sub[2]
		case sub[3] != "":
			d.Reactions = append(d.Reactions, sub[3])
		}
		return ""
	})
	return strings.TrimSpace(cleaned), d
}
