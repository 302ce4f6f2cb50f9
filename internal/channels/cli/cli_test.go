package cli

import (
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	got := wrap("one two three four", 9)
	want := "one two\nthree\nfour"
	if got != want {
		t.Errorf("wrap = %q, want %q", got, want)
	}
}

func TestWrapPreservesParagraphs(t *testing.T) {
	got := wrap("first line\nsecond line", 80)
	if got != "first line\nsecond line" {
		t.Errorf("wrap = %q", got)
	}
}

func TestWrapWideRunes(t *testing.T) {
	// Four CJK characters are eight cells; a 20-cell minimum width still
	// fits them on one line.
	got := wrap("你好世界", 5)
	if strings.Contains(got, "\n") {
		t.Errorf("unexpected break: %q", got)
	}
}
