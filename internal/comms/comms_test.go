package comms

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/syne-agent/syne/internal/bus"
)

func TestExtractTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		text string
		d    Directives
	}{
		{
			"reply current",
			"[[reply_to_current]] Sure, on it.",
			"Sure, on it.",
			Directives{ReplyToCurrent: true},
		},
		{
			"reply to id",
			"Done! [[reply_to:12345]]",
			"Done!",
			Directives{ReplyToID: "12345"},
		},
		{
			"react only",
			"[[react:👍]]",
			"",
			Directives{Reactions: []string{"👍"}},
		},
		{
			"react with text",
			"[[react:❤️]] Love that idea.",
			"Love that idea.",
			Directives{Reactions: []string{"❤️"}},
		},
		{
			"no tags",
			"Just a plain reply.",
			"Just a plain reply.",
			Directives{},
		},
		{
			"unknown tag untouched",
			"[[weird:thing]] hello",
			"[[weird:thing]] hello",
			Directives{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, d := ExtractTags(tt.in)
			if text != tt.text {
				t.Errorf("text = %q, want %q", text, tt.text)
			}
			if d.ReplyToCurrent != tt.d.ReplyToCurrent || d.ReplyToID != tt.d.ReplyToID {
				t.Errorf("directives = %+v, want %+v", d, tt.d)
			}
			if len(d.Reactions) != len(tt.d.Reactions) {
				t.Errorf("reactions = %v, want %v", d.Reactions, tt.d.Reactions)
			}
		})
	}
}

func TestSplitShortText(t *testing.T) {
	chunks := Split("hello", 4096)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("Split short = %v", chunks)
	}
}

func TestSplitLongText(t *testing.T) {
	para := strings.Repeat("word ", 200)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := Split(text, 1200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 1200 {
			t.Errorf("chunk %d has %d runes, limit 1200", i, n)
		}
	}
	joined := strings.Join(chunks, " ")
	if !strings.Contains(joined, "word word") {
		t.Error("content lost in split")
	}
}

func TestSplitReopensFence(t *testing.T) {
	code := "```go\n" + strings.Repeat("fmt.Println(\"x\")\n", 100) + "```\ndone"
	chunks := Split(code, 600)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if openFence(c) != "" {
			t.Errorf("chunk %d ends inside an open fence", i)
		}
	}
	if !strings.HasPrefix(chunks[1], "```go") {
		t.Errorf("chunk 1 does not reopen fence: %q", chunks[1][:20])
	}
}

func TestNormalize(t *testing.T) {
	raw := "Okay, I'm going to send the chart now.\n\nHere is the chart.\n\nMEDIA: /home/agent/workspace/chart.png\n\n\n\n[[react:📊]] All done."
	out := Normalize(raw)

	if len(out.MediaPaths) != 1 || out.MediaPaths[0] != "/home/agent/workspace/chart.png" {
		t.Errorf("media = %v", out.MediaPaths)
	}
	if len(out.Directives.Reactions) != 1 {
		t.Errorf("reactions = %v", out.Directives.Reactions)
	}
	if strings.Contains(out.Text, "MEDIA:") {
		t.Error("MEDIA line survived normalization")
	}
	if strings.Contains(out.Text, "I'm going to") {
		t.Error("narration survived normalization")
	}
	if strings.Contains(out.Text, "\n\n\n") {
		t.Error("blank run survived normalization")
	}
}

func TestNormalizeStripsWorkspacePaths(t *testing.T) {
	out := Normalize("Saved to /home/agent/workspace/reports/q3.pdf for you.")
	if strings.Contains(out.Text, "/home/agent") {
		t.Errorf("absolute path survived: %q", out.Text)
	}
	if !strings.Contains(out.Text, "q3.pdf") {
		t.Errorf("basename lost: %q", out.Text)
	}
}

func TestContextPrefix(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := &bus.InboundMessage{
		Platform:    "telegram",
		ChatID:      "-100123",
		SenderID:    "42",
		DisplayName: "Dana",
		Username:    "dana_k",
		IsGroup:     true,
		GroupName:   "Family",
		ReplySender: "Ben",
		ReplyBody:   strings.Repeat("long quote ", 100),
	}
	prefix := ContextPrefix(msg, now)

	for _, want := range []string{"telegram", `group "Family"`, "Dana", "@dana_k", "replying to Ben"} {
		if !strings.Contains(prefix, want) {
			t.Errorf("prefix missing %q: %s", want, prefix)
		}
	}
	if !strings.Contains(prefix, "...") {
		t.Error("long quote not truncated")
	}
	if len(prefix) > 4*maxQuotedLen+200 {
		t.Errorf("prefix too long: %d", len(prefix))
	}
}

func TestContextPrefixQuoteTruncationIsRuneSafe(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := &bus.InboundMessage{
		Platform:    "telegram",
		ChatID:      "1",
		SenderID:    "42",
		DisplayName: "Mika",
		ReplySender: "Ben",
		ReplyBody:   strings.Repeat("日本語のテキスト", 200),
	}
	prefix := ContextPrefix(msg, now)

	if !utf8.ValidString(prefix) {
		t.Fatal("truncated quote produced invalid UTF-8")
	}
	if !strings.Contains(prefix, "...") {
		t.Error("long quote not truncated")
	}
	runes := []rune(strings.Repeat("日本語のテキスト", 200))
	if !strings.Contains(prefix, string(runes[:maxQuotedLen])) {
		t.Error("quote not cut at the rune limit")
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**hi**", "<b>hi</b>"},
		{"italic", "say *hi* now", "say <i>hi</i> now"},
		{"inline code", "run `ls -la` now", "run <code>ls -la</code> now"},
		{"escaping", "a < b & c", "a &lt; b &amp; c"},
		{"link", "[docs](https://example.com)", `<a href="https://example.com">docs</a>`},
		{"heading", "## Title", "<b>Title</b>"},
		{"code keeps angle", "`a<b>`", "<code>a&lt;b&gt;</code>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToTelegramHTML(tt.in); got != tt.want {
				t.Errorf("ToTelegramHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToTelegramHTMLFence(t *testing.T) {
	got := ToTelegramHTML("```go\nfmt.Println(1 < 2)\n```")
	want := `<pre><code class="language-go">fmt.Println(1 &lt; 2)</code></pre>`
	if got != want {
		t.Errorf("fence = %q, want %q", got, want)
	}
}
