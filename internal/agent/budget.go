package agent

import (
	"math"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

// Session growth limits. A session turns heavy when any one trips.
const (
	// DefaultMaxMessages caps history length regardless of token estimates.
	DefaultMaxMessages = 100
	// DefaultCompactionChars caps summed content length.
	DefaultCompactionChars = 150000
	// headroomFraction of the usable context window may fill before
	// compaction kicks in.
	headroomFraction = 0.90
	// charsPerToken is the estimation divisor. Deliberately below the
	// usual 4.0 so non-English text and code overestimate rather than
	// blow the window.
	charsPerToken = 3.5
	// perMessageOverhead covers role markers and wire framing per message.
	perMessageOverhead = 4
)

// Limits carries the configurable budget knobs.
type Limits struct {
	MaxMessages     int
	CompactionChars int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{MaxMessages: DefaultMaxMessages, CompactionChars: DefaultCompactionChars}
}

// EstimateTokens approximates the prompt cost of a history plus system
// prompt. It only has to be accurate enough to trigger compaction before the
// provider rejects the request.
func EstimateTokens(system string, msgs []*store.Message) int {
	total := ceilDiv(len(system))
	for _, m := range msgs {
		total += ceilDiv(len(m.Content)+len(m.ToolArgs)) + perMessageOverhead
	}
	return total
}

func ceilDiv(chars int) int {
	return int(math.Ceil(float64(chars) / charsPerToken))
}

// NeedsCompaction reports whether the session history must be compacted
// before the next completion, and which limit tripped. reportedTokens is the
// provider's input-token count from the session's last completion; when
// positive it replaces the character heuristic for the window check, since
// the provider's own tokenizer beats any estimate.
func NeedsCompaction(system string, msgs []*store.Message, reportedTokens int, model providers.ModelInfo, limits Limits) (bool, string) {
	if limits.MaxMessages <= 0 {
		limits.MaxMessages = DefaultMaxMessages
	}
	if limits.CompactionChars <= 0 {
		limits.CompactionChars = DefaultCompactionChars
	}

	if len(msgs) >= limits.MaxMessages {
		return true, "message_count"
	}

	chars := 0
	for _, m := range msgs {
		chars += len(m.Content)
	}
	if chars >= limits.CompactionChars {
		return true, "char_count"
	}

	usable := model.ContextWindow - model.ReservedOutput
	if usable > 0 {
		budget := int(float64(usable) * headroomFraction)
		tokens := reportedTokens
		if tokens <= 0 {
			tokens = EstimateTokens(system, msgs)
		}
		if tokens >= budget {
			return true, "token_budget"
		}
	}
	return false, ""
}
