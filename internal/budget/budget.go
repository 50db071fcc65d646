// ABOUTME: Token budget estimation for agent context windows
// ABOUTME: Pure arithmetic - converts model context sizes into history-window limits

package budget

import (
	"math"
	"unicode/utf8"

	"github.com/2389/parley/internal/store"
)

// Config holds the token budget parameters for one model. It is chosen once
// per turn and never mutated, so it is safe to share freely.
type Config struct {
	// MaxTokens is the model's input context window.
	MaxTokens int

	// AvgCharsPerToken is the estimation ratio.
	// English prose: ~3.5, code/JSON: ~2.5.
	AvgCharsPerToken float64

	// MetadataOverheadChars covers author name, timestamp, type and IDs
	// that accompany each replayed message.
	MetadataOverheadChars int

	// AttachmentOverheadChars is charged per attachment reference.
	AttachmentOverheadChars int

	// SafetyMargin (0..1) keeps the estimate comfortably under the real
	// window; the agent's tokenizer is not ours.
	SafetyMargin float64
}

// Known model identifiers. Anything else falls back to DefaultConfig.
const (
	ModelSonnet = "sonnet"
	ModelHaiku  = "haiku"
	ModelOpus   = "opus"
)

// assumedMessageChars is the average message content size used when sizing
// the history window before any messages have been read.
const assumedMessageChars = 500.0

// ConfigForModel returns the budget parameters for a model ID.
// Unknown models get the conservative default rather than an error -
// the budget must stay total.
func ConfigForModel(model string) Config {
	var maxTokens int
	switch model {
	case ModelSonnet:
		maxTokens = 192_000
	case ModelHaiku:
		maxTokens = 196_000
	case ModelOpus:
		maxTokens = 192_000
	default:
		return DefaultConfig()
	}

	return Config{
		MaxTokens:               maxTokens,
		AvgCharsPerToken:        3.5,
		MetadataOverheadChars:   50,
		AttachmentOverheadChars: 100,
		SafetyMargin:            0.8,
	}
}

// DefaultConfig is the fallback for unrecognized models: a 32k window with
// the standard ratios.
func DefaultConfig() Config {
	return Config{
		MaxTokens:               32_000,
		AvgCharsPerToken:        3.5,
		MetadataOverheadChars:   50,
		AttachmentOverheadChars: 100,
		SafetyMargin:            0.8,
	}
}

// EstimateMessageTokens estimates the token cost of replaying one message:
// unicode-aware content and author lengths plus fixed metadata and
// per-attachment overheads, divided by the chars/token ratio, rounded up.
func (c Config) EstimateMessageTokens(msg *store.Message) int {
	contentChars := utf8.RuneCountInString(msg.Content)
	authorChars := utf8.RuneCountInString(msg.Author)
	attachmentChars := len(msg.Attachments) * c.AttachmentOverheadChars

	totalChars := contentChars + authorChars + c.MetadataOverheadChars + attachmentChars
	return int(math.Ceil(float64(totalChars) / c.AvgCharsPerToken))
}

// EstimateTotalTokens sums EstimateMessageTokens over a message collection.
func (c Config) EstimateTotalTokens(msgs []*store.Message) int {
	total := 0
	for _, msg := range msgs {
		total += c.EstimateMessageTokens(msg)
	}
	return total
}

// MessageLimit converts the safe token budget into a maximum history-window
// size, assuming an average message, clamped to [10, 1000].
func (c Config) MessageLimit() int {
	safeTokens := float64(c.MaxTokens) * c.SafetyMargin
	charBudget := safeTokens * c.AvgCharsPerToken

	avgMessageChars := assumedMessageChars + float64(c.MetadataOverheadChars)
	limit := int(charBudget / avgMessageChars)

	return min(max(limit, 10), 1000)
}
