// ABOUTME: Agent stream consumer - drives one agent turn to completion
// ABOUTME: Applies the insert-then-update debounced write policy for streaming text

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transport"
)

// Consumer drains one agent session's unit stream, persisting text under a
// hybrid time/size debounce.
//
// Two invariants are hard regardless of tuning: the first text unit is
// always persisted immediately as an insert, and a turn that ends with
// unflushed characters gets one final update flush.
type Consumer struct {
	store         Store
	feed          *ToolFeed
	flushInterval time.Duration
	flushChars    int
	logger        *slog.Logger
}

// NewConsumer creates a stream consumer. Zero flushInterval/flushChars fall
// back to the 100ms / 50-char defaults; pass nil feed to use the process
// tool feed, nil logger for default.
func NewConsumer(st Store, feed *ToolFeed, flushInterval time.Duration, flushChars int, logger *slog.Logger) *Consumer {
	if feed == nil {
		feed = Tools()
	}
	if flushInterval <= 0 {
		flushInterval = 100 * time.Millisecond
	}
	if flushChars <= 0 {
		flushChars = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		store:         st,
		feed:          feed,
		flushInterval: flushInterval,
		flushChars:    flushChars,
		logger:        logger.With("component", "consumer"),
	}
}

// turn carries the identifiers of one agent turn.
type turn struct {
	ConversationID string
	AgentID        string
	Author         string // display name persisted on agent messages
	ParentID       string // user message being answered
}

// Run consumes the session's units until the terminal result, persisting
// streamed text and publishing tool events. On success it stores the
// transport-provided session token so the next turn resumes.
//
// Store writes use a context detached from caller cancellation: a turn runs
// to natural completion because partially generated output still has
// conversational value.
func (c *Consumer) Run(ctx context.Context, sess transport.Session, t turn) error {
	// Detached context for persistence (bounded per write below).
	persistCtx := context.WithoutCancel(ctx)

	var (
		accumulated     strings.Builder
		messageID       string
		lastWrite       time.Time
		charsSinceWrite int
	)

	for {
		unit, err := sess.Next(ctx)
		if err != nil {
			// Mid-stream transport break. The partial row (if any) stays,
			// but is never presented as the completed answer: a separate
			// error message marks the turn as failed.
			c.persistErrorMessage(persistCtx, t, fmt.Sprintf("Stream error: %v", err))
			return fmt.Errorf("agent %s stream: %w", t.AgentID, err)
		}

		switch unit.Kind {
		case transport.UnitText:
			accumulated.WriteString(unit.Text)
			charsSinceWrite += utf8.RuneCountInString(unit.Text)

			if messageID == "" {
				// First chunk: always inserted immediately, no exceptions.
				messageID = uuid.New().String()
				msg := &store.Message{
					ID:             messageID,
					ConversationID: t.ConversationID,
					Author:         t.Author,
					Kind:           store.AuthorAgent,
					Content:        accumulated.String(),
					CreatedAt:      time.Now(),
					ParentID:       t.ParentID,
					Unread:         true,
				}
				if err := c.store.InsertMessage(persistCtx, msg); err != nil {
					return fmt.Errorf("inserting agent message: %w", err)
				}
				lastWrite = time.Now()
				charsSinceWrite = 0
			} else if time.Since(lastWrite) >= c.flushInterval || charsSinceWrite >= c.flushChars {
				// Debounced update: time or size threshold crossed.
				if err := c.store.UpdateMessageContent(persistCtx, messageID, accumulated.String()); err != nil {
					return fmt.Errorf("updating agent message: %w", err)
				}
				lastWrite = time.Now()
				charsSinceWrite = 0
			}

		case transport.UnitToolUse:
			c.logger.Info("agent using tool",
				"agent_id", t.AgentID,
				"tool", unit.Tool.Name)
			c.feed.Publish(unit.Tool.Name)

		case transport.UnitThinking:
			c.logger.Debug("agent thinking", "agent_id", t.AgentID, "chars", len(unit.Text))

		case transport.UnitSystem:
			c.logger.Debug("system unit", "agent_id", t.AgentID, "subtype", unit.Subtype)

		case transport.UnitResult:
			if unit.Result.IsError {
				detail := unit.Result.Detail
				if detail == "" {
					detail = "unknown error"
				}
				c.persistErrorMessage(persistCtx, t, "Agent error: "+detail)
				return fmt.Errorf("agent %s failed: %s", t.AgentID, detail)
			}

			// Final flush: no trailing text is ever lost.
			if messageID != "" && charsSinceWrite > 0 {
				if err := c.store.UpdateMessageContent(persistCtx, messageID, accumulated.String()); err != nil {
					return fmt.Errorf("flushing agent message: %w", err)
				}
			}

			// Persist the session token so the next turn resumes. A write
			// failure here fails the turn: history must not diverge from
			// what the agent's session now contains.
			if token := unit.Result.SessionToken; token != "" {
				if err := c.store.UpdateAgentSession(persistCtx, t.ConversationID, t.AgentID, token); err != nil {
					return fmt.Errorf("persisting session token: %w", err)
				}
			}

			c.logger.Debug("agent turn complete",
				"agent_id", t.AgentID,
				"chars", accumulated.Len())
			return nil
		}
	}
}

// persistErrorMessage records a system-authored, error-flagged message so
// the failure renders inline in the conversation. Best effort: a store
// failure here is logged, the turn error is already propagating.
func (c *Consumer) persistErrorMessage(ctx context.Context, t turn, text string) {
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: t.ConversationID,
		Author:         "system",
		Kind:           store.AuthorSystem,
		Content:        text,
		CreatedAt:      time.Now(),
		Unread:         true,
	}
	if err := c.store.InsertMessage(saveCtx, msg); err != nil {
		c.logger.Error("failed to persist error message",
			"error", err,
			"conversation_id", t.ConversationID,
			"agent_id", t.AgentID)
	}
}
