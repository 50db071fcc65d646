// ABOUTME: Fan-out dispatcher - the single "send" entry point for conversations
// ABOUTME: Persists the user message once, then runs each target agent's turn concurrently

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/store"
)

// ErrDuplicateSend is returned when the same content is re-submitted to a
// conversation within the dedupe window (a double-send or client retry).
var ErrDuplicateSend = errors.New("duplicate send suppressed")

const (
	dedupeWindow   = 2 * time.Second
	dedupeCapacity = 1024
)

// Store defines what the chat layer needs from persistence.
// store.Store satisfies it.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	TouchLastActivity(ctx context.Context, id string, at time.Time) error
	InsertMessage(ctx context.Context, msg *store.Message) error
	UpdateMessageContent(ctx context.Context, id, content string) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	UpdateAgentSession(ctx context.Context, conversationID, agentID, token string) error
}

// Service is the conversation dispatch layer: one Send call fans a user
// message out to the resolved target agents and aggregates their outcomes.
type Service struct {
	store    Store
	registry *Registry
	consumer *Consumer
	recent   *dedupe.Cache
	logger   *slog.Logger
}

// NewService creates the dispatch service. Pass nil logger for default.
func NewService(st Store, registry *Registry, consumer *Consumer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		registry: registry,
		consumer: consumer,
		recent:   dedupe.New(dedupeWindow, dedupeCapacity),
		logger:   logger.With("component", "chat"),
	}
}

// Close releases the service's background resources.
func (s *Service) Close() {
	s.recent.Close()
}

// SendRequest contains everything needed to send a message into a conversation.
type SendRequest struct {
	ConversationID string
	Content        string

	// Sender is the display name persisted on the user message.
	// Empty defaults to "user".
	Sender string

	// Targets restricts dispatch to these agent IDs (typically parsed
	// from @mentions upstream). Empty means: the sole participant if the
	// conversation has exactly one, otherwise all participants.
	Targets []string

	// ParentID optionally threads the user message under another message.
	ParentID string
}

// Send persists the user message once and runs one turn per target agent.
//
// Aggregate outcome: nil if at least one agent turn succeeds; an error only
// when every target fails (naming the failure count and last error).
// Per-agent failures never cancel sibling turns - they are persisted as
// inline system messages and remain visible even when Send returns nil.
func (s *Service) Send(ctx context.Context, req *SendRequest) error {
	if req.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if req.Content == "" {
		return fmt.Errorf("message content is required")
	}
	if s.recent.Seen(req.ConversationID + "\x00" + req.Content) {
		return ErrDuplicateSend
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	targets := resolveTargets(req.Targets, conv.Participants)
	if len(targets) == 0 {
		return fmt.Errorf("no target agents resolved for conversation %s", conv.ID)
	}

	// Record first, then act: the user message is persisted before any
	// agent sees it, so there is a record even if every agent fails.
	sender := req.Sender
	if sender == "" {
		sender = "user"
	}
	userMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Author:         sender,
		Kind:           store.AuthorHuman,
		Content:        req.Content,
		CreatedAt:      time.Now(),
		ParentID:       req.ParentID,
	}
	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("recording user message: %w", err)
	}
	if err := s.store.TouchLastActivity(ctx, conv.ID, userMsg.CreatedAt); err != nil {
		s.logger.Warn("failed to bump last activity",
			"conversation_id", conv.ID, "error", err)
	}

	s.logger.Debug("user message recorded",
		"conversation_id", conv.ID,
		"message_id", userMsg.ID,
		"targets", len(targets))

	// Single-target turns skip the pool.
	if len(targets) == 1 {
		err := s.runTurn(ctx, conv, targets[0], req.Content, userMsg.ID)
		return s.aggregate(conv.ID, 1, []error{err})
	}

	// Multi-target: one goroutine per agent, joined unconditionally.
	// No sibling is ever cancelled by another's failure.
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, agentID := range targets {
		wg.Add(1)
		go func(slot int, agentID string) {
			defer wg.Done()
			errs[slot] = s.runTurn(ctx, conv, agentID, req.Content, userMsg.ID)
		}(i, agentID)
	}
	wg.Wait()

	return s.aggregate(conv.ID, len(targets), errs)
}

// resolveTargets applies the targeting rules: explicit list when non-empty,
// the sole participant when there is exactly one, otherwise everyone.
func resolveTargets(explicit, participants []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return participants
}

// runTurn executes one agent's complete turn: session get-or-spawn, send,
// stream-consume. Any failure is also persisted as an inline system message
// so it renders inside the conversation.
func (s *Service) runTurn(ctx context.Context, conv *store.Conversation, agentID, content, parentID string) error {
	sess, tmpl, err := s.registry.Acquire(ctx, conv, agentID)
	if err != nil {
		s.persistTurnFailure(ctx, conv.ID, agentID, err)
		return err
	}
	defer sess.Close()

	if err := sess.Send(ctx, content); err != nil {
		err = fmt.Errorf("sending to agent %s: %w", agentID, err)
		s.persistTurnFailure(ctx, conv.ID, agentID, err)
		return err
	}

	return s.consumer.Run(ctx, sess, turn{
		ConversationID: conv.ID,
		AgentID:        agentID,
		Author:         tmpl.Name,
		ParentID:       parentID,
	})
}

// aggregate folds per-agent results into the caller-facing outcome.
func (s *Service) aggregate(conversationID string, total int, errs []error) error {
	failures := 0
	var last error
	for _, err := range errs {
		if err != nil {
			failures++
			last = err
		}
	}

	switch {
	case failures == 0:
		return nil
	case failures < total:
		// Success with partial failures: the failed turns are already
		// visible as persisted system messages.
		s.logger.Warn("partial agent failures",
			"conversation_id", conversationID,
			"failed", failures,
			"total", total,
			"last_error", last)
		return nil
	default:
		return fmt.Errorf("all %d agent turns failed: %w", failures, last)
	}
}

// persistTurnFailure records a session-phase failure (template lookup,
// spawn, resume, send) as an inline system message. Stream-phase failures
// are recorded by the consumer itself.
func (s *Service) persistTurnFailure(ctx context.Context, conversationID, agentID string, cause error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Author:         "system",
		Kind:           store.AuthorSystem,
		Content:        fmt.Sprintf("Agent error (%s): %v", agentID, cause),
		CreatedAt:      time.Now(),
		Unread:         true,
	}
	if err := s.store.InsertMessage(saveCtx, msg); err != nil {
		s.logger.Error("failed to persist turn failure",
			"error", err,
			"conversation_id", conversationID,
			"agent_id", agentID)
	}
}
