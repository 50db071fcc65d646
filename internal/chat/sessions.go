// ABOUTME: Session registry - lazy spawn-or-resume of agent sessions per conversation
// ABOUTME: Fresh sessions are seeded with the summary plus a token-budgeted history window

package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/parley/internal/budget"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/templates"
	"github.com/2389/parley/internal/transport"
)

// TemplateSource resolves an agent ID to its spawn template.
type TemplateSource interface {
	Get(agentID string) (*templates.Template, error)
}

// Registry decides, per (conversation, agent), whether a resumable session
// already exists or one must be lazily spawned.
type Registry struct {
	store     Store
	transport transport.Transport
	templates TemplateSource
	logger    *slog.Logger
}

// NewRegistry creates a session registry. Pass nil logger for default.
func NewRegistry(st Store, tr transport.Transport, ts TemplateSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     st,
		transport: tr,
		templates: ts,
		logger:    logger.With("component", "sessions"),
	}
}

// Acquire returns a live session for the agent in this conversation,
// resuming the persisted token when one exists and spawning otherwise.
//
// On spawn, the new token is persisted BEFORE the session is handed to the
// caller: a crash between spawn and persist can at worst duplicate a spawn
// on retry, never leave a caller holding an unpersisted handle.
//
// A resume failure is a hard per-turn failure. It is not retried here and
// it never falls back to a fresh spawn - silently restarting would discard
// the agent's accumulated context.
func (r *Registry) Acquire(ctx context.Context, conv *store.Conversation, agentID string) (transport.Session, *templates.Template, error) {
	tmpl, err := r.templates.Get(agentID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving template for %s: %w", agentID, err)
	}

	opts := transport.StartOptions{
		AgentID:      agentID,
		Model:        tmpl.Model,
		SystemPrompt: tmpl.SystemPrompt,
		MaxTurns:     tmpl.MaxTurns,
		AllowedTools: tmpl.AllowedTools,
	}

	if token := conv.Sessions[agentID]; token != "" {
		sess, err := r.transport.Resume(ctx, token, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("resuming session for %s: %w", agentID, err)
		}
		r.logger.Debug("resumed agent session",
			"conversation_id", conv.ID,
			"agent_id", agentID)
		return sess, tmpl, nil
	}

	// Lazy spawn: seed the fresh session with the rolling summary and a
	// recent-message window sized by the model's token budget.
	cfg := budget.ConfigForModel(tmpl.Model)
	history, err := r.store.RecentMessages(ctx, conv.ID, cfg.MessageLimit())
	if err != nil {
		return nil, nil, fmt.Errorf("loading history for %s: %w", agentID, err)
	}

	opts.Summary = conv.Summary
	opts.Seed = make([]transport.SeedMessage, 0, len(history))
	for _, msg := range history {
		opts.Seed = append(opts.Seed, transport.SeedMessage{
			Author:  msg.Author,
			Content: msg.Content,
		})
	}

	sess, err := r.transport.Start(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("spawning session for %s: %w", agentID, err)
	}

	if err := r.store.UpdateAgentSession(ctx, conv.ID, agentID, sess.Token()); err != nil {
		sess.Close()
		return nil, nil, fmt.Errorf("persisting session token for %s: %w", agentID, err)
	}

	r.logger.Info("spawned agent session",
		"conversation_id", conv.ID,
		"agent_id", agentID,
		"model", tmpl.Model,
		"seed_messages", len(opts.Seed))

	return sess, tmpl, nil
}
