// ABOUTME: Deterministic in-process Transport for demos and end-to-end tests
// ABOUTME: Echoes messages back in chunks, simulating a streaming agent

package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Scripted is an in-process Transport that streams a deterministic reply to
// every message. It stands in for a real agent backend in the demo binary
// and in end-to-end tests.
type Scripted struct {
	mu     sync.Mutex
	tokens map[string]string // session token -> agent ID

	// ChunkSize is the number of characters per text unit. Zero means 24.
	ChunkSize int

	// ToolName, when non-empty, emits one tool-use unit before the reply.
	ToolName string

	// Reply builds the response text. Nil means an echo reply.
	Reply func(agentID, content string) string
}

// NewScripted creates a Scripted transport with echo replies.
func NewScripted() *Scripted {
	return &Scripted{tokens: make(map[string]string)}
}

// Start issues a fresh session token for the agent.
func (t *Scripted) Start(ctx context.Context, opts StartOptions) (Session, error) {
	token := uuid.New().String()

	t.mu.Lock()
	t.tokens[token] = opts.AgentID
	t.mu.Unlock()

	return &scriptedSession{transport: t, agentID: opts.AgentID, token: token}, nil
}

// Resume continues a previously issued session. Unknown tokens fail.
func (t *Scripted) Resume(ctx context.Context, token string, opts StartOptions) (Session, error) {
	t.mu.Lock()
	agentID, ok := t.tokens[token]
	t.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown session token %q", token)
	}
	return &scriptedSession{transport: t, agentID: agentID, token: token}, nil
}

type scriptedSession struct {
	transport *Scripted
	agentID   string
	token     string
	pending   []*Unit
}

func (s *scriptedSession) Token() string { return s.token }

// Send queues the scripted units for the turn: optional tool-use, the reply
// text in chunks, then the terminal result carrying the session token.
func (s *scriptedSession) Send(ctx context.Context, content string) error {
	reply := s.reply(content)

	if s.transport.ToolName != "" {
		s.pending = append(s.pending, &Unit{
			Kind: UnitToolUse,
			Tool: &ToolUse{ID: uuid.New().String(), Name: s.transport.ToolName, InputJSON: "{}"},
		})
	}

	chunkSize := s.transport.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 24
	}
	chunks(reply, chunkSize)(func(chunk string) bool {
		s.pending = append(s.pending, &Unit{Kind: UnitText, Text: chunk})
		return true
	})

	s.pending = append(s.pending, &Unit{
		Kind:   UnitResult,
		Result: &Result{SessionToken: s.token},
	})
	return nil
}

func (s *scriptedSession) Next(ctx context.Context) (*Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	unit := s.pending[0]
	s.pending = s.pending[1:]
	return unit, nil
}

func (s *scriptedSession) Close() error {
	s.pending = nil
	return nil
}

func (s *scriptedSession) reply(content string) string {
	if s.transport.Reply != nil {
		return s.transport.Reply(s.agentID, content)
	}
	return fmt.Sprintf("You said: %q. This is a scripted reply from %s.",
		strings.TrimSpace(content), s.agentID)
}

// chunks yields s in fixed-size rune chunks.
func chunks(s string, size int) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		runes := []rune(s)
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			if !yield(string(runes[start:end])) {
				return
			}
		}
	}
}
