// ABOUTME: Shared test fakes for the chat package
// ABOUTME: Counting store wrapper plus scriptable transport and session fakes

package chat

import (
	"context"
	"io"
	"sync"

	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transport"
)

// countingStore wraps a store and records every write so tests can assert on
// write counts and payloads. Safe for concurrent turns.
type countingStore struct {
	store.Store

	mu            sync.Mutex
	inserts       []*store.Message
	updates       []contentUpdate
	sessionWrites []sessionWrite

	failInsert       error
	failUpdate       error
	failSessionWrite error
}

type contentUpdate struct {
	ID      string
	Content string
}

type sessionWrite struct {
	ConversationID string
	AgentID        string
	Token          string
}

func newCountingStore(inner store.Store) *countingStore {
	return &countingStore{Store: inner}
}

func (c *countingStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInsert != nil {
		return c.failInsert
	}
	c.inserts = append(c.inserts, msg)
	return c.Store.InsertMessage(ctx, msg)
}

func (c *countingStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failUpdate != nil {
		return c.failUpdate
	}
	c.updates = append(c.updates, contentUpdate{ID: id, Content: content})
	return c.Store.UpdateMessageContent(ctx, id, content)
}

func (c *countingStore) UpdateAgentSession(ctx context.Context, conversationID, agentID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSessionWrite != nil {
		return c.failSessionWrite
	}
	c.sessionWrites = append(c.sessionWrites, sessionWrite{
		ConversationID: conversationID,
		AgentID:        agentID,
		Token:          token,
	})
	return c.Store.UpdateAgentSession(ctx, conversationID, agentID, token)
}

// insertsOfKind returns recorded inserts filtered by author kind.
func (c *countingStore) insertsOfKind(kind store.AuthorKind) []*store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*store.Message
	for _, msg := range c.inserts {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (c *countingStore) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

// fakeSession replays a fixed unit sequence. A nil unit with nextErr set
// simulates a mid-stream transport break at that position.
type fakeSession struct {
	token   string
	units   []*transport.Unit
	nextErr error // returned after the queued units are exhausted
	sent    []string
	closed  bool
}

func (s *fakeSession) Token() string { return s.token }

func (s *fakeSession) Send(ctx context.Context, content string) error {
	s.sent = append(s.sent, content)
	return nil
}

func (s *fakeSession) Next(ctx context.Context) (*transport.Unit, error) {
	if len(s.units) == 0 {
		if s.nextErr != nil {
			return nil, s.nextErr
		}
		return nil, io.EOF
	}
	unit := s.units[0]
	s.units = s.units[1:]
	return unit, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func textUnits(chunks ...string) []*transport.Unit {
	var units []*transport.Unit
	for _, chunk := range chunks {
		units = append(units, &transport.Unit{Kind: transport.UnitText, Text: chunk})
	}
	return units
}

func resultUnit(token string) *transport.Unit {
	return &transport.Unit{
		Kind:   transport.UnitResult,
		Result: &transport.Result{SessionToken: token},
	}
}

func errorResultUnit(detail string) *transport.Unit {
	return &transport.Unit{
		Kind:   transport.UnitResult,
		Result: &transport.Result{IsError: true, Detail: detail},
	}
}

// fakeTransport records Start/Resume calls and hands out canned sessions.
type fakeTransport struct {
	mu          sync.Mutex
	startOpts   []transport.StartOptions
	resumeCalls []string

	startErr  error
	resumeErr error

	// session builders, nil means a trivially succeeding session
	makeSession func(agentID string) transport.Session
}

func (f *fakeTransport) Start(ctx context.Context, opts transport.StartOptions) (transport.Session, error) {
	f.mu.Lock()
	f.startOpts = append(f.startOpts, opts)
	f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.session(opts.AgentID), nil
}

func (f *fakeTransport) Resume(ctx context.Context, token string, opts transport.StartOptions) (transport.Session, error) {
	f.mu.Lock()
	f.resumeCalls = append(f.resumeCalls, token)
	f.mu.Unlock()

	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return f.session(opts.AgentID), nil
}

func (f *fakeTransport) session(agentID string) transport.Session {
	if f.makeSession != nil {
		return f.makeSession(agentID)
	}
	return &fakeSession{
		token: "token-" + agentID,
		units: []*transport.Unit{
			{Kind: transport.UnitText, Text: "ok"},
			resultUnit("token-" + agentID),
		},
	}
}

func (f *fakeTransport) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.startOpts)
}

func testConversation(id string, participants ...string) *store.Conversation {
	return &store.Conversation{
		ID:           id,
		Title:        "test",
		Participants: participants,
		Sessions:     make(map[string]string),
	}
}
