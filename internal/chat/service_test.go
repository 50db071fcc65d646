// ABOUTME: Tests for the fan-out dispatch service
// ABOUTME: Covers target resolution, end-to-end turns, and partial-failure aggregation

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transport"
)

// newServiceFixture wires a full in-process stack: memory store, counting
// wrapper, the given transport, templates, registry, consumer, service.
func newServiceFixture(t *testing.T, tr transport.Transport, participants ...string) (*Service, *countingStore) {
	t.Helper()

	mem := store.NewMemoryStore()
	require.NoError(t, mem.CreateConversation(context.Background(),
		testConversation("conv-1", participants...)))

	cs := newCountingStore(mem)
	registry := NewRegistry(cs, tr, testTemplates(t), nil)
	consumer := NewConsumer(cs, NewToolFeed(nil), 100*time.Millisecond, 50, nil)
	return NewService(cs, registry, consumer, nil), cs
}

func TestService_FirstMessageSpawnsAndReplies(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher")

	ctx := context.Background()
	err := svc.Send(ctx, &SendRequest{
		ConversationID: "conv-1",
		Sender:         "alice",
		Content:        "hello there",
	})
	require.NoError(t, err)

	// User message persisted once, before the reply.
	humans := cs.insertsOfKind(store.AuthorHuman)
	require.Len(t, humans, 1)
	assert.Equal(t, "hello there", humans[0].Content)
	assert.Equal(t, "alice", humans[0].Author)

	// One complete agent reply, threaded under the user message.
	agents := cs.insertsOfKind(store.AuthorAgent)
	require.Len(t, agents, 1)
	assert.Equal(t, humans[0].ID, agents[0].ParentID)
	assert.Equal(t, "Researcher", agents[0].Author)

	final, err := cs.GetMessage(ctx, agents[0].ID)
	require.NoError(t, err)
	assert.Contains(t, final.Content, `You said: "hello there"`)
	assert.True(t, strings.HasSuffix(final.Content, "scripted reply from researcher."))

	// The lazily spawned session is now bound to the conversation.
	conv, err := cs.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.Sessions["researcher"])
}

func TestService_SecondMessageResumesSession(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher")
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: "first"}))

	before, err := cs.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	firstToken := before.Sessions["researcher"]
	require.NotEmpty(t, firstToken)

	require.NoError(t, svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: "second"}))

	after, err := cs.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, firstToken, after.Sessions["researcher"], "resumed turn keeps the same token")

	// Two user messages, two replies.
	assert.Len(t, cs.insertsOfKind(store.AuthorHuman), 2)
	assert.Len(t, cs.insertsOfKind(store.AuthorAgent), 2)
}

func TestService_ExplicitTargetOnlyReachesThatAgent(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher", "writer")
	ctx := context.Background()

	err := svc.Send(ctx, &SendRequest{
		ConversationID: "conv-1",
		Content:        "writer only please",
		Targets:        []string{"writer"},
	})
	require.NoError(t, err)

	agents := cs.insertsOfKind(store.AuthorAgent)
	require.Len(t, agents, 1)
	assert.Equal(t, "Writer", agents[0].Author)

	conv, err := cs.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.Sessions["writer"])
	assert.Empty(t, conv.Sessions["researcher"], "untargeted agent must stay unspawned")
}

func TestService_NoTargetsFansOutToAllParticipants(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher", "writer")
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: "everyone"}))

	agents := cs.insertsOfKind(store.AuthorAgent)
	require.Len(t, agents, 2)
	authors := []string{agents[0].Author, agents[1].Author}
	assert.ElementsMatch(t, []string{"Researcher", "Writer"}, authors)

	conv, err := cs.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, conv.Sessions, 2)
}

func TestService_OneOfThreeSucceedingIsSuccess(t *testing.T) {
	// Two of three agents fail to spawn, one completes. Send reports
	// success; the failures stay visible inline as system messages.
	tr := &fakeTransport{}
	tr.makeSession = func(agentID string) transport.Session {
		return &fakeSession{
			token: "token-" + agentID,
			units: append(textUnits("reply from "+agentID), resultUnit("token-"+agentID)),
		}
	}
	failing := &selectiveTransport{inner: tr, failAgents: map[string]bool{"writer": true, "editor": true}}

	svc, cs := newServiceFixture(t, failing, "researcher", "writer", "editor")
	err := svc.Send(context.Background(), &SendRequest{ConversationID: "conv-1", Content: "go"})
	require.NoError(t, err)

	agents := cs.insertsOfKind(store.AuthorAgent)
	require.Len(t, agents, 1)
	assert.Equal(t, "Researcher", agents[0].Author)

	systems := cs.insertsOfKind(store.AuthorSystem)
	require.Len(t, systems, 2)
}

func TestService_AllFailuresAggregate(t *testing.T) {
	tr := &fakeTransport{startErr: errors.New("backend down")}
	svc, cs := newServiceFixture(t, tr, "researcher", "writer", "editor")

	err := svc.Send(context.Background(), &SendRequest{ConversationID: "conv-1", Content: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 agent turns failed")
	assert.Contains(t, err.Error(), "backend down")

	// The user message is still on record, plus one system message per
	// failed turn.
	assert.Len(t, cs.insertsOfKind(store.AuthorHuman), 1)
	assert.Len(t, cs.insertsOfKind(store.AuthorSystem), 3)
}

func TestService_ValidationBeforeAnyWrite(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher")
	ctx := context.Background()

	err := svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: ""})
	require.Error(t, err)

	err = svc.Send(ctx, &SendRequest{ConversationID: "", Content: "hi"})
	require.Error(t, err)

	err = svc.Send(ctx, &SendRequest{ConversationID: "missing", Content: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Empty(t, cs.inserts, "failed validation must not persist anything")
}

func TestService_EmptyResolvedTargetSet(t *testing.T) {
	// A conversation with no participants and no explicit targets has
	// nowhere to dispatch.
	svc, cs := newServiceFixture(t, transport.NewScripted())

	err := svc.Send(context.Background(), &SendRequest{ConversationID: "conv-1", Content: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no target agents")

	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Empty(t, cs.inserts)
}

func TestService_UnknownExplicitTargetFailsThatTurn(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher")

	err := svc.Send(context.Background(), &SendRequest{
		ConversationID: "conv-1",
		Content:        "hi",
		Targets:        []string{"writer"},
	})
	// writer has a template but is not a participant: the spawned session
	// cannot be bound, so the sole turn fails.
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	// The user message stays on record alongside the failure notice.
	assert.Len(t, cs.insertsOfKind(store.AuthorHuman), 1)
	assert.Len(t, cs.insertsOfKind(store.AuthorSystem), 1)
}

func TestService_RapidDuplicateSendSuppressed(t *testing.T) {
	svc, cs := newServiceFixture(t, transport.NewScripted(), "researcher")
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: "hello"}))

	err := svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: "hello"})
	assert.ErrorIs(t, err, ErrDuplicateSend)

	// Only the first submission reached the store.
	assert.Len(t, cs.insertsOfKind(store.AuthorHuman), 1)

	// Different content goes through.
	require.NoError(t, svc.Send(ctx, &SendRequest{ConversationID: "conv-1", Content: "hello again"}))
}

// selectiveTransport fails Start/Resume for configured agents and delegates
// the rest.
type selectiveTransport struct {
	inner      transport.Transport
	failAgents map[string]bool
}

func (s *selectiveTransport) Start(ctx context.Context, opts transport.StartOptions) (transport.Session, error) {
	if s.failAgents[opts.AgentID] {
		return nil, errors.New("spawn refused for " + opts.AgentID)
	}
	return s.inner.Start(ctx, opts)
}

func (s *selectiveTransport) Resume(ctx context.Context, token string, opts transport.StartOptions) (transport.Session, error) {
	if s.failAgents[opts.AgentID] {
		return nil, errors.New("resume refused for " + opts.AgentID)
	}
	return s.inner.Resume(ctx, token, opts)
}
