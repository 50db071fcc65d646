// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrNotParticipant is returned when a session update names an agent that is
// not a participant of the conversation
var ErrNotParticipant = errors.New("agent is not a conversation participant")

// ErrPinLimit is returned when pinning would exceed MaxPinnedPerConversation
var ErrPinLimit = errors.New("pin limit reached")

// MaxPinnedPerConversation caps pinned messages per conversation.
const MaxPinnedPerConversation = 5

// AuthorKind identifies who authored a message.
type AuthorKind string

const (
	AuthorHuman  AuthorKind = "human"
	AuthorAgent  AuthorKind = "agent"
	AuthorSystem AuthorKind = "system"
	AuthorTool   AuthorKind = "tool"
)

// Conversation is a named chat between a human and one or more agents.
// Sessions maps participant agent IDs to resumable session tokens; an agent
// has no entry until its session is first spawned, so the map is always a
// subset of Participants.
type Conversation struct {
	ID               string
	Title            string
	Participants     []string          // ordered agent IDs, 1..N
	Summary          string            // rolling summary text
	LastSummarizedID string            // ID of the last message folded into Summary, "" if none
	Sessions         map[string]string // agent ID -> session token
	LastActivityAt   time.Time
	CreatedAt        time.Time
}

// Message is a single entry in a conversation timeline.
// Messages are never hard-deleted: Deleted only hides them from display,
// they remain available for context reconstruction.
type Message struct {
	ID             string
	ConversationID string
	Author         string
	Kind           AuthorKind
	Content        string
	CreatedAt      time.Time
	ParentID       string // optional threading reference, "" if none
	Unread         bool
	Deleted        bool
	Pinned         bool
	Attachments    []string // attachment references
}

// ConversationPreview is the list projection: conversation metadata plus the
// latest visible message snippet and the unread count.
type ConversationPreview struct {
	ID             string
	Title          string
	Preview        string
	UnreadCount    int
	LastActivityAt time.Time
}

// Store defines the interface for conversation and message persistence.
// No cross-call transactionality is assumed; each method is individually
// atomic.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*ConversationPreview, error)
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateSummary(ctx context.Context, id, summary, lastMessageID string) error
	TouchLastActivity(ctx context.Context, id string, at time.Time) error

	// Per-agent session bindings. UpdateAgentSession is a single-row upsert,
	// so concurrent turns on different agents of one conversation never
	// contend.
	UpdateAgentSession(ctx context.Context, conversationID, agentID, token string) error

	// Messages
	InsertMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]*Message, error)

	// Read state
	MarkConversationRead(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context, conversationID string) (int, error)

	// Pinning and soft deletion
	PinMessage(ctx context.Context, id string) error
	UnpinMessage(ctx context.Context, id string) error
	PinnedMessages(ctx context.Context, conversationID string) ([]*Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
