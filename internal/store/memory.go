// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for testing.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
	byID          map[string]*Message      // keyed by message ID
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		byID:          make(map[string]*Message),
	}
}

// CreateConversation stores a new conversation.
func (m *MemoryStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	c := copyConversation(conv)
	if c.Sessions == nil {
		c.Sessions = make(map[string]string)
	}
	m.conversations[conv.ID] = c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// ListConversations returns previews ordered by most recent activity.
func (m *MemoryStore) ListConversations(ctx context.Context, limit int) ([]*ConversationPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	previews := make([]*ConversationPreview, 0, len(m.conversations))
	for id, c := range m.conversations {
		p := &ConversationPreview{
			ID:             id,
			Title:          c.Title,
			LastActivityAt: c.LastActivityAt,
		}
		for _, msg := range m.messages[id] {
			if msg.Deleted {
				continue
			}
			p.Preview = msg.Content
			if msg.Unread {
				p.UnreadCount++
			}
		}
		previews = append(previews, p)
	}

	sort.Slice(previews, func(i, j int) bool {
		return previews[i].LastActivityAt.After(previews[j].LastActivityAt)
	})
	if limit > 0 && len(previews) > limit {
		previews = previews[:limit]
	}
	return previews, nil
}

// UpdateTitle sets a conversation's title.
func (m *MemoryStore) UpdateTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	return nil
}

// UpdateSummary sets the rolling summary and last-summarized pointer.
func (m *MemoryStore) UpdateSummary(ctx context.Context, id, summary, lastMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Summary = summary
	c.LastSummarizedID = lastMessageID
	return nil
}

// TouchLastActivity bumps the last-activity timestamp.
func (m *MemoryStore) TouchLastActivity(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = at
	return nil
}

// UpdateAgentSession upserts a session token, enforcing the participant invariant.
func (m *MemoryStore) UpdateAgentSession(ctx context.Context, conversationID, agentID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	participant := false
	for _, p := range c.Participants {
		if p == agentID {
			participant = true
			break
		}
	}
	if !participant {
		return ErrNotParticipant
	}
	c.Sessions[agentID] = token
	return nil
}

// InsertMessage stores a new message.
func (m *MemoryStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyMessage(msg)
	m.messages[c.ConversationID] = append(m.messages[c.ConversationID], c)
	m.byID[c.ID] = c
	return nil
}

// GetMessage retrieves a message by ID, including soft-deleted ones.
func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// RecentMessages returns up to limit visible messages, oldest first.
func (m *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var visible []*Message
	for _, msg := range m.messages[conversationID] {
		if !msg.Deleted {
			visible = append(visible, msg)
		}
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}

	out := make([]*Message, len(visible))
	for i, msg := range visible {
		out[i] = copyMessage(msg)
	}
	return out, nil
}

// UpdateMessageContent replaces a message's content.
func (m *MemoryStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = content
	return nil
}

// SearchMessages returns visible messages containing the query substring, newest first.
func (m *MemoryStore) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	msgs := m.messages[conversationID]
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Deleted || !strings.Contains(msg.Content, query) {
			continue
		}
		out = append(out, copyMessage(msg))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkConversationRead clears the unread flag across a conversation.
func (m *MemoryStore) MarkConversationRead(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages[conversationID] {
		msg.Unread = false
	}
	return nil
}

// UnreadCount returns the number of unread, visible messages.
func (m *MemoryStore) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages[conversationID] {
		if msg.Unread && !msg.Deleted {
			count++
		}
	}
	return count, nil
}

// PinMessage pins a message, enforcing the per-conversation cap.
func (m *MemoryStore) PinMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if msg.Pinned {
		return nil
	}

	pinned := 0
	for _, other := range m.messages[msg.ConversationID] {
		if other.Pinned {
			pinned++
		}
	}
	if pinned >= MaxPinnedPerConversation {
		return ErrPinLimit
	}
	msg.Pinned = true
	return nil
}

// UnpinMessage clears the pinned flag.
func (m *MemoryStore) UnpinMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	msg.Pinned = false
	return nil
}

// PinnedMessages returns pinned, visible messages, oldest first.
func (m *MemoryStore) PinnedMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages[conversationID] {
		if msg.Pinned && !msg.Deleted {
			out = append(out, copyMessage(msg))
		}
	}
	return out, nil
}

// SoftDeleteMessage hides a message from display.
func (m *MemoryStore) SoftDeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	msg.Deleted = true
	msg.Pinned = false
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Sessions = make(map[string]string, len(c.Sessions))
	for k, v := range c.Sessions {
		out.Sessions[k] = v
	}
	return &out
}

func copyMessage(msg *Message) *Message {
	out := *msg
	out.Attachments = append([]string(nil), msg.Attachments...)
	return &out
}
