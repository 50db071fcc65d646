// ABOUTME: Process-wide broadcaster for agent tool-use events
// ABOUTME: Best-effort UI signal - publish never blocks and nothing is replayed

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// toolFeedBufferSize is the channel buffer for each subscriber.
	toolFeedBufferSize = 64
)

// ToolFeed is an in-memory pub/sub feed of tool names observed on agent
// streams. It is a UI signal only, not part of the durability contract:
// publishing with zero subscribers is a no-op, slow subscribers drop events,
// and new subscribers see only events published after they attach.
type ToolFeed struct {
	mu          sync.RWMutex
	subscribers map[string]chan string
	logger      *slog.Logger
}

// Tools returns the process-wide tool feed, initializing it on first use.
var Tools = sync.OnceValue(func() *ToolFeed {
	return NewToolFeed(nil)
})

// NewToolFeed creates a feed. Pass nil logger for default.
func NewToolFeed(logger *slog.Logger) *ToolFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolFeed{
		subscribers: make(map[string]chan string),
		logger:      logger.With("component", "toolfeed"),
	}
}

// Subscribe registers a subscriber. Returns a channel of tool names and a
// subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (f *ToolFeed) Subscribe(ctx context.Context) (<-chan string, string) {
	subID := uuid.New().String()
	ch := make(chan string, toolFeedBufferSize)

	f.mu.Lock()
	f.subscribers[subID] = ch
	f.mu.Unlock()

	f.logger.Debug("tool feed subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		f.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends a tool name to all current subscribers.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (f *ToolFeed) Publish(toolName string) {
	f.mu.RLock()
	targets := make([]chan string, 0, len(f.subscribers))
	for _, ch := range f.subscribers {
		targets = append(targets, ch)
	}
	f.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- toolName:
			// Sent
		default:
			f.logger.Debug("dropped tool event for slow subscriber", "tool", toolName)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (f *ToolFeed) Unsubscribe(subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.subscribers[subID]
	if !ok {
		return
	}
	delete(f.subscribers, subID)
	close(ch)

	f.logger.Debug("tool feed subscriber removed", "sub_id", subID)
}
