// Package store provides persistent storage for parley using SQLite.
//
// # Architecture
//
// The Store interface covers conversations, messages, and per-agent session
// bindings. Two implementations exist:
//
//   - SQLiteStore: the system of record (modernc.org/sqlite)
//   - MemoryStore: in-memory implementation for unit tests
//
// # Data Models
//
//   - Conversation: title, ordered participant agent IDs, rolling summary,
//     and a map of agent ID to resumable session token. The session map is
//     always a subset of the participants; unspawned agents have no entry.
//   - Message: timeline entry with author kind (human, agent, system, tool),
//     threading parent, unread/pinned flags, and attachment references.
//
// Messages are never hard-deleted. SoftDeleteMessage only hides a message
// from display projections; the row stays available for agent context
// reconstruction.
//
// # Session Bindings
//
// agent_sessions holds one row per (conversation, agent) pair. Updates are
// single-row upserts, so concurrent turns on different agents of the same
// conversation touch disjoint rows and need no extra locking.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: conversation ID already taken
//   - ErrNotParticipant: session update for a non-participant agent
//   - ErrPinLimit: conversation already has MaxPinnedPerConversation pins
//
// All methods accept context.Context for cancellation support.
package store
