// Package transport defines the agent transport contract.
//
// # Overview
//
// An agent is an external AI process reached through an opaque bidirectional
// stream. This package defines what parley needs from that stream and nothing
// about how it is carried:
//
//   - Transport: Start a fresh session or Resume one by token
//   - Session: Send a message, then Next units until a terminal result
//   - Unit: closed tagged variant of stream output
//
// # Units
//
// A turn's output is a sequence of typed units:
//
//   - UnitText: incremental assistant text
//   - UnitToolUse: the agent invoked a tool
//   - UnitThinking: reasoning trace
//   - UnitSystem: transport bookkeeping
//   - UnitResult: terminal success or error, carries the session token
//
// Consumers switch exhaustively over UnitKind so that a new kind is a
// compile-time-visible change.
//
// # Session Lifecycle
//
// Start seeds a fresh session with an agent template (model, system prompt,
// turn limit, tool allow-list) plus conversation context. The returned token
// is resumable: later turns call Resume with it to continue the same agent
// context. Resume of an unknown token is an error, not a silent re-spawn.
//
// # Scripted
//
// Scripted is a deterministic in-process implementation used by the demo
// binary and end-to-end tests. It chunks an echo reply into text units and
// terminates with a result unit, mimicking a streaming backend.
package transport
