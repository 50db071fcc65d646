// Package chat is the dispatch core: it accepts a user message, resolves
// which agents should answer, runs one turn per agent concurrently, and
// persists each agent's streamed reply.
//
// The package splits into three pieces. Service fans a message out and
// aggregates per-agent outcomes (partial failure is success). Registry
// lazily spawns or resumes one transport session per (conversation, agent),
// seeding fresh sessions with a token-budgeted history window. Consumer
// drains a session's unit stream, persisting text under a hybrid time/size
// debounce and broadcasting tool-use events on the process ToolFeed.
package chat
