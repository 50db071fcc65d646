// Package templates loads agent templates from a TOML registry file.
//
// A template is the spawn recipe for one agent: model, system prompt, turn
// limit, and tool allow-list. The session registry reads a template the
// first time a conversation addresses an agent; a missing template fails
// that agent's turn only.
package templates
