// ABOUTME: Agent transport contract - session start/resume and typed stream units
// ABOUTME: The wire mechanism is opaque; parley only consumes this interface

package transport

import "context"

// StartOptions configures a new or resumed agent session.
type StartOptions struct {
	AgentID      string
	Model        string
	SystemPrompt string
	MaxTurns     int
	AllowedTools []string

	// Seed context for fresh sessions: the conversation's rolling summary
	// plus a budget-limited window of recent messages. Ignored on resume -
	// a resumed session already carries its own context.
	Summary string
	Seed    []SeedMessage
}

// SeedMessage is one replayed history entry.
type SeedMessage struct {
	Author  string
	Content string
}

// Transport creates agent sessions. Implementations own the actual process
// or network mechanics; callers only see sessions and units.
type Transport interface {
	// Start spawns a fresh session seeded with the options' context.
	Start(ctx context.Context, opts StartOptions) (Session, error)

	// Resume continues an existing session by its token. An unknown or
	// expired token is an error; parley treats that as a hard per-turn
	// failure rather than silently re-spawning.
	Resume(ctx context.Context, token string, opts StartOptions) (Session, error)
}

// Session is one bidirectional agent stream. Send pushes a user message in;
// Next yields units until a UnitResult terminates the turn. A non-nil error
// from Next is a mid-stream transport break.
type Session interface {
	// Token returns the resumable session identifier. Valid from the
	// moment the session is created.
	Token() string

	Send(ctx context.Context, content string) error
	Next(ctx context.Context) (*Unit, error)
	Close() error
}

// UnitKind discriminates the closed set of stream unit variants.
// The consumer switches exhaustively over these; adding a kind is a
// compile-time-visible change.
type UnitKind int

const (
	UnitText     UnitKind = iota // incremental assistant text
	UnitToolUse                  // agent invoked a tool
	UnitThinking                 // reasoning trace, not user-visible
	UnitSystem                   // transport bookkeeping
	UnitResult                   // terminal: turn completed or failed
)

// String returns the unit kind name for logging.
func (k UnitKind) String() string {
	switch k {
	case UnitText:
		return "text"
	case UnitToolUse:
		return "tool_use"
	case UnitThinking:
		return "thinking"
	case UnitSystem:
		return "system"
	case UnitResult:
		return "result"
	default:
		return "unknown"
	}
}

// Unit is one typed element of an agent's output stream. Exactly the fields
// for its Kind are set.
type Unit struct {
	Kind UnitKind

	Text    string   // UnitText, UnitThinking
	Tool    *ToolUse // UnitToolUse
	Subtype string   // UnitSystem
	Result  *Result  // UnitResult
}

// ToolUse describes a tool invocation by the agent.
type ToolUse struct {
	ID        string
	Name      string
	InputJSON string
}

// Result is the terminal unit of a turn.
type Result struct {
	IsError bool
	Detail  string // error description when IsError, optional summary otherwise

	// SessionToken is the token to persist for the next turn. Transports
	// may rotate it per turn.
	SessionToken string
}
