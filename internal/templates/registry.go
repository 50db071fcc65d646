// ABOUTME: Agent template registry loaded from a TOML file
// ABOUTME: Templates carry the model, system prompt, and turn limit used to spawn sessions

package templates

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// ErrTemplateNotFound is returned when no template exists for an agent ID.
var ErrTemplateNotFound = errors.New("agent template not found")

// DefaultAllowedTools is the tool allow-list applied when a template does
// not specify its own.
var DefaultAllowedTools = []string{
	"Read",
	"Write",
	"Edit",
	"Bash",
	"Glob",
	"Grep",
	"Task",
	"WebFetch",
	"WebSearch",
}

const (
	defaultModel    = "sonnet"
	defaultMaxTurns = 25
)

// Template describes how to spawn an agent session: which model, what system
// prompt, how many turns, and which tools it may use.
type Template struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Model        string   `toml:"model"`
	SystemPrompt string   `toml:"system_prompt"`
	MaxTurns     int      `toml:"max_turns"`
	AllowedTools []string `toml:"allowed_tools"`
}

// Registry holds the loaded agent templates, keyed by agent ID.
type Registry struct {
	templates map[string]*Template
	order     []string
}

type registryFile struct {
	Agents []*Template `toml:"agents"`
}

// Load reads a template registry from a TOML file:
//
//	[[agents]]
//	id = "researcher"
//	name = "Researcher"
//	model = "sonnet"
//	system_prompt = "You are a careful researcher."
//	max_turns = 25
//	allowed_tools = ["Read", "Grep", "WebSearch"]
//
// Missing model, max_turns, and allowed_tools fall back to defaults.
func Load(path string) (*Registry, error) {
	var file registryFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("reading templates file: %w", err)
	}
	return New(file.Agents)
}

// New builds a registry from template definitions, applying defaults and
// rejecting duplicates.
func New(defs []*Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template, len(defs))}

	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("agent template missing id (name %q)", def.Name)
		}
		if _, exists := r.templates[def.ID]; exists {
			return nil, fmt.Errorf("duplicate agent template %q", def.ID)
		}

		t := *def
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.Model == "" {
			t.Model = defaultModel
		}
		if t.MaxTurns <= 0 {
			t.MaxTurns = defaultMaxTurns
		}
		if t.AllowedTools == nil {
			t.AllowedTools = append([]string(nil), DefaultAllowedTools...)
		}

		r.templates[t.ID] = &t
		r.order = append(r.order, t.ID)
	}

	return r, nil
}

// Get returns the template for an agent ID.
// Returns ErrTemplateNotFound if the agent is unknown.
func (r *Registry) Get(agentID string) (*Template, error) {
	t, ok := r.templates[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, agentID)
	}
	return t, nil
}

// List returns all templates in file order.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id])
	}
	return out
}
