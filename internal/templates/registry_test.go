// ABOUTME: Tests for the agent template registry
// ABOUTME: Covers TOML loading, default application, and lookup errors

package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplatesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTemplatesFile(t, `
[[agents]]
id = "researcher"
name = "Researcher"
model = "sonnet"
system_prompt = "You are a careful researcher."
max_turns = 10
allowed_tools = ["Read", "Grep", "WebSearch"]

[[agents]]
id = "writer"
system_prompt = "You write prose."
`)

	reg, err := Load(path)
	require.NoError(t, err)

	researcher, err := reg.Get("researcher")
	require.NoError(t, err)
	assert.Equal(t, "Researcher", researcher.Name)
	assert.Equal(t, "sonnet", researcher.Model)
	assert.Equal(t, 10, researcher.MaxTurns)
	assert.Equal(t, []string{"Read", "Grep", "WebSearch"}, researcher.AllowedTools)

	// Missing fields fall back to defaults.
	writer, err := reg.Get("writer")
	require.NoError(t, err)
	assert.Equal(t, "writer", writer.Name)
	assert.Equal(t, "sonnet", writer.Model)
	assert.Equal(t, 25, writer.MaxTurns)
	assert.Equal(t, DefaultAllowedTools, writer.AllowedTools)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTemplatesFile(t, "[[agents]\nid = broken")
	_, err := Load(path)
	require.Error(t, err)
}

func TestNew_RejectsMissingID(t *testing.T) {
	_, err := New([]*Template{{Name: "Anonymous"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]*Template{
		{ID: "twin"},
		{ID: "twin"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNew_DoesNotMutateInput(t *testing.T) {
	def := &Template{ID: "researcher"}
	reg, err := New([]*Template{def})
	require.NoError(t, err)

	got, err := reg.Get("researcher")
	require.NoError(t, err)
	assert.Equal(t, "sonnet", got.Model)
	assert.Empty(t, def.Model, "caller's definition must stay untouched")
}

func TestGet_NotFound(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)

	_, err = reg.Get("ghost")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestList_PreservesFileOrder(t *testing.T) {
	reg, err := New([]*Template{
		{ID: "zulu"},
		{ID: "alpha"},
		{ID: "mike"},
	})
	require.NoError(t, err)

	var ids []string
	for _, tmpl := range reg.List() {
		ids = append(ids, tmpl.ID)
	}
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, ids)
}
