// ABOUTME: SQLite-specific store tests
// ABOUTME: Covers file creation, in-memory mode, and durability across reopen

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateConversation(ctx, newConversation("mem-conv", "a")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := store.GetConversation(ctx, "mem-conv"); err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.CreateConversation(ctx, newConversation("durable", "researcher")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := store.UpdateAgentSession(ctx, "durable", "researcher", "token-abc"); err != nil {
		t.Fatalf("UpdateAgentSession failed: %v", err)
	}
	if err := store.InsertMessage(ctx, newMessage("dm-1", "durable", "alice", "still here?")); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer reopened.Close()

	conv, err := reopened.GetConversation(ctx, "durable")
	if err != nil {
		t.Fatalf("GetConversation after reopen failed: %v", err)
	}
	if conv.Sessions["researcher"] != "token-abc" {
		t.Errorf("session token lost across reopen: got %q", conv.Sessions["researcher"])
	}

	msgs, err := reopened.RecentMessages(ctx, "durable", 10)
	if err != nil {
		t.Fatalf("RecentMessages after reopen failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "still here?" {
		t.Errorf("message lost across reopen: %v", msgs)
	}
}
