// ABOUTME: Entry point for the parley chat CLI
// ABOUTME: Runs conversations against agent templates with a scripted transport

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/templates"
	"github.com/2389/parley/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                     _
 _ __   __ _ _ __| | ___ _   _
| '_ \ / _' | '__| |/ _ \ | | |
| |_) | (_| | |  | |  __/ |_| |
| .__/ \__,_|_|  |_|\___|\__, |
|_|                      |___/
`

// getConfigPath returns the path to the parley config file.
// Priority: PARLEY_CONFIG env var > XDG_CONFIG_HOME/parley/parley.yaml > ~/.config/parley/parley.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "parley.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "parley.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parley <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat [conversation-id]  Open a conversation (creates one if no ID given)")
		fmt.Println("  conversations           List conversations")
		fmt.Println("  agents                  List configured agent templates")
		fmt.Println("  init                    Create a starter config and templates file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "conversations":
		err = runConversations(ctx)
	case "agents":
		err = runAgents()
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	agentList := flags.String("agents", "", "comma-separated agent IDs for a new conversation (default: all templates)")
	title := flags.String("title", "New conversation", "title for a new conversation")
	if err := flags.Parse(args); err != nil {
		return err
	}

	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	registry, err := templates.Load(cfg.Templates.Path)
	if err != nil {
		return fmt.Errorf("loading agent templates: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	conv, err := openConversation(ctx, db, registry, flags.Arg(0), *title, *agentList)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:       %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:     %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Conversation: %s\n", conv.ID)
	green.Print("    ▶ ")
	fmt.Printf("Agents:       %s\n", strings.Join(conv.Participants, ", "))
	fmt.Println()

	sessions := chat.NewRegistry(db, transport.NewScripted(), registry, logger)
	consumer := chat.NewConsumer(db, chat.Tools(), cfg.Chat.FlushInterval, cfg.Chat.FlushChars, logger)
	svc := chat.NewService(db, sessions, consumer, logger)
	defer svc.Close()

	// Surface tool activity while agents work.
	toolEvents, _ := chat.Tools().Subscribe(ctx)
	go func() {
		for name := range toolEvents {
			gray.Printf("  ⚙ %s\n", name)
		}
	}()

	return repl(ctx, db, svc, conv, registry)
}

// repl reads user lines, dispatches them, and prints the replies. Lines may
// open with @mentions to target specific agents, e.g. "@writer draft it".
func repl(ctx context.Context, db store.Store, svc *chat.Service, conv *store.Conversation, registry *templates.Registry) error {
	scanner := bufio.NewScanner(os.Stdin)
	prompt := color.New(color.FgGreen, color.Bold)

	for {
		prompt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		targets, content := parseMentions(line, registry)
		if content == "" {
			continue
		}

		before, err := db.RecentMessages(ctx, conv.ID, 1)
		if err != nil {
			return fmt.Errorf("reading conversation: %w", err)
		}
		var lastSeen string
		if len(before) > 0 {
			lastSeen = before[len(before)-1].ID
		}

		if err := svc.Send(ctx, &chat.SendRequest{
			ConversationID: conv.ID,
			Content:        content,
			Targets:        targets,
		}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			color.Red("  %v", err)
			continue
		}

		if err := printNewMessages(ctx, db, conv.ID, lastSeen); err != nil {
			return err
		}
		if err := db.MarkConversationRead(ctx, conv.ID); err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
	}
}

// parseMentions splits leading @agent mentions off a line. Only known agent
// IDs count as mentions; anything else stays part of the message.
func parseMentions(line string, registry *templates.Registry) (targets []string, content string) {
	words := strings.Fields(line)
	i := 0
	for ; i < len(words); i++ {
		if !strings.HasPrefix(words[i], "@") {
			break
		}
		id := strings.TrimPrefix(words[i], "@")
		if _, err := registry.Get(id); err != nil {
			break
		}
		targets = append(targets, id)
	}
	return targets, strings.Join(words[i:], " ")
}

// printNewMessages prints every message that appeared after lastSeen.
func printNewMessages(ctx context.Context, db store.Store, conversationID, lastSeen string) error {
	msgs, err := db.RecentMessages(ctx, conversationID, 50)
	if err != nil {
		return fmt.Errorf("reading replies: %w", err)
	}

	// Skip everything up to and including the last message we had already
	// seen, plus the user's own line.
	start := 0
	for i, msg := range msgs {
		if msg.ID == lastSeen {
			start = i + 1
			break
		}
	}

	for _, msg := range msgs[start:] {
		switch msg.Kind {
		case store.AuthorAgent:
			color.New(color.FgCyan, color.Bold).Printf("%s> ", msg.Author)
			fmt.Println(msg.Content)
		case store.AuthorSystem:
			color.Yellow("  ! %s", msg.Content)
		}
	}
	return nil
}

// openConversation loads an existing conversation or creates a fresh one.
func openConversation(ctx context.Context, db store.Store, registry *templates.Registry, id, title, agentList string) (*store.Conversation, error) {
	if id != "" {
		conv, err := db.GetConversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading conversation %s: %w", id, err)
		}
		return conv, nil
	}

	var participants []string
	if agentList != "" {
		for _, agentID := range strings.Split(agentList, ",") {
			agentID = strings.TrimSpace(agentID)
			if _, err := registry.Get(agentID); err != nil {
				return nil, fmt.Errorf("unknown agent %q: %w", agentID, err)
			}
			participants = append(participants, agentID)
		}
	} else {
		for _, tmpl := range registry.List() {
			participants = append(participants, tmpl.ID)
		}
	}
	if len(participants) == 0 {
		return nil, errors.New("no agent templates configured")
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:             uuid.New().String(),
		Title:          title,
		Participants:   participants,
		Sessions:       make(map[string]string),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := db.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

func runConversations(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	previews, err := db.ListConversations(ctx, 50)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(previews) == 0 {
		fmt.Println("No conversations yet. Start one with: parley chat")
		return nil
	}

	for _, p := range previews {
		color.New(color.FgCyan).Printf("%s", p.ID)
		fmt.Printf("  %s", p.Title)
		if p.UnreadCount > 0 {
			color.New(color.FgYellow).Printf("  [%d unread]", p.UnreadCount)
		}
		fmt.Println()
		if p.Preview != "" {
			snippet := p.Preview
			if len(snippet) > 80 {
				snippet = snippet[:80] + "…"
			}
			color.New(color.FgHiBlack).Printf("  %s\n", snippet)
		}
	}
	return nil
}

func runAgents() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := templates.Load(cfg.Templates.Path)
	if err != nil {
		return fmt.Errorf("loading agent templates: %w", err)
	}

	for _, tmpl := range registry.List() {
		color.New(color.FgCyan).Printf("%-16s", tmpl.ID)
		fmt.Printf("%s  (model: %s, max turns: %d)\n", tmpl.Name, tmpl.Model, tmpl.MaxTurns)
	}
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	templatesPath := filepath.Join(configDir, "agents.toml")
	configContent := fmt.Sprintf(`database:
  path: "%s"

templates:
  path: "%s"

chat:
  flush_interval: "100ms"
  flush_chars: 50

logging:
  level: "info"
  format: "text"
`, filepath.Join(configDir, "parley.db"), templatesPath)

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	templatesContent := `[[agents]]
id = "researcher"
name = "Researcher"
model = "sonnet"
system_prompt = "You are a careful researcher. Cite what you find."

[[agents]]
id = "writer"
name = "Writer"
model = "haiku"
system_prompt = "You turn rough notes into clear prose."
`
	if err := os.WriteFile(templatesPath, []byte(templatesContent), 0644); err != nil {
		return fmt.Errorf("writing templates: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Printf("Created %s\n", templatesPath)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
