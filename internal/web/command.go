package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/prompt"
	"github.com/zenagent/zenagent/internal/session"
	"github.com/zenagent/zenagent/internal/tool"
)

// CommandHandlerOptions configures the slash command handler.
type CommandHandlerOptions struct {
	Loader       *prompt.PromptLoader
	MCPReload    func() // nil = no MCP; /reload only reloads prompts
	Store        *session.Store
	LLMProvider  llm.LLMProvider // used by /compact for summary generation
	ToolRegistry *tool.Registry  // used by /stats for tool count
	ModelName    string          // used by /stats
	ThinkingMode string          // used by /stats
	ToolCallMode string          // used by /stats
}

// commandResult is the JSON response from a slash command.
type commandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"` // optional frontend action (e.g. "clear_chat")
}

// commandFunc handles a single slash command.
type commandFunc func(ctx context.Context, args string, sessionID string) commandResult

// CommandHandler routes slash commands to handlers without involving the LLM.
type CommandHandler struct {
	loader       *prompt.PromptLoader
	mcpReload    func()
	store        *session.Store
	llmProvider  llm.LLMProvider
	toolRegistry *tool.Registry
	modelName    string
	thinkingMode string
	toolCallMode string
	commands     map[string]commandFunc
}

// NewCommandHandler creates a command handler with built-in commands.
func NewCommandHandler(opts CommandHandlerOptions) *CommandHandler {
	h := &CommandHandler{
		loader:       opts.Loader,
		mcpReload:    opts.MCPReload,
		store:        opts.Store,
		llmProvider:  opts.LLMProvider,
		toolRegistry: opts.ToolRegistry,
		modelName:    opts.ModelName,
		thinkingMode: opts.ThinkingMode,
		toolCallMode: opts.ToolCallMode,
	}
	h.commands = map[string]commandFunc{
		"reload":  h.cmdReload,
		"clear":   h.cmdClear,
		"help":    h.cmdHelp,
		"compact": h.cmdCompact,
		"stats":   h.cmdStats,
	}
	return h
}

type commandRequest struct {
	Command   string `json:"command"`
	Args      string `json:"args"`
	SessionID string `json:"session_id"`
}

// HandleCommand is the HTTP handler for POST /api/command.
func (h *CommandHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	w.Header().Set("Content-Type", "application/json")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		json.NewEncoder(w).Encode(commandResult{OK: false, Message: "request parse failed: " + err.Error()})
		return
	}

	fn, ok := h.commands[req.Command]
	if !ok {
		json.NewEncoder(w).Encode(commandResult{
			OK:      false,
			Message: "unknown command /" + req.Command + ", type /help for available commands",
		})
		return
	}

	result := fn(r.Context(), req.Args, req.SessionID)
	json.NewEncoder(w).Encode(result)
}

// ── Built-in commands ──

func (h *CommandHandler) cmdReload(ctx context.Context, args, sessionID string) commandResult {
	if h.loader != nil {
		h.loader.Reload()
	}
	if h.mcpReload != nil {
		h.mcpReload()
	}
	log.Printf("[Command] /reload executed")
	return commandResult{OK: true, Message: "prompts and MCP config reloaded"}
}

func (h *CommandHandler) cmdClear(ctx context.Context, args, sessionID string) commandResult {
	if sessionID != "" && h.store != nil {
		h.store.Delete(sessionID)
	}
	log.Printf("[Command] /clear executed, session=%s", sessionID)
	return commandResult{OK: true, Message: "conversation cleared", Action: "clear_chat"}
}

func (h *CommandHandler) cmdHelp(ctx context.Context, args, sessionID string) commandResult {
	return commandResult{
		OK: true,
		Message: "Available commands:\n" +
			"/reload — reload prompts and MCP config\n" +
			"/clear — clear the current conversation\n" +
			"/compact [N] — compact history into a summary (keeps the last N turns, default 2)\n" +
			"/stats — show the current session state and system info\n" +
			"/help — show this help",
	}
}

func (h *CommandHandler) cmdStats(ctx context.Context, args, sessionID string) commandResult {
	var sb strings.Builder
	sb.WriteString("Current session state\n")

	// Session info
	if sessionID != "" && h.store != nil {
		turns, summary := h.store.GetSessionContext(sessionID)
		sb.WriteString(fmt.Sprintf("- turns: %d", len(turns)))
		if summary != "" {
			sb.WriteString(fmt.Sprintf(" (summary: yes, ~%d chars)", len([]rune(summary))))
		} else {
			sb.WriteString(" (summary: none)")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("- turns: no active session\n")
	}

	// Tool info
	if h.toolRegistry != nil {
		tools := h.toolRegistry.List()
		mcpCount := 0
		for _, t := range tools {
			if strings.HasPrefix(t.Name(), "mcp_") {
				mcpCount++
			}
		}
		sb.WriteString(fmt.Sprintf("- registered tools: %d", len(tools)))
		if mcpCount > 0 {
			sb.WriteString(fmt.Sprintf(" (incl. MCP: %d)", mcpCount))
		}
		sb.WriteString("\n")
	}

	// Model info
	if h.modelName != "" {
		sb.WriteString(fmt.Sprintf("- model: %s\n", h.modelName))
	}
	sb.WriteString(fmt.Sprintf("- thinking mode: %s | tool call mode: %s\n", h.thinkingMode, h.toolCallMode))

	return commandResult{OK: true, Message: sb.String()}
}

// defaultCompactKeepN is the number of recent turns to keep after compaction.
const defaultCompactKeepN = 2

func (h *CommandHandler) cmdCompact(ctx context.Context, args, sessionID string) commandResult {
	if sessionID == "" || h.store == nil {
		return commandResult{OK: false, Message: "no active session"}
	}
	if h.llmProvider == nil {
		return commandResult{OK: false, Message: "LLM not configured, cannot generate a summary"}
	}

	// Support /compact 3 to specify keepN
	keepN := defaultCompactKeepN
	if args != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(args)); err == nil && n >= 0 {
			keepN = n
		}
	}

	// Atomically fetch history + existing summary
	turns, existingSummary := h.store.GetSessionContext(sessionID)
	if len(turns) <= keepN {
		return commandResult{OK: true, Message: "too few turns to compact"}
	}

	// Use shared compact logic
	summary, err := buildCompactSummary(ctx, h.llmProvider, turns, existingSummary, keepN)
	if err != nil {
		log.Printf("[Command] /compact LLM error: %v", err)
		return commandResult{OK: false, Message: "summary generation failed: " + err.Error()}
	}

	// Update session
	compacted := h.store.Compact(sessionID, summary, keepN)
	log.Printf("[Command] /compact executed, session=%s compacted=%d keepN=%d summary_len=%d",
		sessionID, compacted, keepN, len([]rune(summary)))

	return commandResult{
		OK: true,
		Message: fmt.Sprintf("compacted %d turns into a summary (~%d chars)",
			compacted, len([]rune(summary))),
	}
}
