package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/zenagent/zenagent/internal/tool"
	"github.com/zenagent/zenagent/internal/walkthrough"
)

// WalkthroughTool allows the agent to record or view execution memos.
// Each request gets its own instance (via NewWalkthroughTool) with session context.
type WalkthroughTool struct {
	store     *walkthrough.Store
	sessionID string
}

// NewWalkthroughTool creates a per-request instance with session context.
func NewWalkthroughTool(store *walkthrough.Store, sessionID string) *WalkthroughTool {
	return &WalkthroughTool{store: store, sessionID: sessionID}
}

func (t *WalkthroughTool) Name() string { return "walkthrough" }
func (t *WalkthroughTool) Description() string {
	return "Record or view execution memos. add: record a key finding (kept, never auto-evicted); list: view the current memos"
}

func (t *WalkthroughTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "operation", Type: "string", Description: "operation: add records a key finding, list views the memos", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "memo content (required when operation=add, max 200 characters)", Required: false},
	)
}

func (t *WalkthroughTool) Init(_ context.Context) error { return nil }
func (t *WalkthroughTool) Close() error                 { return nil }

const maxContentRunes = 200

type walkthroughArgs struct {
	Operation string `json:"operation"`
	Content   string `json:"content"`
}

func (t *WalkthroughTool) Execute(_ context.Context, args json.RawMessage) (tool.Result, error) {
	var a walkthroughArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Result{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	switch a.Operation {
	case "add":
		if a.Content == "" {
			return tool.Result{Error: "operation \"add\" requires non-empty content"}, nil
		}
		// Truncate to maxContentRunes
		content := a.Content
		if utf8.RuneCountInString(content) > maxContentRunes {
			runes := []rune(content)
			content = string(runes[:maxContentRunes]) + "…"
		}
		t.store.Append(t.sessionID, walkthrough.Entry{
			Source:  walkthrough.SourceManual,
			Content: content,
		})
		return tool.Result{Output: "recorded"}, nil

	case "list":
		rendered := t.store.Render(t.sessionID)
		if rendered == "" {
			return tool.Result{Output: "no memos recorded"}, nil
		}
		return tool.Result{Output: rendered}, nil

	default:
		return tool.Result{Error: fmt.Sprintf("unknown operation %q, supported: add/list", a.Operation)}, nil
	}
}
