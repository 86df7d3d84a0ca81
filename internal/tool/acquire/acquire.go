// Package acquire implements acquired external tools (§9 design note):
// tools sourced from an external MCP server and wrapped as tool.Tool,
// persisted under <acquisitionDir>/<toolName>.json in exactly the shape
// spec.md names: {packageName, toolName, description, wrapperCode,
// acquiredAt, validated}.
//
// This package does not itself speak the MCP wire protocol — that lives in
// internal/mcp (client.go/adapter.go), which already wraps an MCP server's
// tools as tool.Tool via github.com/mark3labs/mcp-go. acquire composes on
// top of that by loose tool.Tool coupling: Wrap takes whatever tool.Tool the
// caller already built (an *mcp.MCPToolAdapter in production) and adds the
// acquisition metadata, the validated gate, and the persisted record.
package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/zenagent/zenagent/internal/tool"
)

// Record is the persisted shape of one acquired external tool, matching
// spec.md's `<acquisitionDir>/<toolName>.json` format exactly.
type Record struct {
	PackageName string `json:"packageName"`
	ToolName    string `json:"toolName"`
	Description string `json:"description"`
	WrapperCode string `json:"wrapperCode"`
	AcquiredAt  int64  `json:"acquiredAt"` // unix millis, caller-supplied
	Validated   bool   `json:"validated"`
}

// Store persists acquisition records under dir, one file per tool.
// Disableable by config per spec.md §9 ("it MUST be disableable by
// config"): a Store with enabled=false refuses Save and reports no
// acquired tools via List.
type Store struct {
	mu      sync.Mutex
	dir     string
	enabled bool
}

// NewStore creates a Store rooted at dir. enabled=false disables dynamic
// acquisition: Save refuses and List reports nothing. Load does not check
// enabled and still reads a previously persisted record by name.
func NewStore(dir string, enabled bool) *Store {
	return &Store{dir: dir, enabled: enabled}
}

// Enabled reports whether dynamic acquisition is turned on.
func (s *Store) Enabled() bool {
	return s.enabled
}

// Save persists a Record, atomically (temp-file-then-rename, matching every
// other *store package's persistence convention). Returns an error if
// acquisition is disabled.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return fmt.Errorf("acquire: dynamic tool acquisition is disabled")
	}
	if rec.ToolName == "" {
		return fmt.Errorf("acquire: record has no toolName")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("acquire: marshal %q: %w", rec.ToolName, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("acquire: mkdir %q: %w", s.dir, err)
	}
	path := s.pathFor(rec.ToolName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("acquire: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("acquire: rename %q -> %q: %w", tmp, path, err)
	}
	return nil
}

// Load reads a single tool's Record. Returns ok=false if not found.
func (s *Store) Load(toolName string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(toolName))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("acquire: read %q: %w", toolName, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("acquire: parse %q: %w", toolName, err)
	}
	return rec, true, nil
}

// List returns every persisted Record. Returns an empty slice (not an
// error) when acquisition is disabled or the directory doesn't exist yet.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("acquire: read dir %q: %w", s.dir, err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.Printf("[Acquire] skipping unreadable record %q: %v", e.Name(), err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("[Acquire] skipping malformed record %q: %v", e.Name(), err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) pathFor(toolName string) string {
	return filepath.Join(s.dir, toolName+".json")
}

// Tool wraps an already-connected underlying tool.Tool (in production, an
// *mcp.MCPToolAdapter) with acquisition metadata and a validation gate:
// an acquired tool that was never marked Validated refuses to execute,
// rather than running unreviewed wrapper code against live arguments.
type Tool struct {
	meta       Record
	underlying tool.Tool
}

// Wrap pairs a persisted Record with the tool.Tool that actually executes
// it. meta and underlying are expected to agree on ToolName/Name(); Wrap
// does not cross-check this since the caller constructs both sides.
func Wrap(meta Record, underlying tool.Tool) *Tool {
	return &Tool{meta: meta, underlying: underlying}
}

func (t *Tool) Name() string        { return t.meta.ToolName }
func (t *Tool) Description() string { return t.meta.Description }
func (t *Tool) InputSchema() json.RawMessage {
	return t.underlying.InputSchema()
}

func (t *Tool) Init(ctx context.Context) error {
	return t.underlying.Init(ctx)
}

func (t *Tool) Close() error {
	return t.underlying.Close()
}

// Execute refuses to run an unvalidated acquisition; otherwise delegates to
// the underlying connected tool.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tool.Result, error) {
	if !t.meta.Validated {
		return tool.Result{
			Success: false,
			Error:   fmt.Sprintf("acquired tool %q has not been validated", t.meta.ToolName),
		}, nil
	}
	return t.underlying.Execute(ctx, args)
}

var _ tool.Tool = (*Tool)(nil)
