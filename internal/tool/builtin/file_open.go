package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/zenagent/zenagent/internal/tool"
)

// blockedOpenExts blocks file_open from launching executable or script files.
// This exists so the agent cannot be tricked into executing a malicious
// payload — file_open is for viewing media/documents only.
var blockedOpenExts = map[string]bool{
	// Windows executables / installers
	".exe": true, ".com": true, ".msi": true, ".msp": true,
	".scr": true, ".pif": true,
	// scripts
	".bat": true, ".cmd": true,
	".ps1": true, ".ps2": true,
	".vbs": true, ".vbe": true,
	".js":  true, ".jse": true,
	".wsf": true, ".wsh": true,
	".sh":  true, ".bash": true, ".zsh": true,
	// cross-platform runtime scripts
	".jar": true,
	".py":  true, ".pyw": true,
	".rb":  true,
	".pl":  true,
	".php": true,
}

// ── file_open ──

type FileOpenTool struct {
	workspaceDir string
}

func NewFileOpenTool(workspaceDir string) *FileOpenTool {
	return &FileOpenTool{workspaceDir: workspaceDir}
}

func (t *FileOpenTool) Name() string { return "file_open" }
func (t *FileOpenTool) Description() string {
	return "Open a file (image, audio, video, document, etc.) with the OS default application. Supports media/document files only; executable and script files are refused."
}

func (t *FileOpenTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "path of the file to open (relative to the workspace)", Required: true},
	)
}

func (t *FileOpenTool) Init(_ context.Context) error { return nil }
func (t *FileOpenTool) Close() error                 { return nil }

type fileOpenArgs struct {
	Path string `json:"path"`
}

func (t *FileOpenTool) Execute(_ context.Context, args json.RawMessage) (tool.Result, error) {
	var a fileOpenArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Result{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	if strings.TrimSpace(a.Path) == "" {
		return tool.Result{Error: "path must not be empty"}, nil
	}

	ext := strings.ToLower(filepath.Ext(a.Path))
	if blockedOpenExts[ext] {
		return tool.Result{Error: fmt.Sprintf("security restriction: opening executable or script files is not allowed (%s)", ext)}, nil
	}

	absPath, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.Result{Error: err.Error()}, nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return tool.Result{Error: fmt.Sprintf("file does not exist: %s — confirm the path with file_list first", a.Path)}, nil
		}
		return tool.Result{Error: fmt.Sprintf("cannot access file: %v", err)}, nil
	}
	if info.IsDir() {
		return tool.Result{Error: "path is a directory, file_open only supports files"}, nil
	}

	cmd := openCmdFunc(absPath)
	if err := cmd.Start(); err != nil {
		return tool.Result{Error: fmt.Sprintf("failed to launch default application: %v", err)}, nil
	}
	// Reap the child asynchronously to avoid leaving a zombie process.
	go func() { _ = cmd.Wait() }()

	relPath := relOrAbs(absPath, t.workspaceDir)
	return tool.Result{Output: fmt.Sprintf("opened with default application: %s", relPath)}, nil
}

// openCmdFunc builds the "open with default application" command. It is a
// package-level variable rather than a direct call so tests can swap it for
// a no-op and avoid popping a real GUI window.
var openCmdFunc = openCmd

// openCmd returns the platform-specific "open with default application" command.
//
//   - Windows: cmd /c start "" "<path>"
//     (the empty string after start is a window-title placeholder, preventing
//     paths containing spaces from being misparsed as the title)
//   - macOS:   open "<path>"
//   - Linux:   xdg-open "<path>"
func openCmd(absPath string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("cmd", "/c", "start", "", absPath)
	case "darwin":
		return exec.Command("open", absPath)
	default:
		return exec.Command("xdg-open", absPath)
	}
}
