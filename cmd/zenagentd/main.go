// Command zenagentd is the autonomous goal-driven agent runtime's
// entrypoint. By default it runs unattended as the background daemon
// (§4.14): PID guard, heartbeat monitor, and a persisted task scheduler
// driving the §4.7 goal loop over queued tasks, with no HTTP surface. The
// chat/agent HTTP API the runtime was originally built around is an
// external collaborator outside this scope; it survives only as an
// explicit opt-in (ZENAGENT_LEGACY_SERVER=true) for callers that still
// want interactive chat instead of the unattended daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/zenagent/zenagent/internal/agent"
	"github.com/zenagent/zenagent/internal/config"
	"github.com/zenagent/zenagent/internal/daemon"
	"github.com/zenagent/zenagent/internal/events"
	"github.com/zenagent/zenagent/internal/failurestore"
	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/karmastore"
	"github.com/zenagent/zenagent/internal/llm/openai"
	"github.com/zenagent/zenagent/internal/mcp"
	"github.com/zenagent/zenagent/internal/plan"
	"github.com/zenagent/zenagent/internal/prajna"
	"github.com/zenagent/zenagent/internal/prompt"
	"github.com/zenagent/zenagent/internal/resilience"
	"github.com/zenagent/zenagent/internal/runtime"
	"github.com/zenagent/zenagent/internal/session"
	"github.com/zenagent/zenagent/internal/skill"
	"github.com/zenagent/zenagent/internal/tool"
	"github.com/zenagent/zenagent/internal/tool/builtin"
	"github.com/zenagent/zenagent/internal/walkthrough"
	"github.com/zenagent/zenagent/internal/web"
	"github.com/zenagent/zenagent/pkg/zenagent"
)

func main() {
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║             ZenAgent v0.1             ║")
	fmt.Println("║  goal-driven agent runtime · Go       ║")
	fmt.Println("╚══════════════════════════════════════╝")

	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		log.Fatalf("❌ Failed to initialize LLM client: %v", err)
	}
	fmt.Printf("🤖 LLM: %s @ %s\n", llmClient.GetConfig().Model, llmClient.GetConfig().BaseURL)

	registry := tool.NewRegistry()
	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("❌ WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}
	fmt.Printf("📂 Workspace: %s\n", workspaceDir)

	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellTool(workspaceDir, shellEnabled))
	registry.Register(builtin.NewFileReadTool(workspaceDir))
	registry.Register(builtin.NewFileWriteTool(workspaceDir))
	registry.Register(builtin.NewFileListTool(workspaceDir))
	registry.Register(builtin.NewFileFindTool(workspaceDir))
	registry.Register(builtin.NewFileGrepTool(workspaceDir))
	registry.Register(builtin.NewFileMoveTool(workspaceDir))
	registry.Register(builtin.NewFileOpenTool(workspaceDir))
	registry.Register(builtin.NewFileDeleteTool(workspaceDir))
	registry.Register(builtin.NewFilePatchTool(workspaceDir))
	registry.Register(builtin.NewTimeTool())
	registry.Register(builtin.NewWebReaderTool())
	registry.Register(builtin.NewGitInfoTool(workspaceDir))

	if os.Getenv("TOOL_HTTP_ENABLED") != "false" {
		allowInternal := os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"
		registry.Register(builtin.NewHTTPRequestTool(allowInternal))
		fmt.Println("🌐 HTTP request tool enabled")
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		registry.Register(builtin.NewTavilySearchTool(key))
		fmt.Println("🔍 Tavily web search enabled")
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		registry.Register(builtin.NewBraveSearchTool(key))
		fmt.Println("🔍 Brave search enabled")
	}

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize tools: %v", err)
	}
	defer registry.CloseAll()

	skillMgr := skill.NewManager(workspaceDir)
	if n, skillErrs := skillMgr.LoadAll(context.Background(), registry); n > 0 || len(skillErrs) > 0 {
		fmt.Printf("🧩 Workspace skills: %d loaded\n", n)
		for _, e := range skillErrs {
			log.Printf("⚠️  Skill load: %v", e)
		}
	}
	registry.Register(skill.NewReloadTool(skillMgr, registry))

	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(workspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(workspaceDir, "rules.md")
	}
	soulPath := os.Getenv("SOUL_PATH")
	if soulPath == "" {
		soulPath = filepath.Join(workspaceDir, "soul.md")
	}
	promptLoader := prompt.NewPromptLoader(promptsDir, rulesPath, soulPath)
	fmt.Printf("📋 Prompt loader: L2=%s L3=%s Soul=%s\n", promptsDir, rulesPath, soulPath)

	// Detect the host's Node.js/tsx availability so the MCP guidance prompt can
	// tell the agent whether a Node-based stdio server is actually runnable.
	nodeInfo := runtime.ProbeNodeRuntime()
	promptLoader.PatchFile("mcp_server_guide.md", "{{RUNTIME_ENV}}", nodeInfo.StatusString())

	mcpServerCount := 0
	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	if _, statErr := os.Stat(mcpConfigPath); statErr == nil {
		mcpMgr := mcp.NewManager(mcpConfigPath)
		mcpMgr.SetPromptLoader(promptLoader)
		mcpMgr.AddReloadHook(skillMgr.Reload)
		registry.Register(mcp.NewReloadTool(mcpMgr, registry))

		n, mcpErrs := mcpMgr.ConnectAll(context.Background())
		for _, e := range mcpErrs {
			log.Printf("⚠️  MCP connect: %v", e)
		}
		if n > 0 {
			if err := mcpMgr.RegisterTools(context.Background(), registry); err != nil {
				log.Printf("⚠️  MCP register tools: %v", err)
			}
			fmt.Printf("🔌 MCP: %d server(s) connected\n", n)
		}
		mcpServerCount = n
		defer mcpMgr.CloseAll()
	}

	logDir := filepath.Join(workspaceDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("⚠️ Failed to create log directory %q: %v", logDir, err)
	}
	execLogger, err := agent.NewExecLogger(filepath.Join(logDir, "agent_exec.md"))
	if err != nil {
		log.Printf("⚠️ Exec logger disabled: %v", err)
	} else {
		defer execLogger.Close()
		fmt.Printf("📝 Exec log: logs/agent_exec.md\n")
	}

	sessionTTL := 30 * time.Minute
	sessionMaxTurns := 10
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sessionTTL = time.Duration(n) * time.Minute
		} else {
			log.Printf("⚠️ Invalid SESSION_TTL_MINUTES=%q, using default 30m", v)
		}
	}
	if v := os.Getenv("SESSION_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sessionMaxTurns = n
		} else {
			log.Printf("⚠️ Invalid SESSION_MAX_TURNS=%q, using default 10", v)
		}
	}
	sessionStore := session.NewStore(sessionTTL, sessionMaxTurns)
	defer sessionStore.Close()
	fmt.Printf("💬 Session: TTL=%v MaxTurns=%d\n", sessionTTL, sessionMaxTurns)

	planStore := plan.NewPlanStore()
	walkthroughStore := walkthrough.NewStore()

	// Resilience: one circuit breaker per tool, tripped on repeated failures.
	breakers := resilience.NewManager(5, 30*time.Second)

	// Plugin lifecycle bus. The ethics plugin force-trips a tool's breaker
	// when the agent's loop detector reports tanha:loop:detected, so a
	// thrashing tool stops being retried even before its own failure count
	// would normally open the breaker.
	hookBus := hook.NewBus(10)
	if err := hookBus.Register(&registryAgent{reg: registry}, hook.NewEthicsPlugin(breakers)); err != nil {
		log.Printf("⚠️  Hook: ethics plugin install failed: %v", err)
	}
	fmt.Println("🔗 Hooks: ethics plugin attached")

	// Long-term memory. Reuses the chat LLM client as the embedder so a
	// configured LLM_EMBEDDING_MODEL also backs Prajna; a zero-value
	// embedder falls back to its internal TF-IDF vocabulary.
	var memory *prajna.Store
	if os.Getenv("MEMORY_ENABLED") != "false" {
		memDir := filepath.Join(workspaceDir, "memory")
		if err := os.MkdirAll(memDir, 0o755); err != nil {
			log.Printf("⚠️ Failed to create memory directory %q: %v", memDir, err)
		}
		memory = prajna.New(prajna.NewConfig(), llmClient, filepath.Join(memDir, "episodic.json"), filepath.Join(memDir, "semantic.json"))
		fmt.Printf("🧠 Memory: hierarchical store at %s\n", memDir)
	}

	thinkingMode := llmClient.GetConfig().ResolveThinkingMode()
	toolCallMode := llmClient.GetConfig().ToolCallMode
	contextWindow := llmClient.GetConfig().ResolveContextWindow()
	fmt.Printf("🧠 Thinking: %s\n", thinkingMode)
	fmt.Printf("🔧 ToolCall: %s (resolved: %s)\n", toolCallMode, llmClient.GetConfig().ResolveToolCallMode())
	fmt.Printf("📐 ContextWindow: %d tokens\n", contextWindow)

	chatHandler := web.NewChatHandler(llmClient, 3, contextWindow, sessionStore, promptLoader)
	agentHandler := web.NewAgentHandler(web.AgentHandlerOptions{
		Provider:            llmClient,
		Registry:            registry,
		WorkspaceDir:        workspaceDir,
		ExecLogger:          execLogger,
		ThinkingMode:        thinkingMode,
		ToolCallMode:        toolCallMode,
		ContextWindowTokens: contextWindow,
		Store:               sessionStore,
		Loader:              promptLoader,
		ModelName:           llmClient.GetConfig().Model,
		PlanStore:           planStore,
		MaxAgentTokens:      envInt64("MAX_AGENT_TOKENS", 0),
		MaxAgentDuration:    envDuration("MAX_AGENT_DURATION_MINUTES", 0),
		WalkthroughStore:    walkthroughStore,
		CircuitBreakers:     breakers,
		Hooks:               hookBus,
		Memory:              memory,
	})
	commandHandler := web.NewCommandHandler(web.CommandHandlerOptions{
		Loader:       promptLoader,
		Store:        sessionStore,
		LLMProvider:  llmClient,
		ToolRegistry: registry,
		ModelName:    llmClient.GetConfig().Model,
		ThinkingMode: thinkingMode,
		ToolCallMode: toolCallMode,
	})

	healthInfo := web.HealthInfo{
		LLMModel:       llmClient.GetConfig().Model,
		ToolCount:      len(registry.List()),
		MCPServerCount: mcpServerCount,
		SessionCount:   sessionStore.Count,
	}

	if os.Getenv("ZENAGENT_LEGACY_SERVER") == "true" {
		server, err := web.NewServer(chatHandler, agentHandler, commandHandler, healthInfo)
		if err != nil {
			log.Fatalf("❌ Failed to create web server: %v", err)
		}
		if err := server.Start(); err != nil {
			log.Fatalf("❌ Server error: %v", err)
		}
		return
	}

	runDaemon(workspaceDir, llmClient, registry, hookBus, breakers, memory)
}

// runDaemon starts the unattended background runtime (§4.14): PID guard,
// heartbeat monitor, and a persisted task scheduler whose dequeued tasks are
// driven through the §4.7 goal loop, with no HTTP surface. Intended for a
// supervised long-running process (systemd, a container entrypoint) rather
// than interactive use.
func runDaemon(workspaceDir string, llmClient *openai.Client, registry *tool.Registry, hookBus *hook.Bus, breakers *resilience.Manager, memory *prajna.Store) {
	stateDir := filepath.Join(workspaceDir, ".zenagent")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create state directory %q: %v", stateDir, err)
	}

	d, err := zenagent.NewDaemon(zenagent.DaemonConfig{
		PIDFilePath:   filepath.Join(stateDir, "zenagentd.pid"),
		QueuePath:     filepath.Join(stateDir, "task-queue.json"),
		HeartbeatPath: filepath.Join(stateDir, "heartbeat.json"),
	})
	if err != nil {
		log.Fatalf("❌ Failed to construct daemon: %v", err)
	}

	karmaDB := karmastore.New(filepath.Join(stateDir, "karma.json"), llmClient)
	if err := karmaDB.Load(); err != nil {
		log.Printf("⚠️  Karma store load: %v", err)
	}
	failureDB := failurestore.New(filepath.Join(stateDir, "failures.json"), llmClient)
	if err := failureDB.Load(); err != nil {
		log.Printf("⚠️  Failure store load: %v", err)
	}

	eventBus := events.NewBus()
	eventBus.On(func(e events.Event) { log.Printf("[Daemon] event %s: %+v", e.Name, e.Payload) })

	tracker := &inFlightTracker{}
	d.SetInFlightProvider(tracker)

	if err := d.Start(time.Now()); err != nil {
		log.Fatalf("❌ Failed to start daemon: %v", err)
	}
	fmt.Println("🤖 ZenAgent daemon running (no HTTP surface)")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("⚡ Received signal %v, shutting down daemon...", sig)
		cancel()
	}()

	runner := agent.NewGoalRunner(agent.GoalRunnerConfig{
		LLM:          llmClient,
		Tools:        registry,
		Hooks:        hookBus,
		Events:       eventBus,
		Karma:        karmaDB,
		Failures:     failureDB,
		Memory:       memory,
		Breakers:     breakers,
		WorkspaceDir: workspaceDir,
		MaxSteps:     agent.MaxAgentSteps,
		OnStateReady: tracker.set,
	})

	pollInterval := 2 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		case <-ticker.C:
			task, ok, err := d.Scheduler.Dequeue()
			if err != nil {
				log.Printf("⚠️  Scheduler dequeue: %v", err)
				continue
			}
			if !ok {
				continue
			}
			fmt.Printf("🎯 Daemon: starting task %s: %s\n", task.ID, task.Goal)
			state, result := runner.Run(ctx, task.Goal, zenagent.DefaultMilestones(task.Goal))
			tracker.set(nil)
			if result.Status == agent.StatusDone {
				if err := d.Scheduler.Complete(task.ID, checkpointSteps(state)); err != nil {
					log.Printf("⚠️  Scheduler complete: %v", err)
				}
			} else {
				if err := d.Scheduler.Fail(task.ID, result.Status); err != nil {
					log.Printf("⚠️  Scheduler fail: %v", err)
				}
			}
			fmt.Printf("✅ Daemon: task %s finished with status %s\n", task.ID, result.Status)
		}
	}

	if err := d.Shutdown(); err != nil {
		log.Printf("⚠️  Daemon shutdown error: %v", err)
	}
}

// inFlightTracker satisfies daemon.InFlightProvider by forwarding to
// whichever GoalState the runner most recently started — set via
// agent.GoalRunnerConfig.OnStateReady, the only point a caller can obtain a
// handle on in-flight state before a run completes.
type inFlightTracker struct {
	mu    sync.Mutex
	state *agent.GoalState
}

func (t *inFlightTracker) set(s *agent.GoalState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *inFlightTracker) Checkpoint() (daemon.Checkpoint, bool) {
	t.mu.Lock()
	s := t.state
	t.mu.Unlock()
	if s == nil {
		return daemon.Checkpoint{}, false
	}
	return s.Checkpoint()
}

// checkpointSteps flattens a finished run's step history into the
// scheduler's Complete(steps) shape.
func checkpointSteps(s *agent.GoalState) []string {
	if s == nil {
		return nil
	}
	cp, ok := s.Checkpoint()
	if !ok {
		return nil
	}
	return cp.Steps
}

// registryAgent adapts *tool.Registry to hook.Agent, so plugins installed
// onto the bus can register new tools (e.g. a future self-improvement
// plugin) without the hook package importing internal/tool.
type registryAgent struct {
	reg *tool.Registry
}

func (a *registryAgent) AddTool(name string, t any) error {
	tl, ok := t.(tool.Tool)
	if !ok {
		return fmt.Errorf("hook: AddTool(%q): %T does not implement tool.Tool", name, t)
	}
	a.reg.Register(tl)
	return nil
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("⚠️ Invalid %s=%q, using default %d", key, v, def)
	}
	return def
}

func envDuration(key string, defMinutes int) time.Duration {
	minutes := defMinutes
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			minutes = n
		} else {
			log.Printf("⚠️ Invalid %s=%q, using default %d", key, v, defMinutes)
		}
	}
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}
