package application

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/architect-cli/architect/internal/application/usecase"
	"github.com/architect-cli/architect/internal/domain/repository"
	"github.com/architect-cli/architect/internal/domain/service"
	domaintool "github.com/architect-cli/architect/internal/domain/tool"
	"github.com/architect-cli/architect/internal/infrastructure/config"
	"github.com/architect-cli/architect/internal/infrastructure/llm"
	_ "github.com/architect-cli/architect/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/architect-cli/architect/internal/infrastructure/llm/gemini"    // register gemini provider factory
	_ "github.com/architect-cli/architect/internal/infrastructure/llm/openai"    // register openai provider factory
	"github.com/architect-cli/architect/internal/infrastructure/persistence"
	"github.com/architect-cli/architect/internal/infrastructure/prompt"
	"github.com/architect-cli/architect/internal/infrastructure/sandbox"
	toolpkg "github.com/architect-cli/architect/internal/infrastructure/tool"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the headless CLI application container — wires repositories,
// domain services, LLM routing, tool registry, and the Agent Loop for a
// single-process, single-workspace run. There is no server lifecycle here:
// the CLI owns the REPL/runner loop directly and calls App for its
// dependencies.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	agentRepo   repository.AgentRepository
	messageRepo repository.MessageRepository

	agentSelector service.AgentSelector
	messageRouter service.MessageRouter

	processMessageUseCase *usecase.ProcessMessageUseCase

	toolRegistry domaintool.Registry
	toolExecutor *toolpkg.Executor
	llmRouter    *llm.Router
	mcpManager   *toolpkg.MCPManager
	agentLoop    *service.AgentLoop
	securityHook *service.SecurityHook

	promptEngine *prompt.PromptEngine
}

// NewAppCLI creates the headless CLI app. Only initializes: DB (silent),
// tools, LLM router, Agent Loop, prompt engine — no network listeners.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositoriesSilent(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	return app, nil
}

// initRepositoriesSilent initializes repos with silent DB logging (for CLI mode)
func (app *App) initRepositoriesSilent() error {
	db, err := persistence.NewDBConnectionSilent(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	return nil
}

// initDomainServices 初始化领域服务
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	app.agentSelector = service.NewDefaultAgentSelector(app.agentRepo)
	app.messageRouter = service.NewDefaultMessageRouter(app.agentSelector)

	return nil
}

// initInfrastructure 初始化基础设施
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	// Tool Registry + Executor
	app.toolRegistry = domaintool.NewInMemoryRegistry()
	homeDir, _ := os.UserHomeDir()
	systemSkillsDir := filepath.Join(homeDir, ".ngoclaw", "skills")

	workspaceDir := app.config.Agent.Workspace

	sbxCfg := sandbox.DefaultConfig()
	sbxCfg.PythonEnv = app.config.PythonEnv
	if app.config.Agent.Runtime.ToolTimeout > 0 {
		sbxCfg.Timeout = app.config.Agent.Runtime.ToolTimeout
	}
	sbx, sbxErr := sandbox.NewProcessSandbox(sbxCfg, app.logger)
	if sbxErr != nil {
		app.logger.Warn("Sandbox init failed, tools will run unsandboxed", zap.Error(sbxErr))
	}

	var workspaceRoot *sandbox.PathValidator
	if workspaceDir != "" {
		if v, err := sandbox.NewPathValidator(workspaceDir); err != nil {
			app.logger.Warn("workspace root resolution failed, run_command will not confine cwd", zap.Error(err))
		} else {
			workspaceRoot = v
		}
	}

	// Executor (只负责执行，不再负责注册)
	app.toolExecutor = toolpkg.NewExecutor(
		app.toolRegistry,
		&domaintool.Policy{Profile: "full"},
		sbx, nil, app.logger,
		app.config.PythonEnv, systemSkillsDir,
	)

	// LLM Router (modular provider factory with failover)
	// NOTE: must be initialized BEFORE RegisterAllTools because sub_agent depends on it.
	app.llmRouter = llm.NewRouter(app.logger)
	runtimeCfg := app.config.Agent.Runtime
	if runtimeCfg.MaxRetries > 0 {
		retryWait := runtimeCfg.RetryBaseWait
		if retryWait <= 0 {
			retryWait = 2 * time.Second
		}
		app.llmRouter.SetRetryConfig(llm.RetryConfig{
			MaxRetries: runtimeCfg.MaxRetries,
			BaseDelay:  retryWait,
			MaxDelay:   60 * time.Second,
		})
	}
	for _, p := range app.config.Agent.Providers {
		var provider llm.Provider
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("Failed to create LLM provider",
				zap.String("name", p.Name),
				zap.String("type", p.Type),
				zap.Error(err),
			)
			continue
		}
		// Dev-only response cache, opt-in via agent.runtime.response_cache_dir.
		if runtimeCfg.ResponseCacheDir != "" {
			ttl := runtimeCfg.ResponseCacheTTL
			if ttl <= 0 {
				ttl = time.Hour
			}
			provider = llm.NewCachingProvider(provider, runtimeCfg.ResponseCacheDir, ttl, app.logger)
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM Router initialized",
		zap.Int("providers", len(app.config.Agent.Providers)),
	)

	// MCP Manager (hot-pluggable, reads ~/.ngoclaw/mcp.json)
	homeDir, _ = os.UserHomeDir()
	mcpConfigPath := filepath.Join(homeDir, ".ngoclaw", "mcp.json")
	app.mcpManager = toolpkg.NewMCPManager(mcpConfigPath, app.toolRegistry, app.logger)

	// ── Unified Tool Registration (single entry point) ──
	subMaxSteps := app.config.Agent.Runtime.SubAgentMaxSteps
	if subMaxSteps <= 0 {
		subMaxSteps = 25
	}
	toolpkg.RegisterAllTools(toolpkg.ToolLayerDeps{
		Registry:      app.toolRegistry,
		Sandbox:       sbx,
		SkillExec:     nil,
		WorkspaceRoot: workspaceRoot,
		PythonEnv:     app.config.PythonEnv,
		SkillsDir:     systemSkillsDir,
		Workspace:     app.config.Agent.Workspace,
		MCPManager:    app.mcpManager,
		SubAgent: &toolpkg.SubAgentDeps{
			LLMClient:    app.llmRouter,
			ToolExecutor: &toolBridge{registry: app.toolRegistry},
			DefaultModel: app.config.Agent.DefaultModel,
			MaxSteps:     subMaxSteps,
			Timeout:      app.config.Agent.Runtime.SubAgentTimeout,
		},
		Logger: app.logger,
	})

	// Prompt Engine (hot-pluggable system prompt assembly — System + Workspace layers)
	app.promptEngine = prompt.NewPromptEngine(app.config.Agent.Workspace, app.logger)
	if err := app.promptEngine.Discover(); err != nil {
		app.logger.Warn("Prompt engine discovery failed, will use empty system prompt",
			zap.Error(err),
		)
	}

	return nil
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")

	// ProcessMessageUseCase (legacy REPL path — uses llmRouter directly)
	app.processMessageUseCase = usecase.NewProcessMessageUseCase(
		app.messageRepo,
		app.messageRouter,
		app.llmRouter,
		app.logger,
	)

	// Agent Loop (ReAct Engine) — uses LLM Router + Tool Bridge
	loopTools := &toolBridge{registry: app.toolRegistry}

	loopCfg := app.buildAgentLoopConfig()

	app.agentLoop = service.NewAgentLoop(
		app.llmRouter,
		loopTools,
		loopCfg,
		app.logger,
	)
	app.logger.Info("Agent Loop initialized",
		zap.String("model", loopCfg.Model),
	)

	// Create SecurityHook and attach to agent loop. CLI mode has no remote
	// approval channel, so the approval func is nil — SecurityHook falls
	// back to its configured default policy (allow/deny by tool name).
	app.securityHook = service.NewSecurityHook(
		app.config.Agent.Security,
		nil,
		app.logger,
	)
	app.agentLoop.SetHooks(app.securityHook)

	// Middleware pipeline (data-transformation hooks around LLM calls)
	mwPipeline := service.NewMiddlewarePipeline(app.logger)
	mwPipeline.Use(
		service.NewDanglingToolCallMiddleware(app.logger),
	)
	app.agentLoop.SetMiddleware(mwPipeline)
	app.logger.Info("Middleware pipeline configured",
		zap.Int("middlewares", mwPipeline.Len()),
	)

	return nil
}

// ProcessMessageUseCase returns the message processing usecase (used by REPL)
func (app *App) ProcessMessageUseCase() *usecase.ProcessMessageUseCase {
	return app.processMessageUseCase
}

// Logger returns the application logger
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig returns the application config
func (app *App) AppConfig() *config.Config {
	return app.config
}

// AgentLoop returns the agent loop instance (used by CLI REPL and headless runners)
func (app *App) AgentLoop() *service.AgentLoop {
	return app.agentLoop
}

// PromptEngine returns the prompt engine (used by CLI REPL)
func (app *App) PromptEngine() *prompt.PromptEngine {
	return app.promptEngine
}

// ToolRegistry returns the tool registry (used by CLI REPL)
func (app *App) ToolRegistry() domaintool.Registry {
	return app.toolRegistry
}

// NewAgentFactory returns a service.AgentFactory that builds a fresh Agent
// Loop confined to workDir — its own tool registry, sandbox, and path
// validator, sharing the already-initialized LLM router. Ralph Loop,
// Pipeline Runner, Parallel Runner, and the Auto-Reviewer all take one of
// these rather than reusing app.AgentLoop(), since each worker or worktree
// needs tools confined to its own directory rather than the original
// workspace.
func (app *App) NewAgentFactory() service.AgentFactory {
	return func(workDir string) (*service.AgentLoop, error) {
		registry := domaintool.NewInMemoryRegistry()

		homeDir, _ := os.UserHomeDir()
		systemSkillsDir := filepath.Join(homeDir, ".ngoclaw", "skills")

		sbxCfg := sandbox.DefaultConfig()
		sbxCfg.WorkDir = workDir
		sbxCfg.PythonEnv = app.config.PythonEnv
		if app.config.Agent.Runtime.ToolTimeout > 0 {
			sbxCfg.Timeout = app.config.Agent.Runtime.ToolTimeout
		}
		sbx, err := sandbox.NewProcessSandbox(sbxCfg, app.logger)
		if err != nil {
			return nil, fmt.Errorf("agent factory: sandbox init failed: %w", err)
		}

		workspaceRoot, err := sandbox.NewPathValidator(workDir)
		if err != nil {
			return nil, fmt.Errorf("agent factory: path validator failed: %w", err)
		}

		toolpkg.RegisterAllTools(toolpkg.ToolLayerDeps{
			Registry:      registry,
			Sandbox:       sbx,
			WorkspaceRoot: workspaceRoot,
			PythonEnv:     app.config.PythonEnv,
			SkillsDir:     systemSkillsDir,
			Workspace:     workDir,
			MCPManager:    app.mcpManager,
			Logger:        app.logger,
		})

		tools := &toolBridge{registry: registry}

		loopCfg := app.buildAgentLoopConfig()
		loop := service.NewAgentLoop(app.llmRouter, tools, loopCfg, app.logger)
		loop.SetHooks(service.NewSecurityHook(app.config.Agent.Security, nil, app.logger))
		return loop, nil
	}
}

// buildAgentLoopConfig applies config.yaml overrides to the default Agent
// Loop config. Factored out of initApplicationServices so NewAgentFactory
// can build independent Agent Loop instances with the same policy.
func (app *App) buildAgentLoopConfig() service.AgentLoopConfig {
	loopCfg := service.DefaultAgentLoopConfig()
	loopCfg.Model = app.config.Agent.DefaultModel

	if len(app.config.Agent.ModelPolicies) > 0 {
		loopCfg.ModelPolicies = make(map[string]*service.ModelPolicyOverride)
		for key, cfgPolicy := range app.config.Agent.ModelPolicies {
			loopCfg.ModelPolicies[key] = &service.ModelPolicyOverride{
				RepairToolPairing:   cfgPolicy.RepairToolPairing,
				EnforceTurnOrdering: cfgPolicy.EnforceTurnOrdering,
				ReasoningFormat:     cfgPolicy.ReasoningFormat,
				ProgressInterval:    cfgPolicy.ProgressInterval,
				ProgressEscalation:  cfgPolicy.ProgressEscalation,
				PromptStyle:         cfgPolicy.PromptStyle,
				SystemRoleSupport:   cfgPolicy.SystemRoleSupport,
				ThinkingTagHint:     cfgPolicy.ThinkingTagHint,
			}
		}
	}
	if app.config.Agent.Guardrails.LoopDetectThreshold > 0 {
		loopCfg.DoomLoopThreshold = app.config.Agent.Guardrails.LoopDetectThreshold
	}
	if app.config.Agent.Guardrails.LoopNameThreshold > 0 {
		loopCfg.LoopNameThreshold = app.config.Agent.Guardrails.LoopNameThreshold
	}
	if app.config.Agent.Runtime.MaxRetries > 0 {
		loopCfg.MaxRetries = app.config.Agent.Runtime.MaxRetries
	}
	if app.config.Agent.Runtime.RetryBaseWait > 0 {
		loopCfg.RetryBaseWait = app.config.Agent.Runtime.RetryBaseWait
	}
	loopCfg.PromptCache = app.config.Agent.Runtime.PromptCache
	if app.config.Agent.Compaction.MessageThreshold > 0 {
		loopCfg.CompactThreshold = app.config.Agent.Compaction.MessageThreshold
	}
	if app.config.Agent.Compaction.KeepRecent > 0 {
		loopCfg.CompactKeepLast = app.config.Agent.Compaction.KeepRecent
	}
	return loopCfg
}
