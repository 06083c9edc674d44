package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/architect-cli/architect/internal/application"
	"github.com/architect-cli/architect/internal/domain/entity"
	"github.com/architect-cli/architect/internal/domain/service"
	"github.com/architect-cli/architect/internal/infrastructure/codeintel"
	"github.com/architect-cli/architect/internal/infrastructure/config"
	"github.com/architect-cli/architect/internal/infrastructure/logger"
	"github.com/architect-cli/architect/internal/infrastructure/persistence"
	"github.com/architect-cli/architect/internal/infrastructure/vcs"
	"github.com/architect-cli/architect/internal/interfaces/report"
)

// registerAgentCommands wires the headless orchestration surface (loop,
// pipeline, parallel, sessions, rollback) onto rootCmd. Each command boots
// its own lightweight App via application.NewAppCLI and drives it with an
// AgentFactory rooted at the current workspace.
func registerAgentCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLoopCmd())
	rootCmd.AddCommand(newPipelineCmd())
	rootCmd.AddCommand(newParallelCmd())
	rootCmd.AddCommand(newParallelCleanupCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newIndexCmd())
}

// interruptContext returns a context cancelled on SIGINT/SIGTERM, so a
// headless run tears down cleanly instead of leaving a worktree or
// half-written checkpoint behind.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

func bootHeadlessApp(workspace string) (*application.App, error) {
	log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if workspace != "" {
		cfg.Agent.Workspace = workspace
	}

	return application.NewAppCLI(cfg, log)
}

func currentWorkspace(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	wd, _ := os.Getwd()
	return wd
}

// ─── loop (Ralph Loop) ───

func newLoopCmd() *cobra.Command {
	var (
		specFile     string
		checks       []string
		maxIter      int
		maxCost      float64
		workspace    string
		worktree     bool
		retainWt     bool
	)

	cmd := &cobra.Command{
		Use:   "loop <task>",
		Short: "迭代驱动 agent 直到检查全部通过 (Ralph Loop)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			workDir := currentWorkspace(workspace)

			app, err := bootHeadlessApp(workDir)
			if err != nil {
				return err
			}

			ralph := service.NewRalphLoop(service.RalphLoopConfig{
				Task:            task,
				SpecFile:        specFile,
				Checks:          checks,
				MaxIterations:   maxIter,
				MaxCost:         maxCost,
				WorktreeEnabled: worktree,
				WorkDir:         workDir,
				RetainWorktree:  retainWt,
			}, app.NewAgentFactory(), app.Logger())

			ctx, cancel := interruptContext()
			defer cancel()

			result, err := ralph.Run(ctx)
			if err != nil {
				return fmt.Errorf("loop: %w", err)
			}

			fmt.Printf("迭代: %d  成功: %v  耗时: %s  花费: $%.4f\n",
				len(result.Iterations), result.Success, result.Duration.Round(time.Second), result.TotalCost)
			if !result.Success {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec", "", "任务说明文件, 前置到每轮 prompt")
	cmd.Flags().StringSliceVar(&checks, "check", nil, "必须全部通过的检查命令 (可重复)")
	cmd.Flags().IntVar(&maxIter, "max-iterations", 25, "最大迭代次数")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "花费上限 (美元), 0 为不限")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "工作目录")
	cmd.Flags().BoolVar(&worktree, "worktree", false, "在独立 git worktree 中运行")
	cmd.Flags().BoolVar(&retainWt, "retain-worktree", false, "结束后保留 worktree 以供检查")

	return cmd
}

// ─── pipeline ───

func newPipelineCmd() *cobra.Command {
	var (
		fromStep string
		dryRun   bool
		workspace string
	)

	cmd := &cobra.Command{
		Use:   "pipeline <file.yaml>",
		Short: "执行一个 YAML 步骤管道",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("pipeline: read %s: %w", args[0], err)
			}

			def, err := service.ParsePipelineDefinition(data)
			if err != nil {
				return err
			}

			workDir := currentWorkspace(workspace)
			app, err := bootHeadlessApp(workDir)
			if err != nil {
				return err
			}

			checkpointMgr := vcs.NewManager(workDir, app.Logger())
			runner := service.NewPipelineRunner(def, app.NewAgentFactory(), checkpointMgr, workDir, app.Logger())

			ctx, cancel := interruptContext()
			defer cancel()

			result, err := runner.Run(ctx, map[string]interface{}{}, fromStep, dryRun)
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}

			for _, step := range result.Steps {
				fmt.Printf("[%s] %s", step.Status, step.Name)
				if step.Checkpoint != "" {
					fmt.Printf(" (checkpoint %s)", step.Checkpoint)
				}
				fmt.Println()
				if step.Error != "" {
					fmt.Printf("  error: %s\n", step.Error)
				}
			}
			if result.Partial {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStep, "from-step", "", "从指定步骤名恢复执行")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "只解析并打印计划, 不执行")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "工作目录")

	return cmd
}

// ─── parallel ───

func newParallelCmd() *cobra.Command {
	var (
		tasks     []string
		models    []string
		workers   int
		workspace string
	)

	cmd := &cobra.Command{
		Use:   "parallel",
		Short: "在多个 git worktree 中并发运行多个任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(tasks) == 0 {
				return fmt.Errorf("parallel: at least one --task is required")
			}

			workDir := currentWorkspace(workspace)
			app, err := bootHeadlessApp(workDir)
			if err != nil {
				return err
			}

			runner := service.NewParallelRunner(service.ParallelRunnerConfig{
				Tasks:    tasks,
				Models:   models,
				Workers:  workers,
				RepoPath: workDir,
			}, app.NewAgentFactory(), app.Logger())

			ctx, cancel := interruptContext()
			defer cancel()

			results, err := runner.Run(ctx)
			if err != nil {
				return fmt.Errorf("parallel: %w", err)
			}

			for _, r := range results {
				fmt.Printf("[worker %d] %s  branch=%s  status=%s  steps=%d  cost=$%.4f\n",
					r.WorkerID, r.Task, r.Branch, r.Status, r.Steps, r.Cost)
				if r.Error != "" {
					fmt.Printf("  error: %s\n", r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tasks, "task", nil, "要并发执行的任务 (可重复)")
	cmd.Flags().StringSliceVar(&models, "model", nil, "按 worker 轮询使用的模型列表")
	cmd.Flags().IntVar(&workers, "workers", 0, "最大并发 worker 数, 0 为 len(tasks)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "仓库根目录")

	return cmd
}

func newParallelCleanupCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "parallel-cleanup",
		Short: "清理遗留的并行 worktree",
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := currentWorkspace(workspace)
			log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
			if err != nil {
				return err
			}
			ctx, cancel := interruptContext()
			defer cancel()
			return service.CleanupWorktrees(ctx, workDir, log)
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "仓库根目录")
	return cmd
}

// ─── sessions / resume ───

func newSessionsCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "列出已保存的会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := currentWorkspace(workspace)
			store, err := persistence.NewFileSessionStore(workDir)
			if err != nil {
				return err
			}
			sessions, err := store.List(context.Background())
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-10s  %-8s  %s\n", s.SessionID, s.Status, s.Agent, s.Task)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "工作目录")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "resume <session-id> <message>",
		Short: "从已保存的会话恢复并继续对话",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			message := strings.Join(args[1:], " ")
			workDir := currentWorkspace(workspace)

			store, err := persistence.NewFileSessionStore(workDir)
			if err != nil {
				return err
			}
			session, err := store.FindByID(context.Background(), sessionID)
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}

			app, err := bootHeadlessApp(workDir)
			if err != nil {
				return err
			}
			loop, err := app.NewAgentFactory()(workDir)
			if err != nil {
				return err
			}

			var history []service.LLMMessage
			for _, m := range session.Messages {
				history = append(history, service.LLMMessage{Role: m.Role, Content: m.Content})
			}

			ctx, cancel := interruptContext()
			defer cancel()

			result, eventCh := loop.Run(ctx, "", message, history, session.Model)
			for range eventCh {
			}

			fmt.Println(result.FinalContent)

			session.Messages = append(session.Messages,
				entity.ConversationMessage{Role: "user", Content: message},
				entity.ConversationMessage{Role: "assistant", Content: result.FinalContent},
			)
			session.StepsCount += result.TotalSteps
			session.TotalCost += result.CostUSD
			session.Status = result.Status
			return store.Save(context.Background(), session)
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "工作目录")
	return cmd
}

// ─── rollback ───

func newRollbackCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "rollback <commit>",
		Short: "回滚工作区到某个检查点提交",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := currentWorkspace(workspace)
			log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
			if err != nil {
				return err
			}
			mgr := vcs.NewManager(workDir, log)
			ctx, cancel := interruptContext()
			defer cancel()
			return mgr.Rollback(ctx, args[0])
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "仓库根目录")
	return cmd
}

// ─── review ───

func newReviewCmd() *cobra.Command {
	var (
		task      string
		workspace string
	)
	cmd := &cobra.Command{
		Use:   "review",
		Short: "对工作区当前 diff 运行一次自动审查",
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := currentWorkspace(workspace)
			app, err := bootHeadlessApp(workDir)
			if err != nil {
				return err
			}

			diffCmd := exec.Command("git", "diff", "HEAD")
			diffCmd.Dir = workDir
			out, err := diffCmd.Output()
			if err != nil {
				return fmt.Errorf("review: git diff failed: %w", err)
			}
			diff := string(out)
			if strings.TrimSpace(diff) == "" {
				fmt.Println("没有可审查的改动")
				return nil
			}

			reviewer := service.NewAutoReviewer(app.NewAgentFactory(), app.Logger())

			ctx, cancel := interruptContext()
			defer cancel()

			result, err := reviewer.Review(ctx, workDir, task, diff)
			if err != nil {
				return err
			}

			rep := report.Report{
				Task:        task,
				FinalOutput: result.ReviewText,
				CostUSD:     result.CostUSD,
			}
			fmt.Println(report.RenderMarkdown(rep))
			if result.HasIssues {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "本次改动对应的任务描述")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "仓库根目录")
	return cmd
}

// ─── index ───

func newIndexCmd() *cobra.Command {
	var (
		workspace string
		withMap   bool
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "扫描工作区, 输出语言/行数统计, 可选生成符号地图",
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := currentWorkspace(workspace)

			log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
			if err != nil {
				return err
			}

			indexer := codeintel.NewSymbolIndexer(log)
			builder := codeintel.NewRepoIndexBuilder(indexer, log)

			index, err := builder.Build(workDir, nil)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			fmt.Printf("文件数: %d  总行数: %d  %s\n", index.TotalFiles, index.TotalLines, index.TreeSummary)

			if withMap {
				repoMap := codeintel.NewRepoMap(indexer, log)
				fmt.Println()
				fmt.Println(repoMap.Generate(maxTokens))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "工作目录")
	cmd.Flags().BoolVar(&withMap, "map", false, "同时生成 PageRank 符号地图")
	cmd.Flags().IntVar(&maxTokens, "map-tokens", 4000, "符号地图的 token 预算")
	return cmd
}
