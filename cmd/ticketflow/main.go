package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/hylla/ticketflow/internal/adapters/rules"
	"github.com/hylla/ticketflow/internal/adapters/scheduler"
	serveradapter "github.com/hylla/ticketflow/internal/adapters/server"
	servercommon "github.com/hylla/ticketflow/internal/adapters/server/common"
	"github.com/hylla/ticketflow/internal/adapters/storage/sqlite"
	"github.com/hylla/ticketflow/internal/app"
	"github.com/hylla/ticketflow/internal/config"
	"github.com/hylla/ticketflow/internal/domain"
	"github.com/hylla/ticketflow/internal/platform"
	"github.com/spf13/cobra"
)

// version is stamped at build time.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		stop()
		os.Exit(1)
	}
}

// run executes one CLI invocation against explicit streams.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// rootOptions holds persistent flag values shared by every subcommand.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	tenantID   string
	devMode    bool
	stderr     io.Writer
}

// newRootCommand builds the ticketflow command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("TICKETFLOW_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := "ticketflow"
	if envApp := strings.TrimSpace(os.Getenv("TICKETFLOW_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:           "ticketflow",
		Short:         "Tenant-scoped ticket workflow engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", defaultApp, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	flags.StringVar(&opts.tenantID, "tenant", "", "tenant id (defaults to [tenant].default_id)")

	root.AddCommand(
		newPathsCommand(opts),
		newServeCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newBackfillCommand(opts),
		newWorkflowCommand(opts),
		newCheckCommand(opts),
	)
	return root
}

// commandEnv is the resolved runtime shared by data commands.
type commandEnv struct {
	appName    string
	configPath string
	tenantID   string
	cfg        config.Config
	logger     *runtimeLogger
	repo       *sqlite.Repository
	svc        *app.Service
}

// resolvePaths resolves platform paths for the current app/dev selection.
func (o *rootOptions) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// open resolves config, logging, storage, and the application service.
func (o *rootOptions) open(command string) (*commandEnv, func(), error) {
	paths, err := o.resolvePaths()
	if err != nil {
		return nil, nil, err
	}

	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("TICKETFLOW_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(o.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("TICKETFLOW_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(o.stderr, o.appName, o.devMode, cfg.Logging, paths.LogDir, time.Now)
	if err != nil {
		return nil, nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	closeLogger := func() {
		if closeErr := logger.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(o.stderr, "warning: close runtime log sink: %v\n", closeErr)
		}
	}

	logger.Info("startup configuration resolved", "app", o.appName, "dev_mode", o.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	if !dbOverridden {
		if err := paths.EnsureDataDirs(); err != nil {
			closeLogger()
			return nil, nil, err
		}
	}
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			closeLogger()
			return nil, nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		closeLogger()
		return nil, nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		SystemDefault: systemDefaultFromConfig(cfg.Workflow),
		Evaluator:     rules.NewEvaluator(),
		Dispatcher:    rules.NewDispatcher(logger),
		Logger:        logger,
	})

	tenantID := strings.TrimSpace(o.tenantID)
	if tenantID == "" {
		tenantID = cfg.Tenant.DefaultID
	}
	env := &commandEnv{
		appName:    o.appName,
		configPath: configPath,
		tenantID:   tenantID,
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		svc:        svc,
	}
	cleanup := func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Warn("sqlite close failed", "db_path", cfg.Database.Path, "err", closeErr)
		}
		closeLogger()
	}
	return env, cleanup, nil
}

// runFlow opens the runtime and wraps fn with command flow logging.
func (o *rootOptions) runFlow(command string, fn func(*commandEnv) error) error {
	env, cleanup, err := o.open(command)
	if err != nil {
		return err
	}
	defer cleanup()

	env.logger.Info("command flow start", "command", command)
	if err := fn(env); err != nil {
		env.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	env.logger.Info("command flow complete", "command", command)
	return nil
}

// systemDefaultFromConfig maps [workflow] config onto the seed workflow.
func systemDefaultFromConfig(cfg config.WorkflowConfig) app.SystemDefaultWorkflow {
	statuses := make([]app.StatusTemplate, 0, len(cfg.Statuses))
	for _, st := range cfg.Statuses {
		statuses = append(statuses, app.StatusTemplate{
			ID:      st.ID,
			Label:   st.Label,
			Color:   st.Color,
			Working: st.Working,
			Done:    st.Done,
		})
	}
	return app.BuildLinearWorkflow(cfg.SystemDefaultName, statuses, cfg.CreateRoles, cfg.TransitionRoles)
}

func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			_, _ = fmt.Fprintf(out, "export_dir: %s\n", paths.ExportDir)
			return nil
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runFlow("serve", func(env *commandEnv) error {
				ctx := cmd.Context()
				if _, err := env.svc.EnsureSystemDefaultWorkflow(ctx, env.tenantID); err != nil {
					return fmt.Errorf("seed system default workflow: %w", err)
				}
				if env.cfg.Backfill.Enabled {
					backfill, err := scheduler.NewBackfillScheduler(env.cfg.Backfill.Schedule, env.svc, env.logger)
					if err != nil {
						return err
					}
					if err := backfill.Start(ctx); err != nil {
						return err
					}
					defer backfill.Stop()
				}

				adapter := servercommon.NewAppServiceAdapter(env.svc)
				return serveCommandRunner(ctx, serveradapter.Config{
					HTTPBind:      firstNonEmpty(httpBind, env.cfg.Server.HTTPBind),
					APIEndpoint:   firstNonEmpty(apiEndpoint, env.cfg.Server.APIEndpoint),
					MCPEndpoint:   firstNonEmpty(mcpEndpoint, env.cfg.Server.MCPEndpoint),
					ServerName:    env.appName,
					ServerVersion: version,
				}, serveradapter.Dependencies{
					Workflows: adapter,
					Tickets:   adapter,
					Ready:     env.repo.Ping,
				})
			})
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (defaults to [server].http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base endpoint")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a tenant's workflows with every version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runFlow("export", func(env *commandEnv) error {
				export, err := env.svc.ExportWorkflows(cmd.Context(), env.tenantID)
				if err != nil {
					return fmt.Errorf("export workflows: %w", err)
				}
				encoded, err := json.MarshalIndent(export, "", "  ")
				if err != nil {
					return fmt.Errorf("encode export json: %w", err)
				}
				encoded = append(encoded, '\n')

				if outPath == "-" {
					if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
						return fmt.Errorf("write export to stdout: %w", err)
					}
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export dir: %w", err)
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				env.logger.Info("workflow export written", "path", outPath, "tenant_id", env.tenantID, "workflows", len(export.Workflows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workflows from an export file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return fmt.Errorf("--in is required")
			}
			return opts.runFlow("import", func(env *commandEnv) error {
				content, err := os.ReadFile(inPath)
				if err != nil {
					return fmt.Errorf("read import file: %w", err)
				}
				var export app.Export
				if err := json.Unmarshal(content, &export); err != nil {
					return fmt.Errorf("decode import json: %w", err)
				}
				if err := env.svc.ImportWorkflows(cmd.Context(), export); err != nil {
					return fmt.Errorf("import workflows: %w", err)
				}
				env.logger.Info("workflow import applied", "path", inPath, "tenant_id", export.TenantID, "workflows", len(export.Workflows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input export JSON path")
	return cmd
}

func newBackfillCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Assign workflow snapshots to tickets that lack one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runFlow("backfill", func(env *commandEnv) error {
				var results []app.BackfillResult
				if all {
					out, err := env.svc.BackfillAllTenants(cmd.Context())
					if err != nil {
						return err
					}
					results = out
				} else {
					res, err := env.svc.BackfillMissingSnapshots(cmd.Context(), env.tenantID)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				for _, res := range results {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned=%d backfilled=%d skipped=%d\n", res.TenantID, res.Scanned, res.Backfilled, res.Skipped)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "backfill every tenant with workflows")
	return cmd
}

func newWorkflowCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect tenant workflows",
	}

	var showID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a workflow with colored status badges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runFlow("workflow show", func(env *commandEnv) error {
				def, err := loadWorkflow(cmd.Context(), env, showID)
				if err != nil {
					return err
				}
				return renderWorkflowSummary(cmd.OutOrStdout(), def)
			})
		},
	}
	show.Flags().StringVar(&showID, "id", "", "workflow id (defaults to the active workflow)")

	var (
		describeID string
		width      int
	)
	describe := &cobra.Command{
		Use:   "describe",
		Short: "Render a markdown description of a workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runFlow("workflow describe", func(env *commandEnv) error {
				def, err := loadWorkflow(cmd.Context(), env, describeID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderMarkdown(describeWorkflowMarkdown(def), width))
				return err
			})
		},
	}
	describe.Flags().StringVar(&describeID, "id", "", "workflow id (defaults to the active workflow)")
	describe.Flags().IntVar(&width, "width", 100, "word wrap width")

	cmd.AddCommand(show, describe)
	return cmd
}

// loadWorkflow bootstraps the tenant and returns the requested or active workflow.
func loadWorkflow(ctx context.Context, env *commandEnv, workflowID string) (domain.WorkflowDefinition, error) {
	if _, err := env.svc.EnsureSystemDefaultWorkflow(ctx, env.tenantID); err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("seed system default workflow: %w", err)
	}
	if id := strings.TrimSpace(workflowID); id != "" {
		return env.svc.GetWorkflow(ctx, env.tenantID, id)
	}
	return env.svc.GetActiveWorkflow(ctx, env.tenantID)
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var (
		ticketID string
		target   string
		actorID  string
		roles    []string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an actor may move a ticket to a status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(ticketID) == "" || strings.TrimSpace(target) == "" {
				return fmt.Errorf("--ticket and --to are required")
			}
			return opts.runFlow("check", func(env *commandEnv) error {
				decision, err := env.svc.CheckTransition(cmd.Context(), ticketID, target, app.Actor{ID: actorID, Roles: roles})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if decision.Allowed {
					_, _ = fmt.Fprintf(out, "allowed: %s -> %s (edge %s, workflow %s v%d)\n", decision.From.ID, decision.To.ID, decision.Edge.ID, decision.WorkflowID, decision.Version)
					return nil
				}
				_, _ = fmt.Fprintf(out, "denied: %s: %s\n", decision.Reason, decision.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id")
	cmd.Flags().StringVar(&target, "to", "", "target status")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "actor roles (comma separated)")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// parseBoolEnv parses a boolean environment variable and reports whether it was set.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
