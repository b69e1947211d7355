package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Tenant   TenantConfig   `toml:"tenant"`
	Workflow WorkflowConfig `toml:"workflow"`
	Backfill BackfillConfig `toml:"backfill"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls runtime log level and the optional dev-mode file sink.
type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// TenantConfig names the tenant seeded at serve startup and used by CLI defaults.
type TenantConfig struct {
	DefaultID string `toml:"default_id"`
}

// WorkflowConfig describes the linear system-default workflow seeded per tenant.
type WorkflowConfig struct {
	SystemDefaultName string         `toml:"system_default_name"`
	Statuses          []StatusConfig `toml:"statuses"`
	CreateRoles       []string       `toml:"create_roles"`
	TransitionRoles   []string       `toml:"transition_roles"`
}

type StatusConfig struct {
	ID      string `toml:"id"`
	Label   string `toml:"label"`
	Color   string `toml:"color"`
	Working bool   `toml:"working"`
	Done    bool   `toml:"done"`
}

// BackfillConfig schedules the snapshot backfill while serving.
type BackfillConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

func defaultStatuses() []StatusConfig {
	return []StatusConfig{
		{ID: "new", Label: "New", Color: "#9e9e9e", Working: true},
		{ID: "open", Label: "Open", Color: "#2196f3", Working: true},
		{ID: "in_progress", Label: "In Progress", Color: "#ff9800", Working: true},
		{ID: "resolved", Label: "Resolved", Color: "#4caf50", Done: true},
		{ID: "closed", Label: "Closed", Color: "#607d8b", Done: true},
	}
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".ticketflow/log",
			},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Tenant: TenantConfig{
			DefaultID: "default",
		},
		Workflow: WorkflowConfig{
			SystemDefaultName: "Default",
			Statuses:          defaultStatuses(),
			CreateRoles:       []string{"ADMIN", "AGENT", "CUSTOMER"},
			TransitionRoles:   []string{"ADMIN", "AGENT"},
		},
		Backfill: BackfillConfig{
			Enabled:  true,
			Schedule: "*/15 * * * *",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	// A file that declares statuses replaces the default chain instead of merging into it.
	var declared struct {
		Workflow struct {
			Statuses []StatusConfig `toml:"statuses"`
		} `toml:"workflow"`
	}
	if err := toml.Unmarshal(content, &declared); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	if len(declared.Workflow.Statuses) > 0 {
		cfg.Workflow.Statuses = nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	api := strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api != "" && api == mcp {
		return errors.New("server.api_endpoint and server.mcp_endpoint must differ")
	}

	if strings.TrimSpace(c.Tenant.DefaultID) == "" {
		return errors.New("tenant.default_id is required")
	}

	if len(c.Workflow.Statuses) == 0 {
		return errors.New("workflow.statuses must include at least one status")
	}
	seen := map[string]struct{}{}
	for idx, status := range c.Workflow.Statuses {
		id := strings.TrimSpace(strings.ToLower(status.ID))
		if id == "" {
			return fmt.Errorf("workflow.statuses[%d].id is required", idx)
		}
		if strings.TrimSpace(status.Label) == "" {
			return fmt.Errorf("workflow.statuses[%d].label is required", idx)
		}
		if status.Working && status.Done {
			return fmt.Errorf("workflow.statuses[%d] cannot be both working and done", idx)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("workflow.statuses[%d].id is duplicated: %s", idx, id)
		}
		seen[id] = struct{}{}
	}
	if len(c.Workflow.CreateRoles) == 0 {
		return errors.New("workflow.create_roles must include at least one role")
	}

	if c.Backfill.Enabled {
		if _, err := cron.ParseStandard(strings.TrimSpace(c.Backfill.Schedule)); err != nil {
			return fmt.Errorf("invalid backfill.schedule %q: %w", c.Backfill.Schedule, err)
		}
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
