package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/ticketflow.db")
	if cfg.Database.Path != "/tmp/ticketflow.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "info" || !cfg.Logging.DevFile.Enabled {
		t.Fatalf("unexpected logging defaults %#v", cfg.Logging)
	}
	if cfg.Tenant.DefaultID != "default" {
		t.Fatalf("unexpected default tenant %q", cfg.Tenant.DefaultID)
	}
	if len(cfg.Workflow.Statuses) != 5 || cfg.Workflow.Statuses[0].ID != "new" {
		t.Fatalf("unexpected default statuses %#v", cfg.Workflow.Statuses)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/ticketflow.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/custom/ticketflow.db"

[logging]
level = "debug"

[logging.dev_file]
enabled = false

[server]
http_bind = "0.0.0.0:9090"

[tenant]
default_id = "acme"

[workflow]
system_default_name = "Support"
create_roles = ["customer"]
transition_roles = ["agent"]

[[workflow.statuses]]
id = "triage"
label = "Triage"
working = true

[[workflow.statuses]]
id = "done"
label = "Done"
done = true

[backfill]
enabled = true
schedule = "0 * * * *"
`)

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/custom/ticketflow.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.DevFile.Enabled {
		t.Fatalf("unexpected logging config %#v", cfg.Logging)
	}
	if cfg.Server.HTTPBind != "0.0.0.0:9090" || cfg.Server.APIEndpoint != "/api/v1" {
		t.Fatalf("unexpected server config %#v", cfg.Server)
	}
	if cfg.Tenant.DefaultID != "acme" || cfg.Workflow.SystemDefaultName != "Support" {
		t.Fatalf("unexpected tenant/workflow config %#v %#v", cfg.Tenant, cfg.Workflow)
	}
	if len(cfg.Workflow.Statuses) != 2 || cfg.Workflow.Statuses[1].ID != "done" || !cfg.Workflow.Statuses[1].Done {
		t.Fatalf("expected configured statuses to replace defaults, got %#v", cfg.Workflow.Statuses)
	}
	if cfg.Backfill.Schedule != "0 * * * *" {
		t.Fatalf("unexpected backfill schedule %q", cfg.Backfill.Schedule)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "log level",
			content: "[logging]\nlevel = \"loud\"\n",
			wantErr: "logging.level",
		},
		{
			name:    "cron schedule",
			content: "[backfill]\nenabled = true\nschedule = \"every minute\"\n",
			wantErr: "backfill.schedule",
		},
		{
			name:    "status both working and done",
			content: "[[workflow.statuses]]\nid = \"x\"\nlabel = \"X\"\nworking = true\ndone = true\n",
			wantErr: "both working and done",
		},
		{
			name:    "duplicate status",
			content: "[[workflow.statuses]]\nid = \"x\"\nlabel = \"X\"\n\n[[workflow.statuses]]\nid = \" X \"\nlabel = \"Again\"\n",
			wantErr: "duplicated",
		},
		{
			name:    "endpoint collision",
			content: "[server]\napi_endpoint = \"/mcp\"\nmcp_endpoint = \"mcp/\"\n",
			wantErr: "must differ",
		},
		{
			name:    "empty create roles",
			content: "[workflow]\ncreate_roles = []\n",
			wantErr: "create_roles",
		},
		{
			name:    "malformed toml",
			content: "[database\npath = 1",
			wantErr: "decode toml",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), Default("/tmp/default.db"))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestDisabledBackfillSkipsScheduleValidation(t *testing.T) {
	cfg := Default("/tmp/ticketflow.db")
	cfg.Backfill.Enabled = false
	cfg.Backfill.Schedule = "not a schedule"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "config.toml")
	if err := EnsureConfigDir(target); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		t.Fatalf("expected dir to exist, stat error %v", err)
	}
}
