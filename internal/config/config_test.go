package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// clearEnv blanks every config-related env var for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"OPPSYNC_CONFIG_PATH",
		"OPPSYNC_DEV_MODE",
		"OPPSYNC_PORT",
		"OPPSYNC_SHUTDOWN_TIMEOUT",
		"OPPSYNC_STATE_PATH",
		"OPPSYNC_SOURCE_ORG_PATH",
		"OPPSYNC_TARGET_ORG_PATH",
		"OPPSYNC_PUSH_AWAIT_TIMEOUT",
		"OPPSYNC_PUSH_ORGANIZATION_ID",
		"OPPSYNC_API_KEY",
		"OPPSYNC_ARCHIVE_BUCKET",
		"OPPSYNC_S3_ENDPOINT",
		"OPPSYNC_S3_REGION",
		"OPPSYNC_S3_ACCESS_KEY",
		"OPPSYNC_S3_SECRET_KEY",
		"OPPSYNC_S3_USE_SSL",
		"OPPSYNC_REAP_INTERVAL",
		"OPPSYNC_JOB_RETENTION",
		"OPPSYNC_LOG_LEVEL",
		"OPPSYNC_LOG_FORMAT",
		"OPPSYNC_LOG_FILE",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}
	// Point at a path that does not exist so a stray local config is ignored.
	t.Setenv("OPPSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oppsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func dur(d Duration) time.Duration {
	return time.Duration(d)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPSYNC_DEV_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if dur(cfg.Server.ShutdownTimeout) != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout)
	}
	if cfg.State.Path != "data/oppsync.db" {
		t.Errorf("State.Path = %q", cfg.State.Path)
	}
	if cfg.Orgs.Source.Path != "data/org-a.db" || cfg.Orgs.Target.Path != "data/org-b.db" {
		t.Errorf("Orgs = %+v", cfg.Orgs)
	}
	if dur(cfg.Push.AwaitTimeout) != 30*time.Second {
		t.Errorf("Push.AwaitTimeout = %v, want 30s", cfg.Push.AwaitTimeout)
	}
	if dur(cfg.Worker.JobRetention) != time.Hour {
		t.Errorf("Worker.JobRetention = %v, want 1h", cfg.Worker.JobRetention)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Archive.Enabled() {
		t.Error("archive should be disabled without a bucket")
	}
	if len(cfg.Jobs) != 0 {
		t.Errorf("Jobs = %d, want 0", len(cfg.Jobs))
	}
}

func TestLoad_RequiresAPIKeyOutsideDevMode(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "OPPSYNC_API_KEY") {
		t.Fatalf("Load() error = %v, want API key error", err)
	}

	t.Setenv("OPPSYNC_API_KEY", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Errorf("Auth.APIKey = %q", cfg.Auth.APIKey)
	}
}

func TestLoadFromFile_Jobs(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPSYNC_DEV_MODE", "true")

	path := writeConfig(t, `
server:
  port: 9090
jobs:
  - name: amount-sync
    poll_frequency: 2s
    poll_start_delay: 500ms
    page_size: 50
    filter:
      expression: "Amount: >5000"
    mapping:
      shared: [Name, Amount]
      renamed:
        Industry: Sector
  - name: industry-sync
    max_failed_records: -1
    filter:
      predicate: industry-headcount
      params:
        industries: [Education, Government]
        min_employees: 5000
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if got := cfg.JobNames(); len(got) != 2 || got[0] != "amount-sync" || got[1] != "industry-sync" {
		t.Fatalf("JobNames() = %v", got)
	}

	a, ok := cfg.Job("amount-sync")
	if !ok {
		t.Fatal("Job(amount-sync) not found")
	}
	if dur(a.PollFrequency) != 2*time.Second || dur(a.PollStartDelay) != 500*time.Millisecond {
		t.Errorf("poll timing = %v/%v", a.PollFrequency, a.PollStartDelay)
	}
	if a.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", a.PageSize)
	}
	if a.Mapping.Renamed["Industry"] != "Sector" {
		t.Errorf("Mapping.Renamed = %v", a.Mapping.Renamed)
	}
	// untouched tunables get defaults
	if dur(a.WatermarkDefaultOffset) != 10*time.Second {
		t.Errorf("WatermarkDefaultOffset = %v, want 10s", a.WatermarkDefaultOffset)
	}
	if a.BusinessKey != "Name" || a.Object != "Opportunity" {
		t.Errorf("BusinessKey/Object = %q/%q", a.BusinessKey, a.Object)
	}
	if a.MaxFailedRecords != 0 {
		t.Errorf("MaxFailedRecords = %d, want 0", a.MaxFailedRecords)
	}

	i, _ := cfg.Job("industry-sync")
	if i.MaxFailedRecords != -1 {
		t.Errorf("MaxFailedRecords = %d, want -1", i.MaxFailedRecords)
	}
	if i.Filter.Predicate != "industry-headcount" || i.Filter.Params["min_employees"] != 5000 {
		t.Errorf("Filter = %+v", i.Filter)
	}
	if len(i.Mapping.Shared) == 0 {
		t.Error("default shared mapping should be applied")
	}

	if _, ok := cfg.Job("nope"); ok {
		t.Error("Job(nope) should not be found")
	}
}

func TestLoadFromFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", "jobs:\n  - page_size: 10\n", "name is required"},
		{"duplicate", "jobs:\n  - name: a\n  - name: a\n", "duplicate"},
		{"both filters", "jobs:\n  - name: a\n    filter:\n      expression: 'Amount: >1'\n      predicate: all\n", "mutually exclusive"},
		{"negative pages", "jobs:\n  - name: a\n    page_size: -1\n", "page_size"},
		{"bad threshold", "jobs:\n  - name: a\n    max_failed_records: -2\n", "max_failed_records"},
		{"bad percent", "jobs:\n  - name: a\n    max_failed_percent: 150\n", "max_failed_percent"},
		{"bad duration", "jobs:\n  - name: a\n    poll_frequency: soon\n", "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OPPSYNC_DEV_MODE", "true")

			_, err := LoadFromFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadFromFile() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromFile(missing) should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPSYNC_DEV_MODE", "true")
	t.Setenv("OPPSYNC_PORT", "7000")
	t.Setenv("OPPSYNC_STATE_PATH", "/tmp/state.db")
	t.Setenv("OPPSYNC_TARGET_ORG_PATH", "/tmp/b.db")
	t.Setenv("OPPSYNC_PUSH_AWAIT_TIMEOUT", "5s")
	t.Setenv("OPPSYNC_PUSH_ORGANIZATION_ID", "00D000000000001")
	t.Setenv("OPPSYNC_LOG_LEVEL", "debug")
	t.Setenv("OPPSYNC_LOG_FILE", "/var/log/oppsync.log")
	t.Setenv("OPPSYNC_JOB_RETENTION", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.State.Path != "/tmp/state.db" || cfg.Orgs.Target.Path != "/tmp/b.db" {
		t.Errorf("paths = %q / %q", cfg.State.Path, cfg.Orgs.Target.Path)
	}
	if dur(cfg.Push.AwaitTimeout) != 5*time.Second || cfg.Push.OrganizationID != "00D000000000001" {
		t.Errorf("Push = %+v", cfg.Push)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/var/log/oppsync.log" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if dur(cfg.Worker.JobRetention) != 10*time.Minute {
		t.Errorf("JobRetention = %v", cfg.Worker.JobRetention)
	}
}

func TestEnvOverrides_InvalidIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPSYNC_DEV_MODE", "true")
	t.Setenv("OPPSYNC_PORT", "not-a-port")
	t.Setenv("OPPSYNC_REAP_INTERVAL", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
	if dur(cfg.Worker.ReapInterval) != 5*time.Minute {
		t.Errorf("ReapInterval = %v, want default", cfg.Worker.ReapInterval)
	}
}

func TestArchive_RequiresCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPSYNC_DEV_MODE", "true")
	t.Setenv("OPPSYNC_ARCHIVE_BUCKET", "oppsync-jobs")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "archive") {
		t.Fatalf("Load() error = %v, want archive error", err)
	}

	t.Setenv("OPPSYNC_S3_ACCESS_KEY", "ak")
	t.Setenv("OPPSYNC_S3_SECRET_KEY", "sk")
	t.Setenv("OPPSYNC_S3_USE_SSL", "false")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.UseSSL {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestDefaultJob(t *testing.T) {
	j := DefaultJob("adhoc")
	if err := j.Validate(); err != nil {
		t.Fatalf("DefaultJob().Validate() = %v", err)
	}
	if j.PageSize != 200 || j.Workers != 4 || j.MaxRetries != 3 {
		t.Errorf("defaults = %+v", j)
	}
	if j.PollFrequency.Std() != 10*time.Second {
		t.Errorf("PollFrequency = %v", j.PollFrequency)
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	var holder struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 1m30s\n"), &holder); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if dur(holder.D) != 90*time.Second {
		t.Errorf("D = %v, want 1m30s", holder.D)
	}

	out, err := yaml.Marshal(holder)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.TrimSpace(string(out)) != "d: 1m30s" {
		t.Errorf("Marshal = %q", out)
	}
}

func TestExampleConfigParses(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPSYNC_DEV_MODE", "true")

	cfg, err := LoadFromFile(filepath.Join("..", "..", "config", "oppsync.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile(example) error = %v", err)
	}
	if len(cfg.Jobs) == 0 {
		t.Error("example config should define at least one job")
	}
}
