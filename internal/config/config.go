package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	State   StateConfig   `yaml:"state"`
	Orgs    OrgsConfig    `yaml:"orgs"`
	Jobs    []JobConfig   `yaml:"jobs"`
	Push    PushConfig    `yaml:"push"`
	Auth    AuthConfig    `yaml:"auth"`
	Archive ArchiveConfig `yaml:"archive"`
	Worker  WorkerConfig  `yaml:"worker"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StateConfig locates the database holding watermarks and job history.
type StateConfig struct {
	Path string `yaml:"path"`
}

// OrgsConfig locates the source and target org databases.
type OrgsConfig struct {
	Source OrgConfig `yaml:"source"`
	Target OrgConfig `yaml:"target"`
}

// OrgConfig describes one org connection.
type OrgConfig struct {
	Path string `yaml:"path"`
}

// JobConfig defines one sync job. Every option that used to be a
// process-wide property lives here, per job.
type JobConfig struct {
	Name        string        `yaml:"name"`
	Object      string        `yaml:"object"`
	Fields      []string      `yaml:"fields"`
	BusinessKey string        `yaml:"business_key"`
	Mapping     MappingConfig `yaml:"mapping"`
	Filter      FilterConfig  `yaml:"filter"`

	PollFrequency          Duration `yaml:"poll_frequency"`
	PollStartDelay         Duration `yaml:"poll_start_delay"`
	WatermarkDefaultOffset Duration `yaml:"watermark_default_offset"`
	PageSize               int      `yaml:"page_size"`
	MaxPages               int      `yaml:"max_pages"`

	Workers            int      `yaml:"workers"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	MaxRetries         int      `yaml:"max_retries"`
	RetryBaseDelay     Duration `yaml:"retry_base_delay"`
	MaxWritesPerSecond float64  `yaml:"max_writes_per_second"`
	MaxFailedRecords   int      `yaml:"max_failed_records"`
	MaxFailedPercent   float64  `yaml:"max_failed_percent"`
}

// MappingConfig maps source fields onto target fields.
type MappingConfig struct {
	Shared  []string          `yaml:"shared"`
	Renamed map[string]string `yaml:"renamed"`
}

// FilterConfig selects the qualification rule for a job. Expression is a
// CUE constraint; Predicate names a registered built-in. At most one is set.
type FilterConfig struct {
	Expression string         `yaml:"expression"`
	Predicate  string         `yaml:"predicate"`
	Params     map[string]any `yaml:"params"`
}

// PushConfig contains push ingestion settings.
type PushConfig struct {
	AwaitTimeout   Duration `yaml:"await_timeout"`
	OrganizationID string   `yaml:"organization_id"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// ArchiveConfig contains S3-compatible job report archive settings.
// Archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether job reports are archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ReapInterval Duration `yaml:"reap_interval"`
	JobRetention Duration `yaml:"job_retention"`
	// HistoryLimit caps the persisted job history; 0 keeps everything.
	HistoryLimit int `yaml:"history_limit"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Job returns the job with the given name.
func (c *Config) Job(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}

// JobNames returns configured job names in declaration order.
func (c *Config) JobNames() []string {
	names := make([]string, len(c.Jobs))
	for i, j := range c.Jobs {
		names[i] = j.Name
	}
	return names
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("OPPSYNC_CONFIG_PATH", "config/oppsync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	return finish(cfg)
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	for i := range cfg.Jobs {
		cfg.Jobs[i] = cfg.Jobs[i].withDefaults()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		State: StateConfig{
			Path: "data/oppsync.db",
		},
		Orgs: OrgsConfig{
			Source: OrgConfig{Path: "data/org-a.db"},
			Target: OrgConfig{Path: "data/org-b.db"},
		},
		Push: PushConfig{
			AwaitTimeout: Duration(30 * time.Second),
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			UseSSL: true,
			Prefix: "jobs/",
		},
		Worker: WorkerConfig{
			ReapInterval: Duration(5 * time.Minute),
			JobRetention: Duration(1 * time.Hour),
			HistoryLimit: 1000,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultJob returns a job definition with every tunable set to its default.
func DefaultJob(name string) JobConfig {
	return JobConfig{Name: name}.withDefaults()
}

// withDefaults fills zero-valued tunables. MaxFailedRecords is left alone:
// zero is meaningful (any record error fails the job).
func (j JobConfig) withDefaults() JobConfig {
	if j.Object == "" {
		j.Object = "Opportunity"
	}
	if j.BusinessKey == "" {
		j.BusinessKey = "Name"
	}
	if len(j.Fields) == 0 {
		j.Fields = []string{"Id", "Name", "Amount", "Industry", "NumberOfEmployees", "StageName", "CloseDate", "Probability", "LastModifiedDate"}
	}
	if len(j.Mapping.Shared) == 0 && len(j.Mapping.Renamed) == 0 {
		j.Mapping.Shared = []string{"Name", "Amount", "StageName", "CloseDate", "Probability"}
	}
	if j.PollFrequency == 0 {
		j.PollFrequency = Duration(10 * time.Second)
	}
	if j.PollStartDelay == 0 {
		j.PollStartDelay = Duration(1 * time.Second)
	}
	if j.WatermarkDefaultOffset == 0 {
		j.WatermarkDefaultOffset = Duration(10 * time.Second)
	}
	if j.PageSize == 0 {
		j.PageSize = 200
	}
	if j.MaxPages == 0 {
		j.MaxPages = 50
	}
	if j.Workers == 0 {
		j.Workers = 4
	}
	if j.WriteTimeout == 0 {
		j.WriteTimeout = Duration(10 * time.Second)
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	if j.RetryBaseDelay == 0 {
		j.RetryBaseDelay = Duration(200 * time.Millisecond)
	}
	if j.MaxWritesPerSecond == 0 {
		j.MaxWritesPerSecond = 20
	}
	return j
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("OPPSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OPPSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// State and orgs
	if v := os.Getenv("OPPSYNC_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("OPPSYNC_SOURCE_ORG_PATH"); v != "" {
		cfg.Orgs.Source.Path = v
	}
	if v := os.Getenv("OPPSYNC_TARGET_ORG_PATH"); v != "" {
		cfg.Orgs.Target.Path = v
	}

	// Push
	if v := os.Getenv("OPPSYNC_PUSH_AWAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Push.AwaitTimeout = Duration(d)
		}
	}
	if v := os.Getenv("OPPSYNC_PUSH_ORGANIZATION_ID"); v != "" {
		cfg.Push.OrganizationID = v
	}

	// Auth
	if v := os.Getenv("OPPSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Archive
	if v := os.Getenv("OPPSYNC_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("OPPSYNC_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("OPPSYNC_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("OPPSYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("OPPSYNC_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("OPPSYNC_S3_USE_SSL"); v != "" {
		cfg.Archive.UseSSL = v == "true" || v == "1"
	}

	// Worker
	if v := os.Getenv("OPPSYNC_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReapInterval = Duration(d)
		}
	}
	if v := os.Getenv("OPPSYNC_JOB_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.JobRetention = Duration(d)
		}
	}

	if v := os.Getenv("OPPSYNC_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.HistoryLimit = n
		}
	}

	// Log
	if v := os.Getenv("OPPSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPPSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OPPSYNC_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (OPPSYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.Name == "" {
			return errors.New("jobs: name is required")
		}
		if seen[j.Name] {
			return fmt.Errorf("jobs: duplicate job name %q", j.Name)
		}
		seen[j.Name] = true
		if err := j.Validate(); err != nil {
			return err
		}
	}

	if c.Archive.Enabled() && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return errors.New("archive: OPPSYNC_S3_ACCESS_KEY and OPPSYNC_S3_SECRET_KEY are required when a bucket is set")
	}

	if os.Getenv("OPPSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("OPPSYNC_API_KEY is required")
	}
	return nil
}

// Validate checks one job definition.
func (j JobConfig) Validate() error {
	if j.Filter.Expression != "" && j.Filter.Predicate != "" {
		return fmt.Errorf("job %q: filter.expression and filter.predicate are mutually exclusive", j.Name)
	}
	if j.PageSize < 1 {
		return fmt.Errorf("job %q: page_size must be positive", j.Name)
	}
	if j.Workers < 1 {
		return fmt.Errorf("job %q: workers must be positive", j.Name)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("job %q: max_retries must not be negative", j.Name)
	}
	if j.MaxFailedRecords < -1 {
		return fmt.Errorf("job %q: max_failed_records must be -1 (unlimited) or greater", j.Name)
	}
	if j.MaxFailedPercent < 0 || j.MaxFailedPercent > 100 {
		return fmt.Errorf("job %q: max_failed_percent must be between 0 and 100", j.Name)
	}
	for src, dst := range j.Mapping.Renamed {
		if src == "" || dst == "" {
			return fmt.Errorf("job %q: mapping.renamed entries must name both fields", j.Name)
		}
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
