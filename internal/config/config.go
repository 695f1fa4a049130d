package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported outbound-email platforms.
const (
	PlatformSmartlead = "smartlead"
	PlatformInstantly = "instantly"
	PlatformPlusvibe  = "plusvibe"
)

// Config holds all configuration for the reconciler
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Reconciler ReconcilerConfig  `yaml:"reconciler"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
	Store      StoreConfig       `yaml:"store"`
	Redis      RedisConfig       `yaml:"redis"`
	Report     ReportConfig      `yaml:"report"`
	Schedule   ScheduleConfig    `yaml:"schedule"`
	LogLevel   string            `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// ReconcilerConfig holds the classification tunables and executor limits.
type ReconcilerConfig struct {
	SickThreshold     int                   `yaml:"sick_threshold"`
	WarmupPeriodDays  int                   `yaml:"warmup_period_days"`
	BenchRatio        float64               `yaml:"bench_ratio"`
	HealthyTagName    string                `yaml:"healthy_tag_name"`
	Tags              domain.TagNames       `yaml:"tags"`
	Workers           int                   `yaml:"workers"`
	ActionDelayMS     int                   `yaml:"action_delay_ms"`
	RunTimeoutMinutes int                   `yaml:"run_timeout_minutes"`
	DryRun            bool                  `yaml:"dry_run"`
	Warmup            domain.WarmupSettings `yaml:"warmup"`
}

// ActionDelay returns the per-worker pause between provider calls
func (c ReconcilerConfig) ActionDelay() time.Duration {
	return time.Duration(c.ActionDelayMS) * time.Millisecond
}

// RunTimeout returns the deadline after which no new actions are submitted
func (c ReconcilerConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// TagNames returns the classification tag names, with healthy_tag_name
// overriding the Sending tag when set.
func (c ReconcilerConfig) TagNames() domain.TagNames {
	names := c.Tags
	if c.HealthyTagName != "" {
		names.Sending = c.HealthyTagName
	}
	return names.WithDefaults()
}

// WorkspaceConfig describes one provider workspace under management
type WorkspaceConfig struct {
	Name             string   `yaml:"name"`
	Platform         string   `yaml:"platform"`
	APIKey           string   `yaml:"api_key"`
	APIKeyEnv        string   `yaml:"api_key_env"`
	BaseURL          string   `yaml:"base_url"`
	CampaignIDs      []string `yaml:"campaign_ids"`
	DashboardURL     string   `yaml:"dashboard_url"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	MaxAttempts      int      `yaml:"max_attempts"`
	RetryBaseDelayMS int      `yaml:"retry_base_delay_ms"`
	PageSize         int      `yaml:"page_size"`
}

// Timeout returns the configured timeout as a duration
func (c WorkspaceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the backoff step for rate-limited calls
func (c WorkspaceConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// StoreConfig holds the state store settings. Type is "postgres",
// "postgrest", "dynamodb" or empty to disable persistence.
type StoreConfig struct {
	Type         string `yaml:"type"`
	DatabaseURL  string `yaml:"database_url"`
	PostgRESTURL string `yaml:"postgrest_url"`
	PostgRESTKey string `yaml:"postgrest_key"`
	Region       string `yaml:"region"`
	AWSProfile   string `yaml:"aws_profile"`
	Table        string `yaml:"table"`
	BatchSize    int    `yaml:"batch_size"`
}

// RedisConfig holds the Redis connection used for run locks and report archives
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the lease on a workspace run lock
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ReportConfig holds report delivery and archive settings
type ReportConfig struct {
	InstanceName    string `yaml:"instance_name"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	EmailTo         string `yaml:"email_to"`
	EmailFrom       string `yaml:"email_from"`
	SESRegion       string `yaml:"ses_region"`
	SESAccessKey    string `yaml:"ses_access_key"`
	SESSecretKey    string `yaml:"ses_secret_key"`
	Archive         string `yaml:"archive"` // "memory", "redis" or "s3"
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	AWSProfile      string `yaml:"aws_profile"`
	WebURL          string `yaml:"web_url"`
}

// ScheduleConfig holds the daily run cadence
type ScheduleConfig struct {
	RunAt string `yaml:"run_at"` // "HH:MM" in UTC
}

// Next returns the first run time strictly after now.
func (c ScheduleConfig) Next(now time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", c.RunAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule.run_at %q: %w", c.RunAt, err)
	}
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Reconciler.SickThreshold == 0 {
		cfg.Reconciler.SickThreshold = 98
	}
	if cfg.Reconciler.WarmupPeriodDays == 0 {
		cfg.Reconciler.WarmupPeriodDays = 14
	}
	if cfg.Reconciler.BenchRatio == 0 {
		cfg.Reconciler.BenchRatio = 0.20
	}
	if cfg.Reconciler.Workers == 0 {
		cfg.Reconciler.Workers = 3
	}
	if cfg.Reconciler.ActionDelayMS == 0 {
		cfg.Reconciler.ActionDelayMS = 500
	}
	if cfg.Reconciler.RunTimeoutMinutes == 0 {
		cfg.Reconciler.RunTimeoutMinutes = 30
	}
	if cfg.Reconciler.Warmup == (domain.WarmupSettings{}) {
		cfg.Reconciler.Warmup = domain.DefaultWarmupSettings()
	}
	for i := range cfg.Workspaces {
		ws := &cfg.Workspaces[i]
		ws.Platform = strings.ToLower(strings.TrimSpace(ws.Platform))
		if ws.TimeoutSeconds == 0 {
			ws.TimeoutSeconds = 30
		}
		if ws.MaxAttempts == 0 {
			ws.MaxAttempts = 5
		}
		if ws.RetryBaseDelayMS == 0 {
			ws.RetryBaseDelayMS = 2000
		}
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "email_accounts"
	}
	if cfg.Store.BatchSize == 0 {
		cfg.Store.BatchSize = 100
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 3600
	}
	if cfg.Report.InstanceName == "" {
		cfg.Report.InstanceName = "Email Manager"
	}
	if cfg.Report.Archive == "" {
		cfg.Report.Archive = "memory"
	}
	if cfg.Report.SESRegion == "" {
		cfg.Report.SESRegion = "us-east-1"
	}
	if cfg.Schedule.RunAt == "" {
		cfg.Schedule.RunAt = "14:00"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
		if cfg.Store.Type == "" {
			cfg.Store.Type = "postgres"
		}
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Store.PostgRESTURL = strings.TrimRight(v, "/") + "/rest/v1"
	}
	if v := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); v != "" {
		cfg.Store.PostgRESTKey = strings.Trim(v, `"`)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Report.SlackWebhookURL = v
	}
	if v := os.Getenv("REPORT_EMAIL_TO"); v != "" {
		cfg.Report.EmailTo = v
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		cfg.Report.EmailFrom = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Report.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Report.SESSecretKey = v
	}
	if v := os.Getenv("SICK_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SICK_THRESHOLD: %w", err)
		}
		cfg.Reconciler.SickThreshold = n
	}
	if os.Getenv("DRY_RUN") == "true" {
		cfg.Reconciler.DryRun = true
	}
	for i := range cfg.Workspaces {
		ws := &cfg.Workspaces[i]
		if ws.APIKeyEnv == "" {
			continue
		}
		if key := os.Getenv(ws.APIKeyEnv); key != "" {
			ws.APIKey = key
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the reconciler cannot run with.
func (c *Config) Validate() error {
	if c.Reconciler.SickThreshold < 0 || c.Reconciler.SickThreshold > 100 {
		return fmt.Errorf("reconciler.sick_threshold must be 0-100, got %d", c.Reconciler.SickThreshold)
	}
	if c.Reconciler.BenchRatio < 0 || c.Reconciler.BenchRatio >= 1 {
		return fmt.Errorf("reconciler.bench_ratio must be in [0,1), got %v", c.Reconciler.BenchRatio)
	}
	seen := make(map[string]bool)
	for _, ws := range c.Workspaces {
		if ws.Name == "" {
			return fmt.Errorf("workspace without a name")
		}
		if seen[ws.Name] {
			return fmt.Errorf("duplicate workspace %q", ws.Name)
		}
		seen[ws.Name] = true
		switch ws.Platform {
		case PlatformSmartlead, PlatformInstantly, PlatformPlusvibe:
		default:
			return fmt.Errorf("workspace %q: unknown platform %q", ws.Name, ws.Platform)
		}
		if ws.APIKey == "" {
			return fmt.Errorf("workspace %q: no api key (set api_key or %s)", ws.Name, ws.APIKeyEnv)
		}
	}
	switch c.Store.Type {
	case "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.type postgres requires database_url or DATABASE_URL")
		}
	case "postgrest":
		if c.Store.PostgRESTURL == "" || c.Store.PostgRESTKey == "" {
			return fmt.Errorf("store.type postgrest requires postgrest_url and postgrest_key")
		}
	case "dynamodb":
		if c.Store.Region == "" {
			return fmt.Errorf("store.type dynamodb requires store.region")
		}
	default:
		return fmt.Errorf("unknown store.type %q", c.Store.Type)
	}
	switch c.Report.Archive {
	case "memory", "redis", "s3":
	default:
		return fmt.Errorf("unknown report.archive %q", c.Report.Archive)
	}
	if c.Report.Archive == "s3" && c.Report.S3Bucket == "" {
		return fmt.Errorf("report.archive s3 requires report.s3_bucket")
	}
	if c.Report.Archive == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("report.archive redis requires redis.url")
	}
	if _, err := c.Schedule.Next(time.Now()); err != nil {
		return err
	}
	return nil
}

// Workspace returns the named workspace.
func (c *Config) Workspace(name string) (WorkspaceConfig, bool) {
	for _, ws := range c.Workspaces {
		if ws.Name == name {
			return ws, true
		}
	}
	return WorkspaceConfig{}, false
}
