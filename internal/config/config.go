package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Resend     ResendConfig     `yaml:"resend"`
	Email      EmailConfig      `yaml:"email"`
	SES        SESConfig        `yaml:"ses"`
	Typeform   TypeformConfig   `yaml:"typeform"`
	SharePoint SharePointConfig `yaml:"sharepoint"`
	Redis      RedisConfig      `yaml:"redis"`
	Worker     WorkerConfig     `yaml:"worker"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	APIToken       string   `yaml:"api_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSanity   = "sanity"
)

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend     string       `yaml:"backend"`
	DatabaseURL string       `yaml:"database_url"`
	Sanity      SanityConfig `yaml:"sanity"`
}

// SanityConfig holds Sanity content lake credentials
type SanityConfig struct {
	ProjectID  string `yaml:"project_id"`
	Dataset    string `yaml:"dataset"`
	Token      string `yaml:"token"`
	APIVersion string `yaml:"api_version"`
}

// ResendConfig holds Resend API configuration
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryDelayMs   int    `yaml:"retry_delay_ms"`
}

// Timeout returns the HTTP timeout as a duration
func (c ResendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the base backoff between attempts.
func (c ResendConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Email providers.
const (
	ProviderResend = "resend"
	ProviderSES    = "ses"
)

// EmailConfig holds sender identity and flow execution settings
type EmailConfig struct {
	Provider     string `yaml:"provider"`
	FromAddress  string `yaml:"from_address"`
	FromName     string `yaml:"from_name"`
	MaxFlowSteps int    `yaml:"max_flow_steps"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the send timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TypeformConfig holds webhook verification and answer mapping.
// FieldMap maps a Typeform field ref to a submission field name.
type TypeformConfig struct {
	Secret   string            `yaml:"secret"`
	FieldMap map[string]string `yaml:"field_map"`
}

// SharePointConfig holds Microsoft Graph list access settings.
// FieldMap maps a list column name to a submission field name.
type SharePointConfig struct {
	TenantID       string            `yaml:"tenant_id"`
	ClientID       string            `yaml:"client_id"`
	ClientSecret   string            `yaml:"client_secret"`
	SiteID         string            `yaml:"site_id"`
	ListID         string            `yaml:"list_id"`
	GraphURL       string            `yaml:"graph_url"`
	FieldMap       map[string]string `yaml:"field_map"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// Enabled reports whether enough is configured to call Graph.
func (c SharePointConfig) Enabled() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != "" && c.SiteID != "" && c.ListID != ""
}

// Timeout returns the HTTP timeout as a duration
func (c SharePointConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig holds the Redis connection used for sweep locks
type RedisConfig struct {
	URL string `yaml:"url"`
}

// WorkerConfig holds in-process sweep scheduling
type WorkerConfig struct {
	Enabled                   bool `yaml:"enabled"`
	PendingIntervalSeconds    int  `yaml:"pending_interval_seconds"`
	SegmentIntervalSeconds    int  `yaml:"segment_interval_seconds"`
	AudienceIntervalSeconds   int  `yaml:"audience_interval_seconds"`
	SharePointIntervalSeconds int  `yaml:"sharepoint_interval_seconds"`
	LockTTLSeconds            int  `yaml:"lock_ttl_seconds"`
}

// PendingInterval returns how often due flow steps are resumed.
func (c WorkerConfig) PendingInterval() time.Duration {
	return time.Duration(c.PendingIntervalSeconds) * time.Second
}

// SegmentInterval returns how often all segments are re-evaluated.
func (c WorkerConfig) SegmentInterval() time.Duration {
	return time.Duration(c.SegmentIntervalSeconds) * time.Second
}

// AudienceInterval returns how often bound audiences are reconciled.
// Zero disables the audience sweep.
func (c WorkerConfig) AudienceInterval() time.Duration {
	return time.Duration(c.AudienceIntervalSeconds) * time.Second
}

// SharePointInterval returns how often the SharePoint list is pulled.
// Zero leaves the sweep manual.
func (c WorkerConfig) SharePointInterval() time.Duration {
	return time.Duration(c.SharePointIntervalSeconds) * time.Second
}

// LockTTL returns the distributed lock lease.
func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ArchiveConfig holds S3 report archive settings
type ArchiveConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	Prefix     string `yaml:"prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// Enabled reports whether reports should be archived.
func (c ArchiveConfig) Enabled() bool { return c.S3Bucket != "" }

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArchiveConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
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
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Store.Sanity.APIVersion == "" {
		cfg.Store.Sanity.APIVersion = "2024-01-01"
	}
	if cfg.Store.Sanity.Dataset == "" {
		cfg.Store.Sanity.Dataset = "production"
	}
	if cfg.Resend.BaseURL == "" {
		cfg.Resend.BaseURL = "https://api.resend.com"
	}
	if cfg.Resend.TimeoutSeconds == 0 {
		cfg.Resend.TimeoutSeconds = 30
	}
	if cfg.Resend.MaxAttempts == 0 {
		cfg.Resend.MaxAttempts = 3
	}
	if cfg.Resend.RetryDelayMs == 0 {
		cfg.Resend.RetryDelayMs = 500
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = ProviderResend
	}
	if cfg.Email.MaxFlowSteps == 0 {
		cfg.Email.MaxFlowSteps = 500
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SharePoint.GraphURL == "" {
		cfg.SharePoint.GraphURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.SharePoint.TimeoutSeconds == 0 {
		cfg.SharePoint.TimeoutSeconds = 60
	}
	if cfg.Worker.PendingIntervalSeconds == 0 {
		cfg.Worker.PendingIntervalSeconds = 300
	}
	if cfg.Worker.SegmentIntervalSeconds == 0 {
		cfg.Worker.SegmentIntervalSeconds = 3600
	}
	if cfg.Worker.LockTTLSeconds == 0 {
		cfg.Worker.LockTTLSeconds = 600
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "recruit-cdp/reports"
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = cfg.SES.Region
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "recruit-cdp"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Store.DatabaseURL = dbURL
		if cfg.Store.Backend == BackendMemory {
			cfg.Store.Backend = BackendPostgres
		}
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SANITY_PROJECT_ID"); v != "" {
		cfg.Store.Sanity.ProjectID = v
	}
	if v := os.Getenv("SANITY_DATASET"); v != "" {
		cfg.Store.Sanity.Dataset = v
	}
	if v := os.Getenv("SANITY_TOKEN"); v != "" {
		cfg.Store.Sanity.Token = v
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("RESEND_BASE_URL"); v != "" {
		cfg.Resend.BaseURL = v
	}
	if v := os.Getenv("RESEND_WEBHOOK_SECRET"); v != "" {
		cfg.Resend.WebhookSecret = v
	}
	if v := os.Getenv("EMAIL_FROM_ADDRESS"); v != "" {
		cfg.Email.FromAddress = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = strings.ToLower(v)
	}

	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}

	if v := os.Getenv("TYPEFORM_SECRET"); v != "" {
		cfg.Typeform.Secret = v
	}
	if v := os.Getenv("SHAREPOINT_TENANT_ID"); v != "" {
		cfg.SharePoint.TenantID = v
	}
	if v := os.Getenv("SHAREPOINT_CLIENT_ID"); v != "" {
		cfg.SharePoint.ClientID = v
	}
	if v := os.Getenv("SHAREPOINT_CLIENT_SECRET"); v != "" {
		cfg.SharePoint.ClientSecret = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CDP_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
