package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  api_token: "secret-token"
  allowed_origins: ["https://studio.league.test"]

store:
  backend: sanity
  sanity:
    project_id: "abc123"
    dataset: "staging"
    token: "sk-test"

resend:
  api_key: "re_test"
  webhook_secret: "whsec_dGVzdA=="
  max_attempts: 5

email:
  from_address: "tryouts@league.test"
  from_name: "League Recruiting"

typeform:
  secret: "tf-secret"
  field_map:
    email_ref: email
    first_ref: firstName

sharepoint:
  tenant_id: "t"
  client_id: "c"
  client_secret: "s"
  site_id: "site"
  list_id: "list"
  field_map:
    Title: firstName

worker:
  enabled: true
  pending_interval_seconds: 60

archive:
  s3_bucket: "reports"
  s3_region: "us-east-1"

logging:
  level: debug
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "secret-token", cfg.Server.APIToken)
	assert.Equal(t, []string{"https://studio.league.test"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, BackendSanity, cfg.Store.Backend)
	assert.Equal(t, "abc123", cfg.Store.Sanity.ProjectID)
	assert.Equal(t, "staging", cfg.Store.Sanity.Dataset)
	assert.Equal(t, "2024-01-01", cfg.Store.Sanity.APIVersion)

	assert.Equal(t, "re_test", cfg.Resend.APIKey)
	assert.Equal(t, 5, cfg.Resend.MaxAttempts)
	assert.Equal(t, "tryouts@league.test", cfg.Email.FromAddress)
	assert.Equal(t, "firstName", cfg.Typeform.FieldMap["first_ref"])

	assert.True(t, cfg.SharePoint.Enabled())
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.SharePoint.GraphURL)

	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, time.Minute, cfg.Worker.PendingInterval())
	assert.Equal(t, time.Hour, cfg.Worker.SegmentInterval())

	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "us-east-1", cfg.Archive.S3Region)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "resend:\n  api_key: \"k\"\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "https://api.resend.com", cfg.Resend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Resend.Timeout())
	assert.Equal(t, 3, cfg.Resend.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Resend.RetryDelay())
	assert.Equal(t, ProviderResend, cfg.Email.Provider)
	assert.Equal(t, 500, cfg.Email.MaxFlowSteps)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, 5*time.Minute, cfg.Worker.PendingInterval())
	assert.Equal(t, 10*time.Minute, cfg.Worker.LockTTL())
	assert.Zero(t, cfg.Worker.AudienceInterval())
	assert.False(t, cfg.Archive.Enabled())
	assert.False(t, cfg.SharePoint.Enabled())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	configPath := writeConfig(t, `
resend:
  api_key: "file-key"
`)
	t.Setenv("RESEND_API_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://localhost/cdp")
	t.Setenv("TYPEFORM_SECRET", "tf")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Resend.APIKey)
	assert.Equal(t, "postgres://localhost/cdp", cfg.Store.DatabaseURL)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend, "a database url promotes the memory default")
	assert.Equal(t, "tf", cfg.Typeform.Secret)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadFromEnv_ExplicitBackendWins(t *testing.T) {
	configPath := writeConfig(t, "store:\n  backend: sanity\n")
	t.Setenv("DATABASE_URL", "postgres://localhost/cdp")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)
	assert.Equal(t, BackendSanity, cfg.Store.Backend)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestArchiveAWSProfile(t *testing.T) {
	cfg := ArchiveConfig{AWSProfile: "dev"}
	t.Setenv("AWS_PROFILE_OVERRIDE", "")
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	assert.Equal(t, "dev", cfg.GetAWSProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", cfg.GetAWSProfile())
}
