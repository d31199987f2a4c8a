package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Empty temp dir so no config.yaml is found.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "reconcile.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.Pool.MinConns)
	assert.Equal(t, 10*time.Minute, cfg.Engine.StageTimeout)
	assert.Equal(t, time.Duration(0), cfg.Engine.LookupTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Monitor.Interval)
	assert.InDelta(t, 95, cfg.Monitor.JobCustomerThreshold, 0.001)
	assert.InDelta(t, 80, cfg.Monitor.LeadStatusThreshold, 0.001)
	assert.InDelta(t, 70, cfg.Monitor.BadLeadThreshold, 0.001)
	assert.Equal(t, ",", cfg.Import.Delimiter)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// writeConfig drops a config.yaml into dir for Load to pick up.
func writeConfig(t *testing.T, dir, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0o644))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	writeConfig(t, dir, `
store:
  driver: sqlite
  sqlite_path: crm.db
engine:
  stage_timeout: 2m
  link_timeout: 30m
monitor:
  job_customer_threshold: 99
  webhook_url: https://hooks.example.com/crm
import:
  delimiter: ";"
log:
  level: warn
  format: console
server:
  port: 9191
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "crm.db", cfg.Store.SQLitePath)
	assert.Equal(t, 2*time.Minute, cfg.Engine.StageTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Engine.LinkTimeout)
	assert.InDelta(t, 99, cfg.Monitor.JobCustomerThreshold, 0.001)
	assert.Equal(t, "https://hooks.example.com/crm", cfg.Monitor.WebhookURL)
	assert.Equal(t, ";", cfg.Import.Delimiter)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9191, cfg.Server.Port)

	// Keys the file never mentions keep their defaults.
	assert.InDelta(t, 80, cfg.Monitor.LeadStatusThreshold, 0.001)
	assert.Equal(t, 6*time.Hour, cfg.Monitor.Interval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	writeConfig(t, dir, `
store:
  driver: sqlite
  sqlite_path: crm.db
`)

	t.Setenv("RECONCILE_STORE_DRIVER", "postgres")
	t.Setenv("RECONCILE_STORE_DATABASE_URL", "postgres://localhost/crm")

	cfg, err := Load()
	require.NoError(t, err)

	// Environment beats the file, which beats the defaults.
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/crm", cfg.Store.DatabaseURL)
	assert.Equal(t, "crm.db", cfg.Store.SQLitePath)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RECONCILE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "json", cfg: LogConfig{Level: "info", Format: "json"}},
		{name: "console", cfg: LogConfig{Level: "debug", Format: "console"}},
		{name: "bad level", cfg: LogConfig{Level: "chatty", Format: "json"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "reconcile.db"
	cfg.Engine.StageTimeout = 10 * time.Minute
	cfg.Monitor.Interval = 6 * time.Hour
	cfg.Monitor.JobCustomerThreshold = 95
	cfg.Monitor.LeadStatusThreshold = 80
	cfg.Monitor.BadLeadThreshold = 70
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_OK(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidatePostgres_RequiresURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/crm"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateSQLite_RequiresPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.SQLitePath = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.sqlite_path is required")
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateRun_StageTimeout(t *testing.T) {
	cfg := validDefaults()
	cfg.Engine.StageTimeout = 0

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine.stage_timeout must be > 0")
}

func TestValidateIntegrity_Thresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitor.JobCustomerThreshold = 120

	err := cfg.Validate("integrity")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.job_customer_threshold must be between 0 and 100")

	cfg.Monitor.JobCustomerThreshold = 95
	cfg.Monitor.BadLeadThreshold = -1
	err = cfg.Validate("integrity")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.bad_lead_threshold must be between 0 and 100")
}

func TestValidateIntegrity_Interval(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitor.Interval = 0

	err := cfg.Validate("integrity")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.interval must be > 0")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Engine.StageTimeout = 0

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "engine.stage_timeout must be > 0")
}

func TestStageTimeoutFor(t *testing.T) {
	ec := EngineConfig{
		StageTimeout: 10 * time.Minute,
		LinkTimeout:  30 * time.Minute,
	}

	assert.Equal(t, 10*time.Minute, ec.StageTimeoutFor("lookup"))
	assert.Equal(t, 30*time.Minute, ec.StageTimeoutFor("link"))
	assert.Equal(t, 10*time.Minute, ec.StageTimeoutFor("integrity"))
	assert.Equal(t, 10*time.Minute, ec.StageTimeoutFor("anything-else"))
}
