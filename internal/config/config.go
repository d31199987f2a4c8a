package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Import  ImportConfig  `yaml:"import" mapstructure:"import"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string     `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// EngineConfig configures the reconciliation run.
type EngineConfig struct {
	StageTimeout     time.Duration `yaml:"stage_timeout" mapstructure:"stage_timeout"`
	LookupTimeout    time.Duration `yaml:"lookup_timeout" mapstructure:"lookup_timeout"`
	LinkTimeout      time.Duration `yaml:"link_timeout" mapstructure:"link_timeout"`
	IntegrityTimeout time.Duration `yaml:"integrity_timeout" mapstructure:"integrity_timeout"`
	RulesPath        string        `yaml:"rules_path" mapstructure:"rules_path"`
}

// MonitorConfig configures integrity alerting and reporting.
type MonitorConfig struct {
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	ReportDir            string        `yaml:"report_dir" mapstructure:"report_dir"`
	Interval             time.Duration `yaml:"interval" mapstructure:"interval"`
	JobCustomerThreshold float64       `yaml:"job_customer_threshold" mapstructure:"job_customer_threshold"`
	LeadStatusThreshold  float64       `yaml:"lead_status_threshold" mapstructure:"lead_status_threshold"`
	BadLeadThreshold     float64       `yaml:"bad_lead_threshold" mapstructure:"bad_lead_threshold"`
}

// ImportConfig configures file imports.
type ImportConfig struct {
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
}

// ServerConfig configures the operational HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory (when present), then
// applies RECONCILE_* environment overrides on top.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing file just means defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "reconcile.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("engine.stage_timeout", "10m")
	v.SetDefault("engine.lookup_timeout", "0")
	v.SetDefault("engine.link_timeout", "0")
	v.SetDefault("engine.integrity_timeout", "0")
	v.SetDefault("monitor.report_dir", "")
	v.SetDefault("monitor.interval", "6h")
	v.SetDefault("monitor.job_customer_threshold", 95)
	v.SetDefault("monitor.lead_status_threshold", 80)
	v.SetDefault("monitor.bad_lead_threshold", 70)
	v.SetDefault("import.delimiter", ",")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the configuration is usable for the given mode
// ("run", "integrity", "import", "serve", "migrate", "status"). It collects
// every problem rather than stopping at the first.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver (RECONCILE_STORE_DATABASE_URL)")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case "run":
		if c.Engine.StageTimeout <= 0 {
			problems = append(problems, "engine.stage_timeout must be > 0")
		}
	case "integrity":
		for _, th := range []struct {
			key   string
			value float64
		}{
			{"monitor.job_customer_threshold", c.Monitor.JobCustomerThreshold},
			{"monitor.lead_status_threshold", c.Monitor.LeadStatusThreshold},
			{"monitor.bad_lead_threshold", c.Monitor.BadLeadThreshold},
		} {
			if th.value < 0 || th.value > 100 {
				problems = append(problems, fmt.Sprintf("%s must be between 0 and 100", th.key))
			}
		}
		if c.Monitor.Interval <= 0 {
			problems = append(problems, "monitor.interval must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "import", "migrate", "status":
		// Store checks above are sufficient.
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// StageTimeoutFor returns the configured timeout for a stage, falling back
// to the engine-wide default when the per-stage value is zero.
func (c EngineConfig) StageTimeoutFor(stage string) time.Duration {
	var d time.Duration
	switch stage {
	case "lookup":
		d = c.LookupTimeout
	case "link":
		d = c.LinkTimeout
	case "integrity":
		d = c.IntegrityTimeout
	}
	if d <= 0 {
		d = c.StageTimeout
	}
	return d
}

// InitLogger installs the global zap logger. Format "console" selects the
// development preset; everything else gets production JSON.
func InitLogger(cfg LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrapf(err, "config: bad log level %q", cfg.Level)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
