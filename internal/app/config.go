package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (JANITOR_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8081" usage:"Admin server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (JANITOR_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Cleanup     CleanupConfig
	Purge       PurgeConfig
	Graceful    GracefulConfig
}

// CleanupConfig controls the stale-order sweep.
type CleanupConfig struct {
	Schedule     string        `default:"@hourly" usage:"Cron schedule expression for the sweep"`
	OrderMaxAge  time.Duration `default:"30m" usage:"Age before a payment-pending order counts as stale" flag:"order-max-age"`
	BatchSize    int           `default:"100" usage:"Orders per scan page" flag:"batch-size"`
	MaxPages     int           `default:"100" usage:"Maximum scan pages per run" flag:"max-pages"`
	RunOnStartup bool          `default:"false" usage:"Run the sweep once immediately at startup" flag:"run-on-startup"`
}

// PurgeConfig controls deletion of old refund-free cancelled orders.
type PurgeConfig struct {
	Enabled    bool          `default:"false" usage:"Enable hard deletion of old cancelled orders"`
	MinAge     time.Duration `default:"168h" usage:"Minimum age before a cancelled order may be deleted" flag:"purge-min-age"`
	ArchiveDir string        `default:"" usage:"Directory for pre-purge NDJSON exports (empty disables archiving)" flag:"archive-dir"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "JANITOR",
		Files:     []string{"config.yaml", "/etc/janitor/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set JANITOR_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the application's
// JANITOR_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8081" {
		c.Addr = "0.0.0.0:" + port
	}
}
