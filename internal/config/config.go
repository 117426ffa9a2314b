// Package config loads the dchealth YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jandubois/dchealth/internal/health"
)

// Config is the root of the configuration file.
type Config struct {
	Thresholds health.Thresholds `yaml:"thresholds"`
	Policy     PolicyConfig      `yaml:"policy"`
	Discovery  DiscoveryConfig   `yaml:"discovery"`
	Collector  CollectorConfig   `yaml:"collector"`
	Report     ReportConfig      `yaml:"report"`
	Notify     NotifyConfig      `yaml:"notify"`
	History    HistoryConfig     `yaml:"history"`
	Watcher    WatcherConfig     `yaml:"watcher"`
	Web        WebConfig         `yaml:"web"`
}

// PolicyConfig overrides the severity of binary metrics. Metrics not
// listed keep their default severity.
type PolicyConfig struct {
	Critical []string `yaml:"critical"`
	Warning  []string `yaml:"warning"`
}

// DiscoveryConfig lists where domain controllers come from.
type DiscoveryConfig struct {
	Domains []DomainConfig    `yaml:"domains"`
	Nodes   []health.Identity `yaml:"nodes"`
	Exclude []string          `yaml:"exclude"`
}

// DomainConfig enables DNS SRV discovery for one domain.
type DomainConfig struct {
	Name  string   `yaml:"name"`
	Sites []string `yaml:"sites"`
}

// CollectorConfig bounds probe execution.
type CollectorConfig struct {
	MaxConcurrent int      `yaml:"max_concurrent"`
	NodeTimeout   string   `yaml:"node_timeout"`
	ProbeTimeout  string   `yaml:"probe_timeout"`
	PingTimeout   string   `yaml:"ping_timeout"`
	TimeSamples   int      `yaml:"time_samples"`
	Skip          []string `yaml:"skip"`
}

// ReportConfig controls rendered output.
type ReportConfig struct {
	Title     string   `yaml:"title"`
	OutputDir string   `yaml:"output_dir"`
	Formats   []string `yaml:"formats"`
}

// NotifyConfig holds delivery channels.
type NotifyConfig struct {
	OnlyOnChange bool            `yaml:"only_on_change"`
	MinState     string          `yaml:"min_state"`
	SMTP         *SMTPConfig     `yaml:"smtp"`
	Ntfy         *NtfyConfig     `yaml:"ntfy"`
	Pushover     *PushoverConfig `yaml:"pushover"`
}

// SMTPConfig configures report e-mail. The password is read from
// SMTP_PASSWORD when not set here.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`
}

// NtfyConfig configures an ntfy topic.
type NtfyConfig struct {
	ServerURL string `yaml:"server_url"`
	Topic     string `yaml:"topic"`
	Token     string `yaml:"token"`
}

// PushoverConfig configures Pushover delivery.
type PushoverConfig struct {
	APIToken string `yaml:"api_token"`
	UserKey  string `yaml:"user_key"`
}

// HistoryConfig configures the SQLite run history.
type HistoryConfig struct {
	Database string `yaml:"database"`
	KeepRuns int    `yaml:"keep_runs"`
}

// WatcherConfig holds configuration for the scheduled check service.
type WatcherConfig struct {
	Interval string `yaml:"interval"`
}

// WebConfig holds configuration for the web server.
type WebConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Thresholds: health.DefaultThresholds(),
		Collector: CollectorConfig{
			MaxConcurrent: 8,
			NodeTimeout:   "10m",
			ProbeTimeout:  "3m",
			PingTimeout:   "2s",
			TimeSamples:   1,
		},
		Report: ReportConfig{
			Title:     "Domain Controller Health Report",
			OutputDir: "reports",
			Formats:   []string{"html"},
		},
		Notify: NotifyConfig{
			MinState: string(health.StateHealthy),
		},
		History: HistoryConfig{
			KeepRuns: 500,
		},
		Watcher: WatcherConfig{
			Interval: "1h",
		},
		Web: WebConfig{
			Port: 8080,
		},
	}
}

// Load reads the configuration at path on top of the defaults. An optional
// .env file next to the working directory is loaded first so secrets can
// be kept out of the YAML file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// applyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) applyEnv() {
	if c.Web.AuthToken == "" {
		c.Web.AuthToken = os.Getenv("AUTH_TOKEN")
	}
	if c.History.Database == "" {
		c.History.Database = os.Getenv("DATABASE_PATH")
	}
	if c.Notify.SMTP != nil && c.Notify.SMTP.Password == "" {
		c.Notify.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	}
	if c.Notify.Pushover != nil && c.Notify.Pushover.APIToken == "" {
		c.Notify.Pushover.APIToken = os.Getenv("PUSHOVER_TOKEN")
	}
	if c.Notify.Ntfy != nil && c.Notify.Ntfy.Token == "" {
		c.Notify.Ntfy.Token = os.Getenv("NTFY_TOKEN")
	}
}

// Durations holds the parsed collector and watcher durations.
type Durations struct {
	NodeTimeout  time.Duration
	ProbeTimeout time.Duration
	PingTimeout  time.Duration
	Interval     time.Duration
}

// Durations parses every duration string in the configuration.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	var err error
	if d.NodeTimeout, err = ParseInterval(c.Collector.NodeTimeout); err != nil {
		return d, fmt.Errorf("collector.node_timeout: %w", err)
	}
	if d.ProbeTimeout, err = ParseInterval(c.Collector.ProbeTimeout); err != nil {
		return d, fmt.Errorf("collector.probe_timeout: %w", err)
	}
	if d.PingTimeout, err = ParseInterval(c.Collector.PingTimeout); err != nil {
		return d, fmt.Errorf("collector.ping_timeout: %w", err)
	}
	if d.Interval, err = ParseInterval(c.Watcher.Interval); err != nil {
		return d, fmt.Errorf("watcher.interval: %w", err)
	}
	return d, nil
}
