package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roost-io/roost/pkg/log"
)

// Config holds the daemon configuration
type Config struct {
	// DataDir is where the state database and disk images live
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the daemon API listen address (host:port)
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the Prometheus /metrics listen address
	MetricsAddr string `yaml:"metrics_addr"`

	Log LogConfig `yaml:"log"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	Attach AttachConfig `yaml:"attach"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level log.Level `yaml:"level"`
	JSON  bool      `yaml:"json"`
}

// SchedulerConfig tunes the background task scheduler
type SchedulerConfig struct {
	// MaxIdleWait bounds the worker's sleep while it has nothing queued
	MaxIdleWait time.Duration `yaml:"max_idle_wait"`
}

// AttachConfig tunes the device-attachment workflow
type AttachConfig struct {
	TrayPollInterval time.Duration `yaml:"tray_poll_interval"`
	OpTimeout        time.Duration `yaml:"op_timeout"`
	QoSInterval      time.Duration `yaml:"qos_interval"`
	EjectDelay       time.Duration `yaml:"eject_delay"`
	ImagesDir        string        `yaml:"images_dir"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:     "/var/lib/roost",
		ListenAddr:  "127.0.0.1:7433",
		MetricsAddr: "127.0.0.1:9433",
		Log: LogConfig{
			Level: log.InfoLevel,
			JSON:  false,
		},
		Scheduler: SchedulerConfig{
			MaxIdleWait: 10 * time.Second,
		},
		Attach: AttachConfig{
			TrayPollInterval: 2 * time.Second,
			OpTimeout:        60 * time.Second,
			QoSInterval:      30 * time.Second,
			EjectDelay:       2 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	switch c.Log.Level {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel, "":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Scheduler.MaxIdleWait < 0 {
		return fmt.Errorf("scheduler.max_idle_wait must not be negative")
	}
	if c.Attach.TrayPollInterval < 0 || c.Attach.OpTimeout < 0 || c.Attach.QoSInterval < 0 {
		return fmt.Errorf("attach intervals must not be negative")
	}
	return nil
}
