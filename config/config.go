// Package config loads and validates the monitor configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete monitor configuration
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Engine  EngineConfig  `yaml:"engine"`
	API     APIConfig     `yaml:"api"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
}

// MonitorConfig contains log tailing settings
type MonitorConfig struct {
	LogDirectory        string `yaml:"log_directory"`
	FilePattern         string `yaml:"file_pattern"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// PollInterval returns the fallback poll interval as a duration.
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// EngineConfig contains lifecycle engine settings
type EngineConfig struct {
	HistorySize          int `yaml:"history_size"`
	QSOTimeoutSeconds    int `yaml:"qso_timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// QSOTimeout returns the inactivity threshold as a duration.
func (e EngineConfig) QSOTimeout() time.Duration {
	return time.Duration(e.QSOTimeoutSeconds) * time.Second
}

// SweepInterval returns the sweep cadence as a duration.
func (e EngineConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}

// APIConfig contains HTTP/WebSocket server settings
type APIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`
	WSBuffer int    `yaml:"ws_buffer"`
}

// MQTTConfig contains MQTT publisher settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// LoggingConfig contains application diagnostic log settings
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	Console       bool   `yaml:"console"`
}

// Default returns the configuration used when no file is supplied. The log
// directory is the stock MMDVMHost location on a Pi-style install.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			LogDirectory:        "/var/log/mmdvm",
			FilePattern:         "MMDVM-*.log",
			PollIntervalSeconds: 2,
		},
		Engine: EngineConfig{
			HistorySize:          100,
			QSOTimeoutSeconds:    30,
			SweepIntervalSeconds: 5,
		},
		API: APIConfig{
			Enabled:  true,
			Listen:   ":8080",
			WSBuffer: 64,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "mmdvm/events",
		},
		Logging: LoggingConfig{
			RetentionDays: 7,
			Console:       true,
		},
	}
}

// Load reads and validates a YAML configuration file. Fields missing from
// the file keep their defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot work with. These are the only
// fatal conditions the monitor has: everything after startup is retried, not
// aborted. A missing log directory is deliberately NOT an error here; the
// tailer polls until it appears.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Monitor.LogDirectory) == "" {
		return fmt.Errorf("monitor.log_directory must be set")
	}
	if strings.TrimSpace(c.Monitor.FilePattern) == "" {
		return fmt.Errorf("monitor.file_pattern must be set")
	}
	if strings.Contains(c.Monitor.FilePattern, "/") {
		return fmt.Errorf("monitor.file_pattern must be a file name pattern, not a path: %q", c.Monitor.FilePattern)
	}
	if c.Monitor.PollIntervalSeconds < 1 {
		return fmt.Errorf("monitor.poll_interval_seconds must be >= 1, got %d", c.Monitor.PollIntervalSeconds)
	}
	if c.Engine.HistorySize < 1 {
		return fmt.Errorf("engine.history_size must be >= 1, got %d", c.Engine.HistorySize)
	}
	if c.Engine.QSOTimeoutSeconds < 1 {
		return fmt.Errorf("engine.qso_timeout_seconds must be >= 1, got %d", c.Engine.QSOTimeoutSeconds)
	}
	if c.Engine.SweepIntervalSeconds < 1 {
		return fmt.Errorf("engine.sweep_interval_seconds must be >= 1, got %d", c.Engine.SweepIntervalSeconds)
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Listen) == "" {
		return fmt.Errorf("api.listen must be set when the API is enabled")
	}
	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker must be set when MQTT is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port)
		}
	}
	return nil
}

// Print displays the effective configuration
func (c *Config) Print() {
	fmt.Printf("Monitor: %s/%s (poll %ds)\n", c.Monitor.LogDirectory, c.Monitor.FilePattern, c.Monitor.PollIntervalSeconds)
	fmt.Printf("Engine: history=%d timeout=%ds sweep=%ds\n", c.Engine.HistorySize, c.Engine.QSOTimeoutSeconds, c.Engine.SweepIntervalSeconds)
	if c.API.Enabled {
		fmt.Printf("API: %s\n", c.API.Listen)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (prefix: %s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.TopicPrefix)
	}
}
