// Package config loads and saves the evolute configuration file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"evolute/evolver"
)

// MIDIConfig selects the ports and channel used to talk to the synth.
type MIDIConfig struct {
	// Input and Output are matched as case-insensitive name prefixes.
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
	Channel int    `yaml:"channel"` // 1-16
}

// OutboundConfig controls the outbound pump.
type OutboundConfig struct {
	Interval  time.Duration `yaml:"interval"`
	QueueSize int           `yaml:"queue_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type ExportConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	MIDI     MIDIConfig     `yaml:"midi"`
	Outbound OutboundConfig `yaml:"outbound"`
	Log      LogConfig      `yaml:"log"`
	Export   ExportConfig   `yaml:"export"`
}

// Default returns a config that talks to the first port named "Evolver" on
// channel 1, at ten messages per second.
func Default() *Config {
	return &Config{
		MIDI: MIDIConfig{
			Input:   "Evolver",
			Output:  "Evolver",
			Channel: 1,
		},
		Outbound: OutboundConfig{
			Interval:  evolver.MinInterval,
			QueueSize: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Dir returns the config directory path
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "evolute"), nil
}

// Path returns the full path to config.yaml
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config at path, or the default path when path is empty.
// A missing file yields the defaults. Fields absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the values the engine cannot work with.
func (c *Config) Validate() error {
	if c.MIDI.Channel < 1 || c.MIDI.Channel > 16 {
		return errors.Errorf("midi.channel %d out of range 1-16", c.MIDI.Channel)
	}
	if c.MIDI.Output == "" {
		return errors.New("midi.output is empty")
	}
	if c.Outbound.Interval < evolver.MinInterval {
		return errors.Errorf("outbound.interval %v is below %v", c.Outbound.Interval, evolver.MinInterval)
	}
	if c.Outbound.QueueSize <= 0 {
		return errors.Errorf("outbound.queue_size %d must be positive", c.Outbound.QueueSize)
	}
	return nil
}
