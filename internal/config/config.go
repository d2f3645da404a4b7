// Package config holds the capture options shared by the CLI commands.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mistricky/pagepocket-sub000/internal/content"
)

// Options control one capture session. Zero limits disable the
// corresponding cap.
type Options struct {
	InlineThreshold  int64         `yaml:"inline_threshold"`
	MaxResourceBytes int64         `yaml:"max_resource_bytes"`
	MaxTotalBytes    int64         `yaml:"max_total_bytes"`
	MaxResources     int           `yaml:"max_resources"`
	QuietPeriod      time.Duration `yaml:"quiet_period"`
	Timeout          time.Duration `yaml:"timeout"`
	SkipNoise        bool          `yaml:"skip_noise"`
}

// Default returns the options used when no config file is present.
func Default() Options {
	return Options{
		InlineThreshold: content.DefaultThreshold,
		QuietPeriod:     2 * time.Second,
		Timeout:         60 * time.Second,
	}
}

// Load reads options from a YAML file, layered over defaults. An empty
// path or a missing file yields the defaults.
func Load(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// UnmarshalYAML layers the file's fields over whatever the receiver already
// holds, so absent keys keep their defaults. Durations use Go syntax
// ("500ms", "2m").
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		InlineThreshold  *int64  `yaml:"inline_threshold"`
		MaxResourceBytes *int64  `yaml:"max_resource_bytes"`
		MaxTotalBytes    *int64  `yaml:"max_total_bytes"`
		MaxResources     *int    `yaml:"max_resources"`
		QuietPeriod      *string `yaml:"quiet_period"`
		Timeout          *string `yaml:"timeout"`
		SkipNoise        *bool   `yaml:"skip_noise"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.InlineThreshold != nil {
		o.InlineThreshold = *raw.InlineThreshold
	}
	if raw.MaxResourceBytes != nil {
		o.MaxResourceBytes = *raw.MaxResourceBytes
	}
	if raw.MaxTotalBytes != nil {
		o.MaxTotalBytes = *raw.MaxTotalBytes
	}
	if raw.MaxResources != nil {
		o.MaxResources = *raw.MaxResources
	}
	if raw.QuietPeriod != nil {
		d, err := time.ParseDuration(*raw.QuietPeriod)
		if err != nil {
			return fmt.Errorf("invalid quiet_period: %w", err)
		}
		o.QuietPeriod = d
	}
	if raw.Timeout != nil {
		d, err := time.ParseDuration(*raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		o.Timeout = d
	}
	if raw.SkipNoise != nil {
		o.SkipNoise = *raw.SkipNoise
	}
	return nil
}

// Validate rejects nonsensical option combinations.
func (o Options) Validate() error {
	if o.InlineThreshold < 0 {
		return fmt.Errorf("inline_threshold must be >= 0")
	}
	if o.MaxResourceBytes < 0 || o.MaxTotalBytes < 0 || o.MaxResources < 0 {
		return fmt.Errorf("limits must be >= 0")
	}
	if o.QuietPeriod < 0 || o.Timeout < 0 {
		return fmt.Errorf("durations must be >= 0")
	}
	if o.QuietPeriod == 0 && o.Timeout == 0 {
		return fmt.Errorf("at least one of quiet_period and timeout must be set")
	}
	return nil
}
