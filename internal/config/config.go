package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// Polling intervals (in seconds)
	// SlurmRefresh is how often squeue is run
	SlurmRefresh float64 `yaml:"slurm_refresh"`
	// FileRefresh is how often the selected log is re-read when no file
	// notification arrives
	FileRefresh float64 `yaml:"file_refresh"`

	// Squeue is the squeue binary to run
	Squeue string `yaml:"squeue"`
	// SqueueTimeout bounds a single squeue run (in seconds)
	SqueueTimeout float64 `yaml:"squeue_timeout"`

	// LogMaxLines is the number of log lines kept per job
	LogMaxLines int `yaml:"log_max_lines"`
	// Output selects the log shown first: "stdout" or "stderr"
	Output string `yaml:"output"`
	// Wrap enables line wrapping in the log panel
	Wrap bool `yaml:"wrap"`

	// LogFile is where the program writes its own log
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		SlurmRefresh:  2,
		FileRefresh:   2,
		Squeue:        "squeue",
		SqueueTimeout: 30,
		LogMaxLines:   10000,
		Output:        "stdout",
		LogLevel:      "info",
	}
}

var configPath string

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	configPath = filepath.Join(home, ".config", "slurm-jobs", "config.yaml")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return configPath
}

// Load reads the config file, returning defaults if it doesn't exist
func Load() (*Config, error) {
	return LoadFrom(configPath)
}

// LoadFrom reads the config file at path, returning defaults if it doesn't
// exist. The result is not validated: callers apply overrides first and then
// call Validate.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.SlurmRefresh <= 0 {
		return fmt.Errorf("slurm_refresh must be positive, got %v", c.SlurmRefresh)
	}
	if c.FileRefresh <= 0 {
		return fmt.Errorf("file_refresh must be positive, got %v", c.FileRefresh)
	}
	if c.SqueueTimeout <= 0 {
		return fmt.Errorf("squeue_timeout must be positive, got %v", c.SqueueTimeout)
	}
	if c.LogMaxLines <= 0 {
		return fmt.Errorf("log_max_lines must be positive, got %d", c.LogMaxLines)
	}
	if c.Squeue == "" {
		return fmt.Errorf("squeue must not be empty")
	}
	switch c.Output {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("output must be stdout or stderr, got %q", c.Output)
	}
	return nil
}

// SlurmInterval returns SlurmRefresh as a duration
func (c *Config) SlurmInterval() time.Duration {
	return seconds(c.SlurmRefresh)
}

// FileInterval returns FileRefresh as a duration
func (c *Config) FileInterval() time.Duration {
	return seconds(c.FileRefresh)
}

// QueryTimeout returns SqueueTimeout as a duration
func (c *Config) QueryTimeout() time.Duration {
	return seconds(c.SqueueTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
