package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/opcua"
)

type Config struct {
	// DurationMinutes is how long each run collects before stopping.
	DurationMinutes float64 `yaml:"duration_minutes"`

	// Channels are the waveform PV suffixes harvested per cavity.
	Channels []string `yaml:"channels"`

	// MetaPVs are sampled once per snapshot and stored as metadata.
	MetaPVs []string `yaml:"meta_pvs"`

	BaseDir          string  `yaml:"base_dir"`
	BeamCurrentPV    string  `yaml:"beam_current_pv"`
	MinBeamCurrent   float64 `yaml:"min_beam_current"`
	MinFreeGB        float64 `yaml:"min_free_gb"`
	FailureThreshold float64 `yaml:"failure_threshold"`

	// Output selects the sink: "file" or "db".
	Output string `yaml:"output"`

	Client  opcua.Config  `yaml:"client"`
	Email   EmailConfig   `yaml:"email"`
	DB      DBConfig      `yaml:"db"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type EmailConfig struct {
	FromAddr   string   `yaml:"from_addr"`
	ToAddrs    []string `yaml:"to_addrs"`
	SMTPServer string   `yaml:"smtp_server"`
}

type DBConfig struct {
	ConnString string `yaml:"conn_string"`
	PoolSize   int    `yaml:"pool_size"`

	// DataPartition is the filesystem checked for free space before a run.
	DataPartition string `yaml:"data_partition"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.DurationMinutes <= 0 {
		c.DurationMinutes = 5
	}
	if c.BeamCurrentPV == "" {
		c.BeamCurrentPV = "R2XXITOT"
	}
	if c.MinFreeGB <= 0 {
		c.MinFreeGB = 10
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.9
	}
	if c.Output == "" {
		c.Output = "file"
	}
	if c.Email.SMTPServer == "" {
		c.Email.SMTPServer = "localhost:25"
	}
	if c.DB.PoolSize <= 0 {
		c.DB.PoolSize = 4
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	c.Client.ApplyDefaults()
}

func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("channels is required")
	}
	switch c.Output {
	case "file":
		if c.BaseDir == "" {
			return fmt.Errorf("base_dir is required for file output")
		}
	case "db":
		if c.DB.ConnString == "" {
			return fmt.Errorf("db.conn_string is required for db output")
		}
	default:
		return fmt.Errorf("output must be \"file\" or \"db\", got %q", c.Output)
	}
	if c.FailureThreshold > 1 {
		return fmt.Errorf("failure_threshold must be within (0, 1]")
	}
	return nil
}
