// Package config loads worker configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/skeindata/skein/internal/logging"
)

// Config is the root worker configuration.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Storage     StorageConfig     `yaml:"storage"`
	IO          IOConfig          `yaml:"io"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         logging.Config    `yaml:"log"`
}

// CoordinatorConfig identifies the coordinating process.
type CoordinatorConfig struct {
	Address string `yaml:"address"` // host:port of the coordinator
}

// WorkerConfig describes this worker's identity and capacity.
type WorkerConfig struct {
	ID    string `yaml:"id"`    // empty = generated at startup
	Host  string `yaml:"host"`  // empty = os.Hostname
	Cores int    `yaml:"cores"` // advertised task concurrency
}

// CheckpointConfig configures the durable checkpoint subsystem.
type CheckpointConfig struct {
	Dir string `yaml:"dir"` // directory under the durable store
}

// StorageConfig selects the durable store backend.
type StorageConfig struct {
	Backend   string `yaml:"backend"`    // "local" | "blob"
	LocalDir  string `yaml:"local_dir"`  // base dir for the local backend
	BucketURL string `yaml:"bucket_url"` // gocloud URL for the blob backend
}

// IOConfig tunes stream I/O.
type IOConfig struct {
	BufferSize int    `yaml:"buffer_size"` // bytes, for codec stream buffers
	ScratchDir string `yaml:"scratch_dir"` // local staging root
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9090"
}

// Load reads configuration from path, applies environment overrides and
// defaults. An empty path yields defaults plus environment only.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SKEIN_COORDINATOR"); v != "" {
		c.Coordinator.Address = v
	}
	if v := os.Getenv("SKEIN_WORKER_ID"); v != "" {
		c.Worker.ID = v
	}
	if v := os.Getenv("SKEIN_CORES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.Cores = n
		}
	}
	if v := os.Getenv("SKEIN_CHECKPOINT_DIR"); v != "" {
		c.Checkpoint.Dir = v
	}
	if v := os.Getenv("SKEIN_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("SKEIN_BUCKET_URL"); v != "" {
		c.Storage.BucketURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Worker.Cores < 1 {
		c.Worker.Cores = 4
	}
	if c.Worker.Host == "" {
		if h, err := os.Hostname(); err == nil {
			c.Worker.Host = h
		} else {
			c.Worker.Host = "localhost"
		}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "./data"
	}
	if c.IO.BufferSize < 1 {
		c.IO.BufferSize = 64 * 1024
	}
	if c.IO.ScratchDir == "" {
		c.IO.ScratchDir = os.TempDir()
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir required for local backend")
		}
	case "blob":
		if c.Storage.BucketURL == "" {
			return fmt.Errorf("storage.bucket_url required for blob backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	return nil
}
