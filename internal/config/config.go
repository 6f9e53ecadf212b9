package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

type StoreConfig struct {
	Path             string `yaml:"path"`
	InMemory         bool   `yaml:"inMemory"`
	MinimumFreeSpace int    `yaml:"minimumFreeSpace"` // in GB
	DataShards       int    `yaml:"dataShards"`
	ParityShards     int    `yaml:"parityShards"`
	CompressionLevel int    `yaml:"compressionLevel"`
	MaxObjectSize    uint64 `yaml:"maxObjectSize"` // in bytes, 0 for the store default
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"noColor"`
}

const (
	DefaultPath         = "./data"
	DefaultDataShards   = 4
	DefaultParityShards = 2
	DefaultLogLevel     = "info"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.setDefaults()
	return c
}

// Load reads a YAML config file and fills unset fields with defaults. An
// empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	// Read YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML config data and fills defaults.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.setDefaults()
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = DefaultPath
	}

	// shards are only defaulted as a pair
	if c.Store.DataShards == 0 && c.Store.ParityShards == 0 {
		c.Store.DataShards = DefaultDataShards
		c.Store.ParityShards = DefaultParityShards
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
