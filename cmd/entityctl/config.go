package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/acksell/entities/schema"
	"gopkg.in/yaml.v3"
)

const configFileName = "entityctl.yaml"

// Config is the content of entityctl.yaml.
type Config struct {
	// Service the tool acts as. Writes to tables owned by other services fail.
	Service string `yaml:"service"`

	// Schema is the path of a schema file. Empty means the built-in schema.
	Schema string `yaml:"schema"`

	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig selects and configures the backing store.
type BackendConfig struct {
	// Kind is one of memory, badger, postgres, dynamodb, cassandra, redis.
	Kind          string `yaml:"kind"`
	MaxValueBytes int    `yaml:"maxValueBytes"`

	Badger struct {
		Path string `yaml:"path"`
	} `yaml:"badger"`

	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`

	DynamoDB struct {
		Region      string `yaml:"region"`
		Endpoint    string `yaml:"endpoint"`
		TablePrefix string `yaml:"tablePrefix"`
	} `yaml:"dynamodb"`

	Cassandra struct {
		Hosts             []string `yaml:"hosts"`
		Keyspace          string   `yaml:"keyspace"`
		ReplicationFactor int      `yaml:"replicationFactor"`
	} `yaml:"cassandra"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"keyPrefix"`
	} `yaml:"redis"`
}

// LoadConfig reads the config at path, or searches for entityctl.yaml
// starting from the current directory and walking up to the filesystem root
// when path is empty. No file found yields an in-memory backend.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		// a relative schema path is relative to the config file
		if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
			cfg.Schema = filepath.Join(filepath.Dir(path), cfg.Schema)
		}
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = "memory"
	}
	return cfg, nil
}

// LoadSchema returns the configured schema.
func (c Config) LoadSchema() (*schema.Schema, error) {
	if c.Schema == "" {
		return schema.Default(), nil
	}
	return schema.Load(c.Schema)
}

// findConfigFile searches for entityctl.yaml walking up from current directory.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, configFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}
