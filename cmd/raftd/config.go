package main

import (
	"errors"

	"github.com/BurntSushi/toml"

	"github.com/cascadedb/raft"
	"github.com/cascadedb/raft/logger"
)

const (
	// DefaultBindAddress is the bind address used if none is specified.
	DefaultBindAddress = ":7070"
)

// Config represents the raftd configuration file.
type Config struct {
	Meta    MetaConfig    `toml:"meta"`
	Cluster raft.Config   `toml:"cluster"`
	HTTP    HTTPConfig    `toml:"http"`
	Logging logger.Config `toml:"logging"`
}

// MetaConfig represents the durable storage configuration.
type MetaConfig struct {
	// Directory where the log segment and meta files are kept.
	Dir string `toml:"dir"`
}

// HTTPConfig represents the HTTP server configuration.
type HTTPConfig struct {
	BindAddress string `toml:"bind-address"`
}

// NewConfig returns a config with default values.
func NewConfig() *Config {
	return &Config{
		Cluster: raft.NewConfig(),
		HTTP:    HTTPConfig{BindAddress: DefaultBindAddress},
		Logging: logger.NewConfig(),
	}
}

// ParseConfigFile parses a configuration file at a given path.
func ParseConfigFile(path string) (*Config, error) {
	c := NewConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate returns an error if the configuration is unusable.
func (c *Config) Validate() error {
	if c.Meta.Dir == "" {
		return errors.New("meta dir required")
	}
	if c.HTTP.BindAddress == "" {
		return errors.New("http bind address required")
	}
	return c.Cluster.Validate()
}
