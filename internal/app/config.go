package app

import "errors"

// Config holds everything the App needs to run one invocation.
type Config struct {
	ConfigPath string // path to the configuration file
	CacheDir   string // disk-backed path-resolution cache

	LogFormat string
	LogLevel  string
	Workers   int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("CacheDir is a required configuration field and cannot be empty")
	}
	if cfg.Workers < 1 {
		return nil, errors.New("Workers must be at least 1")
	}
	return &cfg, nil
}
