package config

import "time"

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one SMS vendor account.
type ProviderConfig struct {
	Type          string        `yaml:"type"`
	BaseURL       string        `yaml:"base_url"`
	Key           string        `yaml:"key"`
	Hash          string        `yaml:"hash"`
	Sender        string        `yaml:"sender"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}
