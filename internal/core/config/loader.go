package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/apex/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	for i := range cfg.Chains {
		ch := &cfg.Chains[i]
		if ch.Ecosystem == "" {
			ch.Ecosystem = domain.EcosystemOf(ch.ChainID)
		}
		if ch.FinalityDepth == 0 {
			ch.FinalityDepth = 1
		}
		if ch.ConfirmTimeout == 0 {
			ch.ConfirmTimeout = 2 * time.Minute
		}
		if ch.PollInterval == 0 {
			ch.PollInterval = 2 * time.Second
		}
	}

	if cfg.Bridge.MaxRetries == 0 {
		cfg.Bridge.MaxRetries = 2
	}
	if cfg.Bridge.InitialDelay == 0 {
		cfg.Bridge.InitialDelay = time.Second
	}
	if cfg.Bridge.MaxDelay == 0 {
		cfg.Bridge.MaxDelay = 30 * time.Second
	}
	if cfg.Bridge.ClaimTTL == 0 {
		cfg.Bridge.ClaimTTL = time.Minute
	}
	if cfg.Bridge.SweepInterval == 0 {
		cfg.Bridge.SweepInterval = 30 * time.Second
	}

	return &cfg, nil
}
