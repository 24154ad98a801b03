package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fleetmcp/pkg/logging"
)

// Load reads and parses the configuration file at path. A missing file is
// not an error: it is treated as an empty fleet.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{
		Providers: make(map[string]ProviderConfig),
		Groups:    make(map[string]GroupConfig),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Info("ConfigLoader", "no configuration file at %s, starting with an empty fleet", path)
			return cfg, nil
		}
		return FileConfig{}, fmt.Errorf("reading configuration from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, NewParseError(path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if cfg.Groups == nil {
		cfg.Groups = make(map[string]GroupConfig)
	}

	if err := resolveEnvSecretFiles(cfg.Providers); err != nil {
		return FileConfig{}, err
	}

	logging.Info("ConfigLoader", "loaded configuration from %s: %d provider(s), %d group(s)",
		path, len(cfg.Providers), len(cfg.Groups))
	return cfg, nil
}

// envSecretFileSuffix is the convention for keeping secrets out of the
// config file and environment: an env var named e.g. "API_KEY_FILE" has its
// contents read and assigned to "API_KEY", recommended production practice
// for MCP OAuth credentials and similar.
const envSecretFileSuffix = "_FILE"

func resolveEnvSecretFiles(providers map[string]ProviderConfig) error {
	for id, p := range providers {
		if p.Env == nil {
			continue
		}
		for key, path := range p.Env {
			if !strings.HasSuffix(key, envSecretFileSuffix) {
				continue
			}
			baseKey := strings.TrimSuffix(key, envSecretFileSuffix)
			if _, already := p.Env[baseKey]; already {
				continue
			}
			secret, err := readSecretFile(path)
			if err != nil {
				return fmt.Errorf("provider %q: reading secret file for %s: %w", id, key, err)
			}
			p.Env[baseKey] = secret
			logging.Debug("ConfigLoader", "provider %q: resolved %s from file", id, baseKey)
		}
		providers[id] = p
	}
	return nil
}

// readSecretFile reads a secret from a file, trimming trailing whitespace
// common in mounted secrets.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
