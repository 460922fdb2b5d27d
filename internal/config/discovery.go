package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "DEBUGBRIDGE_CONFIG"

// Discover finds the config file to load.
// Priority order: flagPath, $DEBUGBRIDGE_CONFIG, ~/.config/debugbridge/config.yaml, ./config.yaml.
func Discover(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}

	if p := os.Getenv(EnvConfigPath); p != "" {
		if fileExists(p) || dirExists(p) {
			return p, nil
		}
		return "", fmt.Errorf("$%s points to %s, which does not exist", EnvConfigPath, p)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "debugbridge", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	if fileExists("config.yaml") {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: --config, $%s, ~/.config/debugbridge/config.yaml, ./config.yaml)", EnvConfigPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
