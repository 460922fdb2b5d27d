package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ValidScopes are the scopes a token may carry.
var ValidScopes = map[string]bool{
	"session:ro": true,
	"session:rw": true,
	"*":          true,
}

// Load reads, interpolates, verifies and validates a config file. A directory
// is accepted and must contain config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err == nil && doc.Kind == yaml.DocumentNode {
		cfg.source = &doc
	}

	resolveRelativePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// parse decodes raw over Defaults so omitted keys keep their default.
func parse(raw []byte) (*Config, error) {
	cfg := Defaults()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(raw))), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveRelativePaths anchors workspace and state paths at the config dir.
func resolveRelativePaths(cfg *Config, baseDir string) {
	if cfg.Workspace.Dir != "" && !filepath.IsAbs(cfg.Workspace.Dir) {
		cfg.Workspace.Dir = filepath.Join(baseDir, cfg.Workspace.Dir)
	}
	if cfg.State.Path != "" && !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(baseDir, cfg.State.Path)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Workspace.Dir == "" {
		return errors.New("workspace.dir is required")
	}
	info, err := os.Stat(cfg.Workspace.Dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("workspace.dir %s is not a directory", cfg.Workspace.Dir)
	}

	rt := cfg.Runtime
	if strings.TrimSpace(rt.NodeCmd) == "" {
		return errors.New("runtime.node_cmd is required")
	}
	if rt.DebugHost == "" {
		return errors.New("runtime.debug_host is required")
	}
	if err := validPort("runtime.node_debug_port", rt.NodeDebugPort); err != nil {
		return err
	}
	if err := validPort("runtime.chrome_debug_port", rt.ChromeDebugPort); err != nil {
		return err
	}
	if rt.AttachDelay <= 0 {
		return errors.New("runtime.attach_delay must be positive")
	}
	if rt.KillGrace <= 0 {
		return errors.New("runtime.kill_grace must be positive")
	}
	if rt.ConnectTimeout <= 0 {
		return errors.New("runtime.connect_timeout must be positive")
	}

	if cfg.API.Listen == "" {
		return errors.New("api.listen is required")
	}
	if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
		return err
	}
	for i, tok := range cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", field)
		}
		if err := unresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", field)
		}
		for _, s := range tok.Scopes {
			if !ValidScopes[s] {
				return fmt.Errorf("%s.scopes: unknown scope %q", field, s)
			}
		}
	}

	if cfg.State.Path == "" {
		return errors.New("state.path is required")
	}
	if cfg.State.Retention < 0 {
		return errors.New("state.retention must not be negative")
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535 (got %d)", field, port)
	}
	return nil
}

// unresolved rejects values that still hold a ${VAR} placeholder.
func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
