package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete debugbridge configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	API       APIConfig       `yaml:"api"`
	State     StateConfig     `yaml:"state"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
	// source is the parsed document, kept for SetPath.
	source *yaml.Node
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// WorkspaceConfig is the directory client paths are relative to.
type WorkspaceConfig struct {
	Dir string `yaml:"dir"`
}

// RuntimeConfig controls how targets are launched and debugged.
type RuntimeConfig struct {
	NodeCmd         string        `yaml:"node_cmd"`
	DebugHost       string        `yaml:"debug_host"`
	NodeDebugPort   int           `yaml:"node_debug_port"`
	ChromeDebugPort int           `yaml:"chrome_debug_port"`
	AttachDelay     time.Duration `yaml:"attach_delay"`
	KillGrace       time.Duration `yaml:"kill_grace"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// StateConfig locates the run log database. The PID lock lives next to it.
type StateConfig struct {
	Path string `yaml:"path"`
	// Retention prunes finished runs older than this at startup. Zero keeps
	// everything.
	Retention time.Duration `yaml:"retention"`
}

// Defaults returns a Config with the stock ports and timings.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "debugbridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Workspace: WorkspaceConfig{
			Dir: ".",
		},
		Runtime: RuntimeConfig{
			NodeCmd:         "node",
			DebugHost:       "localhost",
			NodeDebugPort:   5858,
			ChromeDebugPort: 9222,
			AttachDelay:     100 * time.Millisecond,
			KillGrace:       2 * time.Second,
			ConnectTimeout:  10 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8090",
		},
		State: StateConfig{
			Path: "./data/debugbridge.db",
		},
	}
}
