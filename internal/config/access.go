package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value using a dot-notation path such as
// "runtime.node_debug_port".
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}

// SetPath sets a scalar at path in the source document. With persist the file
// is rewritten, validated (rolled back on failure) and re-locked when a
// checksum manifest exists.
func (c *Config) SetPath(path, value string, persist bool) error {
	if c.source == nil || len(c.source.Content) == 0 {
		return errors.New("no configuration source loaded")
	}
	if _, err := c.GetPath(path); err != nil {
		return fmt.Errorf("unknown config key %q: %w", path, err)
	}

	target, err := findNode(c.source.Content[0], path)
	if err != nil {
		return fmt.Errorf("failed to navigate/create path %q: %w", path, err)
	}
	target.Kind = yaml.ScalarNode
	target.Value = value
	target.Tag = guessTag(value)
	target.Content = nil

	if !persist {
		return nil
	}

	candidate, err := yaml.Marshal(c.source)
	if err != nil {
		return err
	}
	return persistWithValidation(c.SourcePath, candidate)
}

// findNode walks a mapping node, creating missing keys as it goes.
func findNode(node *yaml.Node, path string) (*yaml.Node, error) {
	current := node
	for _, part := range strings.Split(path, ".") {
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%q is not a mapping", part)
		}

		var next *yaml.Node
		for i := 0; i+1 < len(current.Content); i += 2 {
			if current.Content[i].Value == part {
				next = current.Content[i+1]
				break
			}
		}
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			current.Content = append(current.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part}, next)
		}
		current = next
	}
	return current, nil
}

func guessTag(v string) string {
	if v == "true" || v == "false" {
		return "!!bool"
	}
	isDigit := v != "" && v != "-"
	for i, c := range v {
		if i == 0 && c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			isDigit = false
			break
		}
	}
	if isDigit {
		return "!!int"
	}
	return "!!str"
}

func persistWithValidation(targetFile string, candidate []byte) error {
	original, err := os.ReadFile(targetFile)
	if err != nil {
		return fmt.Errorf("failed to read original config file: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(targetFile); statErr == nil {
		mode = info.Mode().Perm()
	}

	restore := func(cause error) error {
		if err := os.WriteFile(targetFile, original, mode); err != nil {
			return fmt.Errorf("validation failed (%v) and rollback failed (%v)", cause, err)
		}
		return fmt.Errorf("validation failed: %w", cause)
	}

	cfg, err := parse(candidate)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	resolveRelativePaths(cfg, filepath.Dir(targetFile))
	if err := validate(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := os.WriteFile(targetFile, candidate, mode); err != nil {
		return fmt.Errorf("failed to persist config change: %w", err)
	}

	if _, err := LoadChecksums(filepath.Dir(targetFile)); err == nil {
		if _, err := Lock(targetFile, false); err != nil {
			return restore(err)
		}
	}
	return nil
}
