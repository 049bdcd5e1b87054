// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/pipeline"
)

const (
	defaultConfigFile = ".argus.yaml"
	configVersion     = "1"
)

// Config is the .argus.yaml configuration file. Secrets never appear
// here: tokens and keys come from the process environment only.
type Config struct {
	Version             string            `yaml:"version"`
	Model               string            `yaml:"model"`
	MaxTokens           int               `yaml:"max_tokens"`
	StorageDir          string            `yaml:"storage_dir"`
	EmbeddingModel      string            `yaml:"embedding_model"`
	SearchRelatedIssues bool              `yaml:"search_related_issues"`
	EnablePRContext     bool              `yaml:"enable_pr_context"`
	ConfidenceThreshold float64           `yaml:"confidence_threshold"`
	ReviewDepth         string            `yaml:"review_depth"`
	IgnoredPaths        []string          `yaml:"ignored_paths"`
	EnableAgentic       bool              `yaml:"enable_agentic"`
	ExtraExtensions     map[string]string `yaml:"extra_extensions,omitempty"`
	Index               IndexConfig       `yaml:"index"`
}

// IndexConfig holds the index-mode settings.
type IndexConfig struct {
	AnalyzePatterns bool `yaml:"analyze_patterns"`
}

// Secrets are the environment-only credentials and coordinates.
type Secrets struct {
	GitHubToken string // GITHUB_TOKEN
	GoogleAPI   string // GOOGLE_API_KEY
	Repository  string // GITHUB_REPOSITORY, "owner/name"
	EventPath   string // GITHUB_EVENT_PATH
}

// DefaultConfig returns the starter configuration `argus init` writes.
func DefaultConfig() *Config {
	return &Config{
		Version:             configVersion,
		Model:               "gemini-2.0-flash",
		MaxTokens:           int(pipeline.DefaultTokenBudget),
		StorageDir:          ".argus-artifacts",
		EmbeddingModel:      "",
		SearchRelatedIssues: false,
		EnablePRContext:     true,
		ConfidenceThreshold: 0.7,
		ReviewDepth:         pipeline.DepthStandard,
		IgnoredPaths:        []string{"vendor/**", "**/*.lock", "**/*.min.js"},
		EnableAgentic:       false,
		Index:               IndexConfig{AnalyzePatterns: true},
	}
}

// LoadConfig loads .argus.yaml from the given path, the ARGUS_CONFIG_PATH
// environment variable, or by searching upward from the working
// directory. Environment overrides are applied after the file parses.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("ARGUS_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from user config or discovery
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or run 'argus init --force' to recreate", configPath),
			err,
		)
	}

	if cfg.Version != configVersion {
		return nil, errors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", cfg.Version, configVersion),
			"Run 'argus init --force' to regenerate the configuration file",
			nil,
		)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it with your configuration details",
			err,
		)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return errors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", configPath),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	return nil
}

// findConfigFile searches for .argus.yaml upward from the working
// directory.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		)
	}

	for {
		configPath := filepath.Join(dir, defaultConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NewConfigError(
		"Configuration not found",
		"No .argus.yaml file found in current directory or any parent directory",
		"Run 'argus init' to create a new configuration",
		nil,
	)
}

// applyEnvOverrides lets the environment override file settings, the
// convention a GitHub Actions wrapper uses to pass workflow inputs.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ARGUS_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("ARGUS_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxTokens = n
		}
	}
	if v := os.Getenv("ARGUS_STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("ARGUS_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("ARGUS_REVIEW_DEPTH"); v != "" {
		c.ReviewDepth = v
	}
	if v := os.Getenv("ARGUS_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			c.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("ARGUS_ENABLE_AGENTIC"); v != "" {
		c.EnableAgentic = parseBool(v)
	}
	if v := os.Getenv("ARGUS_ENABLE_PR_CONTEXT"); v != "" {
		c.EnablePRContext = parseBool(v)
	}
	if v := os.Getenv("ARGUS_SEARCH_RELATED_ISSUES"); v != "" {
		c.SearchRelatedIssues = parseBool(v)
	}
	if v := os.Getenv("ARGUS_IGNORED_PATHS"); v != "" {
		c.IgnoredPaths = splitList(v)
	}
	if v := os.Getenv("ARGUS_ANALYZE_PATTERNS"); v != "" {
		c.Index.AnalyzePatterns = parseBool(v)
	}
}

func (c *Config) validate() error {
	switch c.ReviewDepth {
	case pipeline.DepthQuick, pipeline.DepthStandard, pipeline.DepthDeep:
	default:
		return errors.NewConfigError(
			"Invalid review depth",
			fmt.Sprintf("review_depth '%s' is not one of quick, standard, deep", c.ReviewDepth),
			"Set review_depth to quick, standard, or deep",
			nil,
		)
	}
	if c.MaxTokens <= 0 {
		return errors.NewConfigError(
			"Invalid token budget",
			fmt.Sprintf("max_tokens must be positive, got %d", c.MaxTokens),
			"Set max_tokens to a positive prompt budget",
			nil,
		)
	}
	return nil
}

// LoadSecrets reads the environment-only credentials. Which ones are
// required depends on the mode; callers check what they need.
func LoadSecrets() Secrets {
	return Secrets{
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
		GoogleAPI:   os.Getenv("GOOGLE_API_KEY"),
		Repository:  os.Getenv("GITHUB_REPOSITORY"),
		EventPath:   os.Getenv("GITHUB_EVENT_PATH"),
	}
}

// SplitRepository splits "owner/name" into its parts.
func (s Secrets) SplitRepository() (owner, name string, err error) {
	parts := strings.SplitN(s.Repository, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewConfigError(
			"Repository not configured",
			fmt.Sprintf("GITHUB_REPOSITORY must be 'owner/name', got '%s'", s.Repository),
			"Set the GITHUB_REPOSITORY environment variable",
			nil,
		)
	}
	return parts[0], parts[1], nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
