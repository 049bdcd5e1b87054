package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kraklabs/argus/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, defaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "version: \"1\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.StorageDir != ".argus-artifacts" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
	if cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if cfg.ReviewDepth != "standard" {
		t.Errorf("ReviewDepth = %q", cfg.ReviewDepth)
	}
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	path := writeConfig(t, `version: "1"
model: gemini-2.5-pro
max_tokens: 64000
review_depth: deep
ignored_paths:
  - "generated/**"
index:
  analyze_patterns: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Model != "gemini-2.5-pro" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxTokens != 64000 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
	if cfg.Index.AnalyzePatterns {
		t.Error("analyze_patterns should be false")
	}
	if !reflect.DeepEqual(cfg.IgnoredPaths, []string{"generated/**"}) {
		t.Errorf("IgnoredPaths = %v", cfg.IgnoredPaths)
	}
}

func TestLoadConfig_WrongVersion(t *testing.T) {
	path := writeConfig(t, "version: \"99\"\n")

	if _, err := LoadConfig(path); !errors.IsKind(err, errors.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadConfig_InvalidDepth(t *testing.T) {
	path := writeConfig(t, "version: \"1\"\nreview_depth: exhaustive\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown review_depth")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "version: \"1\"\n")
	t.Setenv("ARGUS_REVIEW_DEPTH", "quick")
	t.Setenv("ARGUS_MAX_TOKENS", "32000")
	t.Setenv("ARGUS_IGNORED_PATHS", "vendor/**, dist/**")
	t.Setenv("ARGUS_ANALYZE_PATTERNS", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ReviewDepth != "quick" {
		t.Errorf("ReviewDepth = %q", cfg.ReviewDepth)
	}
	if cfg.MaxTokens != 32000 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
	if !reflect.DeepEqual(cfg.IgnoredPaths, []string{"vendor/**", "dist/**"}) {
		t.Errorf("IgnoredPaths = %v", cfg.IgnoredPaths)
	}
	if cfg.Index.AnalyzePatterns {
		t.Error("ARGUS_ANALYZE_PATTERNS=false should disable analysis")
	}
}

func TestSplitRepository(t *testing.T) {
	s := Secrets{Repository: "kraklabs/argus"}
	owner, name, err := s.SplitRepository()
	if err != nil {
		t.Fatalf("SplitRepository() error = %v", err)
	}
	if owner != "kraklabs" || name != "argus" {
		t.Errorf("got %s/%s", owner, name)
	}

	if _, _, err := (Secrets{Repository: "nodash"}).SplitRepository(); err == nil {
		t.Error("expected error for malformed repository")
	}
	if _, _, err := (Secrets{}).SplitRepository(); err == nil {
		t.Error("expected error for empty repository")
	}
}

func TestPRNumberFromEvent_PullRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.json")
	if err := os.WriteFile(path, []byte(`{"pull_request":{"number":42}}`), 0600); err != nil {
		t.Fatal(err)
	}

	n, err := prNumberFromEvent(path)
	if err != nil {
		t.Fatalf("prNumberFromEvent() error = %v", err)
	}
	if n != 42 {
		t.Errorf("number = %d, want 42", n)
	}
}

func TestPRNumberFromEvent_IssueComment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.json")
	if err := os.WriteFile(path, []byte(`{"issue":{"number":7},"comment":{"body":"/argus review"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	n, err := prNumberFromEvent(path)
	if err != nil {
		t.Fatalf("prNumberFromEvent() error = %v", err)
	}
	if n != 7 {
		t.Errorf("number = %d, want 7", n)
	}
}

func TestPRNumberFromEvent_Missing(t *testing.T) {
	if _, err := prNumberFromEvent(""); err == nil {
		t.Error("expected error when no event path is set")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "event.json")
	if err := os.WriteFile(path, []byte(`{"action":"push"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := prNumberFromEvent(path); err == nil {
		t.Error("expected error when payload has no PR")
	}
}

func TestResolveMode(t *testing.T) {
	if got := resolveMode([]string{"index"}); got != "index" {
		t.Errorf("positional command = %q", got)
	}

	t.Setenv("ARGUS_MODE", "bootstrap")
	if got := resolveMode(nil); got != "bootstrap" {
		t.Errorf("env mode = %q", got)
	}

	t.Setenv("ARGUS_MODE", "")
	if got := resolveMode(nil); got != "review" {
		t.Errorf("default mode = %q", got)
	}
}
