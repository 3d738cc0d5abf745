package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"environment", func(c *Config) string { return string(c.API.Environment) }, "production"},
		{"api url", func(c *Config) string { return c.APIURL() }, "https://api.gamelauncher.cloud"},
		{"dashboard url", func(c *Config) string { return c.DashboardURL() }, "https://app.gamelauncher.cloud"},
		{"project name", func(c *Config) string { return c.Project.Name }, "GodotProject"},
		{"builds dir", func(c *Config) string { return c.Project.BuildsDir }, "Builds"},
		{"godot binary", func(c *Config) string { return c.Export.GodotBinary }, "godot"},
		{"presets file", func(c *Config) string { return c.Export.PresetsFile }, "export_presets.cfg"},
		{"format", func(c *Config) string { return c.Export.Format }, "zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.API.Timeout.Std() != 10*time.Minute {
		t.Errorf("API.Timeout = %v, want 10m", cfg.API.Timeout.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "glc.yaml")

	configContent := `
api:
  environment: staging
  api_keys:
    staging: "stg-key"
  timeout: "90s"
project:
  dir: "/work/game"
  name: "My Game"
export:
  preset: "Linux"
  format: "tar.zst"
upload:
  app_id: 42
  app_name: "Space Trucker"
  poll_interval: "2s"
notify:
  webhook_url: "https://hooks.example.com/glc"
  webhook_headers:
    X-Token: abc
  redis_url: "redis://localhost:6379/0"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.API.Environment != Staging {
		t.Errorf("API.Environment = %q, want staging", cfg.API.Environment)
	}
	if got := cfg.APIURL(); got != "https://stagingapi.gamelauncher.cloud" {
		t.Errorf("APIURL() = %q", got)
	}
	if got := cfg.ResolvedAPIKey(); got != "stg-key" {
		t.Errorf("ResolvedAPIKey() = %q, want stg-key", got)
	}
	if cfg.API.Timeout.Std() != 90*time.Second {
		t.Errorf("API.Timeout = %v, want 90s", cfg.API.Timeout.Std())
	}
	if cfg.Upload.AppID != 42 || cfg.Upload.AppName != "Space Trucker" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	if cfg.Upload.PollInterval.Std() != 2*time.Second {
		t.Errorf("Upload.PollInterval = %v, want 2s", cfg.Upload.PollInterval.Std())
	}
	if cfg.Export.Format != "tar.zst" {
		t.Errorf("Export.Format = %q", cfg.Export.Format)
	}
	if got := cfg.Notify.WebhookHeaders["X-Token"]; got != "abc" {
		t.Errorf("webhook header = %q", got)
	}
	// Unset fields keep their defaults.
	if cfg.Export.GodotBinary != "godot" {
		t.Errorf("Export.GodotBinary = %q, want default", cfg.Export.GodotBinary)
	}
	if got, want := cfg.BuildsDir(), filepath.Join("/work/game", "Builds"); got != want {
		t.Errorf("BuildsDir() = %q, want %q", got, want)
	}
	if got, want := cfg.DBPath(), filepath.Join("/work/game", "Builds", "glc-history.db"); got != want {
		t.Errorf("DBPath() = %q, want %q", got, want)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "glc.yaml")
	if err := os.WriteFile(configFile, []byte("api:\n  environment: moon\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	_, err := Load(configFile)
	if err == nil || !strings.Contains(err.Error(), "moon") {
		t.Fatalf("Load() error = %v, want unknown environment", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "glc.yaml")
	if err := os.WriteFile(configFile, []byte("api:\n  timeout: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(configFile); err == nil {
		t.Fatal("Load() succeeded, want error for invalid duration")
	}
}

func TestMaxArtifactSize(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "glc.yaml")
	if err := os.WriteFile(configFile, []byte("upload:\n  max_artifact_size: 2GB\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	n, err := cfg.MaxArtifactBytes()
	if err != nil || n != 2*1024*1024*1024 {
		t.Errorf("MaxArtifactBytes() = %d, %v", n, err)
	}

	if n, err := DefaultConfig().MaxArtifactBytes(); err != nil || n != 0 {
		t.Errorf("default MaxArtifactBytes() = %d, %v, want no limit", n, err)
	}

	if err := os.WriteFile(configFile, []byte("upload:\n  max_artifact_size: lots\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(configFile); err == nil || !strings.Contains(err.Error(), "max_artifact_size") {
		t.Fatalf("Load() error = %v, want max_artifact_size error", err)
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidContent := `
api:
  environment: production
  invalid: [unclosed bracket
`
	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Load() succeeded, want error for invalid YAML")
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "glc.yaml")

	cfg := DefaultConfig()
	cfg.API.Token = "secret-token"
	cfg.Upload.AppID = 7
	cfg.Upload.BuildNotes = "nightly"
	cfg.API.Timeout = Duration(3 * time.Minute)

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("saved config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save() failed: %v", err)
	}
	if loaded.API.Token != "secret-token" || loaded.Upload.AppID != 7 || loaded.Upload.BuildNotes != "nightly" {
		t.Errorf("loaded config lost values: %+v", loaded)
	}
	if loaded.API.Timeout.Std() != 3*time.Minute {
		t.Errorf("API.Timeout = %v, want 3m", loaded.API.Timeout.Std())
	}
}

func TestAPIURLOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "https://build.internal.example/"
	if got := cfg.APIURL(); got != "https://build.internal.example" {
		t.Errorf("APIURL() = %q", got)
	}
}

func TestSanitizedProjectName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Game", "My_Game"},
		{"", "GodotProject"},
		{"../../etc", "etc"},
		{"rpg:2/final", "rpg_2_final"},
		{"***", "GodotProject"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Project.Name = tt.in
		if got := cfg.SanitizedProjectName(); got != tt.want {
			t.Errorf("SanitizedProjectName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestFindConfigFileCurrentDir tests that a glc.yaml in the working directory wins
func TestFindConfigFileCurrentDir(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})

	if err := os.WriteFile("glc.yaml", []byte("api:\n  environment: production\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if path != "glc.yaml" {
		t.Errorf("FindConfigFile() = %q, want glc.yaml", path)
	}
}
