package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BadgerOps/glc/internal/parts"
	"gopkg.in/yaml.v3"
)

// Environment names a deployment of the build service.
type Environment string

const (
	Production  Environment = "production"
	Staging     Environment = "staging"
	Development Environment = "development"
)

var apiURLs = map[Environment]string{
	Production:  "https://api.gamelauncher.cloud",
	Staging:     "https://stagingapi.gamelauncher.cloud",
	Development: "https://127.0.0.1:7226",
}

var dashboardURLs = map[Environment]string{
	Production:  "https://app.gamelauncher.cloud",
	Staging:     "https://staging.app.gamelauncher.cloud",
	Development: "http://localhost:4200",
}

// Config is the top-level configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Project ProjectConfig `yaml:"project"`
	Export  ExportConfig  `yaml:"export"`
	Upload  UploadConfig  `yaml:"upload"`
	Store   StoreConfig   `yaml:"store"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// APIConfig holds connection settings for the build service
type APIConfig struct {
	Environment Environment `yaml:"environment"`
	// BaseURL overrides the environment's API host.
	BaseURL          string            `yaml:"base_url"`
	APIKey           string            `yaml:"api_key"`
	APIKeys          map[string]string `yaml:"api_keys"`
	Token            string            `yaml:"token"`
	Timeout          Duration          `yaml:"timeout"`
	InsecureLoopback bool              `yaml:"insecure_loopback"`
}

// ProjectConfig locates the project being packaged
type ProjectConfig struct {
	Dir       string `yaml:"dir"`
	Name      string `yaml:"name"`
	BuildsDir string `yaml:"builds_dir"`
}

// ExportConfig holds the external export step settings
type ExportConfig struct {
	GodotBinary string `yaml:"godot_binary"`
	Preset      string `yaml:"preset"`
	PresetsFile string `yaml:"presets_file"`
	Format      string `yaml:"format"` // "zip" or "tar.zst"
}

// UploadConfig holds the last-used upload selections
type UploadConfig struct {
	AppID            int64    `yaml:"app_id"`
	AppName          string   `yaml:"app_name"`
	BuildNotes       string   `yaml:"build_notes"`
	CheckEligibility bool     `yaml:"check_eligibility"`
	Wait             bool     `yaml:"wait"`
	PollInterval     Duration `yaml:"poll_interval"`
	MaxArtifactSize  string   `yaml:"max_artifact_size"` // e.g. "2GB"; empty for no local limit
}

// StoreConfig holds run history settings
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// NotifyConfig configures completion notifications
type NotifyConfig struct {
	WebhookURL     string            `yaml:"webhook_url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	RedisURL       string            `yaml:"redis_url"`
	RedisChannel   string            `yaml:"redis_channel"`
	RedisHistory   int64             `yaml:"redis_history"`
}

// Duration is a time.Duration that reads and writes strings like "10m".
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if strings.TrimSpace(value.Value) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Environment: Production,
			APIKeys:     make(map[string]string),
			Timeout:     Duration(10 * time.Minute),
		},
		Project: ProjectConfig{
			Dir:       ".",
			Name:      "GodotProject",
			BuildsDir: "Builds",
		},
		Export: ExportConfig{
			GodotBinary: "godot",
			PresetsFile: "export_presets.cfg",
			Format:      "zip",
		},
		Upload: UploadConfig{
			PollInterval: Duration(5 * time.Second),
		},
		Store: StoreConfig{
			DBPath: "",
		},
		Notify: NotifyConfig{
			WebhookHeaders: make(map[string]string),
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	// The file may hold a token.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if _, ok := apiURLs[c.API.Environment]; !ok {
		return fmt.Errorf("unknown environment %q (want production, staging or development)", c.API.Environment)
	}
	switch c.Export.Format {
	case "zip", "tar.zst":
	default:
		return fmt.Errorf("unsupported archive format %q (want zip or tar.zst)", c.Export.Format)
	}
	if _, err := c.MaxArtifactBytes(); err != nil {
		return err
	}
	return nil
}

// MaxArtifactBytes returns the local archive size limit, or 0 for none.
func (c *Config) MaxArtifactBytes() (int64, error) {
	if strings.TrimSpace(c.Upload.MaxArtifactSize) == "" {
		return 0, nil
	}
	n, err := parts.ParseSize(c.Upload.MaxArtifactSize)
	if err != nil {
		return 0, fmt.Errorf("upload.max_artifact_size: %w", err)
	}
	return n, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{"glc.yaml"}

	if path := UserConfigPath(); path != "" {
		searchPaths = append(searchPaths, path)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// UserConfigPath returns ~/.config/glc/glc.yaml, or "" without a home dir.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "glc", "glc.yaml")
}

// APIURL returns the base URL of the build service.
func (c *Config) APIURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	if u, ok := apiURLs[c.API.Environment]; ok {
		return u
	}
	return apiURLs[Production]
}

// DashboardURL returns the web dashboard for the environment.
func (c *Config) DashboardURL() string {
	if u, ok := dashboardURLs[c.API.Environment]; ok {
		return u
	}
	return dashboardURLs[Production]
}

// ResolvedAPIKey returns the per-environment key, falling back to api_key.
func (c *Config) ResolvedAPIKey() string {
	if key := c.API.APIKeys[string(c.API.Environment)]; key != "" {
		return key
	}
	return c.API.APIKey
}

// ProjectDir returns the absolute project directory.
func (c *Config) ProjectDir() string {
	dir := c.Project.Dir
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// BuildsDir returns the absolute directory holding archives and scratch output.
func (c *Config) BuildsDir() string {
	if filepath.IsAbs(c.Project.BuildsDir) {
		return c.Project.BuildsDir
	}
	name := c.Project.BuildsDir
	if name == "" {
		name = "Builds"
	}
	return filepath.Join(c.ProjectDir(), name)
}

// PresetsPath returns the export presets file location.
func (c *Config) PresetsPath() string {
	if filepath.IsAbs(c.Export.PresetsFile) {
		return c.Export.PresetsFile
	}
	return filepath.Join(c.ProjectDir(), c.Export.PresetsFile)
}

// DBPath returns the run history database path.
func (c *Config) DBPath() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	return filepath.Join(c.BuildsDir(), "glc-history.db")
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizedProjectName returns the project name made safe for file names.
func (c *Config) SanitizedProjectName() string {
	name := strings.TrimSpace(c.Project.Name)
	if name == "" {
		name = "GodotProject"
	}
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "GodotProject"
	}
	return name
}
