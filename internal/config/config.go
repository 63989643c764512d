package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/l3aro/go-ojs/pkg/resolve"
)

// Dir is the name of the per-project and per-user configuration directory.
const Dir = ".ojs"

// FileName is the configuration file inside Dir.
const FileName = "config.yaml"

// Config holds all configuration for ojs
type Config struct {
	// OutputDir receives compiled modules; empty writes next to each notebook.
	OutputDir string `yaml:"output_dir" env:"OJS_OUTPUT_DIR"`

	// CacheDir holds the compile cache and incremental build state.
	CacheDir string `yaml:"cache_dir" env:"OJS_CACHE_DIR"`

	// CacheSize is the maximum number of cached cell expansions.
	CacheSize int `yaml:"cache_size" env:"OJS_CACHE_SIZE"`

	// Remote notebook imports
	RemoteOrigin  string `yaml:"remote_origin" env:"OJS_REMOTE_ORIGIN"`
	RemoteVersion string `yaml:"remote_version" env:"OJS_REMOTE_VERSION"`

	// Notebook discovery
	Extensions     []string `yaml:"extensions" env:"OJS_EXTENSIONS"`
	IgnoreFileName string   `yaml:"ignore_file" env:"OJS_IGNORE_FILE"`

	// Concurrency bounds how many notebooks compile at once.
	Concurrency int `yaml:"concurrency" env:"OJS_CONCURRENCY"`

	// Logging
	Verbose  bool `yaml:"verbose" env:"OJS_VERBOSE"`
	JSONLogs bool `yaml:"json_logs" env:"OJS_JSON_LOGS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:      "",
		CacheDir:       filepath.Join(Dir, "cache"),
		CacheSize:      4096,
		RemoteOrigin:   resolve.DefaultOrigin,
		RemoteVersion:  resolve.DefaultVersion,
		Extensions:     []string{".ojs", ".omd"},
		IgnoreFileName: ".ojsignore",
		Concurrency:    4,
		Verbose:        false,
		JSONLogs:       false,
	}
}

// GlobalPath returns the global config file path (~/.ojs/config.yaml)
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(Dir, FileName)
	}
	return filepath.Join(home, Dir, FileName)
}

// ProjectPath returns the project-level config file path under root.
func ProjectPath(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load reads configuration for the current directory. See LoadDir.
func Load() (*Config, error) {
	return LoadDir(".")
}

// LoadDir reads configuration with the following priority (highest to lowest):
// 1. Project-level config (<root>/.ojs/config.yaml)
// 2. Environment variables
// 3. Global config (~/.ojs/config.yaml)
// 4. Defaults
func LoadDir(root string) (*Config, error) {
	cfg := DefaultConfig()

	if err := mergeFile(cfg, GlobalPath()); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := mergeFile(cfg, ProjectPath(root)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg. A missing file is
// skipped.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OJS_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("OJS_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("OJS_CACHE_SIZE"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.CacheSize = i
		}
	}
	if v := os.Getenv("OJS_REMOTE_ORIGIN"); v != "" {
		cfg.RemoteOrigin = v
	}
	if v := os.Getenv("OJS_REMOTE_VERSION"); v != "" {
		cfg.RemoteVersion = v
	}
	if v := os.Getenv("OJS_EXTENSIONS"); v != "" {
		var exts []string
		for _, ext := range strings.Split(v, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				exts = append(exts, ext)
			}
		}
		if len(exts) > 0 {
			cfg.Extensions = exts
		}
	}
	if v := os.Getenv("OJS_IGNORE_FILE"); v != "" {
		cfg.IgnoreFileName = v
	}
	if v := os.Getenv("OJS_CONCURRENCY"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.Concurrency = i
		}
	}
	if v := os.Getenv("OJS_VERBOSE"); v != "" {
		cfg.Verbose = parseBool(v)
	}
	if v := os.Getenv("OJS_JSON_LOGS"); v != "" {
		cfg.JSONLogs = parseBool(v)
	}
}

// Validate checks that the configuration has valid required fields
func (c *Config) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be non-negative")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.RemoteOrigin == "" {
		return fmt.Errorf("remote_origin is required")
	}
	if !strings.HasPrefix(c.RemoteOrigin, "http://") && !strings.HasPrefix(c.RemoteOrigin, "https://") {
		return fmt.Errorf("invalid remote_origin: %s (must be an http or https URL)", c.RemoteOrigin)
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("extensions must list at least one notebook extension")
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid extension: %s (must start with '.')", ext)
		}
	}
	if c.IgnoreFileName == "" {
		return fmt.Errorf("ignore_file is required")
	}
	return nil
}

// Fingerprint digests the settings that change compiled output.
func (c *Config) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.RemoteOrigin + "\x00" + c.RemoteVersion))
	return hex.EncodeToString(sum[:8])
}

// parseInt attempts to parse a string as int
func parseInt(s string) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return 0
	}
	return i
}

func parseBool(s string) bool {
	return s == "true" || s == "1" || s == "yes"
}
