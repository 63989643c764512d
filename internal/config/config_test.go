package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

var envVars = []string{
	"OJS_OUTPUT_DIR", "OJS_CACHE_DIR", "OJS_CACHE_SIZE", "OJS_REMOTE_ORIGIN",
	"OJS_REMOTE_VERSION", "OJS_EXTENSIONS", "OJS_IGNORE_FILE", "OJS_CONCURRENCY",
	"OJS_VERBOSE", "OJS_JSON_LOGS",
}

// isolate points HOME at an empty directory and clears OJS_* variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range envVars {
		t.Setenv(name, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"OutputDir", cfg.OutputDir, ""},
		{"CacheDir", cfg.CacheDir, filepath.Join(".ojs", "cache")},
		{"CacheSize", cfg.CacheSize, 4096},
		{"RemoteOrigin", cfg.RemoteOrigin, "https://api.observablehq.com"},
		{"RemoteVersion", cfg.RemoteVersion, "3"},
		{"IgnoreFileName", cfg.IgnoreFileName, ".ojsignore"},
		{"Concurrency", cfg.Concurrency, 4},
		{"Verbose", cfg.Verbose, false},
		{"JSONLogs", cfg.JSONLogs, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("DefaultConfig().%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if !reflect.DeepEqual(cfg.Extensions, []string{".ojs", ".omd"}) {
		t.Errorf("DefaultConfig().Extensions = %v", cfg.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() is invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero cache size", func(c *Config) { c.CacheSize = 0 }, ""},
		{"negative cache size", func(c *Config) { c.CacheSize = -1 }, "cache_size"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"empty origin", func(c *Config) { c.RemoteOrigin = "" }, "remote_origin is required"},
		{"origin without scheme", func(c *Config) { c.RemoteOrigin = "api.example.com" }, "invalid remote_origin"},
		{"no extensions", func(c *Config) { c.Extensions = nil }, "extensions"},
		{"extension without dot", func(c *Config) { c.Extensions = []string{"ojs"} }, "invalid extension"},
		{"empty ignore file", func(c *Config) { c.IgnoreFileName = "" }, "ignore_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `output_dir: build/js
cache_size: 100
remote_origin: http://localhost:8080
extensions: [".ojs"]
verbose: true
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.OutputDir != "build/js" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.CacheSize != 100 {
		t.Errorf("CacheSize = %d", cfg.CacheSize)
	}
	if cfg.RemoteOrigin != "http://localhost:8080" {
		t.Errorf("RemoteOrigin = %q", cfg.RemoteOrigin)
	}
	if !reflect.DeepEqual(cfg.Extensions, []string{".ojs"}) {
		t.Errorf("Extensions = %v", cfg.Extensions)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
	if cfg.IgnoreFileName != ".ojsignore" {
		t.Errorf("unset fields keep defaults, IgnoreFileName = %q", cfg.IgnoreFileName)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "cache_size: [not, a, number]\n")
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "concurrency: -2\n")
	if _, err := LoadFromFile(invalid); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadDirPriority(t *testing.T) {
	home := isolate(t)
	project := t.TempDir()

	writeFile(t, filepath.Join(home, ".ojs", "config.yaml"), "output_dir: global\ncache_size: 10\nconcurrency: 2\n")
	writeFile(t, ProjectPath(project), "output_dir: project\n")
	t.Setenv("OJS_OUTPUT_DIR", "env")
	t.Setenv("OJS_CACHE_SIZE", "20")

	cfg, err := LoadDir(project)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if cfg.OutputDir != "project" {
		t.Errorf("OutputDir = %q, want project config to win", cfg.OutputDir)
	}
	if cfg.CacheSize != 20 {
		t.Errorf("CacheSize = %d, want env to override global", cfg.CacheSize)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want global value", cfg.Concurrency)
	}
}

func TestLoadDirWithoutFiles(t *testing.T) {
	isolate(t)
	cfg, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("LoadDir() = %+v, want defaults", cfg)
	}
}

func TestLoadDirMalformedProject(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	writeFile(t, ProjectPath(project), "extensions: {broken\n")
	if _, err := LoadDir(project); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(*testing.T, *Config)
	}{
		{
			name: "strings",
			env: map[string]string{
				"OJS_OUTPUT_DIR":     "out",
				"OJS_CACHE_DIR":      "/tmp/ojs",
				"OJS_REMOTE_ORIGIN":  "http://mirror",
				"OJS_REMOTE_VERSION": "4",
				"OJS_IGNORE_FILE":    ".nbignore",
			},
			check: func(t *testing.T, c *Config) {
				if c.OutputDir != "out" || c.CacheDir != "/tmp/ojs" || c.RemoteOrigin != "http://mirror" ||
					c.RemoteVersion != "4" || c.IgnoreFileName != ".nbignore" {
					t.Errorf("unexpected config: %+v", c)
				}
			},
		},
		{
			name: "extensions list",
			env:  map[string]string{"OJS_EXTENSIONS": " .ojs, .md ,,"},
			check: func(t *testing.T, c *Config) {
				if !reflect.DeepEqual(c.Extensions, []string{".ojs", ".md"}) {
					t.Errorf("Extensions = %v", c.Extensions)
				}
			},
		},
		{
			name: "numbers",
			env:  map[string]string{"OJS_CACHE_SIZE": "64", "OJS_CONCURRENCY": "8"},
			check: func(t *testing.T, c *Config) {
				if c.CacheSize != 64 || c.Concurrency != 8 {
					t.Errorf("CacheSize = %d, Concurrency = %d", c.CacheSize, c.Concurrency)
				}
			},
		},
		{
			name: "invalid numbers are ignored",
			env:  map[string]string{"OJS_CACHE_SIZE": "lots", "OJS_CONCURRENCY": "-1"},
			check: func(t *testing.T, c *Config) {
				if c.CacheSize != 4096 || c.Concurrency != 4 {
					t.Errorf("CacheSize = %d, Concurrency = %d", c.CacheSize, c.Concurrency)
				}
			},
		},
		{
			name: "booleans",
			env:  map[string]string{"OJS_VERBOSE": "1", "OJS_JSON_LOGS": "true"},
			check: func(t *testing.T, c *Config) {
				if !c.Verbose || !c.JSONLogs {
					t.Errorf("Verbose = %v, JSONLogs = %v", c.Verbose, c.JSONLogs)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			tt.check(t, cfg)
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"42", 42},
		{"0", 0},
		{"-5", -5},
		{"abc", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseInt(tt.input); got != tt.want {
			t.Errorf("parseInt(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestConfigSave(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	cfg := DefaultConfig()
	cfg.OutputDir = "dist"
	cfg.Concurrency = 3
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Errorf("saved %+v, loaded %+v", cfg, loaded)
	}
}

func TestFingerprint(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.OutputDir = "elsewhere"
	b.Verbose = true
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("settings that do not affect output changed the fingerprint")
	}

	b.RemoteVersion = "4"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("remote version did not change the fingerprint")
	}
	if len(a.Fingerprint()) != 16 {
		t.Errorf("Fingerprint() = %q, want 16 hex chars", a.Fingerprint())
	}
}
