package healthcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/pkg/cache"
	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/dirty"
	"github.com/l3aro/go-ojs/pkg/expand"
	"github.com/l3aro/go-ojs/pkg/synth"
)

// probe is compiled and evaluated to verify the toolchain end to end.
const probe = "x = 1 + 1"

// Status values of a ComponentStatus.
const (
	StatusReady = "ready"
	StatusWarn  = "warn"
	StatusError = "error"
)

// ComponentStatus represents the health of one part of the toolchain.
type ComponentStatus struct {
	Name   string
	Detail string
	Status string // "ready", "warn" or "error"
	Error  string
}

// HealthCheckResult contains the full health check output for display.
type HealthCheckResult struct {
	EffectivePath  string
	EffectiveScope string // "global", "project" or "" for defaults
	Components     []ComponentStatus
}

// OK reports whether no component is in error.
func (r *HealthCheckResult) OK() bool {
	for _, c := range r.Components {
		if c.Status == StatusError {
			return false
		}
	}
	return true
}

// Check performs a health check against the given config.
// effectivePath is the config file actually in use, empty for defaults.
func Check(ctx context.Context, cfg *config.Config, effectivePath string) (*HealthCheckResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	result := &HealthCheckResult{
		EffectivePath:  effectivePath,
		EffectiveScope: scopeFromPath(effectivePath),
	}
	result.Components = append(result.Components,
		checkConfig(cfg),
		checkCompiler(ctx),
		checkCacheDir(cfg),
		checkCacheFile(cfg),
		checkBuildState(cfg),
	)
	return result, nil
}

// scopeFromPath determines "global" or "project" scope from a config file path.
// Returns empty string if path is empty.
func scopeFromPath(path string) string {
	if path == "" {
		return ""
	}

	home, err := os.UserHomeDir()
	if err == nil {
		globalDir := filepath.Join(home, config.Dir)
		if strings.HasPrefix(path, globalDir) {
			return "global"
		}
	}

	return "project"
}

func checkConfig(cfg *config.Config) ComponentStatus {
	status := ComponentStatus{Name: "config", Detail: "remote origin " + cfg.RemoteOrigin}
	if err := cfg.Validate(); err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	status.Status = StatusReady
	return status
}

// checkCompiler parses, expands and evaluates the probe cell.
func checkCompiler(ctx context.Context) ComponentStatus {
	status := ComponentStatus{Name: "compiler", Detail: probe}
	fail := func(err error) ComponentStatus {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}

	p, err := cell.ParseCtx(ctx, probe)
	if err != nil {
		return fail(fmt.Errorf("parser: %w", err))
	}
	res, err := expand.Expand(p)
	if err != nil {
		return fail(err)
	}
	call, err := synth.NewFactory().Compile(res.Definitions[0].Func)
	if err != nil {
		return fail(err)
	}
	got, err := call(nil)
	if err != nil {
		return fail(fmt.Errorf("evaluating: %w", err))
	}
	if fmt.Sprint(got) != "2" {
		return fail(fmt.Errorf("evaluating %q returned %v", probe, got))
	}
	status.Status = StatusReady
	return status
}

// checkCacheDir verifies the cache directory can be written.
func checkCacheDir(cfg *config.Config) ComponentStatus {
	status := ComponentStatus{Name: "cache directory", Detail: cfg.CacheDir}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	f, err := os.CreateTemp(cfg.CacheDir, ".doctor-*")
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	f.Close()
	os.Remove(f.Name())
	status.Status = StatusReady
	return status
}

// checkCacheFile loads the persisted compile cache. An unreadable cache is
// rebuilt on the next compile, so it only warns.
func checkCacheFile(cfg *config.Config) ComponentStatus {
	path := filepath.Join(cfg.CacheDir, cache.DefaultFile)
	status := ComponentStatus{Name: "compile cache", Detail: path}
	c := cache.New(cache.Options{MaxEntries: cfg.CacheSize})
	if err := c.LoadFile(path); err != nil {
		status.Status = StatusWarn
		status.Error = err.Error()
		return status
	}
	status.Detail = fmt.Sprintf("%s (%d entries)", path, c.Len())
	status.Status = StatusReady
	return status
}

func checkBuildState(cfg *config.Config) ComponentStatus {
	status := ComponentStatus{Name: "build state", Detail: filepath.Join(cfg.CacheDir, dirty.DefaultStateFile)}
	tracker := dirty.New(cfg.CacheDir, dirty.WithFingerprint(cfg.Fingerprint()))
	if err := tracker.Load(); err != nil {
		status.Status = StatusWarn
		status.Error = err.Error()
		return status
	}
	status.Detail = fmt.Sprintf("%s (%d notebooks)", status.Detail, tracker.Len())
	status.Status = StatusReady
	return status
}
