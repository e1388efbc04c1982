package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rshade/memctl/internal/logging"
)

// projectDirName is the directory that marks a project-local configuration.
const projectDirName = ".memctl"

var (
	resolvedProjectDir   string       //nolint:gochecknoglobals // Set once at startup, read by config loaders
	resolvedProjectDirMu sync.RWMutex //nolint:gochecknoglobals // Protects resolvedProjectDir
)

// SetResolvedProjectDir stores the resolved project directory for use by other config functions.
func SetResolvedProjectDir(dir string) {
	resolvedProjectDirMu.Lock()
	defer resolvedProjectDirMu.Unlock()
	resolvedProjectDir = dir
}

// GetResolvedProjectDir returns the stored resolved project directory.
func GetResolvedProjectDir() string {
	resolvedProjectDirMu.RLock()
	defer resolvedProjectDirMu.RUnlock()
	return resolvedProjectDir
}

// ResolveProjectDir determines the project-local .memctl directory path.
// It checks (in order):
//  1. flagValue (--project-dir CLI flag)
//  2. MEMCTL_PROJECT_DIR env var
//  3. the nearest ancestor of startDir holding a .memctl directory, other
//     than the global config directory
//
// Returns an absolute path, or "" if no project was found. Nothing is created.
func ResolveProjectDir(ctx context.Context, flagValue, startDir string) string {
	if flagValue != "" {
		return toAbsProjectDir(ctx, flagValue)
	}

	if envDir := os.Getenv("MEMCTL_PROJECT_DIR"); envDir != "" {
		return toAbsProjectDir(ctx, envDir)
	}

	if startDir == "" {
		return ""
	}
	return findProjectDir(ctx, startDir)
}

func findProjectDir(ctx context.Context, startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		logging.FromContext(ctx).Warn().
			Str("component", "config").
			Err(err).
			Str("start_dir", startDir).
			Msg("failed to resolve start directory for project discovery")
		return ""
	}

	globalDir, _ := GetConfigDir()
	for {
		candidate := filepath.Join(dir, projectDirName)
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() && candidate != globalDir {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// NewWithProjectDir creates a Config by loading global config then
// shallow-merging projectDir/config.yaml on top. If projectDir is empty,
// or holds no config file, it behaves like New().
func NewWithProjectDir(ctx context.Context, projectDir string) *Config {
	cfg := New()

	if projectDir == "" {
		return cfg
	}

	overlayPath := filepath.Join(projectDir, configFileName)
	if _, err := os.Stat(overlayPath); err != nil {
		return cfg
	}

	merged := New()
	if err := ShallowMergeYAML(merged, overlayPath); err != nil {
		logging.FromContext(ctx).Warn().
			Str("component", "config").
			Str("operation", "merge_project_config").
			Err(err).
			Str("overlay_path", overlayPath).
			Msg("failed to merge project config, using global defaults")
		return cfg
	}
	// Environment still wins over the project file.
	merged.ApplyEnv(os.LookupEnv)

	return merged
}

// toAbsProjectDir makes dir absolute and appends ".memctl" unless dir
// already ends with it.
func toAbsProjectDir(ctx context.Context, dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		logging.FromContext(ctx).Warn().
			Str("component", "config").
			Err(err).
			Str("dir", dir).
			Msg("failed to resolve absolute path for project directory")
		abs = dir
	}

	if filepath.Base(abs) == projectDirName {
		return abs
	}
	return filepath.Join(abs, projectDirName)
}
