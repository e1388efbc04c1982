package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// gitignoreContent keeps per-user state out of version control while the
// project config.yaml stays tracked.
const gitignoreContent = `# memctl project-local data (auto-generated)
history.json
history.json.lock
history.json.tmp
cache/
*.log
*.prom
`

// GitignoreContent returns the .gitignore written into project .memctl
// directories.
func GitignoreContent() string {
	return gitignoreContent
}

// EnsureGitignore writes dir/.gitignore unless one exists. It reports
// whether a file was created and never overwrites.
func EnsureGitignore(dir string) (bool, error) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	_, err := os.Stat(gitignorePath)
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking .gitignore at %s: %w", gitignorePath, err)
	}

	if mkdirErr := os.MkdirAll(dir, 0o750); mkdirErr != nil {
		return false, fmt.Errorf("creating directory %s: %w", dir, mkdirErr)
	}

	//nolint:gosec // .gitignore must be world-readable (0644).
	if writeErr := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0o644); writeErr != nil {
		return false, fmt.Errorf("writing .gitignore at %s: %w", gitignorePath, writeErr)
	}
	return true, nil
}
